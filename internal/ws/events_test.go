package ws

import (
	"encoding/json"
	"testing"
	"time"

	"chitchat/internal/service"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 占用门禁和事件派发在 hub 层就能判定，网关不需要真实的 service。
func newEventFixture() *Gateway {
	return NewGateway(NewHub(), nil, nil, nil, "test-secret")
}

func newEventClient(gw *Gateway, email, name string) *Client {
	c := &Client{gw: gw, email: email, name: name, send: make(chan []byte, 16)}
	gw.hub.register(c)
	return c
}

func payload(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return b
}

func recvOutbound(t *testing.T, c *Client) outbound {
	t.Helper()
	select {
	case b := <-c.send:
		var out outbound
		if err := json.Unmarshal(b, &out); err != nil {
			t.Fatalf("unmarshal outbound %q: %v", b, err)
		}
		return out
	case <-time.After(time.Second):
		t.Fatal("no outbound frame within 1s")
	}
	return outbound{}
}

func TestClearChat_OccupiedRoomAcksConflict(t *testing.T) {
	gw := newEventFixture()
	requester := newEventClient(gw, "a@example.com", "Alice")
	occupant := newEventClient(gw, "b@example.com", "Bob")

	roomID := primitive.NewObjectID().Hex()
	gw.hub.JoinRoom(roomID, requester)
	gw.hub.JoinRoom(roomID, occupant)

	requester.dispatch(Envelope{Event: "clearChat", Seq: 7, Data: payload(t, roomEvent{RoomID: roomID})})

	out := recvOutbound(t, requester)
	if out.Event != "ack" || out.Seq != 7 {
		t.Fatalf("reply = %+v, want ack seq 7", out)
	}
	if out.Error == nil {
		t.Fatal("ack error = nil, want conflict")
	}
	if out.Error.Kind != service.KindConflict || out.Error.Msg != service.MsgRoomInUseClear {
		t.Errorf("ack error = %+v, want {conflict, %q}", out.Error, service.MsgRoomInUseClear)
	}
}

func TestDeleteRoom_OccupiedRoomAcksConflict(t *testing.T) {
	gw := newEventFixture()
	requester := newEventClient(gw, "a@example.com", "Alice")
	occupant := newEventClient(gw, "b@example.com", "Bob")

	roomID := primitive.NewObjectID().Hex()
	gw.hub.JoinRoom(roomID, occupant)

	requester.dispatch(Envelope{Event: "deleteRoom", Seq: 3, Data: payload(t, roomEvent{RoomID: roomID})})

	out := recvOutbound(t, requester)
	if out.Event != "ack" || out.Seq != 3 {
		t.Fatalf("reply = %+v, want ack seq 3", out)
	}
	if out.Error == nil || out.Error.Kind != service.KindConflict || out.Error.Msg != service.MsgRoomInUseDelete {
		t.Errorf("ack error = %+v, want {conflict, %q}", out.Error, service.MsgRoomInUseDelete)
	}
}

func TestHandle_BlockedEventDoesNotStallConnection(t *testing.T) {
	gw := newEventFixture()
	sender := newEventClient(gw, "a@example.com", "Alice")
	peer := newEventClient(gw, "b@example.com", "Bob")

	reserved := primitive.NewObjectID().Hex()
	other := primitive.NewObjectID().Hex()
	gw.hub.JoinRoom(other, peer)

	release := gw.hub.Reserve(reserved)

	// 第一条事件挂在保留锁上
	sender.handle(Envelope{Event: "joinRoom", Seq: 1, Data: payload(t, roomEvent{RoomID: reserved, Email: "a@example.com", Name: "Alice"})})
	// 同一连接的下一条事件不等它
	sender.handle(Envelope{Event: "typing", Data: payload(t, roomEvent{RoomID: other, Email: "a@example.com", Name: "Alice"})})

	out := recvOutbound(t, peer)
	if out.Event != "typing" {
		t.Fatalf("peer got %q while join was blocked, want typing", out.Event)
	}
	if got := gw.hub.Occupants(reserved); got != 0 {
		t.Fatalf("Occupants(reserved) = %d before release, want 0", got)
	}

	release()

	// 放行后 join 正常完成：收到 seq 1 的 ack
	deadline := time.After(time.Second)
	for {
		select {
		case b := <-sender.send:
			var reply outbound
			if err := json.Unmarshal(b, &reply); err != nil {
				t.Fatalf("unmarshal outbound %q: %v", b, err)
			}
			if reply.Event != "ack" {
				continue // 欢迎语等房间推送
			}
			if reply.Seq != 1 || reply.Error != nil {
				t.Fatalf("ack = %+v, want seq 1 success", reply)
			}
			if got := gw.hub.Occupants(reserved); got != 1 {
				t.Errorf("Occupants(reserved) after release = %d, want 1", got)
			}
			return
		case <-deadline:
			t.Fatal("join did not complete after release")
		}
	}
}
