package ws

import (
	"context"
	"encoding/json"
	"time"

	"chitchat/internal/models"
	"chitchat/internal/service"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 入站事件的负载。字段名与既有客户端协议保持一致。
type roomEvent struct {
	RoomID string `json:"roomId"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

type newMessageEvent struct {
	RoomID      string `json:"roomId"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	Body        string `json:"message"`
	Kind        string `json:"kind"`
	ContentType string `json:"contentType"`
}

type deleteMessagesEvent struct {
	RoomID   string   `json:"roomId"`
	Messages []string `json:"messages"`
}

type renameEvent struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

type nameEvent struct {
	RoomName string `json:"roomName"`
	Name     string `json:"name"`
	Email    string `json:"email"`
}

// adminMessage 构造不落库的系统提示消息。
func adminMessage(text string) models.Message {
	return models.Message{Name: "admin", Body: text, Kind: models.KindText, Date: time.Now()}
}

func storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), storeTimeout)
}

// dispatch 把一条入站事件路由到对应的处理逻辑。
func (c *Client) dispatch(env Envelope) {
	switch env.Event {
	case "login":
		c.onLogin(env)
	case "joinRoom":
		c.onJoinRoom(env)
	case "leaveRoom":
		c.onLeaveRoom(env)
	case "typing", "stopTyping":
		c.onTyping(env)
	case "newMessage":
		c.onNewMessage(env)
	case "clearChat":
		c.onClearChat(env)
	case "deleteMessages":
		c.onDeleteMessages(env)
	case "addRoom":
		c.onAddRoom(env)
	case "updateRoomName":
		c.onUpdateRoomName(env)
	case "deleteRoom":
		c.onDeleteRoom(env)
	case "updateProfile":
		c.onUpdateProfile(env)
	case "logout":
		c.onLogout(env)
	case "offline":
		c.onOffline(env)
	}
}

func (c *Client) onLogin(env Envelope) {
	var ev roomEvent
	_ = json.Unmarshal(env.Data, &ev)
	c.gw.hub.EmitAll("loginMember", models.Offline{Email: ev.Email, Name: ev.Name}, c)
}

func (c *Client) onJoinRoom(env Envelope) {
	var ev roomEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil || ev.RoomID == "" {
		c.ack(env.Seq, service.E(service.KindNotFound, service.MsgRoomNotFound))
		return
	}
	c.gw.hub.JoinRoom(ev.RoomID, c)

	// 向房间其他人公布新成员，并发系统提示；加入者单独收欢迎语
	c.gw.hub.EmitRoom(ev.RoomID, "setMember", models.Offline{Email: ev.Email, Name: ev.Name}, c)
	c.gw.hub.EmitRoom(ev.RoomID, "showNewMessage", adminMessage(ev.Name+" just joined in"), c)
	c.gw.hub.EmitTo(c, "showNewMessage", adminMessage("Welcome "+ev.Name+"!"))
	c.ack(env.Seq, nil)
}

func (c *Client) onLeaveRoom(env Envelope) {
	var ev roomEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil || ev.RoomID == "" {
		c.ack(env.Seq, service.E(service.KindNotFound, service.MsgRoomNotFound))
		return
	}
	c.gw.hub.LeaveRoom(ev.RoomID, c)
	c.gw.hub.EmitRoom(ev.RoomID, "showNewMessage", adminMessage(ev.Name+" has left the room"), c)
	c.ack(env.Seq, nil)
}

func (c *Client) onTyping(env Envelope) {
	var ev roomEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil || ev.RoomID == "" {
		return
	}
	// 只转发给房间里其他人，不落库
	c.gw.hub.EmitRoom(ev.RoomID, env.Event, models.Offline{Email: ev.Email, Name: ev.Name}, c)
}

func (c *Client) onNewMessage(env Envelope) {
	var ev newMessageEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		c.ack(env.Seq, service.E(service.KindInternal, "invalid message payload"))
		return
	}
	roomID, err := primitive.ObjectIDFromHex(ev.RoomID)
	if err != nil {
		c.ack(env.Seq, service.E(service.KindNotFound, service.MsgRoomNotFound))
		return
	}
	if ev.Kind == "" {
		ev.Kind = models.KindText
	}
	msg := models.Message{Email: ev.Email, Name: ev.Name, Body: ev.Body, Kind: ev.Kind}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := c.gw.chat.Append(ctx, roomID, &msg, ev.ContentType); err != nil {
		c.ack(env.Seq, err)
		return
	}
	// 广播包含发送方：客户端不回显自己的发送
	c.gw.hub.EmitRoom(ev.RoomID, "showNewMessage", msg, nil)
	c.ack(env.Seq, nil)
}

func (c *Client) onClearChat(env Envelope) {
	var ev roomEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		c.ack(env.Seq, service.E(service.KindNotFound, service.MsgRoomNotFound))
		return
	}
	roomID, err := primitive.ObjectIDFromHex(ev.RoomID)
	if err != nil {
		c.ack(env.Seq, service.E(service.KindNotFound, service.MsgRoomNotFound))
		return
	}

	// 保留锁从占用检查一直持有到清空完成
	release := c.gw.hub.Reserve(ev.RoomID)
	defer release()
	if !c.gw.hub.CanClearChat(ev.RoomID, c) {
		c.ack(env.Seq, service.E(service.KindConflict, service.MsgRoomInUseClear))
		return
	}

	ctx, cancel := storeCtx()
	defer cancel()
	c.ack(env.Seq, c.gw.chat.Clear(ctx, roomID))
}

func (c *Client) onDeleteMessages(env Envelope) {
	var ev deleteMessagesEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		c.ack(env.Seq, service.E(service.KindNotFound, service.MsgRoomNotFound))
		return
	}
	roomID, err := primitive.ObjectIDFromHex(ev.RoomID)
	if err != nil {
		c.ack(env.Seq, service.E(service.KindNotFound, service.MsgRoomNotFound))
		return
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := c.gw.chat.DeleteMessages(ctx, roomID, ev.Messages); err != nil {
		c.ack(env.Seq, err)
		return
	}
	c.gw.hub.EmitRoom(ev.RoomID, "deleteMessages", ev.Messages, nil)
	c.ack(env.Seq, nil)
}

func (c *Client) onAddRoom(env Envelope) {
	var ev nameEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil || ev.RoomName == "" {
		c.ack(env.Seq, service.E(service.KindConflict, service.MsgRoomTaken))
		return
	}

	ctx, cancel := storeCtx()
	defer cancel()
	room, err := c.gw.rooms.Create(ctx, c.email, ev.RoomName)
	if err != nil {
		c.ack(env.Seq, err)
		return
	}
	c.gw.hub.EmitTo(c, "userRoomAdded", room)
	c.gw.hub.EmitAll("roomAdded", room, c)
	c.ack(env.Seq, nil)
}

func (c *Client) onUpdateRoomName(env Envelope) {
	var ev renameEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		c.ack(env.Seq, service.E(service.KindNotFound, service.MsgRoomNotFound))
		return
	}
	roomID, err := primitive.ObjectIDFromHex(ev.RoomID)
	if err != nil {
		c.ack(env.Seq, service.E(service.KindNotFound, service.MsgRoomNotFound))
		return
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := c.gw.rooms.Rename(ctx, roomID, ev.Name); err != nil {
		c.ack(env.Seq, err)
		return
	}
	// 改名通知所有连接，房间内再补一条系统提示
	c.gw.hub.EmitAll("roomNameChange", renameEvent{RoomID: ev.RoomID, Name: ev.Name}, nil)
	c.gw.hub.EmitRoom(ev.RoomID, "showNewMessage", adminMessage(`Room name changed to "`+ev.Name+`"`), nil)
	c.ack(env.Seq, nil)
}

func (c *Client) onDeleteRoom(env Envelope) {
	var ev roomEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		c.ack(env.Seq, service.E(service.KindNotFound, service.MsgRoomNotFound))
		return
	}
	roomID, err := primitive.ObjectIDFromHex(ev.RoomID)
	if err != nil {
		c.ack(env.Seq, service.E(service.KindNotFound, service.MsgRoomNotFound))
		return
	}

	release := c.gw.hub.Reserve(ev.RoomID)
	defer release()
	if !c.gw.hub.CanDeleteRoom(ev.RoomID) {
		c.ack(env.Seq, service.E(service.KindConflict, service.MsgRoomInUseDelete))
		return
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := c.gw.rooms.Delete(ctx, roomID); err != nil {
		c.ack(env.Seq, err)
		return
	}
	c.gw.hub.Forget(ev.RoomID)
	c.gw.hub.EmitTo(c, "userRoomDeleted", roomEvent{RoomID: ev.RoomID})
	c.gw.hub.EmitAll("roomDeleted", roomEvent{RoomID: ev.RoomID}, c)
	c.ack(env.Seq, nil)
}

func (c *Client) onUpdateProfile(env Envelope) {
	var ev nameEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil || ev.Email == "" {
		c.ack(env.Seq, service.E(service.KindNotFound, service.MsgUserNotFound))
		return
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := c.gw.users.UpdateProfile(ctx, ev.Email, ev.Name); err != nil {
		c.ack(env.Seq, err)
		return
	}
	c.setName(ev.Name)
	c.gw.hub.EmitAll("setMember", models.Offline{Email: ev.Email, Name: ev.Name}, c)
	c.ack(env.Seq, nil)
}

func (c *Client) onLogout(env Envelope) {
	var ev roomEvent
	if err := json.Unmarshal(env.Data, &ev); err != nil {
		c.ack(env.Seq, service.E(service.KindNotFound, service.MsgUserNotFound))
		return
	}

	ctx, cancel := storeCtx()
	defer cancel()
	if err := c.gw.users.Logout(ctx, ev.Email); err != nil {
		c.ack(env.Seq, err)
		return
	}
	if ev.RoomID != "" {
		c.gw.hub.LeaveRoom(ev.RoomID, c)
		c.gw.hub.EmitRoom(ev.RoomID, "showNewMessage", adminMessage(ev.Name+" has logged out"), c)
	}
	c.gw.hub.EmitAll("logoutMember", models.Offline{Email: ev.Email, Name: ev.Name}, c)
	c.ack(env.Seq, nil)
}

// onOffline 转发快照时发现的失效会话：这些成员对所有其他连接宣告下线。
func (c *Client) onOffline(env Envelope) {
	var stale []models.Offline
	if err := json.Unmarshal(env.Data, &stale); err != nil {
		return
	}
	for _, member := range stale {
		c.gw.hub.EmitAll("logoutMember", member, c)
	}
}
