package ws

import (
	"encoding/json"
	"sync"

	"chitchat/internal/service"

	"github.com/rs/zerolog/log"
)

// Envelope 是 websocket 双向事件的统一载体。客户端发来的变更事件带
// seq，服务端用一条 ack 应答：error 为 null 表示成功。
type Envelope struct {
	Event string          `json:"event"`
	Seq   int64           `json:"seq,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string      `json:"event"`
	Seq   int64       `json:"seq,omitempty"`
	Data  interface{} `json:"data,omitempty"`
	Error *ackError   `json:"error,omitempty"`
}

type ackError struct {
	Kind service.Kind `json:"kind"`
	Msg  string       `json:"msg"`
}

// Hub 持有权威的在线连接注册表：哪个连接属于谁、加入了哪些房间。
// 占用检查需要同步读数，所以用读写锁而不是教科书式的 channel 循环。
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	rooms   map[string]map[*Client]bool

	// 每个房间一把保留锁，破坏性操作从检查到动作全程持有，
	// 新连接加入同一房间时要等锁释放，消除 check-then-act 竞态。
	resMu sync.Mutex
	res   map[string]*sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]bool),
		rooms:   make(map[string]map[*Client]bool),
		res:     make(map[string]*sync.Mutex),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
}

// unregister 只移除在线状态，不会修改房间的持久化成员列表。
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		for roomID, members := range h.rooms {
			if members[c] {
				delete(members, c)
				if len(members) == 0 {
					delete(h.rooms, roomID)
				}
			}
		}
		c.shutdown()
	}
	h.mu.Unlock()
}

// JoinRoom 把连接加入房间的在线集合。房间正被保留（清空/删除进行中）
// 时阻塞等待。
func (h *Hub) JoinRoom(roomID string, c *Client) {
	lock := h.reservation(roomID)
	lock.Lock()
	defer lock.Unlock()

	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][c] = true
	h.mu.Unlock()
}

func (h *Hub) LeaveRoom(roomID string, c *Client) {
	h.mu.Lock()
	if members := h.rooms[roomID]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
}

// Occupants 返回房间当前在线连接数。
func (h *Hub) Occupants(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// reservation 懒加载房间的保留锁。
func (h *Hub) reservation(roomID string) *sync.Mutex {
	h.resMu.Lock()
	defer h.resMu.Unlock()
	lock := h.res[roomID]
	if lock == nil {
		lock = &sync.Mutex{}
		h.res[roomID] = lock
	}
	return lock
}

// Reserve 取得房间的独占保留，返回释放函数。调用方在保留期间完成
// 占用检查和破坏性动作。
func (h *Hub) Reserve(roomID string) func() {
	lock := h.reservation(roomID)
	lock.Lock()
	return lock.Unlock
}

// Forget 丢弃房间的保留锁条目，房间删除成功后调用，注册表不为
// 死房间积累条目。仍阻塞在旧锁上的 JoinRoom 会照常醒来。
func (h *Hub) Forget(roomID string) {
	h.resMu.Lock()
	delete(h.res, roomID)
	h.resMu.Unlock()
}

// CanClearChat 实现清空聊天的占用策略：房间无人，或只有请求方自己。
func (h *Hub) CanClearChat(roomID string, requester *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[roomID]
	switch len(members) {
	case 0:
		return true
	case 1:
		return requester != nil && members[requester]
	}
	return false
}

// CanDeleteRoom 实现删除房间的占用策略：必须无人在线。
func (h *Hub) CanDeleteRoom(roomID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID]) == 0
}

func marshal(event string, data interface{}) []byte {
	b, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("marshal outbound event")
		return nil
	}
	return b
}

func (h *Hub) deliver(c *Client, b []byte) {
	if !c.enqueue(b) {
		// 发送队列堆满的连接视为死连接
		go c.conn.Close()
	}
}

// EmitRoom 把事件发给房间内所有在线连接，except 不为 nil 时跳过它。
func (h *Hub) EmitRoom(roomID, event string, data interface{}, except *Client) {
	b := marshal(event, data)
	if b == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[roomID] {
		if c == except {
			continue
		}
		h.deliver(c, b)
	}
}

// EmitAll 把事件发给所有在线连接，except 不为 nil 时跳过发起方。
func (h *Hub) EmitAll(event string, data interface{}, except *Client) {
	b := marshal(event, data)
	if b == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if c == except {
			continue
		}
		h.deliver(c, b)
	}
}

// EmitTo 只发给单个连接。
func (h *Hub) EmitTo(c *Client, event string, data interface{}) {
	b := marshal(event, data)
	if b == nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.clients[c] {
		h.deliver(c, b)
	}
}
