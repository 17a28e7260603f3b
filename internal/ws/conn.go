package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"chitchat/internal/auth"
	"chitchat/internal/metrics"
	"chitchat/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 64 << 20 // 附件以字符串形式随消息进来，上限要放宽
	storeTimeout   = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Gateway 把实时事件接到各业务服务上。
type Gateway struct {
	hub    *Hub
	users  *service.UserService
	rooms  *service.RoomService
	chat   *service.ChatService
	secret string
}

func NewGateway(hub *Hub, users *service.UserService, rooms *service.RoomService, chat *service.ChatService, secret string) *Gateway {
	return &Gateway{hub: hub, users: users, rooms: rooms, chat: chat, secret: secret}
}

func (g *Gateway) Hub() *Hub { return g.hub }

type Client struct {
	gw    *Gateway
	conn  *websocket.Conn
	send  chan []byte
	email string
	token string

	mu     sync.Mutex
	name   string
	closed bool
}

// Serve 在握手时校验 token 并建立连接。token 走 query 参数，
// 浏览器的 WebSocket API 带不了自定义 header。
func (g *Gateway) Serve() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": service.MsgAuthRequired})
			return
		}
		claims, err := auth.ParseToken(token, g.secret)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": service.MsgSessionExpired})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), storeTimeout)
		user, err := g.users.Get(ctx, claims.Email)
		cancel()
		if err != nil {
			se := service.AsError(err)
			status := http.StatusInternalServerError
			if se.Kind == service.KindNotFound {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": se.Msg})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		client := &Client{
			gw:    g,
			conn:  conn,
			send:  make(chan []byte, 256),
			email: user.Email,
			name:  user.Name,
			token: token,
		}
		g.hub.register(client)
		metrics.WsConnections.Inc()

		go client.writePump()
		client.readPump()
	}
}

func (c *Client) readPump() {
	defer func() {
		c.gw.hub.unregister(c)
		metrics.WsConnections.Dec()
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			continue
		}
		// 每个入站事件都要带有效 token，logout 除外
		if env.Event != "logout" {
			if _, err := auth.ParseToken(c.token, c.gw.secret); err != nil {
				c.ack(env.Seq, service.E(service.KindAuth, service.MsgSessionExpired))
				continue
			}
		}
		c.handle(env)
	}
}

// handle 每个入站事件各起一个 goroutine 处理。慢操作（附件上传、
// 保留锁等待）挂起的只是那一个事件，同一连接后续的事件照常处理。
func (c *Client) handle(env Envelope) {
	go c.dispatch(env)
}

// enqueue 把出站帧放入发送队列。连接已关闭时静默丢弃；
// 队列已满返回 false，调用方按死连接处理。
func (c *Client) enqueue(b []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- b:
		return true
	default:
		return false
	}
}

// shutdown 关闭发送队列。之后事件 goroutine 的 enqueue 只会丢帧，
// 不会写已关闭的 channel。
func (c *Client) shutdown() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}

func (c *Client) setName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			_ = w.Close()
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ack 对一个变更事件恰好回一条应答：err 为 nil 表示成功。
func (c *Client) ack(seq int64, err error) {
	if seq == 0 {
		if err != nil {
			log.Warn().Err(err).Str("email", c.email).Msg("event failed without ack seq")
		}
		return
	}
	out := outbound{Event: "ack", Seq: seq}
	if err != nil {
		se := service.AsError(err)
		out.Error = &ackError{Kind: se.Kind, Msg: se.Msg}
	}
	b, merr := json.Marshal(out)
	if merr != nil {
		return
	}
	_ = c.enqueue(b)
}
