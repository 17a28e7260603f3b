package server

import (
	"context"
	"net/http"
	"time"

	"chitchat/internal/auth"
	"chitchat/internal/service"
	"chitchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const requestTimeout = 10 * time.Second

// Handler 聚合所有 HTTP handler，依赖注入 service 层和在线注册表。
type Handler struct {
	users *service.UserService
	rooms *service.RoomService
	chat  *service.ChatService
	hub   *ws.Hub
}

func NewHandler(users *service.UserService, rooms *service.RoomService, chat *service.ChatService, hub *ws.Hub) *Handler {
	return &Handler{users: users, rooms: rooms, chat: chat, hub: hub}
}

func reqCtx(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), requestTimeout)
}

// respondErr 把业务错误映射成 HTTP 状态码和 {error: msg}。
func respondErr(c *gin.Context, err error) {
	se := service.AsError(err)
	status := http.StatusInternalServerError
	switch se.Kind {
	case service.KindAuth:
		status = http.StatusUnauthorized
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindConflict:
		status = http.StatusConflict
	case service.KindStorage:
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	c.JSON(status, gin.H{"error": se.Msg})
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" || req.Name == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.users.Register(ctx, req.Email, req.Name, req.Password); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "User registered successfully"})
}

// Login 校验邮箱密码并返回会话 token。
func (h *Handler) Login(c *gin.Context) {
	email := c.Query("email")
	password := c.Query("password")
	if email == "" || password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	result, err := h.users.Login(ctx, email, password)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": result.Token, "name": result.Name})
}

// ForgotPassword 发送密码重置邮件。
func (h *Handler) ForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.users.ForgotPassword(ctx, req.Email); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "Email sent successfully"})
}

// GetUser 返回当前登录用户。
func (h *Handler) GetUser(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"email": auth.GetEmail(c), "name": auth.GetName(c)})
}

// ResetPassword 用重置 token 的身份更新密码。
func (h *Handler) ResetPassword(c *gin.Context) {
	var req struct {
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.users.ResetPassword(ctx, auth.GetEmail(c), req.Password); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "Password updated successfully"})
}

// ChangePassword 校验旧密码后更换新密码。
func (h *Handler) ChangePassword(c *gin.Context) {
	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.OldPassword == "" || req.NewPassword == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.users.ChangePassword(ctx, auth.GetEmail(c), req.OldPassword, req.NewPassword); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "Password changed successfully"})
}

// ListRooms 返回自己管理的房间和其余房间两个分区。
func (h *Handler) ListRooms(c *gin.Context) {
	email := auth.GetEmail(c)
	ctx, cancel := reqCtx(c)
	defer cancel()
	owned, err := h.rooms.ListOwned(ctx, email)
	if err != nil {
		respondErr(c, err)
		return
	}
	others, err := h.rooms.ListOthers(ctx, email)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": email, "name": auth.GetName(c), "userRooms": owned, "rooms": others})
}

// ListUserRooms 只返回自己管理的房间。
func (h *Handler) ListUserRooms(c *gin.Context) {
	email := auth.GetEmail(c)
	ctx, cancel := reqCtx(c)
	defer cancel()
	owned, err := h.rooms.ListOwned(ctx, email)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"email": email, "name": auth.GetName(c), "userRooms": owned})
}

// JoinRoom 把当前用户加入房间的持久化成员列表。
func (h *Handler) JoinRoom(c *gin.Context) {
	var req struct {
		RoomID string `json:"roomId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RoomID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	roomID, err := primitive.ObjectIDFromHex(req.RoomID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": service.MsgRoomNotFound})
		return
	}
	email := auth.GetEmail(c)
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.rooms.Join(ctx, roomID, email); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": email + " joined room successfully"})
}

// GetChat 返回房间快照：消息全量、成员带在线状态、失效会话集合。
func (h *Handler) GetChat(c *gin.Context) {
	roomID, err := primitive.ObjectIDFromHex(c.Param("roomId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": service.MsgRoomNotFound})
		return
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	snap, err := h.chat.Snapshot(ctx, roomID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"email":    auth.GetEmail(c),
		"name":     auth.GetName(c),
		"roomData": snap,
		"offline":  snap.Offline,
	})
}

// ClearChat 清空房间消息。REST 请求方没有对应连接，房间必须无人在线。
func (h *Handler) ClearChat(c *gin.Context) {
	roomIDHex := c.Param("roomId")
	roomID, err := primitive.ObjectIDFromHex(roomIDHex)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": service.MsgRoomNotFound})
		return
	}

	release := h.hub.Reserve(roomIDHex)
	defer release()
	if !h.hub.CanClearChat(roomIDHex, nil) {
		c.JSON(http.StatusConflict, gin.H{"error": service.MsgRoomInUseClear})
		return
	}

	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.chat.Clear(ctx, roomID); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": "Chat cleared successfully"})
}
