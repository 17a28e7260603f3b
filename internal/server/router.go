package server

import (
	"net/http"
	"time"

	"chitchat/internal/auth"
	"chitchat/internal/config"
	"chitchat/internal/db"
	"chitchat/internal/metrics"
	"chitchat/internal/mw"
	"chitchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, store *db.Store, h *Handler, gw *ws.Gateway) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env))
	r.Use(mw.SecurityHeaders())

	// 凭据接口、普通 API 和 ws 握手各自一份限速预算：
	// 刷登录的 IP 打满凭据桶时不影响已登录用户的正常请求。
	apiLimit := mw.NewLimiter(rate.Every(time.Second/20), 40, 2*time.Minute)
	credLimit := mw.NewLimiter(rate.Every(time.Second), 5, 10*time.Minute)
	wsLimit := mw.NewLimiter(rate.Every(time.Second), 10, 2*time.Minute)

	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "server running") })
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.Use(apiLimit.Middleware())

	cred := credLimit.Middleware()
	api.POST("/register", cred, h.Register)
	api.GET("/login", cred, h.Login)
	api.POST("/forgotPassword", cred, h.ForgotPassword)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(auth.Middleware(cfg, store))

	authed.GET("/user", h.GetUser)
	authed.POST("/reset", h.ResetPassword)
	authed.PUT("/changePassword", h.ChangePassword)
	authed.GET("/rooms", h.ListRooms)
	authed.PUT("/rooms/join", h.JoinRoom)
	authed.GET("/userRooms", h.ListUserRooms)
	authed.GET("/chat/:roomId", h.GetChat)
	authed.DELETE("/chat/:roomId", h.ClearChat)

	r.GET("/ws", wsLimit.Middleware(), gw.Serve())

	return r
}
