package main

import (
	"context"
	"time"

	"chitchat/internal/blob"
	"chitchat/internal/config"
	"chitchat/internal/db"
	clog "chitchat/internal/log"
	"chitchat/internal/mail"
	"chitchat/internal/server"
	"chitchat/internal/service"
	"chitchat/internal/ws"

	"github.com/rs/zerolog/log"
)

func main() {
	// main 函数负责加载配置、初始化日志、连接存储并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config validate")
	}

	store, err := db.Connect(cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(ctx); err != nil {
			log.Warn().Err(err).Msg("db close")
		}
	}()
	{
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := store.EnsureIndexes(ctx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("db indexes")
		}
	}

	mailer := mail.NewSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	blobs := blob.NewGridFS(store.Bucket)

	users := service.NewUserService(store, cfg, mailer)
	rooms := service.NewRoomService(store)
	presence := service.NewPresence(store, cfg.JWTSecret)
	chat := service.NewChatService(store, blobs, presence)

	hub := ws.NewHub()
	gw := ws.NewGateway(hub, users, rooms, chat, cfg.JWTSecret)
	h := server.NewHandler(users, rooms, chat, hub)

	r := server.SetupRouter(cfg, store, h, gw)
	if err := r.Run(":" + cfg.Port); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
}
