package config

import (
	"errors"
	"os"
	"strconv"
)

type Config struct {
	Port            string
	Env             string
	MongoURI        string
	MongoDB         string
	JWTSecret       string
	TokenTTLMinutes int
	SMTPHost        string
	SMTPPort        string
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	ResetURL        string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func Load() Config {
	ttlStr := getenv("TOKEN_TTL_MINUTES", "60")
	ttl, _ := strconv.Atoi(ttlStr)
	if ttl <= 0 {
		ttl = 60
	}
	return Config{
		Port:            getenv("APP_PORT", "8080"),
		Env:             getenv("APP_ENV", "dev"),
		MongoURI:        getenv("MONGODB_URI", "mongodb://localhost:27017"),
		MongoDB:         getenv("MONGODB_DB", "chitchat"),
		JWTSecret:       getenv("JWT_SECRET", "dev-secret-change-me"),
		TokenTTLMinutes: ttl,
		SMTPHost:        getenv("SMTP_HOST", ""),
		SMTPPort:        getenv("SMTP_PORT", "587"),
		SMTPUsername:    getenv("SMTP_USERNAME", ""),
		SMTPPassword:    getenv("SMTP_PASSWORD", ""),
		SMTPFrom:        getenv("SMTP_FROM", "chit-chat@gmail.com"),
		ResetURL:        getenv("RESET_URL", "http://localhost:3000/resetPassword/"),
	}
}

// Validate 检查启动前必须满足的配置约束。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("config: port is required")
	}
	if cfg.MongoURI == "" {
		return errors.New("config: mongodb uri is required")
	}
	if cfg.Env != "dev" && cfg.JWTSecret == "dev-secret-change-me" {
		return errors.New("config: default jwt secret is not allowed outside dev")
	}
	return nil
}
