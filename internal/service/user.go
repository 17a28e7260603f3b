package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chitchat/internal/auth"
	"chitchat/internal/config"
	"chitchat/internal/db"
	"chitchat/internal/mail"
	"chitchat/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// UserService 封装用户相关的业务逻辑，身份签发与校验都收在这里。
type UserService struct {
	store  *db.Store
	cfg    config.Config
	mailer *mail.Sender
}

func NewUserService(store *db.Store, cfg config.Config, mailer *mail.Sender) *UserService {
	return &UserService{store: store, cfg: cfg, mailer: mailer}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register 注册新用户，邮箱全局唯一。
func (s *UserService) Register(ctx context.Context, email, name, password string) error {
	email = normalizeEmail(email)
	err := s.store.Users.FindOne(ctx, bson.M{"email": email}).Err()
	if err == nil {
		return E(KindConflict, MsgEmailTaken)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	user := models.User{Email: email, Name: name, Password: hash, Date: time.Now()}
	_, err = s.store.Users.InsertOne(ctx, user)
	return err
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	Token string `json:"token"`
	Name  string `json:"name"`
}

// Login 校验邮箱密码并签发会话 token，token 同时写入用户记录，
// 空串与非空串的区别就是登出与登录的区别。
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = normalizeEmail(email)
	var user models.User
	if err := s.store.Users.FindOne(ctx, bson.M{"email": email}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, E(KindNotFound, MsgEmailNotFound)
		}
		return nil, err
	}
	if !auth.VerifyPassword(user.Password, password) {
		return nil, E(KindAuth, MsgWrongPassword)
	}
	token, err := auth.GenerateToken(email, s.cfg.JWTSecret, s.cfg.TokenTTLMinutes)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Users.UpdateOne(ctx, bson.M{"email": email}, bson.M{"$set": bson.M{"status": token}}); err != nil {
		return nil, err
	}
	return &LoginResult{Token: token, Name: user.Name}, nil
}

// Logout 清空存储的会话 token，即服务端登出。
func (s *UserService) Logout(ctx context.Context, email string) error {
	_, err := s.store.Users.UpdateOne(ctx, bson.M{"email": normalizeEmail(email)}, bson.M{"$set": bson.M{"status": ""}})
	return err
}

// ForgotPassword 给已注册邮箱发送带重置 token 的邮件。
func (s *UserService) ForgotPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	err := s.store.Users.FindOne(ctx, bson.M{"email": email}).Err()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return E(KindNotFound, MsgEmailNotFound)
		}
		return err
	}
	token, err := auth.GenerateToken(email, s.cfg.JWTSecret, s.cfg.TokenTTLMinutes)
	if err != nil {
		return err
	}
	return s.mailer.SendPasswordReset(email, s.cfg.ResetURL+token)
}

// ResetPassword 重置密码（调用方已通过 token 认证）。
func (s *UserService) ResetPassword(ctx context.Context, email, password string) error {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = s.store.Users.UpdateOne(ctx, bson.M{"email": normalizeEmail(email)}, bson.M{"$set": bson.M{"password": hash}})
	return err
}

// ChangePassword 校验旧密码后更换密码。
func (s *UserService) ChangePassword(ctx context.Context, email, oldPassword, newPassword string) error {
	email = normalizeEmail(email)
	var user models.User
	if err := s.store.Users.FindOne(ctx, bson.M{"email": email}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return E(KindNotFound, MsgUserNotFound)
		}
		return err
	}
	if !auth.VerifyPassword(user.Password, oldPassword) {
		return E(KindAuth, MsgOldPasswordWrong)
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}
	_, err = s.store.Users.UpdateOne(ctx, bson.M{"email": email}, bson.M{"$set": bson.M{"password": hash}})
	return err
}

// Get 按邮箱查用户。
func (s *UserService) Get(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.store.Users.FindOne(ctx, bson.M{"email": normalizeEmail(email)}).Decode(&user); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, E(KindNotFound, MsgUserNotFound)
		}
		return nil, err
	}
	return &user, nil
}

// UpdateProfile 修改显示名。
func (s *UserService) UpdateProfile(ctx context.Context, email, name string) error {
	_, err := s.store.Users.UpdateOne(ctx, bson.M{"email": normalizeEmail(email)}, bson.M{"$set": bson.M{"name": name}})
	return err
}
