package service

import (
	"context"
	"errors"

	"chitchat/internal/auth"
	"chitchat/internal/db"
	"chitchat/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Presence 按需从存储的会话 token 推导成员在线状态。
// 检查是惰性的：只有快照请求覆盖到的成员才会被判定，token 静默过期的
// 用户在下一次覆盖到他的快照之前对外仍显示在线。
type Presence struct {
	store  *db.Store
	secret string
}

func NewPresence(store *db.Store, secret string) *Presence {
	return &Presence{store: store, secret: secret}
}

// Annotate 为成员列表标注 name/status，并返回本次检查中 token 失效、
// 被服务端登出的成员集合。调用方负责把该集合广播给其他连接。
func (p *Presence) Annotate(ctx context.Context, emails []string) ([]models.Member, []models.Offline, error) {
	members := make([]models.Member, 0, len(emails))
	offline := []models.Offline{}
	for _, email := range emails {
		var user models.User
		err := p.store.Users.FindOne(ctx, bson.M{"email": email}).Decode(&user)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				// 成员记录已不存在，按离线展示
				members = append(members, models.Member{Email: email})
				continue
			}
			return nil, nil, err
		}

		status := ""
		if user.Status != "" {
			if _, perr := auth.ParseToken(user.Status, p.secret); perr != nil {
				// token 失效：清掉库里的 token，等于服务端登出
				if _, uerr := p.store.Users.UpdateOne(ctx, bson.M{"email": email}, bson.M{"$set": bson.M{"status": ""}}); uerr != nil {
					return nil, nil, uerr
				}
				offline = append(offline, models.Offline{Email: email, Name: user.Name})
			} else {
				// 仅对本次响应有效，不落库
				status = "online"
			}
		}
		members = append(members, models.Member{Email: email, Name: user.Name, Status: status})
	}
	return members, offline, nil
}
