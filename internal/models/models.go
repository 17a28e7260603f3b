package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// 消息类型，服务端按白名单校验，不再用 mime 前缀猜测。
const (
	KindText  = "txt"
	KindImage = "image"
	KindVideo = "video"
)

type User struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"-"`
	Email    string             `bson:"email" json:"email"`
	Name     string             `bson:"name" json:"name"`
	Password string             `bson:"password" json:"-"`
	// Status 保存当前会话 token，空串表示已登出。在线状态由它按需推导。
	Status string    `bson:"status" json:"-"`
	Date   time.Time `bson:"date" json:"-"`
}

type Message struct {
	ID    primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Email string             `bson:"email" json:"email"`
	Name  string             `bson:"name" json:"name"`
	// Body 为文本内容；image/video 消息持久化后保存的是 GridFS 文件 id。
	Body string    `bson:"message" json:"message"`
	Kind string    `bson:"kind" json:"kind"`
	Date time.Time `bson:"date" json:"date"`
}

type Room struct {
	ID       primitive.ObjectID `bson:"_id,omitempty" json:"_id"`
	Name     string             `bson:"room" json:"room"`
	Admin    string             `bson:"admin" json:"admin"`
	Date     time.Time          `bson:"date" json:"date"`
	Members  []string           `bson:"members" json:"members"`
	Messages []Message          `bson:"messages" json:"messages"`
}

// RoomSummary 是房间列表接口返回的精简数据。
type RoomSummary struct {
	ID   primitive.ObjectID `bson:"_id" json:"_id"`
	Name string             `bson:"room" json:"room"`
}

// Member 是房间快照里带在线状态的成员。
type Member struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	Typing string `json:"typing"`
	Status string `json:"status"`
}

// Offline 表示在快照中被检测到 token 失效的成员。
type Offline struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func ValidKind(kind string) bool {
	switch kind {
	case KindText, KindImage, KindVideo:
		return true
	}
	return false
}

// AllowedContentType 校验附件声明的 content type 是否在白名单内。
func AllowedContentType(kind, contentType string) bool {
	switch kind {
	case KindImage:
		switch contentType {
		case "image/png", "image/jpeg", "image/gif", "image/webp":
			return true
		}
	case KindVideo:
		switch contentType {
		case "video/mp4", "video/webm", "video/ogg":
			return true
		}
	}
	return false
}
