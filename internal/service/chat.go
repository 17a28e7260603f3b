package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"chitchat/internal/db"
	"chitchat/internal/metrics"
	"chitchat/internal/models"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// maxMessages 是单个房间消息日志的上限，超出时最旧的一条被淘汰。
const maxMessages = 100

// maxAttachmentBytes 与 blob 层的上限保持一致。
const maxAttachmentBytes = 50 << 20

// BlobStore 是聊天服务依赖的附件存取接口（internal/blob 提供 GridFS 实现）。
type BlobStore interface {
	Put(ctx context.Context, r io.Reader, name string, messageID primitive.ObjectID) (primitive.ObjectID, error)
	Get(ctx context.Context, id primitive.ObjectID) ([]byte, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// ChatService 封装消息日志与房间快照逻辑。
type ChatService struct {
	store    *db.Store
	blobs    BlobStore
	presence *Presence
}

func NewChatService(store *db.Store, blobs BlobStore, presence *Presence) *ChatService {
	return &ChatService{store: store, blobs: blobs, presence: presence}
}

// Append 持久化一条消息并保持日志长度不超过上限。
// push 和裁剪用单次 $push+$slice 原子完成，并发追加不会瞬时越界。
// image/video 消息先上传附件，body 持久化为文件 id；返回前恢复原始
// 内容，发送方和房间广播里拿到的是字节本身。
func (s *ChatService) Append(ctx context.Context, roomID primitive.ObjectID, m *models.Message, contentType string) error {
	if !models.ValidKind(m.Kind) {
		return E(KindInternal, "unknown message kind")
	}
	if m.ID.IsZero() {
		m.ID = primitive.NewObjectID()
	}
	if m.Date.IsZero() {
		m.Date = time.Now()
	}

	raw := m.Body
	if m.Kind == models.KindImage || m.Kind == models.KindVideo {
		if !models.AllowedContentType(m.Kind, contentType) {
			return E(KindInternal, "unsupported attachment content type")
		}
		if len(raw) > maxAttachmentBytes {
			return E(KindStorage, "attachment exceeds size limit")
		}
		name := "upload." + contentType[strings.IndexByte(contentType, '/')+1:]
		fileID, err := s.blobs.Put(ctx, strings.NewReader(raw), name, m.ID)
		if err != nil {
			return err
		}
		metrics.AttachmentBytesTotal.Add(float64(len(raw)))
		m.Body = fileID.Hex()
	}

	res, err := s.store.Rooms.UpdateByID(ctx, roomID, bson.M{
		"$push": bson.M{"messages": bson.M{"$each": bson.A{m}, "$slice": -maxMessages}},
	})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return E(KindNotFound, MsgRoomNotFound)
	}
	metrics.WsMessagesTotal.Inc()
	m.Body = raw
	return nil
}

// Snapshot 是 GET /chat/:roomId 返回的数据。
type Snapshot struct {
	ID       primitive.ObjectID `json:"_id"`
	Name     string             `json:"room"`
	Admin    string             `json:"admin"`
	Date     time.Time          `json:"date"`
	Members  []models.Member    `json:"members"`
	Messages []models.Message   `json:"messages"`
	// Offline 是本次快照中检测到 token 失效的成员，调用方负责通知其他连接。
	Offline []models.Offline `json:"-"`
}

// Snapshot 取房间全量快照：成员列表带按需推导的在线状态，image/video
// 消息内联附件内容。单条附件读取失败只降级那一条为占位文本，整个快照
// 仍然成功返回。
func (s *ChatService) Snapshot(ctx context.Context, roomID primitive.ObjectID) (*Snapshot, error) {
	var room models.Room
	if err := s.store.Rooms.FindOne(ctx, bson.M{"_id": roomID}).Decode(&room); err != nil {
		return nil, asNotFound(err)
	}

	members, offline, err := s.presence.Annotate(ctx, room.Members)
	if err != nil {
		return nil, err
	}

	msgs := make([]models.Message, 0, len(room.Messages))
	for _, msg := range room.Messages {
		if msg.Kind == models.KindImage || msg.Kind == models.KindVideo {
			data, gerr := s.fetchBlob(ctx, msg.Body)
			if gerr != nil {
				log.Warn().Err(gerr).Str("message_id", msg.ID.Hex()).Msg("attachment download")
				msg.Kind = models.KindText
				msg.Body = MsgFileUnavailable
			} else {
				msg.Body = string(data)
			}
		}
		msgs = append(msgs, msg)
	}

	return &Snapshot{
		ID:       room.ID,
		Name:     room.Name,
		Admin:    room.Admin,
		Date:     room.Date,
		Members:  members,
		Messages: msgs,
		Offline:  offline,
	}, nil
}

func (s *ChatService) fetchBlob(ctx context.Context, body string) ([]byte, error) {
	fileID, err := primitive.ObjectIDFromHex(body)
	if err != nil {
		return nil, err
	}
	return s.blobs.Get(ctx, fileID)
}

// Clear 清空房间消息日志，先尽力删除被引用的附件。
func (s *ChatService) Clear(ctx context.Context, roomID primitive.ObjectID) error {
	var room models.Room
	if err := s.store.Rooms.FindOne(ctx, bson.M{"_id": roomID}).Decode(&room); err != nil {
		return asNotFound(err)
	}
	for _, msg := range room.Messages {
		s.dropBlob(ctx, msg)
	}
	_, err := s.store.Rooms.UpdateByID(ctx, roomID, bson.M{"$set": bson.M{"messages": bson.A{}}})
	return err
}

// DeleteMessages 删除指定 id 的消息。附件删除失败被吞掉，消息本身的
// 移除必须继续；所有 id 用一次 $pull 原子移除。
func (s *ChatService) DeleteMessages(ctx context.Context, roomID primitive.ObjectID, ids []string) error {
	oids := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range ids {
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			continue
		}
		oids = append(oids, oid)
	}
	if len(oids) == 0 {
		return nil
	}

	var room models.Room
	if err := s.store.Rooms.FindOne(ctx, bson.M{"_id": roomID}).Decode(&room); err != nil {
		return asNotFound(err)
	}
	wanted := make(map[primitive.ObjectID]bool, len(oids))
	for _, oid := range oids {
		wanted[oid] = true
	}
	for _, msg := range room.Messages {
		if wanted[msg.ID] {
			s.dropBlob(ctx, msg)
		}
	}

	_, err := s.store.Rooms.UpdateByID(ctx, roomID, bson.M{
		"$pull": bson.M{"messages": bson.M{"_id": bson.M{"$in": oids}}},
	})
	return err
}

// dropBlob 尽力删除一条消息引用的附件，错误只记日志。
func (s *ChatService) dropBlob(ctx context.Context, msg models.Message) {
	if msg.Kind != models.KindImage && msg.Kind != models.KindVideo {
		return
	}
	fileID, err := primitive.ObjectIDFromHex(msg.Body)
	if err != nil {
		return
	}
	if err := s.blobs.Delete(ctx, fileID); err != nil {
		log.Warn().Err(err).Str("file_id", fileID.Hex()).Msg("attachment delete")
	}
}

func asNotFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return E(KindNotFound, MsgRoomNotFound)
	}
	return err
}
