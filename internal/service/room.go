package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"chitchat/internal/db"
	"chitchat/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RoomService 封装房间相关的业务逻辑。
type RoomService struct {
	store *db.Store
}

func NewRoomService(store *db.Store) *RoomService {
	return &RoomService{store: store}
}

// 房间名唯一性按大小写不敏感比较，用 collation strength 2 查询实现。
func nameCollation() *options.Collation {
	return &options.Collation{Locale: "en", Strength: 2}
}

func (s *RoomService) nameTaken(ctx context.Context, name string, exclude primitive.ObjectID) (bool, error) {
	filter := bson.M{"room": name}
	if !exclude.IsZero() {
		filter["_id"] = bson.M{"$ne": exclude}
	}
	opts := options.FindOne().SetCollation(nameCollation())
	err := s.store.Rooms.FindOne(ctx, filter, opts).Err()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	return false, err
}

// Create 创建新房间，房间名大小写不敏感唯一。
func (s *RoomService) Create(ctx context.Context, owner, name string) (*models.Room, error) {
	name = strings.TrimSpace(name)
	taken, err := s.nameTaken(ctx, name, primitive.NilObjectID)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, E(KindConflict, MsgRoomTaken)
	}
	room := models.Room{
		Name:     name,
		Admin:    owner,
		Date:     time.Now(),
		Members:  []string{},
		Messages: []models.Message{},
	}
	res, err := s.store.Rooms.InsertOne(ctx, room)
	if err != nil {
		return nil, err
	}
	room.ID = res.InsertedID.(primitive.ObjectID)
	return &room, nil
}

// Rename 修改房间名，对其余所有房间做同样的唯一性检查。
func (s *RoomService) Rename(ctx context.Context, roomID primitive.ObjectID, name string) error {
	name = strings.TrimSpace(name)
	taken, err := s.nameTaken(ctx, name, roomID)
	if err != nil {
		return err
	}
	if taken {
		return E(KindConflict, MsgRoomTakenRename)
	}
	res, err := s.store.Rooms.UpdateByID(ctx, roomID, bson.M{"$set": bson.M{"room": name}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return E(KindNotFound, MsgRoomNotFound)
	}
	return nil
}

// Join 把成员加入房间，$addToSet 保证重复加入是幂等的。
func (s *RoomService) Join(ctx context.Context, roomID primitive.ObjectID, email string) error {
	res, err := s.store.Rooms.UpdateByID(ctx, roomID, bson.M{"$addToSet": bson.M{"members": email}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return E(KindNotFound, MsgRoomNotFound)
	}
	return nil
}

// Delete 删除房间。占用检查由 ws 层在房间保留锁内完成。
func (s *RoomService) Delete(ctx context.Context, roomID primitive.ObjectID) error {
	res, err := s.store.Rooms.DeleteOne(ctx, bson.M{"_id": roomID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return E(KindNotFound, MsgRoomNotFound)
	}
	return nil
}

// Get 按 id 查房间。
func (s *RoomService) Get(ctx context.Context, roomID primitive.ObjectID) (*models.Room, error) {
	var room models.Room
	if err := s.store.Rooms.FindOne(ctx, bson.M{"_id": roomID}).Decode(&room); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, E(KindNotFound, MsgRoomNotFound)
		}
		return nil, err
	}
	return &room, nil
}

func (s *RoomService) list(ctx context.Context, filter bson.M) ([]models.RoomSummary, error) {
	opts := options.Find().SetProjection(bson.M{"room": 1})
	cur, err := s.store.Rooms.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	rooms := []models.RoomSummary{}
	if err := cur.All(ctx, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// ListOwned 返回某用户作为管理员的房间。
func (s *RoomService) ListOwned(ctx context.Context, email string) ([]models.RoomSummary, error) {
	return s.list(ctx, bson.M{"admin": email})
}

// ListOthers 返回其余用户管理的房间。
func (s *RoomService) ListOthers(ctx context.Context, email string) ([]models.RoomSummary, error) {
	return s.list(ctx, bson.M{"admin": bson.M{"$ne": email}})
}
