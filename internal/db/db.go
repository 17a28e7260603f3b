package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store 是进程启动时构造的显式存储句柄，持有集合与 GridFS bucket，
// 取代原实现里模块级的单例连接。
type Store struct {
	client *mongo.Client
	DB     *mongo.Database
	Users  *mongo.Collection
	Rooms  *mongo.Collection
	Bucket *gridfs.Bucket
}

// Connect 建立到 MongoDB 的连接，带简单重试来等待容器就绪。
func Connect(uri, dbName string) (*Store, error) {
	var client *mongo.Client
	var err error
	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err = mongo.Connect(ctx, options.Client().ApplyURI(uri))
		if err == nil {
			err = client.Ping(ctx, nil)
		}
		cancel()
		if err == nil {
			mdb := client.Database(dbName)
			bucket, berr := gridfs.NewBucket(mdb, options.GridFSBucket().SetName("uploads"))
			if berr != nil {
				return nil, berr
			}
			return &Store{
				client: client,
				DB:     mdb,
				Users:  mdb.Collection("users"),
				Rooms:  mdb.Collection("rooms"),
				Bucket: bucket,
			}, nil
		}
		time.Sleep(time.Duration(500+i*200) * time.Millisecond)
	}
	return nil, err
}

// EnsureIndexes 创建邮箱唯一索引。房间名的唯一性是大小写不敏感的，
// 由业务层用 collation 查询保证，这里只建普通索引加速查找。
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.Users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return err
	}
	_, err = s.Rooms.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room", Value: 1}},
	})
	return err
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
