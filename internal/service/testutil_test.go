package service

import (
	"context"
	"os"
	"testing"
	"time"

	"chitchat/internal/db"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// testStore 连接本地 MongoDB，不可用时跳过用例（与 router 测试同一套路）。
func testStore(t *testing.T) *db.Store {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(time.Second))
	if err == nil {
		err = client.Ping(ctx, nil)
	}
	if err != nil {
		t.Skipf("skip: mongo not available: %v", err)
	}
	mdb := client.Database("chitchat_test")
	store := &db.Store{
		DB:    mdb,
		Users: mdb.Collection("users"),
		Rooms: mdb.Collection("rooms"),
	}
	// 每个用例都从干净的集合开始
	_ = store.Users.Drop(ctx)
	_ = store.Rooms.Drop(ctx)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	})
	return store
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}
