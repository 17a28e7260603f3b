// Package blob 提供附件存取，消息体里只保留返回的文件 id。
package blob

import (
	"bytes"
	"context"
	"io"

	"chitchat/internal/service"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MaxAttachmentBytes 限制单个附件大小。
const MaxAttachmentBytes = 50 << 20 // 50 MiB

// Store 是 Attachment Store 的抽象，便于测试替换。
type Store interface {
	Put(ctx context.Context, r io.Reader, name string, messageID primitive.ObjectID) (primitive.ObjectID, error)
	Get(ctx context.Context, id primitive.ObjectID) ([]byte, error)
	Delete(ctx context.Context, id primitive.ObjectID) error
}

// GridFS 把附件写入 MongoDB 的 GridFS bucket。
type GridFS struct {
	bucket *gridfs.Bucket
}

func NewGridFS(bucket *gridfs.Bucket) *GridFS {
	return &GridFS{bucket: bucket}
}

// Put 流式写入附件，返回文件 id。bucket 不可用时整个发送操作失败，
// 绝不降级成文本消息。
func (g *GridFS) Put(ctx context.Context, r io.Reader, name string, messageID primitive.ObjectID) (primitive.ObjectID, error) {
	if g.bucket == nil {
		return primitive.NilObjectID, service.E(service.KindStorage, service.MsgStoreUnavailable)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = g.bucket.SetWriteDeadline(dl)
	}
	opts := options.GridFSUpload().SetMetadata(bson.M{"messageId": messageID})
	id, err := g.bucket.UploadFromStream(name, r, opts)
	if err != nil {
		return primitive.NilObjectID, service.E(service.KindStorage, service.MsgStoreUnavailable)
	}
	return id, nil
}

// Get 完整读出附件内容，不做分段读取。
func (g *GridFS) Get(ctx context.Context, id primitive.ObjectID) ([]byte, error) {
	if g.bucket == nil {
		return nil, service.E(service.KindStorage, service.MsgStoreUnavailable)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = g.bucket.SetReadDeadline(dl)
	}
	var buf bytes.Buffer
	if _, err := g.bucket.DownloadToStream(id, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Delete 尽力而为地删除附件，调用方记日志后忽略错误。
func (g *GridFS) Delete(ctx context.Context, id primitive.ObjectID) error {
	if g.bucket == nil {
		return service.E(service.KindStorage, service.MsgStoreUnavailable)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = g.bucket.SetWriteDeadline(dl)
	}
	return g.bucket.Delete(id)
}
