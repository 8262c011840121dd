package memory

import "context"

// Store 是检索索引背后的持久化存储。内核拥有检索逻辑，存储只负责保存与恢复记录。
type Store interface {
	Save(ctx context.Context, rec Record) error
	Delete(ctx context.Context, id string) error
	Load(ctx context.Context) ([]Record, error)
	Clear(ctx context.Context) error
	Close() error
}
