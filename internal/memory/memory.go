// Package memory implements the kernel's recall layer: a per-conversation
// working memory checked first, backed by a process-wide hybrid retrieval
// index (keyword inverted index + TF-IDF cosine similarity) and an optional
// persistent Store that survives restarts.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentKernel/internal/errors"
	"AgentKernel/pkg/logger"
)

// Layer 标记记录所处的记忆层。
type Layer string

const (
	LayerWorking  Layer = "working"
	LayerEpisodic Layer = "episodic"
	LayerSemantic Layer = "semantic"
)

const workingRecallCap = 3

// Record 是一条被记住的话语。
type Record struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Layer     Layer     `json:"layer"`
	Important bool      `json:"important,omitempty"`
}

// Memory 组合工作记忆、检索索引与持久化存储。
type Memory struct {
	working *WorkingMemory
	index   *Index
	store   Store
	log     *slog.Logger
	now     func() time.Time
}

// Option 定义可选配置。
type Option func(*Memory)

// WithWorkingLimit 设置每个会话的工作记忆容量。
func WithWorkingLimit(limit int) Option {
	return func(m *Memory) {
		m.working = NewWorkingMemory(limit)
	}
}

// WithStore 配置持久化存储。
func WithStore(store Store) Option {
	return func(m *Memory) {
		m.store = store
	}
}

// WithLogger 替换默认日志。
func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) {
		if l != nil {
			m.log = l
		}
	}
}

// New 创建 Memory。index 为空时使用新的空索引。
func New(index *Index, opts ...Option) *Memory {
	if index == nil {
		index = NewIndex()
	}
	m := &Memory{
		working: NewWorkingMemory(DefaultWorkingLimit),
		index:   index,
		log:     logger.Named("memory"),
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Index 返回底层检索索引。
func (m *Memory) Index() *Index {
	return m.index
}

// Warm 从持久化存储加载记录到检索索引。
func (m *Memory) Warm(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	records, err := m.store.Load(ctx)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeStorageFailure, err, "加载持久化记忆失败")
	}
	m.index.Import(records)
	return len(records), nil
}

// Write 写入一条记忆：进入会话工作记忆与检索索引，并尽力持久化。
// 持久化失败只记录日志，不影响调用方。
func (m *Memory) Write(ctx context.Context, conversationID, content string, important bool) Record {
	now := m.now()
	rec := Record{
		ID:        newRecordID(conversationID, now),
		Content:   content,
		Timestamp: now,
		Layer:     LayerWorking,
		Important: important,
	}
	m.working.Push(conversationID, rec)
	m.index.AddMemory(rec.ID, content, Metadata{Important: important, CreatedAt: now})

	if m.store != nil {
		stored := rec
		stored.Layer = LayerSemantic
		if err := m.store.Save(ctx, stored); err != nil {
			m.log.Warn("持久化记忆失败", slog.String("id", rec.ID), slog.Any("error", err))
		}
	}
	return rec
}

// Retrieve 先取工作记忆命中（最多 min(limit, 3) 条），再由检索索引补足，总数不超过 limit。
func (m *Memory) Retrieve(_ context.Context, conversationID, query string, limit int) []Record {
	if limit <= 0 {
		return nil
	}
	working := m.working.Match(conversationID, query, min(limit, workingRecallCap))

	// 索引结果可能与工作记忆重复，按 limit 整体取回后再去重补足。
	var indexed []SearchResult
	if len(working) < limit {
		opts := DefaultSearchOptions()
		opts.Limit = limit
		indexed = m.index.Search(query, opts)
	}

	out := make([]Record, 0, limit)
	seen := make(map[string]struct{}, len(working))
	for _, rec := range working {
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}
	for _, r := range indexed {
		if len(out) == limit {
			break
		}
		if _, dup := seen[r.ID]; dup {
			continue
		}
		out = append(out, Record{
			ID:        r.ID,
			Content:   r.Content,
			Timestamp: r.Metadata.CreatedAt,
			Layer:     LayerSemantic,
			Important: r.Metadata.Important,
		})
	}
	return out
}

// Delete 从索引与持久化存储中删除记忆。
func (m *Memory) Delete(ctx context.Context, id string) error {
	m.index.DeleteMemory(id)
	if m.store == nil {
		return nil
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除持久化记忆失败", xerrors.WithMetadata("id", id))
	}
	return nil
}

// Clear 清空全部记忆。
func (m *Memory) Clear(ctx context.Context) error {
	m.working.Reset()
	m.index.ClearAll()
	if m.store == nil {
		return nil
	}
	if err := m.store.Clear(ctx); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清空持久化记忆失败")
	}
	return nil
}

// Stats 返回检索索引统计。
func (m *Memory) Stats() Stats {
	return m.index.Stats()
}

func newRecordID(conversationID string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return fmt.Sprintf("%s:%d:%s", conversationID, at.UnixMilli(), suffix)
}
