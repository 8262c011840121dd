package memory

import (
	"hash/fnv"
	"strings"
	"sync"
)

const workingShards = 16

// DefaultWorkingLimit 是每个会话工作记忆的容量。
const DefaultWorkingLimit = 8

type workingShard struct {
	mu      sync.RWMutex
	entries map[string][]Record
}

// WorkingMemory 按会话保存最近写入的记录，最新的在前，超出容量时淘汰最旧的。
// 会话按 id 哈希分片以降低锁竞争。
type WorkingMemory struct {
	limit  int
	shards [workingShards]workingShard
}

// NewWorkingMemory 创建工作记忆，limit <= 0 时使用默认容量。
func NewWorkingMemory(limit int) *WorkingMemory {
	if limit <= 0 {
		limit = DefaultWorkingLimit
	}
	wm := &WorkingMemory{limit: limit}
	for i := range wm.shards {
		wm.shards[i].entries = make(map[string][]Record)
	}
	return wm
}

func (wm *WorkingMemory) shard(conversationID string) *workingShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(conversationID))
	return &wm.shards[h.Sum32()%workingShards]
}

// Push 写入一条记录。
func (wm *WorkingMemory) Push(conversationID string, rec Record) {
	s := wm.shard(conversationID)
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.entries[conversationID]
	next := make([]Record, 0, min(len(current)+1, wm.limit))
	next = append(next, rec)
	for _, r := range current {
		if len(next) == wm.limit {
			break
		}
		next = append(next, r)
	}
	s.entries[conversationID] = next
}

// Match 返回内容包含 query（忽略大小写）的记录，最多 max 条。
func (wm *WorkingMemory) Match(conversationID, query string, max int) []Record {
	if max <= 0 {
		return nil
	}
	needle := strings.ToLower(query)

	s := wm.shard(conversationID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Record
	for _, rec := range s.entries[conversationID] {
		if strings.Contains(strings.ToLower(rec.Content), needle) {
			out = append(out, rec)
			if len(out) == max {
				break
			}
		}
	}
	return out
}

// Len 返回会话当前的工作记忆条数。
func (wm *WorkingMemory) Len(conversationID string) int {
	s := wm.shard(conversationID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries[conversationID])
}

// Reset 清空所有会话。
func (wm *WorkingMemory) Reset() {
	for i := range wm.shards {
		s := &wm.shards[i]
		s.mu.Lock()
		s.entries = make(map[string][]Record)
		s.mu.Unlock()
	}
}
