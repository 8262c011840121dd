package observability

import "sync"

// DefaultCapacity 是内存中保留的轨迹数量。
const DefaultCapacity = 200

// Metrics 是基于缓冲区内轨迹计算的聚合指标。
type Metrics struct {
	TotalRuns     int     `json:"totalRuns"`
	ToolCalls     int     `json:"toolCalls"`
	SafetyBlocks  int     `json:"safetyBlocks"`
	AvgMemoryHits float64 `json:"avgMemoryHits"`
}

// Buffer 是固定容量的环形缓冲区，满后覆盖最旧的轨迹。
type Buffer struct {
	mu    sync.RWMutex
	items []RunTrace
	next  int
	count int
}

// NewBuffer 创建缓冲区，capacity <= 0 时使用默认容量。
func NewBuffer(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{items: make([]RunTrace, capacity)}
}

// Push 写入一条轨迹。
func (b *Buffer) Push(trace RunTrace) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.next] = trace
	b.next = (b.next + 1) % len(b.items)
	if b.count < len(b.items) {
		b.count++
	}
}

// Last 返回最新的轨迹。
func (b *Buffer) Last() (RunTrace, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.count == 0 {
		return RunTrace{}, false
	}
	return b.items[b.indexLocked(0)], true
}

// List 按从新到旧返回最多 limit 条轨迹，limit <= 0 时返回全部。
func (b *Buffer) List(limit int) []RunTrace {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := b.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]RunTrace, n)
	for i := range out {
		out[i] = b.items[b.indexLocked(i)]
	}
	return out
}

// Len 返回当前保存的轨迹数量。
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Metrics 计算聚合指标。
func (b *Buffer) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	m := Metrics{TotalRuns: b.count}
	memoryHits := 0
	for i := 0; i < b.count; i++ {
		t := b.items[b.indexLocked(i)]
		m.ToolCalls += t.ToolCalls
		memoryHits += t.MemoryHits
		if t.SafetyBlocked {
			m.SafetyBlocks++
		}
	}
	if b.count > 0 {
		m.AvgMemoryHits = float64(memoryHits) / float64(b.count)
	}
	return m
}

// indexLocked 把"第 i 新"转换为底层数组下标。
func (b *Buffer) indexLocked(i int) int {
	size := len(b.items)
	return ((b.next-1-i)%size + size) % size
}
