// Package events publishes finished run traces to a message broker so
// downstream consumers (dashboards, offline evaluation) can follow kernel
// activity without polling the API.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"AgentKernel/internal/observability"
)

// Event 是投递给下游的运行事件。
type Event struct {
	Type              string                 `json:"type"`
	OccurredAt        time.Time              `json:"occurredAt"`
	ExtractionSummary string                 `json:"webExtractionSummary,omitempty"`
	Trace             observability.RunTrace `json:"trace"`
}

// EventRunCompleted 是运行完成事件的类型名。
const EventRunCompleted = "agent.run.completed"

// NewEvent 根据运行轨迹构造事件。
func NewEvent(trace observability.RunTrace) Event {
	occurred := trace.EndedAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return Event{
		Type:              EventRunCompleted,
		OccurredAt:        occurred,
		ExtractionSummary: trace.ExtractionSummary(),
		Trace:             trace,
	}
}

// Encode 将事件编码为 JSON。
func (e Event) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("编码运行事件失败: %w", err)
	}
	return body, nil
}

// Publisher 抽象事件投递。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Sink 把 Publisher 包装为 observability.Sink。
func Sink(p Publisher) observability.Sink {
	return &publisherSink{publisher: p}
}

type publisherSink struct {
	publisher Publisher
}

func (s *publisherSink) Name() string { return "events" }

func (s *publisherSink) Record(ctx context.Context, trace observability.RunTrace) error {
	return s.publisher.Publish(ctx, NewEvent(trace))
}

// MemoryPublisher 在进程内保存事件，并可选地推送给订阅通道。
type MemoryPublisher struct {
	mu          sync.Mutex
	events      []Event
	limit       int
	subscribers []chan Event
	closed      bool
}

// NewMemoryPublisher 创建内存发布器，limit <= 0 时不限制保留条数。
func NewMemoryPublisher(limit int) *MemoryPublisher {
	return &MemoryPublisher{limit: limit}
}

// Publish 保存事件并非阻塞地推送给订阅者，订阅者跟不上时丢弃。
func (p *MemoryPublisher) Publish(_ context.Context, event Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPublisherClosed
	}
	p.events = append(p.events, event)
	if p.limit > 0 && len(p.events) > p.limit {
		p.events = p.events[len(p.events)-p.limit:]
	}
	for _, ch := range p.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe 返回一个带缓冲的事件通道，Close 时关闭。
func (p *MemoryPublisher) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		close(ch)
		return ch
	}
	p.subscribers = append(p.subscribers, ch)
	return ch
}

// Events 返回已保存事件的副本。
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// Close 关闭所有订阅通道。
func (p *MemoryPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	for _, ch := range p.subscribers {
		close(ch)
	}
	p.subscribers = nil
	return nil
}
