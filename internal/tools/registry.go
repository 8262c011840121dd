// Package tools holds the kernel's tool registry and the wire protocol the
// model uses to request a tool call.
package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"AgentKernel/internal/memory"
)

// 已注册的工具名称。
const (
	MemorySearch = "memory.search"
	WebExtract   = "web.extract"
)

const memorySearchLimit = 5

// Input 是工具调用的输入。
type Input struct {
	ConversationID string `json:"conversationId"`
	Query          string `json:"query"`
}

// Result 是工具调用的结果。
type Result struct {
	OK    bool   `json:"ok"`
	Data  string `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Handler 执行一次工具调用。
type Handler func(ctx context.Context, in Input) Result

// Registry 按名称管理工具。
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register 注册或替换工具。
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Run 调用指定工具，未注册时返回失败结果。
func (r *Registry) Run(ctx context.Context, name string, in Input) Result {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok || h == nil {
		return Result{Error: "Tool not found: " + name}
	}
	return h(ctx, in)
}

// Names 返回已注册工具名称，按字母排序。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Retriever 是 memory.search 依赖的记忆检索能力。
type Retriever interface {
	Retrieve(ctx context.Context, conversationID, query string, limit int) []memory.Record
}

// MemorySearchHandler 检索会话相关记忆并编号输出。
func MemorySearchHandler(r Retriever) Handler {
	return func(ctx context.Context, in Input) Result {
		items := r.Retrieve(ctx, in.ConversationID, in.Query, memorySearchLimit)
		if len(items) == 0 {
			return Result{OK: true, Data: "No relevant memory found."}
		}
		lines := make([]string, len(items))
		for i, item := range items {
			lines[i] = fmt.Sprintf("%d. %s", i+1, item.Content)
		}
		return Result{OK: true, Data: strings.Join(lines, "\n")}
	}
}
