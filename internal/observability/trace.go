// Package observability keeps the recent run traces in memory, derives
// aggregate metrics from them and forwards every finished trace to the
// configured sinks (SQL repository, message broker, audit log).
package observability

import (
	"time"

	"AgentKernel/internal/kernel"
	"AgentKernel/internal/planner"
	"AgentKernel/internal/webextract"
)

// Perception 是对用户消息的粗略理解。
type Perception struct {
	Intent     string             `json:"intent"`
	Complexity planner.Complexity `json:"complexity"`
	Entities   []string           `json:"entities"`
}

// RunTrace 记录一次内核运行的全过程。
type RunTrace struct {
	RunID          string               `json:"runId"`
	ConversationID string               `json:"conversationId,omitempty"`
	StartedAt      time.Time            `json:"startedAt"`
	EndedAt        time.Time            `json:"endedAt"`
	Stage          kernel.Stage         `json:"stage"`
	Mode           planner.Mode         `json:"mode"`
	Perception     Perception           `json:"perception"`
	MemoryHits     int                  `json:"memoryHits"`
	PlanSteps      int                  `json:"planSteps"`
	ToolCalls      int                  `json:"toolCalls"`
	SafetyBlocked  bool                 `json:"safetyBlocked"`
	WebExtractions []webextract.Outcome `json:"webExtractions"`
	ToolLoopUsed   bool                 `json:"toolLoopUsed"`
	ToolCallRaw    string               `json:"toolCallRaw,omitempty"`
}

// Duration 返回运行耗时。
func (t RunTrace) Duration() time.Duration {
	if t.EndedAt.Before(t.StartedAt) {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}

// ExtractionSummary 返回网页提取摘要。
func (t RunTrace) ExtractionSummary() string {
	return webextract.Summarize(t.WebExtractions)
}
