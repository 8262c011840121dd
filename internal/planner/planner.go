// Package planner decomposes a task into ordered steps and routes a request
// to an execution mode based on its perceived complexity.
package planner

import (
	"fmt"
	"regexp"
	"strings"
)

// DefaultMaxSteps 是未指定上限时的步骤数量。
const DefaultMaxSteps = 6

var segmentDelimiters = regexp.MustCompile(`[,.，。;；\n]`)

// PlanStep 表示拆解后的一个子任务。
type PlanStep struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// Build 按中英文标点与换行切分任务，最多返回 maxSteps 个步骤。
func Build(task string, maxSteps int) []PlanStep {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	var segments []string
	for _, raw := range segmentDelimiters.Split(task, -1) {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			segments = append(segments, trimmed)
		}
		if len(segments) == maxSteps {
			break
		}
	}

	// 没有可用片段时给出兜底步骤。
	if len(segments) == 0 {
		return []PlanStep{
			{ID: "step-1", Title: "Clarify requirements"},
			{ID: "step-2", Title: "Implement and validate"},
		}
	}

	steps := make([]PlanStep, 0, len(segments))
	for idx, segment := range segments {
		steps = append(steps, PlanStep{ID: fmt.Sprintf("step-%d", idx+1), Title: segment})
	}
	return steps
}

// Render 将步骤渲染为编号列表。
func Render(steps []PlanStep) string {
	lines := make([]string, 0, len(steps))
	for idx, step := range steps {
		lines = append(lines, fmt.Sprintf("%d. %s", idx+1, step.Title))
	}
	return strings.Join(lines, "\n")
}
