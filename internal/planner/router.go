package planner

import (
	"fmt"
	"unicode/utf8"
)

// Complexity 是感知阶段对请求复杂度的粗略估计。
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Mode 是一次运行的执行模式。
type Mode string

const (
	ModeSingle     Mode = "single"
	ModePlanner    Mode = "planner"
	ModeMultiAgent Mode = "multi-agent"
)

const shortPromptRunes = 12

// Route 将复杂度映射为执行模式。
func Route(complexity Complexity) Mode {
	switch complexity {
	case ComplexityHigh:
		return ModeMultiAgent
	case ComplexityMedium:
		return ModePlanner
	default:
		return ModeSingle
	}
}

// Critic 根据提示长度给出一条简短的评审意见。
func Critic(prompt string) string {
	if utf8.RuneCountInString(prompt) < shortPromptRunes {
		return "Critic: request is short, ask clarifying details if needed."
	}
	return "Critic: plan is acceptable."
}

// Review 汇总计划的步骤数量。
func Review(steps []PlanStep) string {
	return fmt.Sprintf("Planner generated %d steps.", len(steps))
}
