package agent

import (
	"strings"
	"unicode/utf8"

	"AgentKernel/internal/observability"
	"AgentKernel/internal/planner"
)

// 意图取值。
const (
	IntentChat     = "chat"
	IntentPlanning = "planning"
	IntentMemory   = "memory"
)

const maxEntities = 5

var (
	planningKeywords = []string{"plan", "规划", "步骤"}
	memoryKeywords   = []string{"memory", "记忆"}
)

func detectIntent(text string) string {
	input := strings.ToLower(text)
	if containsAny(input, planningKeywords) {
		return IntentPlanning
	}
	if containsAny(input, memoryKeywords) {
		return IntentMemory
	}
	return IntentChat
}

// detectComplexity 按字符数估计复杂度：超过 300 为 high，超过 100 为 medium。
func detectComplexity(text string) planner.Complexity {
	n := utf8.RuneCountInString(text)
	switch {
	case n > 300:
		return planner.ComplexityHigh
	case n > 100:
		return planner.ComplexityMedium
	default:
		return planner.ComplexityLow
	}
}

func perceive(text string) observability.Perception {
	entities := strings.Fields(text)
	if len(entities) > maxEntities {
		entities = entities[:maxEntities]
	}
	if entities == nil {
		entities = []string{}
	}
	return observability.Perception{
		Intent:     detectIntent(text),
		Complexity: detectComplexity(text),
		Entities:   entities,
	}
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
