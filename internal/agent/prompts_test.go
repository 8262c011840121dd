package agent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"AgentKernel/internal/planner"
	"AgentKernel/internal/webextract"
)

func TestBuildWebContext(t *testing.T) {
	got := buildWebContext([]webItem{
		{URL: "https://a.site/", Title: "A", Text: "alpha", Mode: webextract.ModeStatic},
		{URL: "https://b.site/", Text: "界界界界", Mode: webextract.ModeDynamic},
	}, 2)

	want := "[Web 1]\nurl: https://a.site/\ntitle: A\nmode: static\ncontent:\nal" +
		"\n\n" +
		"[Web 2]\nurl: https://b.site/\ntitle: (untitled)\nmode: dynamic\ncontent:\n界界"
	assert.Equal(t, want, got)
}

func TestFailureNoticeDefaults(t *testing.T) {
	got := failureNotice([]webFailure{
		{URL: "https://a.site/", Code: "NETWORK", Message: "boom"},
		{URL: "https://b.site/"},
	})
	assert.True(t, strings.HasPrefix(got, webFailed))
	assert.True(t, strings.HasSuffix(got, "1. https://a.site/ | NETWORK | boom\n2. https://b.site/ | UNKNOWN | extract failed"))
}

func TestPerception(t *testing.T) {
	p := perceive("Please PLAN  my week carefully with many details")
	assert.Equal(t, IntentPlanning, p.Intent)
	assert.Equal(t, []string{"Please", "PLAN", "my", "week", "carefully"}, p.Entities)
	assert.Equal(t, planner.ComplexityLow, p.Complexity)

	assert.Equal(t, IntentMemory, detectIntent("还记得我的记忆吗"))
	assert.Equal(t, IntentChat, detectIntent("hello"))
	assert.Equal(t, planner.ComplexityMedium, detectComplexity(strings.Repeat("字", 101)))
	assert.Equal(t, planner.ComplexityLow, detectComplexity(strings.Repeat("字", 100)))
	assert.Equal(t, planner.ComplexityHigh, detectComplexity(strings.Repeat("a", 301)))
	assert.Empty(t, perceive("").Entities)
}
