package planner

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func titles(steps []PlanStep) []string {
	out := make([]string, 0, len(steps))
	for _, step := range steps {
		out = append(out, step.Title)
	}
	return out
}

func TestBuildSplitsOnMixedPunctuation(t *testing.T) {
	steps := Build("调研需求，设计接口。 implement it; write tests\nship", 6)
	want := []string{"调研需求", "设计接口", "implement it", "write tests", "ship"}
	if diff := cmp.Diff(want, titles(steps)); diff != "" {
		t.Fatalf("unexpected steps (-want +got):\n%s", diff)
	}
	if steps[0].ID != "step-1" || steps[4].ID != "step-5" || steps[0].Done {
		t.Fatalf("unexpected ids: %+v", steps)
	}
}

func TestBuildCapsSteps(t *testing.T) {
	steps := Build("a,b,c,d,e,f,g,h", 3)
	if diff := cmp.Diff([]string{"a", "b", "c"}, titles(steps)); diff != "" {
		t.Fatalf("unexpected steps (-want +got):\n%s", diff)
	}
	if got := len(Build("a,b,c,d,e,f,g,h", 0)); got != DefaultMaxSteps {
		t.Fatalf("expected default cap, got %d", got)
	}
}

func TestBuildFallback(t *testing.T) {
	steps := Build(" ,。；\n", 6)
	want := []string{"Clarify requirements", "Implement and validate"}
	if diff := cmp.Diff(want, titles(steps)); diff != "" {
		t.Fatalf("unexpected fallback (-want +got):\n%s", diff)
	}
}

func TestRender(t *testing.T) {
	got := Render(Build("plan the trip, book hotels", 6))
	if got != "1. plan the trip\n2. book hotels" {
		t.Fatalf("unexpected render: %q", got)
	}
}

func TestRouteAndCritic(t *testing.T) {
	if Route(ComplexityHigh) != ModeMultiAgent || Route(ComplexityMedium) != ModePlanner || Route(ComplexityLow) != ModeSingle {
		t.Fatalf("unexpected routing")
	}
	if !strings.Contains(Critic("hi"), "short") {
		t.Fatalf("short prompts should ask for details")
	}
	if Critic("请帮我规划一下下周的学习安排") != "Critic: plan is acceptable." {
		t.Fatalf("long prompts are acceptable")
	}
	if Review(Build("a,b", 6)) != "Planner generated 2 steps." {
		t.Fatalf("unexpected review")
	}
}
