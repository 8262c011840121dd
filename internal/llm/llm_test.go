package llm

import "testing"

func TestWithSystemMessageDoesNotMutate(t *testing.T) {
	base := Request{Model: "m", Messages: []Message{{Role: RoleUser, Content: "hi"}}}

	first := base.WithSystemMessage("a")
	second := first.WithSystemMessage("b")

	if len(base.Messages) != 1 {
		t.Fatalf("base request mutated: %+v", base.Messages)
	}
	if len(first.Messages) != 2 || first.Messages[0].Content != "a" {
		t.Fatalf("unexpected first request: %+v", first.Messages)
	}
	if second.Messages[0].Content != "b" || second.Messages[1].Content != "a" || second.Messages[2].Content != "hi" {
		t.Fatalf("newest system message must come first: %+v", second.Messages)
	}
	if second.LastMessage() != "hi" || second.Model != "m" {
		t.Fatalf("unexpected last message or model: %+v", second)
	}
	if (Request{}).LastMessage() != "" {
		t.Fatalf("empty request must have empty last message")
	}
}
