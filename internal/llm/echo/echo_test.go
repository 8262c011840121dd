package echo

import (
	"context"
	"testing"

	"AgentKernel/internal/llm"
)

func TestGenerateEchoesLastUserMessage(t *testing.T) {
	c := New("echo: ")
	resp, err := c.Generate(context.Background(), llm.Request{Messages: []llm.Message{
		{Role: llm.RoleSystem, Content: "context"},
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: "reply"},
		{Role: llm.RoleUser, Content: "second"},
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "echo: second" {
		t.Fatalf("unexpected content: %q", resp.Content)
	}
}

func TestGenerateHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New("").Generate(ctx, llm.Request{}); err == nil {
		t.Fatalf("expected context error")
	}
}
