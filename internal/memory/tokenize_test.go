package memory

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTokenizeMixedScripts(t *testing.T) {
	got := Tokenize("Hello, 番茄工作法 is GREAT 123!")
	want := []string{
		"hello",
		"番", "茄", "工", "作", "法",
		"番茄", "茄工", "工作", "作法",
		"great", "123",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected tokens (-want +got):\n%s", diff)
	}
}

func TestTokenizeDropsStopWords(t *testing.T) {
	got := Tokenize("the plan 的 一个")
	want := []string{"plan", "个"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected tokens (-want +got):\n%s", diff)
	}
}

func TestTokenizeEmpty(t *testing.T) {
	if got := Tokenize("  ，。!? "); len(got) != 0 {
		t.Fatalf("expected no tokens, got %v", got)
	}
}
