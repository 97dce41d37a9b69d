package suggest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeProvider struct {
	name    string
	content string
	err     error
	calls   int
	prompt  string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.content, f.err
}

func TestGenerateUsesPrimary(t *testing.T) {
	primary := &fakeProvider{name: "p", content: "建议1: A\n建议2: B"}
	fallback := &fakeProvider{name: "f", content: "建议1: X"}
	g := NewGenerator(primary, fallback, time.Second)

	got, err := g.Generate(context.Background(), "有房吗", nil, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 2 || got[0] != "A" || got[1] != "B" {
		t.Fatalf("suggestions = %v", got)
	}
	if fallback.calls != 0 {
		t.Fatal("fallback should not run when primary succeeds")
	}
	if !strings.Contains(primary.prompt, "有房吗") {
		t.Fatal("query missing from prompt")
	}
}

func TestGenerateFallsBackOnPrimaryError(t *testing.T) {
	primary := &fakeProvider{name: "p", err: errors.New("boom")}
	fallback := &fakeProvider{name: "f", content: "建议1: 备用"}
	g := NewGenerator(primary, fallback, time.Second)

	got, err := g.Generate(context.Background(), "q", nil, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 1 || got[0] != "备用" {
		t.Fatalf("suggestions = %v", got)
	}
}

func TestGenerateBothFailIsError(t *testing.T) {
	primary := &fakeProvider{name: "p", err: errors.New("boom")}
	fallback := &fakeProvider{name: "f", err: errors.New("also boom")}
	g := NewGenerator(primary, fallback, time.Second)

	if _, err := g.Generate(context.Background(), "q", nil, nil); err == nil {
		t.Fatal("expected error when both providers fail")
	}
}

func TestGenerateNoFallbackConfigured(t *testing.T) {
	primary := &fakeProvider{name: "p", err: errors.New("boom")}
	g := NewGenerator(primary, nil, time.Second)

	if _, err := g.Generate(context.Background(), "q", nil, nil); err == nil {
		t.Fatal("expected error when primary fails with no fallback")
	}
}

func TestGenerateTruncatesToThree(t *testing.T) {
	primary := &fakeProvider{name: "p", content: "建议1: A\n建议2: B\n建议3: C\n建议1: D"}
	g := NewGenerator(primary, nil, time.Second)

	got, err := g.Generate(context.Background(), "q", nil, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(suggestions) = %d, want 3", len(got))
	}
}

func TestGenerateUnparseableIsEmptyNotError(t *testing.T) {
	primary := &fakeProvider{name: "p", content: "没有任何标记的输出"}
	g := NewGenerator(primary, nil, time.Second)

	got, err := g.Generate(context.Background(), "q", nil, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("suggestions = %v, want empty", got)
	}
}

func TestGenerateCustomMarkers(t *testing.T) {
	primary := &fakeProvider{name: "p", content: "suggestion-1: A"}
	g := NewGenerator(primary, nil, time.Second)
	g.SetMarkers([]string{"suggestion-1:", "suggestion-2:", "suggestion-3:"})

	got, err := g.Generate(context.Background(), "q", nil, nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got) != 1 || got[0] != "A" {
		t.Fatalf("suggestions = %v", got)
	}
}
