package providers

import (
	"context"
	"testing"
)

type stub struct{ key string }

func (s stub) Caption(ctx context.Context, config Config) (string, error) { return s.key, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("openai", "gpt-4-turbo", false, func(apiKey string) Provider { return stub{key: apiKey} })
	r.Register("ollama", "llava", true, func(string) Provider { return stub{} })

	p, err := r.Build("openai", "sk-1")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got, _ := p.Caption(context.Background(), Config{}); got != "sk-1" {
		t.Errorf("factory did not receive key, got %q", got)
	}
	if _, err := r.Build("anthropic", ""); err == nil {
		t.Error("expected unsupported provider error")
	}
	if !r.RequiresKey("openai") || r.RequiresKey("ollama") {
		t.Error("RequiresKey mismatch")
	}
	if r.DefaultModel("ollama") != "llava" {
		t.Errorf("DefaultModel = %q", r.DefaultModel("ollama"))
	}
	if names := r.Names(); len(names) != 2 || names[0] != "ollama" {
		t.Errorf("Names = %v", names)
	}
}
