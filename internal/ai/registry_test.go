package ai

import (
	"context"
	"testing"
)

type nullProvider struct{}

func (nullProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	return "", nil
}

func TestRegistry_NamesAreCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	r.Register("  OpenRouter ", func(ctx context.Context, model string) (Provider, error) {
		return nullProvider{}, nil
	})

	if !r.Has("openrouter") {
		t.Fatalf("registered name not found")
	}
	if _, err := r.Get(context.Background(), "OPENROUTER", "m"); err != nil {
		t.Fatalf("get: %v", err)
	}
}

func TestRegistry_UnknownName(t *testing.T) {
	r := NewRegistry()
	if r.Has("nope") {
		t.Fatalf("Has must be false for an unregistered name")
	}
	if _, err := r.Get(context.Background(), "nope", "m"); err == nil {
		t.Fatalf("expected error for unregistered provider")
	}
}
