package driver

import (
	"context"
	"testing"

	"github.com/veridianlabs/storycore/internal/models"
	"github.com/veridianlabs/storycore/internal/ratelimit"
)

type stubDriver struct {
	base
}

func (s *stubDriver) Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error) {
	return models.GenerateResponse{FinishReason: models.FinishStop}, nil
}

func (s *stubDriver) GenerateStream(ctx context.Context, req models.GenerateRequest) (<-chan models.StreamChunk, <-chan error) {
	out := make(chan models.StreamChunk)
	errc := make(chan error)
	close(out)
	close(errc)
	return out, errc
}

func (s *stubDriver) CountTokens(req models.GenerateRequest) (int, error) { return 0, nil }

func newStub(provider, model string) *stubDriver {
	return &stubDriver{base{provider: provider, model: model, tier: ratelimit.TierConfig{Name: "t"}}}
}

func TestRegistry_ResolveExactBinding(t *testing.T) {
	r := NewRegistry()
	d := newStub("anthropic", "claude-sonnet-4-20250514")
	r.Register("claude-sonnet-4-20250514", d)

	got, err := r.Resolve("claude-sonnet-4-20250514")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != Driver(d) {
		t.Fatal("resolved a different driver instance")
	}
}

func TestRegistry_ResolveUnknownModel(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve("does-not-exist"); err == nil {
		t.Fatal("expected ErrUnknownModel")
	}
}

func TestRegistry_Fallback(t *testing.T) {
	r := NewRegistry()
	fallback := newStub("openai", "")
	r.RegisterFallback(fallback)

	got, err := r.Resolve("gpt-4o-mini")
	if err != nil {
		t.Fatalf("resolve via fallback: %v", err)
	}
	if got != Driver(fallback) {
		t.Fatal("expected the fallback driver")
	}
}

func TestRegistry_ResolveEmptyModelUsesDefaultDriver(t *testing.T) {
	r := NewRegistry()
	fallback := newStub("anthropic", "claude-sonnet-4-20250514")
	r.RegisterFallback(fallback)

	got, err := r.Resolve("")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != Driver(fallback) {
		t.Fatal("expected an absent act model to resolve to the registered default driver")
	}
}

func TestRegistry_ResolveEmptyModelWithoutFallbackErrors(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Resolve(""); err == nil {
		t.Fatal("expected an error with no fallback driver registered")
	}
}

func TestRegistry_Drivers_Deduplicates(t *testing.T) {
	r := NewRegistry()
	d := newStub("anthropic", "claude-sonnet-4-20250514")
	r.Register("claude-sonnet-4-20250514", d)
	r.Register("claude-opus-4-20250514", d)

	all := r.Drivers()
	if len(all) != 1 {
		t.Fatalf("expected 1 unique driver, got %d", len(all))
	}
}
