// Package driver defines the contract every language-model backend
// implements and a registry that resolves a model string to the driver
// that serves it.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/veridianlabs/storycore/internal/models"
	"github.com/veridianlabs/storycore/internal/ratelimit"
)

// Capabilities describes what a driver's backend can do, so callers can
// fail fast instead of discovering a missing feature mid-stream.
type Capabilities struct {
	Streaming    bool
	Tools        bool
	Vision       bool
	SystemPrompt bool
}

// Driver is implemented by every language-model backend adapter.
//
// Implementations must be safe for concurrent use: the executor may hold
// one Driver instance shared across many in-flight narrative executions.
type Driver interface {
	// Generate performs a single non-streaming completion.
	Generate(ctx context.Context, req models.GenerateRequest) (models.GenerateResponse, error)

	// GenerateStream performs a streaming completion, sending chunks on the
	// returned channel until it closes. The channel is closed whether the
	// call succeeds or fails; a failure is reported only through the
	// returned error channel's final send before close.
	GenerateStream(ctx context.Context, req models.GenerateRequest) (<-chan models.StreamChunk, <-chan error)

	// ProviderName identifies the backend, e.g. "anthropic", "openai".
	ProviderName() string

	// ModelName is the specific model this driver instance targets.
	ModelName() string

	// RateLimits returns the tier this driver's account currently observes.
	// The executor composes this with any narrative-scoped budget before
	// acquiring a ratelimit.Limiter slot.
	RateLimits() ratelimit.TierConfig

	// CountTokens estimates the token cost of a request without sending it,
	// used for TPM admission before the actual call.
	CountTokens(req models.GenerateRequest) (int, error)

	Capabilities() Capabilities
}

// ErrUnknownModel is returned by Registry.Resolve when no driver claims the
// requested model.
var ErrUnknownModel = errors.New("driver: unknown model")

// Registry maps model strings to the Driver instance that serves them.
type Registry struct {
	mu      sync.RWMutex
	byModel map[string]Driver
	// fallback, if set, serves the empty model name, and any model not
	// present in byModel whose name equals a fallback driver's ModelName()
	// (or any model at all, for a driver whose ModelName() is empty). Model
	// names are matched exactly; prefixes are not.
	fallback []Driver
}

func NewRegistry() *Registry {
	return &Registry{byModel: make(map[string]Driver)}
}

// Register binds a driver to an exact model name.
func (r *Registry) Register(model string, d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byModel[model] = d
}

// RegisterFallback adds a driver consulted, in registration order, for any
// model not bound by an exact Register call; it serves such a model only if
// its ModelName() equals it or is empty.
func (r *Registry) RegisterFallback(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = append(r.fallback, d)
}

// Resolve returns the driver that should serve the given model name. An
// empty model defers entirely to the first registered fallback driver,
// which in turn applies its own configured default model.
func (r *Registry) Resolve(model string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if model == "" {
		if len(r.fallback) > 0 {
			return r.fallback[0], nil
		}
		return nil, fmt.Errorf("%w: no default driver registered", ErrUnknownModel)
	}
	if d, ok := r.byModel[model]; ok {
		return d, nil
	}
	for _, d := range r.fallback {
		if d.ModelName() == model || d.ModelName() == "" {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
}

// Drivers returns every registered driver, exact-bound and fallback,
// de-duplicated by identity. Exact-bound drivers come first, in no defined
// order, followed by the fallbacks in registration order.
func (r *Registry) Drivers() []Driver {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[Driver]struct{})
	var out []Driver
	add := func(d Driver) {
		if _, ok := seen[d]; ok {
			return
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	for _, d := range r.byModel {
		add(d)
	}
	for _, d := range r.fallback {
		add(d)
	}
	return out
}
