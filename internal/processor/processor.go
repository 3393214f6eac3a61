// Package processor implements the post-act pipeline: content extraction
// and validation, plus the formatter and duplicate-check processors that
// enrich it.
package processor

import (
	"context"

	"github.com/veridianlabs/storycore/internal/narrative"
	"github.com/veridianlabs/storycore/internal/repository"
)

// Context carries what a Processor needs to inspect and persist from a
// completed act. It mirrors the executor's internal state without exposing
// the executor type itself.
type Context struct {
	ActExecution     narrative.ActExecution
	NarrativeMeta    narrative.Metadata
	NarrativeName    string
	Repo             repository.Repository
}

// Processor is implemented by every pipeline stage run after an act
// completes. Processors never mutate the ActExecution; they emit
// persistence side effects and an optional summary value.
type Processor interface {
	Name() string
	ShouldProcess(ctx context.Context, pctx Context) bool
	Process(ctx context.Context, pctx Context) (summary any, err error)
}

// Pipeline runs a fixed, registration-ordered sequence of Processors.
type Pipeline struct {
	processors []Processor
}

func NewPipeline(processors ...Processor) *Pipeline {
	return &Pipeline{processors: processors}
}

// Result is one processor's outcome, collected so the executor can decide
// whether to treat a failure as fatal under strict_processors.
type Result struct {
	ProcessorName string
	Summary       any
	Err           error
}

// Run executes every applicable processor in order, collecting results
// rather than stopping at the first error, so callers can apply their own
// strict_processors policy after seeing everything that happened.
func (p *Pipeline) Run(ctx context.Context, pctx Context) []Result {
	var results []Result
	for _, proc := range p.processors {
		if !proc.ShouldProcess(ctx, pctx) {
			continue
		}
		summary, err := proc.Process(ctx, pctx)
		results = append(results, Result{ProcessorName: proc.Name(), Summary: summary, Err: err})
	}
	return results
}
