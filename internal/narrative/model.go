// Package narrative defines the declarative narrative document model: ordered
// acts, carousel looping, and the execution trace types the executor
// produces as it dispatches each act.
package narrative

import (
	"fmt"
	"strings"
)

// ErrorKind enumerates the ways a narrative document can fail to parse.
type ErrorKind string

const (
	ErrEmptyToc     ErrorKind = "empty_toc"
	ErrMissingAct   ErrorKind = "missing_act"
	ErrEmptyPrompt  ErrorKind = "empty_prompt"
	ErrTomlParse    ErrorKind = "toml_parse"
	ErrFileRead     ErrorKind = "file_read"
	ErrCycle        ErrorKind = "cycle"
	ErrForwardRef   ErrorKind = "forward_reference"
	ErrNotFound     ErrorKind = "narrative_not_found"
	ErrUnavailable  ErrorKind = "reference_unavailable"
)

// ErrTableUnavailable, ErrBotUnavailable, and ErrNarrativeUnavailable are
// returned by the resolver when a document references a Table, BotCommand,
// or Narrative input but the executor wasn't constructed with the matching
// lookup.
var (
	ErrTableUnavailable     = &Error{Kind: ErrUnavailable, Detail: "no table lookup configured"}
	ErrBotUnavailable       = &Error{Kind: ErrUnavailable, Detail: "no bot dispatcher configured"}
	ErrNarrativeUnavailable = &Error{Kind: ErrUnavailable, Detail: "no narrative runner configured"}
)

// NewCycleError builds the ErrCycle variant carrying the given chain. The
// resolver passes the names it is currently resolving, in no defined order,
// followed by the name that closed the cycle.
func NewCycleError(chain []string) *Error {
	return &Error{Kind: ErrCycle, Detail: "narrative reference cycle", Chain: chain}
}

// NewForwardRefError builds the ErrForwardRef variant naming the act key a
// placeholder referenced before it executed (or that doesn't exist at all).
func NewForwardRefError(key string) *Error {
	return newErr(ErrForwardRef, key)
}

// Error is the typed error returned by the parser and resolver.
type Error struct {
	Kind    ErrorKind
	Detail  string
	Chain   []string // populated for ErrCycle: the offending reference chain
}

func (e *Error) Error() string {
	if len(e.Chain) > 0 {
		return fmt.Sprintf("narrative: %s: %s (%s)", e.Kind, e.Detail, strings.Join(e.Chain, " -> "))
	}
	return fmt.Sprintf("narrative: %s: %s", e.Kind, e.Detail)
}

func newErr(kind ErrorKind, detail string) *Error { return &Error{Kind: kind, Detail: detail} }

// Metadata is the [metadata] block of a narrative document.
type Metadata struct {
	Name                   string
	Description            string
	Template               string
	SkipContentGeneration  bool
}

// Act is one entry in the acts table, keyed by identifier in the Narrative.
type Act struct {
	Prompt           string
	Model            string
	Temperature      *float64
	MaxTokens        int
	ProcessorHints   []string
	ExtractionSchema string // JSON schema text, optional
}

// CarouselBudget is the optional per-axis multiplier override applied while
// a carousel iterates.
type CarouselBudget struct {
	RPM float64
	TPM float64
	RPD float64
}

// Carousel wraps a narrative in a declarative loop.
type Carousel struct {
	Iterations int
	Budget     *CarouselBudget
}

// Narrative is the immutable, parsed document. Each execution clones the
// relevant fields rather than mutating this value.
type Narrative struct {
	Metadata Metadata
	TOC      []string
	Acts     map[string]Act
	Carousel *Carousel
}

// Validate enforces the data-model invariants: TOC is non-empty, every TOC
// key exists in Acts, and every act's prompt is non-whitespace.
func (n *Narrative) Validate() error {
	if len(n.TOC) == 0 {
		return newErr(ErrEmptyToc, "toc must not be empty")
	}
	for _, key := range n.TOC {
		act, ok := n.Acts[key]
		if !ok {
			return newErr(ErrMissingAct, key)
		}
		if strings.TrimSpace(act.Prompt) == "" {
			return newErr(ErrEmptyPrompt, key)
		}
	}
	return nil
}

// PositionOf returns the 0-based index of key within TOC, or -1.
func (n *Narrative) PositionOf(key string) int {
	for i, k := range n.TOC {
		if k == key {
			return i
		}
	}
	return -1
}

// ActExecution records one dispatched act within a NarrativeExecution.
type ActExecution struct {
	ActName           string
	Inputs            string // resolved prompt text actually sent
	Model             string
	Temperature       *float64
	MaxTokens         int
	Response          string
	SequenceNumber    int
	TokenUsageInput   int
	TokenUsageOutput  int
	EstimatedCostUSD  float64
	DurationMS        int64
	Err               error
}

// NarrativeExecution is the ordered, appended-to-exactly-once trace of a
// narrative run.
type NarrativeExecution struct {
	NarrativeName    string
	ActExecutions    []ActExecution
	TotalInputTokens int
	TotalOutputTokens int
	TotalCostUSD     float64
	TotalDurationMS  int64
}

// Append adds an ActExecution, assigning SequenceNumber to the current
// length, and rolls its accounting into the running totals.
func (e *NarrativeExecution) Append(ae ActExecution) {
	ae.SequenceNumber = len(e.ActExecutions)
	e.ActExecutions = append(e.ActExecutions, ae)
	e.TotalInputTokens += ae.TokenUsageInput
	e.TotalOutputTokens += ae.TokenUsageOutput
	e.TotalCostUSD += ae.EstimatedCostUSD
	e.TotalDurationMS += ae.DurationMS
}

// ActNames returns the act names in the order they were executed.
func (e *NarrativeExecution) ActNames() []string {
	names := make([]string, len(e.ActExecutions))
	for i, ae := range e.ActExecutions {
		names[i] = ae.ActName
	}
	return names
}
