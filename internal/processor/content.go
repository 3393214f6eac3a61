package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/veridianlabs/storycore/internal/repository"
)

// ContentProcessor extracts a structured payload from an act's response
// text, validates it against the narrative's declared schema (or infers a
// flat one), and writes it to the repository table named by the narrative.
type ContentProcessor struct {
	schemaCache sync.Map

	// inferredSchemas holds, per table, the flat schema built from the
	// first row processed for that table when the narrative declares none.
	// Every later row for the same table is held to that shape.
	inferredSchemas sync.Map
}

func NewContentProcessor() *ContentProcessor {
	return &ContentProcessor{}
}

func (c *ContentProcessor) Name() string { return "content_generation" }

// ShouldProcess activates when the narrative declares a schema template, or
// content generation isn't explicitly skipped and the response looks like
// it carries a structured payload.
func (c *ContentProcessor) ShouldProcess(_ context.Context, pctx Context) bool {
	if pctx.NarrativeMeta.Template != "" {
		return true
	}
	if pctx.NarrativeMeta.SkipContentGeneration {
		return false
	}
	return extractPayload(pctx.ActExecution.Response) != ""
}

func (c *ContentProcessor) Process(ctx context.Context, pctx Context) (any, error) {
	payload := extractPayload(pctx.ActExecution.Response)
	if payload == "" {
		return nil, fmt.Errorf("content_generation: no structured payload in response for act %q", pctx.ActExecution.ActName)
	}

	var decoded any
	if err := json.Unmarshal([]byte(payload), &decoded); err != nil {
		return nil, fmt.Errorf("content_generation: extracted payload is not valid JSON: %w", err)
	}

	table := pctx.NarrativeMeta.Name
	if table == "" {
		table = pctx.NarrativeName
	}

	if pctx.NarrativeMeta.Template != "" {
		schema, err := c.compileSchema(pctx.NarrativeMeta.Template)
		if err != nil {
			return nil, fmt.Errorf("content_generation: compile schema: %w", err)
		}
		if err := schema.Validate(decoded); err != nil {
			return nil, fmt.Errorf("content_generation: payload does not match schema: %w", err)
		}
	} else if err := c.validateAgainstInferredSchema(table, decoded); err != nil {
		return nil, err
	}

	id, err := pctx.Repo.InsertContent(ctx, table, repository.ContentRow{
		ReviewStatus:    repository.ReviewPending,
		Content:         json.RawMessage(payload),
		SourceNarrative: pctx.NarrativeName,
		SourceAct:       pctx.ActExecution.ActName,
	})
	if err != nil {
		return nil, fmt.Errorf("content_generation: insert row: %w", err)
	}
	return id, nil
}

func (c *ContentProcessor) compileSchema(schemaText string) (*jsonschema.Schema, error) {
	if cached, ok := c.schemaCache.Load(schemaText); ok {
		return cached.(*jsonschema.Schema), nil
	}
	compiled, err := jsonschema.CompileString("narrative.schema.json", schemaText)
	if err != nil {
		return nil, err
	}
	c.schemaCache.Store(schemaText, compiled)
	return compiled, nil
}

// validateAgainstInferredSchema holds every row for table to the shape of
// the first row seen for it, when the narrative declares no schema of its
// own. The first row for a table establishes the schema rather than being
// validated against it.
func (c *ContentProcessor) validateAgainstInferredSchema(table string, decoded any) error {
	if cached, ok := c.inferredSchemas.Load(table); ok {
		schema := cached.(*jsonschema.Schema)
		if err := schema.Validate(decoded); err != nil {
			return fmt.Errorf("content_generation: payload does not match the schema inferred from %s's first row: %w", table, err)
		}
		return nil
	}
	schema, err := inferFlatSchema(decoded)
	if err != nil {
		return fmt.Errorf("content_generation: infer schema from first row for %s: %w", table, err)
	}
	c.inferredSchemas.Store(table, schema)
	return nil
}

// inferFlatSchema builds a JSON Schema requiring every top-level key of an
// object payload, typed by its first observed value. Nested structure isn't
// described further; the point is catching a row that drops or renames a
// field midway through a run, not full structural validation.
func inferFlatSchema(decoded any) (*jsonschema.Schema, error) {
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("payload must be a JSON object to infer a flat schema, got %T", decoded)
	}
	properties := make(map[string]map[string]string, len(obj))
	required := make([]string, 0, len(obj))
	for key, val := range obj {
		properties[key] = map[string]string{"type": jsonSchemaType(val)}
		required = append(required, key)
	}
	sort.Strings(required)
	doc, err := json.Marshal(map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	})
	if err != nil {
		return nil, err
	}
	return jsonschema.CompileString("inferred.schema.json", string(doc))
}

func jsonSchemaType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "string"
	}
}

// extractPayload locates the first balanced brace/bracket block, or a
// fenced code region, in text. On ambiguity (multiple candidate blocks) it
// prefers the last complete one, matching how models tend to restate a
// corrected answer after an initial draft.
func extractPayload(text string) string {
	if fenced := extractFenced(text); fenced != "" {
		return fenced
	}
	return extractLastBalanced(text)
}

func extractFenced(text string) string {
	const fence = "```"
	var last string
	idx := 0
	for {
		start := strings.Index(text[idx:], fence)
		if start == -1 {
			break
		}
		start += idx
		bodyStart := start + len(fence)
		if nl := strings.IndexByte(text[bodyStart:], '\n'); nl != -1 && nl < 12 {
			bodyStart += nl + 1
		}
		end := strings.Index(text[bodyStart:], fence)
		if end == -1 {
			break
		}
		end += bodyStart
		body := strings.TrimSpace(text[bodyStart:end])
		if body != "" {
			last = body
		}
		idx = end + len(fence)
	}
	return last
}

func extractLastBalanced(text string) string {
	var last string
	next := 0
	for i, r := range text {
		if i < next || (r != '{' && r != '[') {
			continue
		}
		if block, ok := balancedFrom(text, i, r); ok {
			last = block
			next = i + len(block)
		}
	}
	return last
}

func balancedFrom(text string, start int, open rune) (string, bool) {
	close := '}'
	if open == '[' {
		close = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := rune(text[i])
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
