package processor

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/veridianlabs/storycore/internal/blobstore"
	"github.com/veridianlabs/storycore/internal/narrative"
	"github.com/veridianlabs/storycore/internal/repository"
)

func newRepo(t *testing.T) repository.Repository {
	t.Helper()
	return repository.NewMemory(blobstore.NewLocalStore(t.TempDir()))
}

func TestExtractPayload_FencedPreferred(t *testing.T) {
	text := "here you go:\n```json\n{\"a\":1}\n```\ndone"
	if got := extractPayload(text); got != `{"a":1}` {
		t.Fatalf("got %q", got)
	}
}

func TestExtractPayload_LastBalancedOnAmbiguity(t *testing.T) {
	text := `draft: {"a":1} final: {"a":2}`
	if got := extractPayload(text); got != `{"a":2}` {
		t.Fatalf("got %q, want the last complete block", got)
	}
}

func TestContentProcessor_ShouldProcess(t *testing.T) {
	c := NewContentProcessor()
	pctx := Context{ActExecution: narrative.ActExecution{Response: `{"headline":"hi"}`}}
	if !c.ShouldProcess(context.Background(), pctx) {
		t.Fatal("expected ShouldProcess true for a structured payload")
	}
	pctx.ActExecution.Response = "just prose"
	if c.ShouldProcess(context.Background(), pctx) {
		t.Fatal("expected ShouldProcess false for unstructured prose")
	}
}

func TestContentProcessor_Process_InsertsRow(t *testing.T) {
	repo := newRepo(t)
	c := NewContentProcessor()
	pctx := Context{
		ActExecution:  narrative.ActExecution{ActName: "a", Response: `{"headline":"hi"}`},
		NarrativeMeta: narrative.Metadata{Name: "posts"},
		NarrativeName: "greeting",
		Repo:          repo,
	}

	id, err := c.Process(context.Background(), pctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	row, err := repo.GetContentByID(context.Background(), "posts", id.(string))
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	var decoded map[string]string
	if err := json.Unmarshal(row.Content, &decoded); err != nil {
		t.Fatalf("decode row content: %v", err)
	}
	if decoded["headline"] != "hi" {
		t.Fatalf("unexpected row content: %+v", decoded)
	}
}

func TestContentProcessor_SchemaValidationFailure(t *testing.T) {
	repo := newRepo(t)
	c := NewContentProcessor()
	pctx := Context{
		ActExecution: narrative.ActExecution{ActName: "a", Response: `{"headline":123}`},
		NarrativeMeta: narrative.Metadata{
			Name:     "posts",
			Template: `{"type":"object","properties":{"headline":{"type":"string"}},"required":["headline"]}`,
		},
		NarrativeName: "greeting",
		Repo:          repo,
	}
	if _, err := c.Process(context.Background(), pctx); err == nil {
		t.Fatal("expected schema validation error")
	}
}

func TestContentProcessor_InfersFlatSchemaFromFirstRow(t *testing.T) {
	repo := newRepo(t)
	c := NewContentProcessor()
	first := Context{
		ActExecution:  narrative.ActExecution{ActName: "a", Response: `{"headline":"hi","views":1}`},
		NarrativeMeta: narrative.Metadata{Name: "posts"},
		NarrativeName: "greeting",
		Repo:          repo,
	}
	if _, err := c.Process(context.Background(), first); err != nil {
		t.Fatalf("process first row: %v", err)
	}

	second := first
	second.ActExecution = narrative.ActExecution{ActName: "b", Response: `{"headline":"again"}`}
	if _, err := c.Process(context.Background(), second); err == nil {
		t.Fatal("expected a row missing a field the first row established to fail inferred validation")
	}

	third := first
	third.ActExecution = narrative.ActExecution{ActName: "c", Response: `{"headline":"ok","views":2}`}
	if _, err := c.Process(context.Background(), third); err != nil {
		t.Fatalf("expected a row matching the inferred shape to pass: %v", err)
	}
}

func TestFormatterProcessor_NormalizesWhitespaceAndHashtags(t *testing.T) {
	f := NewFormatterProcessor()
	pctx := Context{ActExecution: narrative.ActExecution{Response: "hello   world\n\n\n\nwith #ALLCAPS tag"}}
	out, err := f.Process(context.Background(), pctx)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.(string) != "hello world\n\nwith #allcaps tag" {
		t.Fatalf("got %q", out)
	}
}

func TestDuplicateCheckProcessor_RejectsOlderDuplicate(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	content := json.RawMessage(`{"headline":"hi"}`)

	id1, _ := repo.InsertContent(ctx, "posts", repository.ContentRow{
		Content: content, SourceNarrative: "greeting", SourceAct: "a", CreatedAt: time.Now().Add(-time.Minute),
	})
	_, _ = repo.InsertContent(ctx, "posts", repository.ContentRow{
		Content: content, SourceNarrative: "greeting", SourceAct: "a", CreatedAt: time.Now(),
	})

	d := NewDuplicateCheckProcessor(time.Hour)
	pctx := Context{
		ActExecution:  narrative.ActExecution{ActName: "a", Response: string(content)},
		NarrativeMeta: narrative.Metadata{Name: "posts"},
		NarrativeName: "greeting",
		Repo:          repo,
	}
	if _, err := d.Process(ctx, pctx); err != nil {
		t.Fatalf("process: %v", err)
	}

	row, err := repo.GetContentByID(ctx, "posts", id1)
	if err != nil {
		t.Fatalf("get row: %v", err)
	}
	if row.ReviewStatus != repository.ReviewRejected {
		t.Fatalf("expected older duplicate to be rejected, got status %q", row.ReviewStatus)
	}
}
