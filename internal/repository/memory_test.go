package repository

import (
	"context"
	"testing"

	"github.com/veridianlabs/storycore/internal/blobstore"
	"github.com/veridianlabs/storycore/internal/narrative"
)

func newTestMemory(t *testing.T) *Memory {
	t.Helper()
	return NewMemory(blobstore.NewLocalStore(t.TempDir()))
}

func TestMemory_SaveLoadExecution(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	var exec narrative.NarrativeExecution
	exec.NarrativeName = "greeting"
	exec.Append(narrative.ActExecution{ActName: "a", Response: "ok"})
	exec.Append(narrative.ActExecution{ActName: "b", Response: "Echo: ok"})

	id, err := m.SaveExecution(ctx, &exec)
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := m.LoadExecution(ctx, id)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.ActExecutions) != 2 || loaded.ActExecutions[1].Response != "Echo: ok" {
		t.Fatalf("unexpected loaded execution: %+v", loaded)
	}
}

func TestMemory_ContentLifecycle(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()

	id, err := m.InsertContent(ctx, "posts", ContentRow{Content: []byte(`{"text":"hi"}`), SourceNarrative: "n", SourceAct: "a"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	row, err := m.GetContentByID(ctx, "posts", id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if row.ReviewStatus != ReviewPending {
		t.Fatalf("default review status = %q, want pending", row.ReviewStatus)
	}

	if err := m.UpdateReviewStatus(ctx, "posts", id, ReviewApproved); err != nil {
		t.Fatalf("update status: %v", err)
	}
	rows, err := m.ListContent(ctx, "posts", ReviewApproved, 0)
	if err != nil || len(rows) != 1 {
		t.Fatalf("list content after approval: %v, %d rows", err, len(rows))
	}

	if err := m.DeleteContent(ctx, "posts", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := m.GetContentByID(ctx, "posts", id); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemory_CircuitBreaker(t *testing.T) {
	m := newTestMemory(t)
	ctx := context.Background()
	const maxFailures = 2

	if err := m.SaveTaskState(ctx, &TaskState{TaskID: "t1", ActorName: "poster", Enabled: true}); err != nil {
		t.Fatalf("save task state: %v", err)
	}

	for i := 1; i <= 3; i++ {
		exceeded, err := m.RecordFailure(ctx, "t1", maxFailures)
		if err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
		wantExceeded := i > maxFailures
		if exceeded != wantExceeded {
			t.Fatalf("failure %d: exceeded = %v, want %v", i, exceeded, wantExceeded)
		}
		if exceeded {
			if err := m.Pause(ctx, "t1"); err != nil {
				t.Fatalf("pause: %v", err)
			}
		}
	}

	state, err := m.GetTaskState(ctx, "t1")
	if err != nil {
		t.Fatalf("get task state: %v", err)
	}
	if !state.Paused {
		t.Fatal("task should be paused after exceeding max_failures")
	}
}
