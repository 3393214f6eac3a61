package tracker

import (
	"context"
	"testing"

	"github.com/veridianlabs/storycore/internal/blobstore"
	"github.com/veridianlabs/storycore/internal/repository"
)

func newStore(t *testing.T) repository.Repository {
	t.Helper()
	return repository.NewMemory(blobstore.NewLocalStore(t.TempDir()))
}

func TestTracker_CircuitBreakerTripsAndPauses(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	if err := store.SaveTaskState(ctx, &repository.TaskState{TaskID: "t1", ActorName: "poster", Enabled: true}); err != nil {
		t.Fatalf("save: %v", err)
	}
	tr := New(store, 2)

	for i := 0; i < 2; i++ {
		execID, err := tr.StartExecution(ctx, "t1", "poster")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		tripped, err := tr.FailExecution(ctx, "t1", execID, "boom")
		if err != nil {
			t.Fatalf("fail: %v", err)
		}
		if tripped {
			t.Fatalf("breaker tripped early at failure %d", i+1)
		}
	}

	execID, _ := tr.StartExecution(ctx, "t1", "poster")
	tripped, err := tr.FailExecution(ctx, "t1", execID, "boom")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if !tripped {
		t.Fatal("expected breaker to trip on the third consecutive failure")
	}

	should, err := tr.ShouldExecute(ctx, "t1")
	if err != nil {
		t.Fatalf("should execute: %v", err)
	}
	if should {
		t.Fatal("expected task to be paused after breaker trip")
	}
}

func TestTracker_SuccessResetsCounter(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	store.SaveTaskState(ctx, &repository.TaskState{TaskID: "t1", ActorName: "poster", Enabled: true})
	tr := New(store, 1)

	execID, _ := tr.StartExecution(ctx, "t1", "poster")
	tr.FailExecution(ctx, "t1", execID, "boom")

	execID2, _ := tr.StartExecution(ctx, "t1", "poster")
	if err := tr.CompleteExecution(ctx, "t1", execID2, "ok"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	execID3, _ := tr.StartExecution(ctx, "t1", "poster")
	tripped, err := tr.FailExecution(ctx, "t1", execID3, "boom again")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if tripped {
		t.Fatal("expected counter reset by the intervening success")
	}
}
