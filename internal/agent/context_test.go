package agent

import (
	"testing"

	"github.com/veridianlabs/storycore/internal/models"
)

func TestContextManager_SnapshotPrependsSystemPrompt(t *testing.T) {
	c := NewContextManager(10)
	c.SetSystemPrompt("You are helpful.")
	c.Append(models.NewTextMessage(models.RoleUser, "hi"))

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(snap))
	}
	if snap[0].Role != models.RoleSystem {
		t.Fatalf("expected first message to be system, got %q", snap[0].Role)
	}
}

func TestContextManager_OmitsSystemMessageWhenUnset(t *testing.T) {
	c := NewContextManager(10)
	c.Append(models.NewTextMessage(models.RoleUser, "hi"))

	snap := c.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 message, got %d", len(snap))
	}
}

func TestContextManager_EvictsOldestBeyondCapacity(t *testing.T) {
	c := NewContextManager(2)
	c.Append(models.NewTextMessage(models.RoleUser, "first"))
	c.Append(models.NewTextMessage(models.RoleUser, "second"))
	c.Append(models.NewTextMessage(models.RoleUser, "third"))

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected buffer capped at 2, got %d", len(snap))
	}
	if snap[0].Content[0].Text != "second" || snap[1].Content[0].Text != "third" {
		t.Fatalf("expected oldest message evicted, got %+v", snap)
	}
}
