package main

import (
	"testing"

	"github.com/veridianlabs/storycore/internal/narrative"
)

func TestNewNarrativeWatcher_EmptyDirIsANoop(t *testing.T) {
	runner := &narrativeRunner{narratives: map[string]*narrative.Narrative{}}
	watcher, err := newNarrativeWatcher("", runner, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if watcher != nil {
		t.Fatal("expected no watcher when no narratives directory is configured")
	}
}

func TestNewNarrativeWatcher_WatchesConfiguredDir(t *testing.T) {
	dir := t.TempDir()
	runner := &narrativeRunner{narratives: map[string]*narrative.Narrative{}}
	watcher, err := newNarrativeWatcher(dir, runner, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if watcher == nil {
		t.Fatal("expected a watcher for a configured directory")
	}
	if err := watcher.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
