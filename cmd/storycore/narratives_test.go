package main

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleNarrativeTOML = `
[metadata]
name = "daily_digest"
description = "summarizes the day's approved content"

[toc]
order = ["summarize"]

[acts.summarize]
prompt = "Summarize: {{state.topic}}"
model = "claude-sonnet-4-20250514"
`

func TestLoadNarrativesEmptyDir(t *testing.T) {
	narratives, err := loadNarratives("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(narratives) != 0 {
		t.Fatalf("expected no narratives, got %d", len(narratives))
	}
}

func TestLoadNarrativesFromDisk(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "digest.toml"), []byte(sampleNarrativeTOML), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	narratives, err := loadNarratives(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	n, ok := narratives["daily_digest"]
	if !ok {
		names := make([]string, 0, len(narratives))
		for name := range narratives {
			names = append(names, name)
		}
		t.Fatalf("expected narrative %q to be loaded, got keys %v", "daily_digest", names)
	}
	if len(n.Acts) != 1 {
		t.Fatalf("expected 1 act, got %d", len(n.Acts))
	}
}

func TestLoadNarrativesDuplicateNameConflict(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.toml"), []byte(sampleNarrativeTOML), 0o644); err != nil {
		t.Fatalf("write fixture a: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.toml"), []byte(sampleNarrativeTOML), 0o644); err != nil {
		t.Fatalf("write fixture b: %v", err)
	}

	if _, err := loadNarratives(dir); err == nil {
		t.Fatal("expected duplicate narrative name to be rejected")
	}
}

func TestMatchesFilter(t *testing.T) {
	row := map[string]any{"status": "approved", "count": float64(3)}

	if !matchesFilter(row, map[string]any{"status": "approved"}) {
		t.Fatal("expected matching filter to pass")
	}
	if matchesFilter(row, map[string]any{"status": "rejected"}) {
		t.Fatal("expected non-matching filter to fail")
	}
	if matchesFilter(row, map[string]any{"missing": "x"}) {
		t.Fatal("expected filter on an absent field to fail")
	}
}
