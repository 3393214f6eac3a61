package blobstore

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func TestLocalStore_RoundTrip(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()
	original := []byte("hello media bytes")

	ref, err := store.Store(ctx, bytes.NewReader(original), "image")
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	exists, err := store.Exists(ctx, ref)
	if err != nil || !exists {
		t.Fatalf("exists = %v, %v; want true, nil", exists, err)
	}

	rc, err := store.Retrieve(ctx, ref)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	got, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, original) {
		t.Fatalf("retrieved bytes differ: got %q want %q", got, original)
	}

	if err := store.Delete(ctx, ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	exists, err = store.Exists(ctx, ref)
	if err != nil || exists {
		t.Fatalf("exists after delete = %v, %v; want false, nil", exists, err)
	}
}

func TestLocalStore_CorruptedContent(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	ref, err := store.Store(ctx, bytes.NewReader([]byte("original")), "image")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	ref.ContentHash = "deadbeef"

	if _, err := store.Retrieve(ctx, ref); err == nil {
		t.Fatal("expected corrupted-content error for a hash mismatch")
	} else if _, ok := err.(*CorruptedContentError); !ok {
		t.Fatalf("got %T, want *CorruptedContentError", err)
	}
}

func TestDerivePath_Layout(t *testing.T) {
	path := DerivePath("image", "abcdef0123")
	want := "image/ab/cd/abcdef0123"
	if path != want {
		t.Fatalf("DerivePath = %q, want %q", path, want)
	}
}
