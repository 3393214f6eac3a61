package blobstore

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"time"
)

// LocalStore is a filesystem-backed BlobStore rooted at Root, used for
// development and tests. It never needs network I/O, matching the "opaque
// content-addressable storage" requirement for the actor-level disk cache.
type LocalStore struct {
	Root string
}

func NewLocalStore(root string) *LocalStore { return &LocalStore{Root: root} }

func (s *LocalStore) Name() string { return "local" }

func (s *LocalStore) Store(ctx context.Context, r io.Reader, mediaType string) (*MediaReference, error) {
	data, hash, err := readAllHashed(r)
	if err != nil {
		return nil, err
	}
	relPath := DerivePath(mediaType, hash)
	absPath := filepath.Join(s.Root, relPath)
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(absPath, data, 0o644); err != nil {
		return nil, err
	}
	return &MediaReference{
		ContentHash: hash,
		MediaType:   mediaType,
		Backend:     s.Name(),
		Path:        relPath,
		SizeBytes:   int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *LocalStore) Retrieve(ctx context.Context, ref *MediaReference) (io.ReadCloser, error) {
	absPath := filepath.Join(s.Root, ref.Path)
	data, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{Ref: ref.Path}
		}
		return nil, err
	}
	_, hash, err := readAllHashed(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if hash != ref.ContentHash {
		return nil, &CorruptedContentError{Ref: ref.Path}
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *LocalStore) Exists(ctx context.Context, ref *MediaReference) (bool, error) {
	absPath := filepath.Join(s.Root, ref.Path)
	_, err := os.Stat(absPath)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (s *LocalStore) Delete(ctx context.Context, ref *MediaReference) error {
	absPath := filepath.Join(s.Root, ref.Path)
	err := os.Remove(absPath)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *LocalStore) URL(ref *MediaReference) string {
	return "file://" + filepath.Join(s.Root, ref.Path)
}
