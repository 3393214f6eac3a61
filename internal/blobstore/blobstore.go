// Package blobstore implements the content-addressable byte storage backing
// media references: store/retrieve/exists/delete/url over a local-disk or
// S3-compatible backend, both satisfying the same BlobStore interface.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// MediaReference is the immutable (content_hash, backend, path) triple a
// stored blob is addressed by. The referenced bytes survive as long as any
// reference exists in persistence.
type MediaReference struct {
	ContentHash string
	MediaType   string
	Backend     string
	Path        string
	SizeBytes   int64
	CreatedAt   time.Time
}

// DerivePath computes the canonical content-addressable storage path:
// <media_type>/<hash[0:2]>/<hash[2:4]>/<hash>.
func DerivePath(mediaType, hash string) string {
	if len(hash) < 4 {
		return fmt.Sprintf("%s/%s", mediaType, hash)
	}
	return fmt.Sprintf("%s/%s/%s/%s", mediaType, hash[0:2], hash[2:4], hash)
}

// NotFoundError and CorruptedContentError are the StorageError subvariants
// the data model calls for.
type NotFoundError struct{ Ref string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("blobstore: not found: %s", e.Ref) }

type CorruptedContentError struct{ Ref string }

func (e *CorruptedContentError) Error() string {
	return fmt.Sprintf("blobstore: corrupted content (hash mismatch): %s", e.Ref)
}

// BlobStore is the content-addressable backend a Repository delegates media
// operations to.
type BlobStore interface {
	Store(ctx context.Context, r io.Reader, mediaType string) (*MediaReference, error)
	Retrieve(ctx context.Context, ref *MediaReference) (io.ReadCloser, error)
	Exists(ctx context.Context, ref *MediaReference) (bool, error)
	Delete(ctx context.Context, ref *MediaReference) error
	URL(ref *MediaReference) string
	Name() string
}

// readAllHashed reads r fully into memory through a SHA-256 digest, so the
// final hash is known before the backend commits the object.
func readAllHashed(r io.Reader) (data []byte, hash string, err error) {
	h := sha256.New()
	tee := io.TeeReader(r, h)
	data, err = io.ReadAll(tee)
	if err != nil {
		return nil, "", err
	}
	return data, hex.EncodeToString(h.Sum(nil)), nil
}
