package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client is the subset of *s3.Client this package calls, so tests can
// substitute a fake without standing up a real bucket.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store is an S3-compatible BlobStore for production deployments.
type S3Store struct {
	Client S3Client
	Bucket string
	// URLPrefix, if set, is prepended to Path to build a public URL instead
	// of the default s3:// scheme.
	URLPrefix string
}

func NewS3Store(client S3Client, bucket string) *S3Store {
	return &S3Store{Client: client, Bucket: bucket}
}

func (s *S3Store) Name() string { return "s3" }

func (s *S3Store) Store(ctx context.Context, r io.Reader, mediaType string) (*MediaReference, error) {
	data, hash, err := readAllHashed(r)
	if err != nil {
		return nil, err
	}
	key := DerivePath(mediaType, hash)
	_, err = s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return nil, fmt.Errorf("s3 put object: %w", err)
	}
	return &MediaReference{
		ContentHash: hash,
		MediaType:   mediaType,
		Backend:     s.Name(),
		Path:        key,
		SizeBytes:   int64(len(data)),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (s *S3Store) Retrieve(ctx context.Context, ref *MediaReference) (io.ReadCloser, error) {
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.Bucket), Key: aws.String(ref.Path)})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, &NotFoundError{Ref: ref.Path}
		}
		return nil, fmt.Errorf("s3 get object: %w", err)
	}
	data, err := io.ReadAll(out.Body)
	out.Body.Close()
	if err != nil {
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

func (s *S3Store) Exists(ctx context.Context, ref *MediaReference) (bool, error) {
	_, err := s.Client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.Bucket), Key: aws.String(ref.Path)})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *S3Store) Delete(ctx context.Context, ref *MediaReference) error {
	_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.Bucket), Key: aws.String(ref.Path)})
	return err
}

func (s *S3Store) URL(ref *MediaReference) string {
	if s.URLPrefix != "" {
		return s.URLPrefix + "/" + ref.Path
	}
	return fmt.Sprintf("s3://%s/%s", s.Bucket, ref.Path)
}
