// Package repository defines the persistence contract the narrative
// executor, processors, scheduler, and execution tracker depend on, plus an
// in-memory implementation for tests and two durable SQL-backed
// implementations (Postgres and SQLite) selected by configuration.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/veridianlabs/storycore/internal/blobstore"
	"github.com/veridianlabs/storycore/internal/narrative"
)

// ErrNotFound is returned by any lookup that finds nothing, so callers can
// branch with errors.Is regardless of backend.
var ErrNotFound = errors.New("repository: not found")

// ErrAlreadyExists is returned by creates that collide on a unique key.
var ErrAlreadyExists = errors.New("repository: already exists")

// ExecutionFilter narrows ListExecutions.
type ExecutionFilter struct {
	NarrativeName string
	Since, Until  time.Time
	Limit         int
}

// ReviewStatus is the lifecycle state of a content row.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// ContentRow is one persisted row produced by a processor.
type ContentRow struct {
	ID              string
	CreatedAt       time.Time
	ReviewStatus    ReviewStatus
	Rating          *float64
	Tags            []string
	Content         json.RawMessage
	SourceNarrative string
	SourceAct       string
}

// TaskState is the scheduler/tracker's durable view of one scheduled task.
type TaskState struct {
	TaskID              string
	ActorName           string
	Enabled             bool
	Paused              bool
	ConsecutiveFailures int
	LastRun             *time.Time
	NextRun             *time.Time
	Metadata            map[string]any
}

// ExecutionStatus is the lifecycle state of one task run.
type ExecutionStatus string

const (
	ExecRunning ExecutionStatus = "running"
	ExecSuccess ExecutionStatus = "success"
	ExecFailed  ExecutionStatus = "failed"
)

// ExecutionRecord is one task run, durable from start to finish.
type ExecutionRecord struct {
	ExecID     string
	TaskID     string
	ActorName  string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     ExecutionStatus
	Result     string
	Error      string
}

// ExecutionStore persists narrative executions.
type ExecutionStore interface {
	SaveExecution(ctx context.Context, exec *narrative.NarrativeExecution) (string, error)
	LoadExecution(ctx context.Context, id string) (*narrative.NarrativeExecution, error)
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*narrative.NarrativeExecution, error)
}

// ContentStore persists processor-extracted domain rows.
type ContentStore interface {
	InsertContent(ctx context.Context, table string, row ContentRow) (string, error)
	ListContent(ctx context.Context, table string, status ReviewStatus, limit int) ([]ContentRow, error)
	GetContentByID(ctx context.Context, table, id string) (*ContentRow, error)
	UpdateReviewStatus(ctx context.Context, table, id string, status ReviewStatus) error
	UpdateContentMetadata(ctx context.Context, table, id string, rating *float64, tags []string) error
	DeleteContent(ctx context.Context, table, id string) error
}

// MediaRepository exposes the media operations the repository contract
// requires, delegating to an injected blobstore.BlobStore.
type MediaRepository interface {
	MediaStore(ctx context.Context, r io.Reader, mediaType string) (*blobstore.MediaReference, error)
	MediaRetrieve(ctx context.Context, ref *blobstore.MediaReference) ([]byte, error)
	MediaExists(ctx context.Context, ref *blobstore.MediaReference) (bool, error)
	MediaDelete(ctx context.Context, ref *blobstore.MediaReference) error
	MediaURL(ref *blobstore.MediaReference) string
}

// TaskStore exposes the TaskState and ExecutionRecord operations the
// scheduler (C9) and execution tracker (C10) depend on.
type TaskStore interface {
	GetTaskState(ctx context.Context, taskID string) (*TaskState, error)
	SaveTaskState(ctx context.Context, state *TaskState) error
	ListEnabledTasks(ctx context.Context) ([]*TaskState, error)
	Pause(ctx context.Context, taskID string) error
	Resume(ctx context.Context, taskID string) error

	StartExecution(ctx context.Context, taskID, actorName string) (string, error)
	CompleteExecution(ctx context.Context, execID, result string) error
	FailExecution(ctx context.Context, execID, errText string) error
	RecordSuccess(ctx context.Context, taskID string) error
	// RecordFailure increments the consecutive-failure counter and reports
	// whether it now strictly exceeds maxFailures (the circuit-breaker
	// trip condition). It does not itself pause the task.
	RecordFailure(ctx context.Context, taskID string, maxFailures int) (exceeded bool, err error)
	UpdateNextRun(ctx context.Context, taskID string, next *time.Time) error
}

// Repository composes every sub-contract the executor, processors,
// scheduler, and tracker need. Implementations may be in-memory (for tests)
// or durable.
type Repository interface {
	ExecutionStore
	ContentStore
	MediaRepository
	TaskStore
}
