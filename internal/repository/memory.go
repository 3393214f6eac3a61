package repository

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridianlabs/storycore/internal/blobstore"
	"github.com/veridianlabs/storycore/internal/narrative"
)

// Memory is an in-memory Repository implementation for tests and the
// single-process deployment path. All state is guarded by one RWMutex;
// writes are effectively single-transaction since Go's runtime serializes
// access to the map under the lock.
type Memory struct {
	mu sync.RWMutex

	executions map[string]*narrative.NarrativeExecution
	execOrder  []string

	content map[string]map[string]ContentRow // table -> id -> row

	tasks      map[string]*TaskState
	execRecords map[string]*ExecutionRecord

	blobs blobstore.BlobStore
}

// NewMemory constructs an empty Memory repository backed by the given blob
// store for media operations (use blobstore.NewLocalStore for tests).
func NewMemory(blobs blobstore.BlobStore) *Memory {
	return &Memory{
		executions:  make(map[string]*narrative.NarrativeExecution),
		content:     make(map[string]map[string]ContentRow),
		tasks:       make(map[string]*TaskState),
		execRecords: make(map[string]*ExecutionRecord),
		blobs:       blobs,
	}
}

func (m *Memory) SaveExecution(ctx context.Context, exec *narrative.NarrativeExecution) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	cp := *exec
	m.executions[id] = &cp
	m.execOrder = append(m.execOrder, id)
	return id, nil
}

func (m *Memory) LoadExecution(ctx context.Context, id string) (*narrative.NarrativeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exec, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *exec
	return &cp, nil
}

func (m *Memory) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*narrative.NarrativeExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*narrative.NarrativeExecution
	for _, id := range m.execOrder {
		exec := m.executions[id]
		if filter.NarrativeName != "" && exec.NarrativeName != filter.NarrativeName {
			continue
		}
		cp := *exec
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) InsertContent(ctx context.Context, table string, row ContentRow) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.ReviewStatus == "" {
		row.ReviewStatus = ReviewPending
	}
	if m.content[table] == nil {
		m.content[table] = make(map[string]ContentRow)
	}
	m.content[table][row.ID] = row
	return row.ID, nil
}

func (m *Memory) ListContent(ctx context.Context, table string, status ReviewStatus, limit int) ([]ContentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.content[table]
	out := make([]ContentRow, 0, len(rows))
	for _, row := range rows {
		if status != "" && row.ReviewStatus != status {
			continue
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) GetContentByID(ctx context.Context, table, id string) (*ContentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.content[table][id]
	if !ok {
		return nil, ErrNotFound
	}
	return &row, nil
}

func (m *Memory) UpdateReviewStatus(ctx context.Context, table, id string, status ReviewStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.content[table][id]
	if !ok {
		return ErrNotFound
	}
	row.ReviewStatus = status
	m.content[table][id] = row
	return nil
}

func (m *Memory) UpdateContentMetadata(ctx context.Context, table, id string, rating *float64, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.content[table][id]
	if !ok {
		return ErrNotFound
	}
	row.Rating = rating
	row.Tags = tags
	m.content[table][id] = row
	return nil
}

func (m *Memory) DeleteContent(ctx context.Context, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.content[table][id]; !ok {
		return ErrNotFound
	}
	delete(m.content[table], id)
	return nil
}

func (m *Memory) MediaStore(ctx context.Context, r io.Reader, mediaType string) (*blobstore.MediaReference, error) {
	return m.blobs.Store(ctx, r, mediaType)
}

func (m *Memory) MediaRetrieve(ctx context.Context, ref *blobstore.MediaReference) ([]byte, error) {
	rc, err := m.blobs.Retrieve(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *Memory) MediaExists(ctx context.Context, ref *blobstore.MediaReference) (bool, error) {
	return m.blobs.Exists(ctx, ref)
}

func (m *Memory) MediaDelete(ctx context.Context, ref *blobstore.MediaReference) error {
	return m.blobs.Delete(ctx, ref)
}

func (m *Memory) MediaURL(ref *blobstore.MediaReference) string {
	return m.blobs.URL(ref)
}

func (m *Memory) GetTaskState(ctx context.Context, taskID string) (*TaskState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) SaveTaskState(ctx context.Context, state *TaskState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *state
	m.tasks[state.TaskID] = &cp
	return nil
}

func (m *Memory) ListEnabledTasks(ctx context.Context) ([]*TaskState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*TaskState
	for _, t := range m.tasks {
		if t.Enabled {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) Pause(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.Paused = true
	return nil
}

func (m *Memory) Resume(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.Paused = false
	t.ConsecutiveFailures = 0
	return nil
}

func (m *Memory) StartExecution(ctx context.Context, taskID, actorName string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.execRecords[id] = &ExecutionRecord{
		ExecID:    id,
		TaskID:    taskID,
		ActorName: actorName,
		StartedAt: time.Now().UTC(),
		Status:    ExecRunning,
	}
	return id, nil
}

func (m *Memory) CompleteExecution(ctx context.Context, execID, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.execRecords[execID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	rec.FinishedAt = &now
	rec.Status = ExecSuccess
	rec.Result = result
	return nil
}

func (m *Memory) FailExecution(ctx context.Context, execID, errText string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.execRecords[execID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	rec.FinishedAt = &now
	rec.Status = ExecFailed
	rec.Error = errText
	return nil
}

func (m *Memory) RecordSuccess(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.ConsecutiveFailures = 0
	return nil
}

func (m *Memory) RecordFailure(ctx context.Context, taskID string, maxFailures int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return false, ErrNotFound
	}
	t.ConsecutiveFailures++
	return t.ConsecutiveFailures > maxFailures, nil
}

func (m *Memory) UpdateNextRun(ctx context.Context, taskID string, next *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.NextRun = next
	return nil
}

var _ Repository = (*Memory)(nil)
