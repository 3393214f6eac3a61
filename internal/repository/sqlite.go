package repository

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go driver, no cgo toolchain dependency

	"github.com/veridianlabs/storycore/internal/blobstore"
	"github.com/veridianlabs/storycore/internal/narrative"
)

// SQLite is a durable Repository implementation backed by a local SQLite
// file, suited to a single-process deployment that still wants a crash-safe
// store without running a separate database server.
type SQLite struct {
	db    *sql.DB
	blobs blobstore.BlobStore

	stmtSaveExecution  *sql.Stmt
	stmtLoadExecution  *sql.Stmt
	stmtInsertContent  *sql.Stmt
	stmtGetTaskState   *sql.Stmt
	stmtSaveTaskState  *sql.Stmt
	stmtStartExecution *sql.Stmt
	stmtCompleteExec   *sql.Stmt
	stmtFailExec       *sql.Stmt
}

// NewSQLite opens (creating if absent) the database file at path, runs the
// schema migration, and prepares the statements hit on every
// executor/scheduler cycle. path may be ":memory:" for a process-local
// database, matching how the driver corpus' own sqlite backends default.
func NewSQLite(path string, blobs blobstore.BlobStore) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite serializes writers at the file level; a single open connection
	// avoids SQLITE_BUSY errors from concurrent writers racing the driver.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}

	s := &SQLite{db: db, blobs: blobs}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	if err := s.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS narrative_executions (
			id TEXT PRIMARY KEY,
			narrative_name TEXT NOT NULL,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_narrative_created
			ON narrative_executions (narrative_name, created_at)`,
		`CREATE TABLE IF NOT EXISTS content_rows (
			id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			review_status TEXT NOT NULL,
			rating REAL,
			tags TEXT,
			content TEXT NOT NULL,
			source_narrative TEXT,
			source_act TEXT,
			PRIMARY KEY (table_name, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_table_status
			ON content_rows (table_name, review_status, created_at)`,
		`CREATE TABLE IF NOT EXISTS task_states (
			task_id TEXT PRIMARY KEY,
			actor_name TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			paused INTEGER NOT NULL DEFAULT 0,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			last_run DATETIME,
			next_run DATETIME,
			metadata TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS execution_records (
			exec_id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			actor_name TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) prepareStatements() error {
	var err error
	if s.stmtSaveExecution, err = s.db.Prepare(
		`INSERT INTO narrative_executions (id, narrative_name, data) VALUES (?, ?, ?)`,
	); err != nil {
		return err
	}
	if s.stmtLoadExecution, err = s.db.Prepare(
		`SELECT data FROM narrative_executions WHERE id = ?`,
	); err != nil {
		return err
	}
	if s.stmtInsertContent, err = s.db.Prepare(
		`INSERT INTO content_rows (id, table_name, created_at, review_status, rating, tags, content, source_narrative, source_act)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	); err != nil {
		return err
	}
	if s.stmtGetTaskState, err = s.db.Prepare(
		`SELECT task_id, actor_name, enabled, paused, consecutive_failures, last_run, next_run, metadata
		 FROM task_states WHERE task_id = ?`,
	); err != nil {
		return err
	}
	if s.stmtSaveTaskState, err = s.db.Prepare(
		`INSERT INTO task_states (task_id, actor_name, enabled, paused, consecutive_failures, last_run, next_run, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET
			actor_name = excluded.actor_name,
			enabled = excluded.enabled,
			paused = excluded.paused,
			consecutive_failures = excluded.consecutive_failures,
			last_run = excluded.last_run,
			next_run = excluded.next_run,
			metadata = excluded.metadata`,
	); err != nil {
		return err
	}
	if s.stmtStartExecution, err = s.db.Prepare(
		`INSERT INTO execution_records (exec_id, task_id, actor_name, started_at, status) VALUES (?, ?, ?, ?, ?)`,
	); err != nil {
		return err
	}
	if s.stmtCompleteExec, err = s.db.Prepare(
		`UPDATE execution_records SET finished_at = ?, status = ?, result = ? WHERE exec_id = ?`,
	); err != nil {
		return err
	}
	if s.stmtFailExec, err = s.db.Prepare(
		`UPDATE execution_records SET finished_at = ?, status = ?, error = ? WHERE exec_id = ?`,
	); err != nil {
		return err
	}
	return nil
}

// Close releases the underlying connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) SaveExecution(ctx context.Context, exec *narrative.NarrativeExecution) (string, error) {
	data, err := json.Marshal(exec)
	if err != nil {
		return "", fmt.Errorf("marshal execution: %w", err)
	}
	id := uuid.NewString()
	if _, err := s.stmtSaveExecution.ExecContext(ctx, id, exec.NarrativeName, data); err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLite) LoadExecution(ctx context.Context, id string) (*narrative.NarrativeExecution, error) {
	var data []byte
	if err := s.stmtLoadExecution.QueryRowContext(ctx, id).Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var exec narrative.NarrativeExecution
	if err := json.Unmarshal(data, &exec); err != nil {
		return nil, fmt.Errorf("unmarshal execution: %w", err)
	}
	return &exec, nil
}

func (s *SQLite) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*narrative.NarrativeExecution, error) {
	query := `SELECT data FROM narrative_executions WHERE 1=1`
	var args []any
	if filter.NarrativeName != "" {
		query += " AND narrative_name = ?"
		args = append(args, filter.NarrativeName)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, filter.Until)
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*narrative.NarrativeExecution
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var exec narrative.NarrativeExecution
		if err := json.Unmarshal(data, &exec); err != nil {
			return nil, fmt.Errorf("unmarshal execution: %w", err)
		}
		out = append(out, &exec)
	}
	return out, rows.Err()
}

func (s *SQLite) InsertContent(ctx context.Context, table string, row ContentRow) (string, error) {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.ReviewStatus == "" {
		row.ReviewStatus = ReviewPending
	}
	tags, err := json.Marshal(row.Tags)
	if err != nil {
		return "", err
	}
	if _, err := s.stmtInsertContent.ExecContext(ctx, row.ID, table, row.CreatedAt, row.ReviewStatus, row.Rating, tags, []byte(row.Content), row.SourceNarrative, row.SourceAct); err != nil {
		return "", err
	}
	return row.ID, nil
}

func (s *SQLite) ListContent(ctx context.Context, table string, status ReviewStatus, limit int) ([]ContentRow, error) {
	query := `SELECT id, created_at, review_status, rating, tags, content, source_narrative, source_act
		FROM content_rows WHERE table_name = ?`
	args := []any{table}
	if status != "" {
		query += " AND review_status = ?"
		args = append(args, status)
	}
	query += " ORDER BY created_at ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ContentRow
	for rows.Next() {
		var (
			row     ContentRow
			tagsRaw []byte
			content []byte
		)
		if err := rows.Scan(&row.ID, &row.CreatedAt, &row.ReviewStatus, &row.Rating, &tagsRaw, &content, &row.SourceNarrative, &row.SourceAct); err != nil {
			return nil, err
		}
		if len(tagsRaw) > 0 {
			if err := json.Unmarshal(tagsRaw, &row.Tags); err != nil {
				return nil, err
			}
		}
		row.Content = content
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLite) GetContentByID(ctx context.Context, table, id string) (*ContentRow, error) {
	row := ContentRow{ID: id}
	var tagsRaw, content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT created_at, review_status, rating, tags, content, source_narrative, source_act
		 FROM content_rows WHERE table_name = ? AND id = ?`,
		table, id,
	).Scan(&row.CreatedAt, &row.ReviewStatus, &row.Rating, &tagsRaw, &content, &row.SourceNarrative, &row.SourceAct)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(tagsRaw) > 0 {
		if err := json.Unmarshal(tagsRaw, &row.Tags); err != nil {
			return nil, err
		}
	}
	row.Content = content
	return &row, nil
}

func (s *SQLite) UpdateReviewStatus(ctx context.Context, table, id string, status ReviewStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE content_rows SET review_status = ? WHERE table_name = ? AND id = ?`,
		status, table, id,
	)
	return checkRowsAffected(res, err)
}

func (s *SQLite) UpdateContentMetadata(ctx context.Context, table, id string, rating *float64, tags []string) error {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE content_rows SET rating = ?, tags = ? WHERE table_name = ? AND id = ?`,
		rating, tagsJSON, table, id,
	)
	return checkRowsAffected(res, err)
}

func (s *SQLite) DeleteContent(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM content_rows WHERE table_name = ? AND id = ?`, table, id)
	return checkRowsAffected(res, err)
}

func (s *SQLite) MediaStore(ctx context.Context, r io.Reader, mediaType string) (*blobstore.MediaReference, error) {
	return s.blobs.Store(ctx, r, mediaType)
}

func (s *SQLite) MediaRetrieve(ctx context.Context, ref *blobstore.MediaReference) ([]byte, error) {
	rc, err := s.blobs.Retrieve(ctx, ref)
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

func (s *SQLite) MediaExists(ctx context.Context, ref *blobstore.MediaReference) (bool, error) {
	return s.blobs.Exists(ctx, ref)
}

func (s *SQLite) MediaDelete(ctx context.Context, ref *blobstore.MediaReference) error {
	return s.blobs.Delete(ctx, ref)
}

func (s *SQLite) MediaURL(ref *blobstore.MediaReference) string {
	return s.blobs.URL(ref)
}

func (s *SQLite) GetTaskState(ctx context.Context, taskID string) (*TaskState, error) {
	var (
		t       TaskState
		enabled int
		paused  int
		metaRaw []byte
	)
	err := s.stmtGetTaskState.QueryRowContext(ctx, taskID).Scan(
		&t.TaskID, &t.ActorName, &enabled, &paused, &t.ConsecutiveFailures, &t.LastRun, &t.NextRun, &metaRaw,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Enabled = enabled != 0
	t.Paused = paused != 0
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &t.Metadata); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func (s *SQLite) SaveTaskState(ctx context.Context, state *TaskState) error {
	meta, err := json.Marshal(state.Metadata)
	if err != nil {
		return err
	}
	_, err = s.stmtSaveTaskState.ExecContext(ctx,
		state.TaskID, state.ActorName, state.Enabled, state.Paused, state.ConsecutiveFailures, state.LastRun, state.NextRun, meta,
	)
	return err
}

func (s *SQLite) ListEnabledTasks(ctx context.Context) ([]*TaskState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, actor_name, enabled, paused, consecutive_failures, last_run, next_run, metadata
		 FROM task_states WHERE enabled = 1`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TaskState
	for rows.Next() {
		var (
			t       TaskState
			enabled int
			paused  int
			metaRaw []byte
		)
		if err := rows.Scan(&t.TaskID, &t.ActorName, &enabled, &paused, &t.ConsecutiveFailures, &t.LastRun, &t.NextRun, &metaRaw); err != nil {
			return nil, err
		}
		t.Enabled = enabled != 0
		t.Paused = paused != 0
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &t.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (s *SQLite) Pause(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE task_states SET paused = 1 WHERE task_id = ?`, taskID)
	return checkRowsAffected(res, err)
}

func (s *SQLite) Resume(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE task_states SET paused = 0, consecutive_failures = 0 WHERE task_id = ?`, taskID)
	return checkRowsAffected(res, err)
}

func (s *SQLite) StartExecution(ctx context.Context, taskID, actorName string) (string, error) {
	id := uuid.NewString()
	if _, err := s.stmtStartExecution.ExecContext(ctx, id, taskID, actorName, time.Now().UTC(), ExecRunning); err != nil {
		return "", err
	}
	return id, nil
}

func (s *SQLite) CompleteExecution(ctx context.Context, execID, result string) error {
	res, err := s.stmtCompleteExec.ExecContext(ctx, time.Now().UTC(), ExecSuccess, result, execID)
	return checkRowsAffected(res, err)
}

func (s *SQLite) FailExecution(ctx context.Context, execID, errText string) error {
	res, err := s.stmtFailExec.ExecContext(ctx, time.Now().UTC(), ExecFailed, errText, execID)
	return checkRowsAffected(res, err)
}

func (s *SQLite) RecordSuccess(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE task_states SET consecutive_failures = 0 WHERE task_id = ?`, taskID)
	return checkRowsAffected(res, err)
}

// RecordFailure increments the counter and reads it back inside one
// transaction, since modernc.org/sqlite's bundled engine version cannot be
// assumed to support UPDATE ... RETURNING across every build.
func (s *SQLite) RecordFailure(ctx context.Context, taskID string, maxFailures int) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE task_states SET consecutive_failures = consecutive_failures + 1 WHERE task_id = ?`, taskID)
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 0 {
		return false, ErrNotFound
	}

	var failures int
	if err := tx.QueryRowContext(ctx, `SELECT consecutive_failures FROM task_states WHERE task_id = ?`, taskID).Scan(&failures); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return failures > maxFailures, nil
}

func (s *SQLite) UpdateNextRun(ctx context.Context, taskID string, next *time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE task_states SET next_run = ? WHERE task_id = ?`, next, taskID)
	return checkRowsAffected(res, err)
}

var _ Repository = (*SQLite)(nil)
