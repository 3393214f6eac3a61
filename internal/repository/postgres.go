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
	_ "github.com/lib/pq"

	"github.com/veridianlabs/storycore/internal/blobstore"
	"github.com/veridianlabs/storycore/internal/narrative"
)

// Postgres is a durable Repository implementation backed by a Postgres
// (or Postgres-wire-compatible, e.g. CockroachDB) database.
type Postgres struct {
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

// PostgresConfig tunes the connection pool. DSN is the only required field;
// the rest default to values suited to a single small scheduler process.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

func (c PostgresConfig) withDefaults() PostgresConfig {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 2
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	return c
}

// NewPostgres opens a connection, runs the schema migration, and prepares
// the statements hit on every executor/scheduler cycle.
func NewPostgres(cfg PostgresConfig, blobs blobstore.BlobStore) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres: dsn is required")
	}
	cfg = cfg.withDefaults()

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	p := &Postgres{db: db, blobs: blobs}
	if err := p.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}
	if err := p.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: prepare statements: %w", err)
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS narrative_executions (
			id TEXT PRIMARY KEY,
			narrative_name TEXT NOT NULL,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_executions_narrative_created
			ON narrative_executions (narrative_name, created_at)`,
		`CREATE TABLE IF NOT EXISTS content_rows (
			id TEXT NOT NULL,
			table_name TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			review_status TEXT NOT NULL,
			rating DOUBLE PRECISION,
			tags JSONB,
			content JSONB NOT NULL,
			source_narrative TEXT,
			source_act TEXT,
			PRIMARY KEY (table_name, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_table_status
			ON content_rows (table_name, review_status, created_at)`,
		`CREATE TABLE IF NOT EXISTS task_states (
			task_id TEXT PRIMARY KEY,
			actor_name TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT true,
			paused BOOLEAN NOT NULL DEFAULT false,
			consecutive_failures INT NOT NULL DEFAULT 0,
			last_run TIMESTAMPTZ,
			next_run TIMESTAMPTZ,
			metadata JSONB
		)`,
		`CREATE TABLE IF NOT EXISTS execution_records (
			exec_id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			actor_name TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) prepareStatements() error {
	var err error
	if p.stmtSaveExecution, err = p.db.Prepare(
		`INSERT INTO narrative_executions (id, narrative_name, data) VALUES ($1, $2, $3)`,
	); err != nil {
		return err
	}
	if p.stmtLoadExecution, err = p.db.Prepare(
		`SELECT data FROM narrative_executions WHERE id = $1`,
	); err != nil {
		return err
	}
	if p.stmtInsertContent, err = p.db.Prepare(
		`INSERT INTO content_rows (id, table_name, created_at, review_status, rating, tags, content, source_narrative, source_act)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	); err != nil {
		return err
	}
	if p.stmtGetTaskState, err = p.db.Prepare(
		`SELECT task_id, actor_name, enabled, paused, consecutive_failures, last_run, next_run, metadata
		 FROM task_states WHERE task_id = $1`,
	); err != nil {
		return err
	}
	if p.stmtSaveTaskState, err = p.db.Prepare(
		`INSERT INTO task_states (task_id, actor_name, enabled, paused, consecutive_failures, last_run, next_run, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (task_id) DO UPDATE SET
			actor_name = EXCLUDED.actor_name,
			enabled = EXCLUDED.enabled,
			paused = EXCLUDED.paused,
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_run = EXCLUDED.last_run,
			next_run = EXCLUDED.next_run,
			metadata = EXCLUDED.metadata`,
	); err != nil {
		return err
	}
	if p.stmtStartExecution, err = p.db.Prepare(
		`INSERT INTO execution_records (exec_id, task_id, actor_name, started_at, status) VALUES ($1, $2, $3, $4, $5)`,
	); err != nil {
		return err
	}
	if p.stmtCompleteExec, err = p.db.Prepare(
		`UPDATE execution_records SET finished_at = $1, status = $2, result = $3 WHERE exec_id = $4`,
	); err != nil {
		return err
	}
	if p.stmtFailExec, err = p.db.Prepare(
		`UPDATE execution_records SET finished_at = $1, status = $2, error = $3 WHERE exec_id = $4`,
	); err != nil {
		return err
	}
	return nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

func (p *Postgres) SaveExecution(ctx context.Context, exec *narrative.NarrativeExecution) (string, error) {
	data, err := json.Marshal(exec)
	if err != nil {
		return "", fmt.Errorf("marshal execution: %w", err)
	}
	id := uuid.NewString()
	if _, err := p.stmtSaveExecution.ExecContext(ctx, id, exec.NarrativeName, data); err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) LoadExecution(ctx context.Context, id string) (*narrative.NarrativeExecution, error) {
	var data []byte
	if err := p.stmtLoadExecution.QueryRowContext(ctx, id).Scan(&data); err != nil {
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

func (p *Postgres) ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*narrative.NarrativeExecution, error) {
	query := `SELECT data FROM narrative_executions WHERE 1=1`
	var args []any
	n := 0
	next := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}
	if filter.NarrativeName != "" {
		query += " AND narrative_name = " + next(filter.NarrativeName)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= " + next(filter.Since)
	}
	if !filter.Until.IsZero() {
		query += " AND created_at <= " + next(filter.Until)
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		query += " LIMIT " + next(filter.Limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
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

func (p *Postgres) InsertContent(ctx context.Context, table string, row ContentRow) (string, error) {
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
	if _, err := p.stmtInsertContent.ExecContext(ctx, row.ID, table, row.CreatedAt, row.ReviewStatus, row.Rating, tags, []byte(row.Content), row.SourceNarrative, row.SourceAct); err != nil {
		return "", err
	}
	return row.ID, nil
}

func (p *Postgres) ListContent(ctx context.Context, table string, status ReviewStatus, limit int) ([]ContentRow, error) {
	query := `SELECT id, created_at, review_status, rating, tags, content, source_narrative, source_act
		FROM content_rows WHERE table_name = $1`
	args := []any{table}
	if status != "" {
		query += " AND review_status = $2"
		args = append(args, status)
	}
	query += " ORDER BY created_at ASC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
		args = append(args, limit)
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
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

func (p *Postgres) GetContentByID(ctx context.Context, table, id string) (*ContentRow, error) {
	row := ContentRow{ID: id}
	var tagsRaw, content []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT created_at, review_status, rating, tags, content, source_narrative, source_act
		 FROM content_rows WHERE table_name = $1 AND id = $2`,
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

func (p *Postgres) UpdateReviewStatus(ctx context.Context, table, id string, status ReviewStatus) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE content_rows SET review_status = $1 WHERE table_name = $2 AND id = $3`,
		status, table, id,
	)
	return checkRowsAffected(res, err)
}

func (p *Postgres) UpdateContentMetadata(ctx context.Context, table, id string, rating *float64, tags []string) error {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return err
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE content_rows SET rating = $1, tags = $2 WHERE table_name = $3 AND id = $4`,
		rating, tagsJSON, table, id,
	)
	return checkRowsAffected(res, err)
}

func (p *Postgres) DeleteContent(ctx context.Context, table, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM content_rows WHERE table_name = $1 AND id = $2`, table, id)
	return checkRowsAffected(res, err)
}

func (p *Postgres) MediaStore(ctx context.Context, r io.Reader, mediaType string) (*blobstore.MediaReference, error) {
	return p.blobs.Store(ctx, r, mediaType)
}

func (p *Postgres) MediaRetrieve(ctx context.Context, ref *blobstore.MediaReference) ([]byte, error) {
	rc, err := p.blobs.Retrieve(ctx, ref)
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

func (p *Postgres) MediaExists(ctx context.Context, ref *blobstore.MediaReference) (bool, error) {
	return p.blobs.Exists(ctx, ref)
}

func (p *Postgres) MediaDelete(ctx context.Context, ref *blobstore.MediaReference) error {
	return p.blobs.Delete(ctx, ref)
}

func (p *Postgres) MediaURL(ref *blobstore.MediaReference) string {
	return p.blobs.URL(ref)
}

func (p *Postgres) GetTaskState(ctx context.Context, taskID string) (*TaskState, error) {
	var (
		t        TaskState
		metaRaw  []byte
	)
	err := p.stmtGetTaskState.QueryRowContext(ctx, taskID).Scan(
		&t.TaskID, &t.ActorName, &t.Enabled, &t.Paused, &t.ConsecutiveFailures, &t.LastRun, &t.NextRun, &metaRaw,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &t.Metadata); err != nil {
			return nil, err
		}
	}
	return &t, nil
}

func (p *Postgres) SaveTaskState(ctx context.Context, state *TaskState) error {
	meta, err := json.Marshal(state.Metadata)
	if err != nil {
		return err
	}
	_, err = p.stmtSaveTaskState.ExecContext(ctx,
		state.TaskID, state.ActorName, state.Enabled, state.Paused, state.ConsecutiveFailures, state.LastRun, state.NextRun, meta,
	)
	return err
}

func (p *Postgres) ListEnabledTasks(ctx context.Context) ([]*TaskState, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT task_id, actor_name, enabled, paused, consecutive_failures, last_run, next_run, metadata
		 FROM task_states WHERE enabled = true`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*TaskState
	for rows.Next() {
		var (
			t       TaskState
			metaRaw []byte
		)
		if err := rows.Scan(&t.TaskID, &t.ActorName, &t.Enabled, &t.Paused, &t.ConsecutiveFailures, &t.LastRun, &t.NextRun, &metaRaw); err != nil {
			return nil, err
		}
		if len(metaRaw) > 0 {
			if err := json.Unmarshal(metaRaw, &t.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (p *Postgres) Pause(ctx context.Context, taskID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE task_states SET paused = true WHERE task_id = $1`, taskID)
	return checkRowsAffected(res, err)
}

func (p *Postgres) Resume(ctx context.Context, taskID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE task_states SET paused = false, consecutive_failures = 0 WHERE task_id = $1`, taskID)
	return checkRowsAffected(res, err)
}

func (p *Postgres) StartExecution(ctx context.Context, taskID, actorName string) (string, error) {
	id := uuid.NewString()
	if _, err := p.stmtStartExecution.ExecContext(ctx, id, taskID, actorName, time.Now().UTC(), ExecRunning); err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) CompleteExecution(ctx context.Context, execID, result string) error {
	res, err := p.stmtCompleteExec.ExecContext(ctx, time.Now().UTC(), ExecSuccess, result, execID)
	return checkRowsAffected(res, err)
}

func (p *Postgres) FailExecution(ctx context.Context, execID, errText string) error {
	res, err := p.stmtFailExec.ExecContext(ctx, time.Now().UTC(), ExecFailed, errText, execID)
	return checkRowsAffected(res, err)
}

func (p *Postgres) RecordSuccess(ctx context.Context, taskID string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE task_states SET consecutive_failures = 0 WHERE task_id = $1`, taskID)
	return checkRowsAffected(res, err)
}

func (p *Postgres) RecordFailure(ctx context.Context, taskID string, maxFailures int) (bool, error) {
	var failures int
	err := p.db.QueryRowContext(ctx,
		`UPDATE task_states SET consecutive_failures = consecutive_failures + 1
		 WHERE task_id = $1 RETURNING consecutive_failures`,
		taskID,
	).Scan(&failures)
	if err == sql.ErrNoRows {
		return false, ErrNotFound
	}
	if err != nil {
		return false, err
	}
	return failures > maxFailures, nil
}

func (p *Postgres) UpdateNextRun(ctx context.Context, taskID string, next *time.Time) error {
	res, err := p.db.ExecContext(ctx, `UPDATE task_states SET next_run = $1 WHERE task_id = $2`, next, taskID)
	return checkRowsAffected(res, err)
}

func checkRowsAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

var _ Repository = (*Postgres)(nil)
