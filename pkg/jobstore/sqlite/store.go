// Package sqlite implements jobstore.Store on a local SQLite database.
//
// It backs the "local" pipeline backend: several gas processes on one host
// share the database file, and every conditional transition is a single
// UPDATE ... WHERE <prior state> statement.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hklu21/Genomics-Analysis-Service/pkg/job"
	"github.com/hklu21/Genomics-Analysis-Service/pkg/jobstore"
)

const backend = "sqlite"

// Store implements jobstore.Store.
type Store struct {
	db   *sql.DB
	path string
}

var _ jobstore.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    job_id                    TEXT PRIMARY KEY,
    user_id                   TEXT NOT NULL DEFAULT '',
    input_file_name           TEXT NOT NULL DEFAULT '',
    s3_inputs_bucket          TEXT NOT NULL DEFAULT '',
    s3_key_input_file         TEXT NOT NULL DEFAULT '',
    submit_time               INTEGER NOT NULL DEFAULT 0,
    job_status                TEXT NOT NULL,
    start_time                INTEGER NOT NULL DEFAULT 0,
    attempts                  INTEGER NOT NULL DEFAULT 0,
    requeue_pending           INTEGER NOT NULL DEFAULT 0,
    complete_time             INTEGER NOT NULL DEFAULT 0,
    s3_results_bucket         TEXT NOT NULL DEFAULT '',
    s3_key_result_file        TEXT NOT NULL DEFAULT '',
    s3_key_log_file           TEXT NOT NULL DEFAULT '',
    storage_status            TEXT NOT NULL DEFAULT '',
    results_file_archive_id   TEXT NOT NULL DEFAULT '',
    results_file_retrieval_id TEXT NOT NULL DEFAULT '',
    restore_time              INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS jobs_user_id_index ON jobs (user_id, submit_time);
CREATE INDEX IF NOT EXISTS jobs_status_index ON jobs (job_status, start_time);
`

const columns = `job_id, user_id, input_file_name, s3_inputs_bucket, s3_key_input_file,
    submit_time, job_status, start_time, attempts, requeue_pending, complete_time,
    s3_results_bucket, s3_key_result_file, s3_key_log_file, storage_status,
    results_file_archive_id, results_file_retrieval_id, restore_time`

// Open creates (if needed) and opens the job database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite job store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create job store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	// One connection per process keeps the pragmas below in effect and
	// serializes writers within the process.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply job store schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new record.
func (s *Store) Create(ctx context.Context, rec *job.Record) error {
	if rec == nil || strings.TrimSpace(rec.JobID) == "" {
		return s.wrap("Create", "", errors.New("job id is required"))
	}
	status := rec.Status
	if status == "" {
		status = job.StatusPending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (job_id, user_id, input_file_name, s3_inputs_bucket, s3_key_input_file, submit_time, job_status)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(job_id) DO NOTHING`,
		rec.JobID, rec.UserID, rec.InputFileName, rec.InputsBucket, rec.InputKey, rec.SubmitTime, string(status),
	)
	if err != nil {
		return s.wrap("Create", rec.JobID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.wrap("Create", rec.JobID, jobstore.ErrConflict)
	}
	return nil
}

// Get returns a record by id.
func (s *Store) Get(ctx context.Context, id string) (*job.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM jobs WHERE job_id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.wrap("Get", id, jobstore.ErrNotFound)
	}
	if err != nil {
		return nil, s.wrap("Get", id, err)
	}
	return rec, nil
}

// Claim moves a job to RUNNING.
func (s *Store) Claim(ctx context.Context, id string, at time.Time) (*job.Record, error) {
	err := s.conditional(ctx, "Claim", id,
		`UPDATE jobs
         SET job_status = ?, start_time = ?, attempts = attempts + 1, requeue_pending = 0
         WHERE job_id = ? AND (job_status = ? OR (job_status = ? AND requeue_pending = 1))`,
		string(job.StatusRunning), at.Unix(), id, string(job.StatusPending), string(job.StatusRunning),
	)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Requeue flags a RUNNING job for another claim.
func (s *Store) Requeue(ctx context.Context, id string, startedBefore time.Time) error {
	return s.conditional(ctx, "Requeue", id,
		`UPDATE jobs SET requeue_pending = 1
         WHERE job_id = ? AND job_status = ? AND start_time <= ?`,
		id, string(job.StatusRunning), startedBefore.Unix(),
	)
}

// Complete moves a RUNNING job to COMPLETED.
func (s *Store) Complete(ctx context.Context, id string, c job.Completion) (*job.Record, error) {
	err := s.conditional(ctx, "Complete", id,
		`UPDATE jobs
         SET job_status = ?, complete_time = ?, s3_results_bucket = ?, s3_key_result_file = ?,
             s3_key_log_file = ?, requeue_pending = 0
         WHERE job_id = ? AND job_status = ?`,
		string(job.StatusCompleted), c.CompletedAt.Unix(), c.ResultsBucket, c.ResultKey, c.LogKey,
		id, string(job.StatusRunning),
	)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// MarkArchived records a cold copy.
func (s *Store) MarkArchived(ctx context.Context, id, archiveID string) error {
	return s.conditional(ctx, "MarkArchived", id,
		`UPDATE jobs
         SET storage_status = ?, results_file_archive_id = ?, results_file_retrieval_id = ''
         WHERE job_id = ? AND job_status = ? AND storage_status IN ('', ?, ?)`,
		string(job.StorageArchived), archiveID,
		id, string(job.StatusCompleted), string(job.StorageHot), string(job.StorageRestored),
	)
}

// MarkRetrieving records an in-flight retrieval.
func (s *Store) MarkRetrieving(ctx context.Context, id, archiveID, retrievalID string) error {
	return s.conditional(ctx, "MarkRetrieving", id,
		`UPDATE jobs
         SET storage_status = ?, results_file_retrieval_id = ?
         WHERE job_id = ? AND storage_status = ? AND results_file_archive_id = ?`,
		string(job.StorageRetrieving), retrievalID,
		id, string(job.StorageArchived), archiveID,
	)
}

// MarkRestored moves a RETRIEVING job to RESTORED.
func (s *Store) MarkRestored(ctx context.Context, id string, at time.Time) error {
	return s.conditional(ctx, "MarkRestored", id,
		`UPDATE jobs
         SET storage_status = ?, restore_time = ?, results_file_archive_id = '', results_file_retrieval_id = ''
         WHERE job_id = ? AND storage_status = ?`,
		string(job.StorageRestored), at.Unix(),
		id, string(job.StorageRetrieving),
	)
}

// ListStale returns RUNNING jobs started before the cutoff.
func (s *Store) ListStale(ctx context.Context, startedBefore time.Time) ([]*job.Record, error) {
	return s.list(ctx, "ListStale",
		`SELECT `+columns+` FROM jobs WHERE job_status = ? AND start_time < ? ORDER BY start_time`,
		string(job.StatusRunning), startedBefore.Unix(),
	)
}

// ListArchived returns a user's archived jobs.
func (s *Store) ListArchived(ctx context.Context, userID string) ([]*job.Record, error) {
	return s.list(ctx, "ListArchived",
		`SELECT `+columns+` FROM jobs
         WHERE user_id = ? AND job_status = ? AND storage_status = ? ORDER BY submit_time`,
		userID, string(job.StatusCompleted), string(job.StorageArchived),
	)
}

// conditional runs a guarded UPDATE. When no row changed it distinguishes a
// missing record from a failed condition.
func (s *Store) conditional(ctx context.Context, op, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return s.wrap(op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return s.wrap(op, id, err)
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM jobs WHERE job_id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return s.wrap(op, id, jobstore.ErrNotFound)
	}
	if err != nil {
		return s.wrap(op, id, err)
	}
	return s.wrap(op, id, jobstore.ErrConflict)
}

func (s *Store) list(ctx context.Context, op, query string, args ...any) ([]*job.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap(op, "", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*job.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, s.wrap(op, "", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap(op, "", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*job.Record, error) {
	var (
		rec           job.Record
		status        string
		storageStatus string
		requeue       int
	)
	err := row.Scan(
		&rec.JobID, &rec.UserID, &rec.InputFileName, &rec.InputsBucket, &rec.InputKey,
		&rec.SubmitTime, &status, &rec.StartTime, &rec.Attempts, &requeue, &rec.CompleteTime,
		&rec.ResultsBucket, &rec.ResultKey, &rec.LogKey, &storageStatus,
		&rec.ArchiveID, &rec.RetrievalID, &rec.RestoreTime,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = job.Status(status)
	rec.StorageStatus = job.StorageStatus(storageStatus)
	rec.RequeuePending = requeue != 0
	return &rec, nil
}

func (s *Store) wrap(op, id string, err error) error {
	return &jobstore.StoreError{Op: op, Backend: backend, JobID: id, Err: err}
}
