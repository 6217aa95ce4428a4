package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"adsync/jobs"
	"adsync/models"
)

const (
	JobQueued   = "queued"
	JobLeased   = "leased"
	JobDone     = "done"
	JobDead     = "dead"
	maxLogLimit = 1000
)

var ErrJobNotFound = errors.New("job not found")

// SQLiteStore is the local operational store: the job queue used when no
// broker is configured, and per-run log rows.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		payload TEXT,
		customer_id TEXT,
		run_id TEXT,
		attempt INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'queued',
		lease_until INTEGER,
		dead_reason TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, created_at);

	CREATE TABLE IF NOT EXISTS run_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		level TEXT NOT NULL,
		message TEXT NOT NULL,
		fields TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_run_logs_run ON run_logs(run_id, id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Enqueue adds a job in the queued state. Enqueueing an id twice is a
// no-op.
func (s *SQLiteStore) Enqueue(ctx context.Context, job *jobs.Job) error {
	now := s.now().UnixMilli()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, payload, customer_id, run_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		job.ID, job.Type, string(job.Payload), job.Correlation.CustomerID, job.Correlation.RunID,
		JobQueued, now, now)
	return err
}

// Lease claims the oldest queued job, or a leased job whose lease expired,
// for leaseFor. It returns nil when nothing is available.
func (s *SQLiteStore) Lease(ctx context.Context, leaseFor time.Duration) (*jobs.Job, error) {
	now := s.now()
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = ?, attempt = attempt + 1, lease_until = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? OR (status = ? AND lease_until < ?)
			ORDER BY created_at
			LIMIT 1
		)
		RETURNING id, type, payload, customer_id, run_id, attempt`,
		JobLeased, now.Add(leaseFor).UnixMilli(), now.UnixMilli(),
		JobQueued, JobLeased, now.UnixMilli())

	var job jobs.Job
	var payload, customerID, runID sql.NullString
	err := row.Scan(&job.ID, &job.Type, &payload, &customerID, &runID, &job.Attempt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease job: %w", err)
	}
	if payload.Valid && payload.String != "" {
		job.Payload = []byte(payload.String)
	}
	job.Correlation = jobs.Correlation{CustomerID: customerID.String, RunID: runID.String}
	return &job, nil
}

func (s *SQLiteStore) Ack(ctx context.Context, id string) error {
	return s.settle(ctx, id, JobDone, "")
}

func (s *SQLiteStore) DeadLetter(ctx context.Context, id, reason string) error {
	return s.settle(ctx, id, JobDead, reason)
}

// Release shortens a leased job's lease so it is handed out again after
// the given delay.
func (s *SQLiteStore) Release(ctx context.Context, id string, after time.Duration) error {
	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET lease_until = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		now.Add(after).UnixMilli(), now.UnixMilli(), id, JobLeased)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

func (s *SQLiteStore) settle(ctx context.Context, id, status, reason string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, dead_reason = NULLIF(?, ''), lease_until = NULL, updated_at = ?
		WHERE id = ?`,
		status, reason, s.now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return nil
}

// JobStatus returns a job's queue status and dead-letter reason.
func (s *SQLiteStore) JobStatus(ctx context.Context, id string) (status, reason string, err error) {
	var r sql.NullString
	err = s.db.QueryRowContext(ctx, `SELECT status, dead_reason FROM jobs WHERE id = ?`, id).Scan(&status, &r)
	if err == sql.ErrNoRows {
		return "", "", fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return status, r.String, err
}

func (s *SQLiteStore) InsertRunLog(ctx context.Context, entry *models.RunLog) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO run_logs (run_id, timestamp, level, message, fields)
		VALUES (?, ?, ?, ?, ?)`,
		entry.RunID, entry.Timestamp, entry.Level, entry.Message, entry.Fields)
	if err != nil {
		return err
	}
	entry.ID, err = result.LastInsertId()
	return err
}

// RunLogs returns a run's log rows oldest first.
func (s *SQLiteStore) RunLogs(ctx context.Context, runID string, limit int) ([]models.RunLog, error) {
	if limit <= 0 || limit > maxLogLimit {
		limit = maxLogLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, timestamp, level, message, fields
		FROM run_logs WHERE run_id = ? ORDER BY id LIMIT ?`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []models.RunLog
	for rows.Next() {
		var l models.RunLog
		var fields sql.NullString
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &fields); err != nil {
			return nil, err
		}
		l.Fields = fields.String
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
