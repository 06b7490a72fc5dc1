package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/54b3r/docrag-go/internal/rag"
)

// CancelledReason is the LastError recorded for a cancelled job.
const CancelledReason = "cancelled"

// ErrJobNotProcessing is returned when a worker tries to finish a job it no
// longer holds (it was reaped or cancelled meanwhile).
var ErrJobNotProcessing = errors.New("store: job is not processing")

// ErrJobFinished is returned when cancelling a SUCCEEDED or FAILED job. It
// matches rag.ErrInvalidInput.
var ErrJobFinished = fmt.Errorf("store: job already finished: %w", rag.ErrInvalidInput)

// jobRow is the scanned shape of the ingestion_jobs table.
type jobRow struct {
	ID              string         `db:"id"`
	DocumentID      string         `db:"document_id"`
	Status          string         `db:"status"`
	Attempts        int            `db:"attempts"`
	LastError       sql.NullString `db:"last_error"`
	CancelRequested bool           `db:"cancel_requested"`
	RunAfter        int64          `db:"run_after"`
	LeaseUntil      sql.NullInt64  `db:"lease_until"`
	WorkerID        sql.NullString `db:"worker_id"`
	CreatedAt       int64          `db:"created_at"`
	UpdatedAt       int64          `db:"updated_at"`
}

// job converts the row to its domain type.
func (r jobRow) job() (*rag.IngestionJob, error) {
	st, err := rag.ParseJobStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("store: job %s: %w", r.ID, err)
	}
	return &rag.IngestionJob{
		ID:              r.ID,
		DocumentID:      r.DocumentID,
		Status:          st,
		Attempts:        r.Attempts,
		LastError:       r.LastError.String,
		CancelRequested: r.CancelRequested,
		RunAfter:        fromNanos(r.RunAfter),
		CreatedAt:       fromNanos(r.CreatedAt),
		UpdatedAt:       fromNanos(r.UpdatedAt),
	}, nil
}

// jobColumns is the select list matching jobRow.
const jobColumns = `id, document_id, status, attempts, last_error, cancel_requested, run_after, lease_until, worker_id, created_at, updated_at`

// insertJob adds a QUEUED job inside tx. A second active job for the same
// document violates the partial unique index and becomes
// rag.ErrConcurrentIngestion.
func insertJob(ctx context.Context, tx *sqlx.Tx, jobID, documentID string, now int64) (*rag.IngestionJob, error) {
	const q = `
INSERT INTO ingestion_jobs (id, document_id, status, attempts, run_after, created_at, updated_at)
VALUES (?, ?, 'QUEUED', 0, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, q, jobID, documentID, now, now, now); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("store: document %s already has an active job: %w", documentID, rag.ErrConcurrentIngestion)
		}
		return nil, fmt.Errorf("store: insert job: %w", err)
	}
	t := fromNanos(now)
	return &rag.IngestionJob{
		ID:         jobID,
		DocumentID: documentID,
		Status:     rag.JobQueued,
		RunAfter:   t,
		CreatedAt:  t,
		UpdatedAt:  t,
	}, nil
}

// CreateJob enqueues a new job for an existing document.
func (s *Store) CreateJob(ctx context.Context, jobID, documentID string) (*rag.IngestionJob, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var exists int
	if err := tx.GetContext(ctx, &exists, `SELECT COUNT(*) FROM documents WHERE id = ?`, documentID); err != nil {
		return nil, fmt.Errorf("store: check document: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("store: document %s: %w", documentID, rag.ErrNotFound)
	}

	job, err := insertJob(ctx, tx, jobID, documentID, s.nowNanos())
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return job, nil
}

// GetJob returns the job with id, or rag.ErrNotFound.
func (s *Store) GetJob(ctx context.Context, id string) (*rag.IngestionJob, error) {
	return getJob(ctx, s.db, id)
}

// getJob is GetJob against any queryer.
func getJob(ctx context.Context, q sqlx.QueryerContext, id string) (*rag.IngestionJob, error) {
	var row jobRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+jobColumns+` FROM ingestion_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: job %s: %w", id, rag.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	return row.job()
}

// ListJobs returns every job of documentID, newest first.
func (s *Store) ListJobs(ctx context.Context, documentID string) ([]rag.IngestionJob, error) {
	var rows []jobRow
	const q = `SELECT ` + jobColumns + ` FROM ingestion_jobs WHERE document_id = ? ORDER BY created_at DESC, rowid DESC`
	if err := s.db.SelectContext(ctx, &rows, q, documentID); err != nil {
		return nil, fmt.Errorf("store: list jobs: %w", err)
	}
	out := make([]rag.IngestionJob, 0, len(rows))
	for _, r := range rows {
		j, err := r.job()
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, nil
}

// ClaimNextJob atomically moves the oldest runnable QUEUED job to PROCESSING,
// increments its attempts and leases it to workerID. It returns nil, nil when
// nothing is runnable or another worker won the race.
//
// A candidate whose document already has a PROCESSING sibling is failed with
// rag.ErrConcurrentIngestion instead of being claimed.
func (s *Store) ClaimNextJob(ctx context.Context, workerID string, lease time.Duration) (*rag.IngestionJob, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin claim: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.nowNanos()
	var row jobRow
	err = tx.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM ingestion_jobs
WHERE status = 'QUEUED' AND run_after <= ?
ORDER BY run_after, created_at
LIMIT 1`, now)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: select candidate: %w", err)
	}

	var siblings int
	if err := tx.GetContext(ctx, &siblings,
		`SELECT COUNT(*) FROM ingestion_jobs WHERE document_id = ? AND status = 'PROCESSING' AND id != ?`,
		row.DocumentID, row.ID); err != nil {
		return nil, fmt.Errorf("store: check siblings: %w", err)
	}
	if siblings > 0 {
		if _, err := tx.ExecContext(ctx,
			`UPDATE ingestion_jobs SET status = 'FAILED', last_error = ?, updated_at = ? WHERE id = ? AND status = 'QUEUED'`,
			rag.ErrConcurrentIngestion.Error(), now, row.ID); err != nil {
			return nil, fmt.Errorf("store: fail concurrent job: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("store: commit: %w", err)
		}
		return nil, nil
	}

	res, err := tx.ExecContext(ctx, `UPDATE ingestion_jobs
SET status = 'PROCESSING', attempts = attempts + 1, lease_until = ?, worker_id = ?, updated_at = ?
WHERE id = ? AND status = 'QUEUED'`, now+lease.Nanoseconds(), workerID, now, row.ID)
	if err != nil {
		return nil, fmt.Errorf("store: claim job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}

	job, err := getJob(ctx, tx, row.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit claim: %w", err)
	}
	return job, nil
}

// transition applies a conditional update to a PROCESSING job.
func (s *Store) transition(ctx context.Context, id, set string, args ...any) error {
	args = append(args, s.nowNanos(), id)
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_jobs SET `+set+`, lease_until = NULL, updated_at = ? WHERE id = ? AND status = 'PROCESSING'`, args...)
	if err != nil {
		return fmt.Errorf("store: update job %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: job %s: %w", id, ErrJobNotProcessing)
	}
	return nil
}

// CompleteJob marks a PROCESSING job SUCCEEDED and clears LastError.
func (s *Store) CompleteJob(ctx context.Context, id string) error {
	return s.transition(ctx, id, `status = 'SUCCEEDED', last_error = NULL`)
}

// RetryJob returns a PROCESSING job to QUEUED, runnable at runAfter. A job
// flagged for cancellation is failed with CancelledReason instead, so a
// cancelled job never re-enters the queue.
func (s *Store) RetryJob(ctx context.Context, id string, runAfter time.Time, lastError string) error {
	return s.transition(ctx, id, `status = CASE WHEN cancel_requested = 1 THEN 'FAILED' ELSE 'QUEUED' END,
last_error = CASE WHEN cancel_requested = 1 THEN ? ELSE ? END,
run_after = ?, worker_id = NULL`,
		CancelledReason, lastError, runAfter.UnixNano())
}

// FailJob marks a PROCESSING job FAILED with lastError.
func (s *Store) FailJob(ctx context.Context, id, lastError string) error {
	return s.transition(ctx, id, `status = 'FAILED', last_error = ?`, lastError)
}

// ExtendLease pushes the lease of a PROCESSING job held by workerID forward.
func (s *Store) ExtendLease(ctx context.Context, id, workerID string, lease time.Duration) error {
	now := s.nowNanos()
	res, err := s.db.ExecContext(ctx,
		`UPDATE ingestion_jobs SET lease_until = ? WHERE id = ? AND status = 'PROCESSING' AND worker_id = ?`,
		now+lease.Nanoseconds(), id, workerID)
	if err != nil {
		return fmt.Errorf("store: extend lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: job %s: %w", id, ErrJobNotProcessing)
	}
	return nil
}

// CancelJob cancels a job. A QUEUED job becomes FAILED with LastError
// "cancelled"; a PROCESSING job is flagged and the worker stops before its
// index write. Terminal jobs yield ErrJobFinished.
func (s *Store) CancelJob(ctx context.Context, id string) (*rag.IngestionJob, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin cancel: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	job, err := getJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	now := s.nowNanos()
	switch job.Status {
	case rag.JobQueued:
		_, err = tx.ExecContext(ctx,
			`UPDATE ingestion_jobs SET status = 'FAILED', last_error = ?, updated_at = ? WHERE id = ? AND status = 'QUEUED'`,
			CancelledReason, now, id)
	case rag.JobProcessing:
		_, err = tx.ExecContext(ctx,
			`UPDATE ingestion_jobs SET cancel_requested = 1, updated_at = ? WHERE id = ? AND status = 'PROCESSING'`,
			now, id)
	case rag.JobSucceeded, rag.JobFailed:
		return nil, fmt.Errorf("store: job %s is %s: %w", id, job.Status, ErrJobFinished)
	}
	if err != nil {
		return nil, fmt.Errorf("store: cancel job: %w", err)
	}

	job, err = getJob(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit cancel: %w", err)
	}
	return job, nil
}

// CancelRequested reports whether Cancel was called on a PROCESSING job.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var flag bool
	if err := s.db.GetContext(ctx, &flag, `SELECT cancel_requested FROM ingestion_jobs WHERE id = ?`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("store: job %s: %w", id, rag.ErrNotFound)
		}
		return false, fmt.Errorf("store: cancel flag: %w", err)
	}
	return flag, nil
}

// LeaseExhaustedReason is the LastError of a job whose lease expired on its
// final permitted attempt.
const LeaseExhaustedReason = "lease expired: attempt ceiling reached"

// RequeueStale returns PROCESSING jobs whose lease expired (crashed
// workers) to QUEUED. Jobs flagged for cancellation are failed instead, as
// are jobs that already used maxAttempts claims. A maxAttempts <= 0 disables
// the ceiling. It returns the number of jobs touched.
func (s *Store) RequeueStale(ctx context.Context, maxAttempts int) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin reap: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.nowNanos()
	var touched int64
	cancelled, err := tx.ExecContext(ctx, `UPDATE ingestion_jobs
SET status = 'FAILED', last_error = ?, lease_until = NULL, updated_at = ?
WHERE status = 'PROCESSING' AND lease_until < ? AND cancel_requested = 1`, CancelledReason, now, now)
	if err != nil {
		return 0, fmt.Errorf("store: reap cancelled: %w", err)
	}
	n, _ := cancelled.RowsAffected()
	touched += n

	if maxAttempts > 0 {
		exhausted, err := tx.ExecContext(ctx, `UPDATE ingestion_jobs
SET status = 'FAILED', last_error = ?, lease_until = NULL, updated_at = ?
WHERE status = 'PROCESSING' AND lease_until < ? AND attempts >= ?`, LeaseExhaustedReason, now, now, maxAttempts)
		if err != nil {
			return 0, fmt.Errorf("store: reap exhausted: %w", err)
		}
		e, _ := exhausted.RowsAffected()
		touched += e
	}

	requeued, err := tx.ExecContext(ctx, `UPDATE ingestion_jobs
SET status = 'QUEUED', last_error = 'lease expired', lease_until = NULL, worker_id = NULL, run_after = ?, updated_at = ?
WHERE status = 'PROCESSING' AND lease_until < ?`, now, now, now)
	if err != nil {
		return 0, fmt.Errorf("store: reap stale: %w", err)
	}
	n, _ = requeued.RowsAffected()
	touched += n

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit reap: %w", err)
	}
	return int(touched), nil
}
