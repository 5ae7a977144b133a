package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrNoJob is returned by ClaimNext when there is nothing ready to run.
var ErrNoJob = errors.New("queue: no job ready")

// Store persists queue_jobs. One Store is shared by every queue name; the
// queue_name column scopes everything.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type jobRow struct {
	ID             uuid.UUID      `db:"id"`
	QueueName      string         `db:"queue_name"`
	CorrelationKey string         `db:"correlation_key"`
	Payload        []byte         `db:"payload"`
	Status         string         `db:"status"`
	RetryCount     int            `db:"retry_count"`
	MaxRetries     int            `db:"max_retries"`
	NextRetryAt    time.Time      `db:"next_retry_at"`
	LastError      sql.NullString `db:"last_error"`
	LastHTTPStatus sql.NullInt32  `db:"last_http_status"`
	ProcessedAt    sql.NullTime   `db:"processed_at"`
	CreatedAt      time.Time      `db:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

func (r jobRow) toJob() Job {
	j := Job{
		ID:             r.ID,
		QueueName:      r.QueueName,
		CorrelationKey: r.CorrelationKey,
		Payload:        json.RawMessage(r.Payload),
		Status:         Status(r.Status),
		RetryCount:     r.RetryCount,
		MaxRetries:     r.MaxRetries,
		NextRetryAt:    r.NextRetryAt,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.LastError.Valid {
		j.LastError = &r.LastError.String
	}
	if r.LastHTTPStatus.Valid {
		v := int(r.LastHTTPStatus.Int32)
		j.LastHTTPStatus = &v
	}
	if r.ProcessedAt.Valid {
		j.ProcessedAt = &r.ProcessedAt.Time
	}
	return j
}

// Enqueue inserts a new job in the queued state.
func (s *Store) Enqueue(ctx context.Context, queueName, correlationKey string, payload any, maxRetries int) (uuid.UUID, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, err
	}
	id := uuid.New()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO queue_jobs (id, queue_name, correlation_key, payload, status, max_retries, next_retry_at)
		VALUES ($1, $2, $3, $4, 'queued', $5, now())
	`, id, queueName, correlationKey, raw, maxRetries)
	return id, err
}

// EnqueueDeduped is Enqueue with the QC-explosion dedup rule: if a
// queued|processing row already exists for (queueName, correlationKey),
// its id is returned instead of inserting a duplicate.
func (s *Store) EnqueueDeduped(ctx context.Context, queueName, correlationKey string, payload any, maxRetries int) (uuid.UUID, error) {
	var existing uuid.UUID
	err := s.db.GetContext(ctx, &existing, `
		SELECT id FROM queue_jobs
		WHERE queue_name = $1 AND correlation_key = $2 AND status IN ('queued', 'processing')
		ORDER BY created_at ASC LIMIT 1
	`, queueName, correlationKey)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, err
	}
	return s.Enqueue(ctx, queueName, correlationKey, payload, maxRetries)
}

// ClaimNext atomically selects the oldest runnable row for queueName
// (queued, or failed with nextRetryAt due) and flips it to processing.
func (s *Store) ClaimNext(ctx context.Context, queueName string) (*Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE queue_jobs SET status = 'processing', processed_at = now(), updated_at = now()
		WHERE id = (
			SELECT id FROM queue_jobs
			WHERE queue_name = $1
			  AND (status = 'queued' OR (status = 'failed' AND next_retry_at <= now()))
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, queue_name, correlation_key, payload, status, retry_count, max_retries,
		          next_retry_at, last_error, last_http_status, processed_at, created_at, updated_at
	`, queueName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJob
	}
	if err != nil {
		return nil, err
	}
	j := row.toJob()
	return &j, nil
}

// MarkCompleted finalizes a successful handler invocation.
func (s *Store) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE queue_jobs SET status = 'completed', last_error = NULL, updated_at = now()
		WHERE id = $1
	`, id)
	return err
}

// MarkFailed applies the retry/backoff/dead-letter policy for a failed
// handler invocation. rateLimited skips the retry-count increment and
// forces the fixed rate-limit delay.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, job *Job, handlerErr error, rateLimited bool, baseBackoff, maxBackoff, rateLimitBackoff time.Duration) error {
	errMsg := handlerErr.Error()

	if rateLimited {
		_, err := s.db.ExecContext(ctx, `
			UPDATE queue_jobs
			SET status = 'failed', last_error = $2, next_retry_at = now() + $3::interval, updated_at = now()
			WHERE id = $1
		`, id, errMsg, rateLimitBackoff.String())
		return err
	}

	retryCount := job.RetryCount + 1
	if retryCount >= job.MaxRetries {
		_, err := s.db.ExecContext(ctx, `
			UPDATE queue_jobs
			SET status = 'dead_letter', retry_count = $2, last_error = $3, updated_at = now()
			WHERE id = $1
		`, id, retryCount, errMsg)
		return err
	}

	delay := Backoff(baseBackoff, maxBackoff, retryCount)
	_, err := s.db.ExecContext(ctx, `
		UPDATE queue_jobs
		SET status = 'failed', retry_count = $2, last_error = $3, next_retry_at = now() + $4::interval, updated_at = now()
		WHERE id = $1
	`, id, retryCount, errMsg, delay.String())
	return err
}

// RecoverStaleProcessing resets any row stuck in `processing` older than
// threshold back to `queued`, tagging the error with a recovery marker so
// operators can tell a recovered job from a first attempt.
func (s *Store) RecoverStaleProcessing(ctx context.Context, queueName string, threshold time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE queue_jobs
		SET status = 'queued', last_error = 'recovered from stale processing', updated_at = now()
		WHERE queue_name = $1 AND status = 'processing' AND processed_at < now() - $2::interval
	`, queueName, threshold.String())
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Purge deletes every dead_letter or completed row for queueName, the
// operator action behind the ops surface's queue-purge endpoint. Queued
// and processing rows are never purged.
func (s *Store) Purge(ctx context.Context, queueName string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM queue_jobs WHERE queue_name = $1 AND status IN ('dead_letter', 'completed')
	`, queueName)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Stats returns the per-status count for queueName.
func (s *Store) Stats(ctx context.Context, queueName string) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, count(*) FROM queue_jobs WHERE queue_name = $1 GROUP BY status
	`, queueName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}
