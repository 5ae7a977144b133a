// Package queue implements the at-least-once FIFO durable queue shared by
// QC explosion, rate-check, and lifecycle-event jobs. One Store serves
// every queue name (the queue_name column scopes each job); a Worker runs
// the loop for a single queue name with its own handler.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusFailed     Status = "failed"
	StatusCompleted  Status = "completed"
	StatusDeadLetter Status = "dead_letter"
)

// Job is one row in the queue_jobs table.
type Job struct {
	ID              uuid.UUID
	QueueName       string
	CorrelationKey  string
	Payload         json.RawMessage
	Status          Status
	RetryCount      int
	MaxRetries      int
	NextRetryAt     time.Time
	LastError       *string
	LastHTTPStatus  *int
	ProcessedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Backoff computes the exponential delay for a retry attempt, capped at
// max: min(base * 2^retryCount, max).
func Backoff(base, max time.Duration, retryCount int) time.Duration {
	d := base
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
