package queue

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/apperr"
	"github.com/xrgarcia/jerky-shipping-sub001/internal/telemetry"
)

// Handler processes one job's payload. It may return an *apperr.Error
// classified as apperr.RateLimited to get the fixed +65s delay instead of
// the normal exponential backoff.
type Handler func(ctx context.Context, job *Job) error

// Config bounds a Worker's polling and retry behavior.
type Config struct {
	QueueName              string
	PollInterval           time.Duration
	MaxRetries             int
	BaseBackoff            time.Duration
	MaxBackoff             time.Duration
	RateLimitBackoff       time.Duration
	StaleProcessingTimeout time.Duration
}

// jobStore is the subset of *Store the worker loop needs; factored out so
// tests can substitute an in-memory fake instead of a live database.
type jobStore interface {
	ClaimNext(ctx context.Context, queueName string) (*Job, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, job *Job, handlerErr error, rateLimited bool, baseBackoff, maxBackoff, rateLimitBackoff time.Duration) error
	RecoverStaleProcessing(ctx context.Context, queueName string, threshold time.Duration) (int, error)
}

// Worker runs the select-claim-execute-finalize loop for one queue name.
// The loop is single-threaded; multiple queues run as
// separate Worker instances in separate goroutines.
type Worker struct {
	store   jobStore
	handler Handler
	cfg     Config
	log     logr.Logger
}

func NewWorker(store jobStore, cfg Config, handler Handler, log logr.Logger) *Worker {
	return &Worker{store: store, handler: handler, cfg: cfg, log: log.WithValues("queue", cfg.QueueName)}
}

// Run blocks until ctx is cancelled, processing at most one job per
// iteration and sleeping cfg.PollInterval between empty polls.
func (w *Worker) Run(ctx context.Context) {
	if _, err := w.store.RecoverStaleProcessing(ctx, w.cfg.QueueName, w.cfg.StaleProcessingTimeout); err != nil {
		w.log.Error(err, "stale-processing recovery failed at startup")
	}

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed := w.runOnce(ctx)
		if processed {
			continue // immediately look for more work
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runOnce claims and processes a single job, guarding the handler so a
// panic or crash never kills the loop. It reports whether a
// job was found.
func (w *Worker) runOnce(ctx context.Context) (processed bool) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error(nil, "handler panicked", "recovered", r)
		}
	}()

	job, err := w.store.ClaimNext(ctx, w.cfg.QueueName)
	if errors.Is(err, ErrNoJob) {
		return false
	}
	if err != nil {
		w.log.Error(err, "claim failed")
		return false
	}
	processed = true
	telemetry.SetJobsInFlight(w.cfg.QueueName, 1)
	defer telemetry.SetJobsInFlight(w.cfg.QueueName, 0)

	handlerErr := w.handler(ctx, job)
	if handlerErr == nil {
		if err := w.store.MarkCompleted(ctx, job.ID); err != nil {
			w.log.Error(err, "mark completed failed", "job", job.ID)
		}
		telemetry.RecordJobProcessed(w.cfg.QueueName, "completed")
		return true
	}

	httpStatus := 0
	var ae *apperr.Error
	if errors.As(handlerErr, &ae) {
		httpStatus = ae.StatusCode()
	}
	rateLimited := apperr.IsRateLimited(handlerErr, httpStatus) || httpStatus == http.StatusTooManyRequests

	if err := w.store.MarkFailed(ctx, job.ID, job, handlerErr, rateLimited,
		w.cfg.BaseBackoff, w.cfg.MaxBackoff, w.cfg.RateLimitBackoff); err != nil {
		w.log.Error(err, "mark failed failed", "job", job.ID)
	}
	w.log.Info("job failed", "job", job.ID, "rateLimited", rateLimited, "error", handlerErr.Error())
	telemetry.RecordJobProcessed(w.cfg.QueueName, "failed")
	return true
}
