package workers

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/apperr"
	"github.com/xrgarcia/jerky-shipping-sub001/internal/telemetry"
)

// RepairJobStatus tracks a repair_jobs row's lifecycle.
type RepairJobStatus string

const (
	RepairJobPending   RepairJobStatus = "pending"
	RepairJobRunning   RepairJobStatus = "running"
	RepairJobCompleted RepairJobStatus = "completed"
	RepairJobFailed    RepairJobStatus = "failed"
)

// RepairJob is one row in repair_jobs: an operator-enqueued cohort
// reconciliation request.
type RepairJob struct {
	ID          uuid.UUID
	CohortQuery string // e.g. "on_dock_stale" — resolved by RepairStore to a concrete id list
	Status      RepairJobStatus
	Processed   int
	Total       int
	LastError   *string
}

// RepairStore is the persistence the repair worker needs: claiming the next
// pending job, resolving its cohort, and recording progress/terminal state.
type RepairStore interface {
	ClaimNextPending(ctx context.Context) (*RepairJob, error)
	ResolveCohort(ctx context.Context, cohortQuery string) ([]uuid.UUID, error)
	UpdateProgress(ctx context.Context, jobID uuid.UUID, processed, total int) error
	MarkCompleted(ctx context.Context, jobID uuid.UUID) error
	MarkFailed(ctx context.Context, jobID uuid.UUID, errMsg string) error
	IsCancelled(ctx context.Context, jobID uuid.UUID) (bool, error)
}

// CohortReconciler reconciles one shipment found by a repair job's cohort
// query — e.g. re-deriving and persisting its lifecycle state.
type CohortReconciler interface {
	ReconcileOne(ctx context.Context, shipmentID uuid.UUID) error
}

// RepairWorkerConfig bounds the repair worker's polling and batch size.
type RepairWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

func DefaultRepairWorkerConfig() RepairWorkerConfig {
	return RepairWorkerConfig{PollInterval: 10 * time.Second, BatchSize: 100}
}

// RepairWorker is the claim-based batched cohort reconciler.
// It is passive: operators enqueue repair_jobs rows at will, and the
// worker picks them up on its next poll.
type RepairWorker struct {
	store       RepairStore
	reconciler  CohortReconciler
	cfg         RepairWorkerConfig
	log         logr.Logger
}

func NewRepairWorker(store RepairStore, reconciler CohortReconciler, cfg RepairWorkerConfig, log logr.Logger) *RepairWorker {
	return &RepairWorker{store: store, reconciler: reconciler, cfg: cfg, log: log.WithValues("worker", "lifecycle_repair")}
}

// Run blocks until ctx is cancelled, polling for a pending job every
// PollInterval.
func (w *RepairWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.runOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *RepairWorker) runOnce(ctx context.Context) {
	job, err := w.store.ClaimNextPending(ctx)
	if err != nil {
		w.log.Error(err, "claim next repair job failed")
		return
	}
	if job == nil {
		return
	}

	ids, err := w.store.ResolveCohort(ctx, job.CohortQuery)
	if err != nil {
		w.fail(ctx, job.ID, err)
		return
	}

	total := len(ids)
	processed := 0
	for start := 0; start < total; start += w.cfg.BatchSize {
		end := start + w.cfg.BatchSize
		if end > total {
			end = total
		}
		for _, id := range ids[start:end] {
			if err := w.reconciler.ReconcileOne(ctx, id); err != nil {
				w.log.Error(err, "cohort reconcile failed", "shipment", id, "job", job.ID)
			}
			processed++
		}
		if err := w.store.UpdateProgress(ctx, job.ID, processed, total); err != nil {
			w.log.Error(err, "update repair job progress failed", "job", job.ID)
		}

		cancelled, err := w.store.IsCancelled(ctx, job.ID)
		if err != nil {
			w.log.Error(err, "check repair job cancellation failed", "job", job.ID)
		}
		if cancelled {
			w.log.Info("repair job cancelled cooperatively", "job", job.ID, "processed", processed, "total", total)
			return
		}
	}

	if err := w.store.MarkCompleted(ctx, job.ID); err != nil {
		w.log.Error(err, "mark repair job completed failed", "job", job.ID)
	}
	telemetry.SetWorkerStatus("lifecycle_repair", true)
}

func (w *RepairWorker) fail(ctx context.Context, jobID uuid.UUID, err error) {
	wrapped := apperr.Wrap(err, apperr.Transient, "resolve repair cohort")
	w.log.Error(wrapped, "repair job failed", "job", jobID)
	if markErr := w.store.MarkFailed(ctx, jobID, wrapped.Error()); markErr != nil {
		w.log.Error(markErr, "mark repair job failed failed", "job", jobID)
	}
	telemetry.SetWorkerStatus("lifecycle_repair", false)
}
