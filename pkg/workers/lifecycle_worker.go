// Package workers hosts the event-driven and polling background loops that
// sit on top of the pure lifecycle/fingerprint/ratecheck/session packages:
// the lifecycle event worker, the external session sync
// worker, and the lifecycle repair worker.
package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/apperr"
	"github.com/xrgarcia/jerky-shipping-sub001/internal/telemetry"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/lifecycle"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/queue"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
)

// LifecycleQueueStore is the subset of queue.Store the lifecycle event
// worker needs. Factored as an interface so tests substitute an in-memory
// fake instead of a live database.
type LifecycleQueueStore interface {
	ClaimNext(ctx context.Context, queueName string) (*queue.Job, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, job *queue.Job, handlerErr error, rateLimited bool, baseBackoff, maxBackoff, rateLimitBackoff time.Duration) error
	RecoverStaleProcessing(ctx context.Context, queueName string, threshold time.Duration) (int, error)
}

// ShipmentRepo reads the current row and persists a transition atomically.
type ShipmentRepo interface {
	GetShipment(ctx context.Context, id uuid.UUID) (*shipment.Shipment, error)
	UpdateLifecycle(ctx context.Context, id uuid.UUID, phase lifecycle.Phase, subphase *lifecycle.Subphase) error
}

// RateChecker is the one registered side effect on the decision ladder:
// reaching the rate-check trigger point calls analyzeAndSave.
type RateChecker interface {
	AnalyzeAndSave(ctx context.Context, shipmentID uuid.UUID) error
}

// LifecycleUpdateResult is the typed event the worker emits per processed
// job, previous state to new.
type LifecycleUpdateResult struct {
	ShipmentID uuid.UUID
	Previous   lifecycle.State
	Current    lifecycle.State
	Changed    bool
}

// LifecycleWorkerConfig bounds the event worker's batch size and polling.
type LifecycleWorkerConfig struct {
	QueueName              string
	BatchSize              int
	BusyPollInterval       time.Duration
	IdlePollInterval       time.Duration
	SideEffectGuardDelay   time.Duration
	StaleProcessingTimeout time.Duration
	BaseBackoff            time.Duration
	MaxBackoff             time.Duration
	RateLimitBackoff       time.Duration
}

// DefaultLifecycleWorkerConfig holds the worker's tuned defaults.
func DefaultLifecycleWorkerConfig() LifecycleWorkerConfig {
	return LifecycleWorkerConfig{
		QueueName:              "lifecycle_eval",
		BatchSize:              5,
		BusyPollInterval:       2 * time.Second,
		IdlePollInterval:       10 * time.Second,
		SideEffectGuardDelay:   500 * time.Millisecond,
		StaleProcessingTimeout: 5 * time.Minute,
		BaseBackoff:            5 * time.Second,
		MaxBackoff:             300 * time.Second,
		RateLimitBackoff:       65 * time.Second,
	}
}

// LifecycleWorker consumes the lifecycle-event queue, re-derives
// (phase, subphase) for each shipment, persists the transition if allowed,
// and fires the NEEDS_RATE_CHECK side effect inline.
type LifecycleWorker struct {
	store       LifecycleQueueStore
	shipments   ShipmentRepo
	rateChecker RateChecker
	cfg         LifecycleWorkerConfig
	log         logr.Logger

	processed    atomic.Int64
	sideEffects  atomic.Int64
	errorsCount  atomic.Int64
	refusals     atomic.Int64
}

func NewLifecycleWorker(store LifecycleQueueStore, shipments ShipmentRepo, rateChecker RateChecker, cfg LifecycleWorkerConfig, log logr.Logger) *LifecycleWorker {
	return &LifecycleWorker{
		store: store, shipments: shipments, rateChecker: rateChecker, cfg: cfg,
		log: log.WithValues("worker", "lifecycle_event"),
	}
}

// Status reports the worker's global counters for the operations surface
// (instance fields, not
// persisted across restarts).
type LifecycleWorkerStatus struct {
	Processed   int64
	SideEffects int64
	Errors      int64
	Refusals    int64
}

func (w *LifecycleWorker) Status() LifecycleWorkerStatus {
	return LifecycleWorkerStatus{
		Processed:   w.processed.Load(),
		SideEffects: w.sideEffects.Load(),
		Errors:      w.errorsCount.Load(),
		Refusals:    w.refusals.Load(),
	}
}

// Run blocks until ctx is cancelled, polling every BusyPollInterval while
// it keeps finding work and IdlePollInterval otherwise.
func (w *LifecycleWorker) Run(ctx context.Context) {
	if _, err := w.store.RecoverStaleProcessing(ctx, w.cfg.QueueName, w.cfg.StaleProcessingTimeout); err != nil {
		w.log.Error(err, "stale-processing recovery failed at startup")
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n := w.runBatch(ctx)

		interval := w.cfg.IdlePollInterval
		if n > 0 {
			interval = w.cfg.BusyPollInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// runBatch processes up to cfg.BatchSize jobs sequentially (
// "runs inline on the worker, sequential within a batch of up to 5 per
// cycle; the batch cap throttles outbound API calls"). Returns the number
// of jobs actually claimed.
func (w *LifecycleWorker) runBatch(ctx context.Context) int {
	claimed := 0
	for i := 0; i < w.cfg.BatchSize; i++ {
		if w.processOne(ctx) {
			claimed++
			continue
		}
		break
	}
	return claimed
}

func (w *LifecycleWorker) processOne(ctx context.Context) (claimed bool) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error(nil, "lifecycle event handler panicked", "recovered", r)
		}
	}()

	job, err := w.store.ClaimNext(ctx, w.cfg.QueueName)
	if errors.Is(err, queue.ErrNoJob) {
		return false
	}
	if err != nil {
		w.log.Error(err, "claim failed")
		return false
	}
	claimed = true

	result, err := w.evaluate(ctx, job)
	if err != nil {
		w.errorsCount.Add(1)
		telemetry.SetWorkerStatus("lifecycle_event", false)
		var ae *apperr.Error
		rateLimited := false
		if errors.As(err, &ae) {
			rateLimited = apperr.IsRateLimited(err, ae.StatusCode())
		}
		if markErr := w.store.MarkFailed(ctx, job.ID, job, err, rateLimited, w.cfg.BaseBackoff, w.cfg.MaxBackoff, w.cfg.RateLimitBackoff); markErr != nil {
			w.log.Error(markErr, "mark failed failed", "job", job.ID)
		}
		return true
	}

	if err := w.store.MarkCompleted(ctx, job.ID); err != nil {
		w.log.Error(err, "mark completed failed", "job", job.ID)
	}
	w.processed.Add(1)
	telemetry.SetWorkerStatus("lifecycle_event", true)

	// The decision ladder has no independent NEEDS_RATE_CHECK row; it is
	// named only as the registered side-effect target. The side effect's own
	// eligibility requirements — external shipment id, destination, fingerprint
	// id, packaging type id — are first satisfiable the moment a shipment
	// lands on NEEDS_SESSION, so that is the trigger point.
	if result.Changed && result.Current.Subphase != nil && *result.Current.Subphase == lifecycle.SubphaseNeedsSession {
		w.triggerRateCheck(ctx, result.ShipmentID)
	}
	return true
}

// evaluate loads the shipment, re-derives its state, and persists the
// transition if the state machine's explicit edge sets allow it. An
// invalid transition is refused (logged, never retried) rather than
// surfaced as a job failure, not a retryable error.
func (w *LifecycleWorker) evaluate(ctx context.Context, job *queue.Job) (LifecycleUpdateResult, error) {
	shipmentID, err := uuid.Parse(job.CorrelationKey)
	if err != nil {
		return LifecycleUpdateResult{}, apperr.Wrapf(err, apperr.Fatal, "malformed lifecycle job correlation key %q", job.CorrelationKey)
	}

	s, err := w.shipments.GetShipment(ctx, shipmentID)
	if err != nil {
		return LifecycleUpdateResult{}, apperr.Wrapf(err, apperr.Transient, "load shipment %s", shipmentID)
	}

	previous := storedState(s)
	current := lifecycle.Derive(s)
	result := LifecycleUpdateResult{ShipmentID: shipmentID, Previous: previous, Current: current}

	if previous.Equal(current) {
		return result, nil
	}
	result.Changed = true

	if !transitionAllowed(previous, current) {
		w.refusals.Add(1)
		telemetry.RecordLifecycleRefusal()
		w.log.Info("refusing disallowed lifecycle transition",
			"shipment", shipmentID, "from", previous.Phase, "to", current.Phase)
		result.Changed = false
		return result, nil
	}

	if err := w.shipments.UpdateLifecycle(ctx, shipmentID, current.Phase, current.Subphase); err != nil {
		return LifecycleUpdateResult{}, apperr.Wrapf(err, apperr.Transient, "persist lifecycle transition for %s", shipmentID)
	}
	telemetry.RecordLifecycleTransition(string(current.Phase))
	return result, nil
}

func transitionAllowed(previous, current lifecycle.State) bool {
	if !lifecycle.IsAllowedTransition(previous.Phase, current.Phase) {
		return false
	}
	if previous.Phase != current.Phase {
		return true
	}
	if previous.Subphase == nil || current.Subphase == nil {
		return true
	}
	return lifecycle.IsAllowedSubphaseTransition(*previous.Subphase, *current.Subphase)
}

func storedState(s *shipment.Shipment) lifecycle.State {
	var sub *lifecycle.Subphase
	if s.DecisionSubphase != nil {
		v := lifecycle.Subphase(*s.DecisionSubphase)
		sub = &v
	}
	return lifecycle.State{Phase: lifecycle.Phase(s.LifecyclePhase), Subphase: sub}
}

// triggerRateCheck runs the registered NEEDS_RATE_CHECK side effect after
// the guard delay, fire-and-forget: a failure is logged, not re-queued,
// since the state transition itself already committed.
func (w *LifecycleWorker) triggerRateCheck(ctx context.Context, shipmentID uuid.UUID) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(w.cfg.SideEffectGuardDelay):
	}
	w.sideEffects.Add(1)
	if err := w.rateChecker.AnalyzeAndSave(ctx, shipmentID); err != nil {
		w.log.Error(err, "rate check side effect failed", "shipment", shipmentID)
	}
}
