package workers

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/apperr"
	"github.com/xrgarcia/jerky-shipping-sub001/internal/telemetry"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/fingerprint"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
)

// ExternalSession is one session document as the document store reports it
// already lowercased on
// ingest except where noted.
type ExternalSession struct {
	SessionID         string
	SessionStatus     shipment.SessionStatus
	OrderNumber       string
	ExternalShipmentID string
	PickStart         *time.Time
	PickEnd           *time.Time
	SpotNumber        *int
	PickerID          *string
	PickerName        *string
	DocumentID        string
	UpdatedAt         time.Time
}

// SessionDocumentStore is the document-store collaborator: streaming reads
// of non-closed sessions, single-document re-reads, and the paginated
// reimport cursor.
type SessionDocumentStore interface {
	FetchNonClosedSessions(ctx context.Context) ([]ExternalSession, error)
	FetchSession(ctx context.Context, sessionID string) (*ExternalSession, error)
	FetchSessionsSince(ctx context.Context, since time.Time, limit int) ([]ExternalSession, error)
}

// SessionShipmentRepo is the shipment-side half of the sync worker's
// persistence needs: resolving a session to a local shipment, comparing
// against cached normalized fields, writing the update, and locating the
// shipments whose stored sessionStatus may have gone stale.
type SessionShipmentRepo interface {
	FindByOrderAndExternalID(ctx context.Context, orderNumber, externalShipmentID string) (*shipment.Shipment, error)
	HasQCItems(ctx context.Context, shipmentID uuid.UUID) (bool, error)
	ApplySessionFields(ctx context.Context, shipmentID uuid.UUID, s ExternalSession) (changed bool, err error)
	MarkSessionClosed(ctx context.Context, shipmentID uuid.UUID, pickEndedAt time.Time) error
	ShipmentsWithOpenSessionID(ctx context.Context) ([]shipment.Shipment, error)
}

// Hydrator is the subset of *fingerprint.Engine the sync worker needs for
// proactive hydration.
type Hydrator interface {
	Hydrate(ctx context.Context, shipmentID uuid.UUID, orderNumber string) (*fingerprint.HydrationResult, error)
}

// KitFreshener is the narrow catalog-cache dependency proactive hydration
// needs before calling the fingerprint engine.
type KitFreshener interface {
	EnsureFresh(ctx context.Context) error
}

// SyncLifecycleEnqueuer mirrors fingerprint.LifecycleEnqueuer; kept as its
// own interface so this package doesn't need to import pkg/fingerprint just
// for a one-method contract it also depends on independently.
type SyncLifecycleEnqueuer interface {
	EnqueueLifecycleEval(ctx context.Context, shipmentID uuid.UUID) error
}

// SessionSyncWorkerConfig bounds the sync worker's polling and reimport
// pagination.
type SessionSyncWorkerConfig struct {
	PollInterval  time.Duration
	ReimportBatch int
}

func DefaultSessionSyncWorkerConfig() SessionSyncWorkerConfig {
	return SessionSyncWorkerConfig{PollInterval: 60 * time.Second, ReimportBatch: 500}
}

// SessionSyncWorker polls the document store, reconciles sessions into the
// local shipment model, triggers proactive hydration, and detects
// closed-transitions for shipments that fell out of the non-closed set.
type SessionSyncWorker struct {
	docStore  SessionDocumentStore
	shipments SessionShipmentRepo
	hydrator  Hydrator
	kits      KitFreshener
	lifecycle SyncLifecycleEnqueuer
	cfg       SessionSyncWorkerConfig
	log       logr.Logger

	processed     atomic.Int64
	errorsCount   atomic.Int64
	closedDetected atomic.Int64
	workerStatus  atomic.Value // string
}

func NewSessionSyncWorker(docStore SessionDocumentStore, shipments SessionShipmentRepo, hydrator Hydrator, kits KitFreshener, lifecycleEnqueuer SyncLifecycleEnqueuer, cfg SessionSyncWorkerConfig, log logr.Logger) *SessionSyncWorker {
	w := &SessionSyncWorker{
		docStore: docStore, shipments: shipments, hydrator: hydrator, kits: kits,
		lifecycle: lifecycleEnqueuer, cfg: cfg,
		log: log.WithValues("worker", "session_sync"),
	}
	w.workerStatus.Store("idle")
	return w
}

type SessionSyncStatus struct {
	Processed      int64
	Errors         int64
	ClosedDetected int64
	WorkerStatus   string
}

func (w *SessionSyncWorker) Status() SessionSyncStatus {
	return SessionSyncStatus{
		Processed:      w.processed.Load(),
		Errors:         w.errorsCount.Load(),
		ClosedDetected: w.closedDetected.Load(),
		WorkerStatus:   w.workerStatus.Load().(string),
	}
}

// Run blocks until ctx is cancelled, running one reconciliation cycle every
// PollInterval.
func (w *SessionSyncWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

// runCycle fetches, reconciles, and detects closures in one pass. Any exception aborts the
// cycle (leaving workerStatus='error'); the next interval retries from
// scratch — there is no partial-cycle resumption.
func (w *SessionSyncWorker) runCycle(ctx context.Context) {
	sessions, err := w.docStore.FetchNonClosedSessions(ctx)
	if err != nil {
		w.errorsCount.Add(1)
		w.workerStatus.Store("error")
		telemetry.SetWorkerStatus("session_sync", false)
		w.log.Error(err, "fetch non-closed sessions failed")
		return
	}

	nonClosedIDs := make(map[string]bool, len(sessions))
	for _, s := range sessions {
		nonClosedIDs[s.SessionID] = true
		if err := w.reconcileOne(ctx, s); err != nil {
			w.errorsCount.Add(1)
			w.workerStatus.Store("error")
			telemetry.SetWorkerStatus("session_sync", false)
			w.log.Error(err, "reconcile session failed", "session", s.SessionID)
			return
		}
	}

	if err := w.detectClosedTransitions(ctx, nonClosedIDs); err != nil {
		w.errorsCount.Add(1)
		w.workerStatus.Store("error")
		telemetry.SetWorkerStatus("session_sync", false)
		w.log.Error(err, "closed-transition detection failed")
		return
	}

	w.workerStatus.Store("idle")
	telemetry.SetWorkerStatus("session_sync", true)
}

func (w *SessionSyncWorker) reconcileOne(ctx context.Context, s ExternalSession) error {
	sh, err := w.shipments.FindByOrderAndExternalID(ctx, s.OrderNumber, s.ExternalShipmentID)
	if err != nil {
		return apperr.Wrapf(err, apperr.Transient, "lookup shipment for session %s", s.SessionID)
	}
	if sh == nil {
		// The storefront sync hasn't caught up yet; skip.
		return nil
	}

	changed, err := w.shipments.ApplySessionFields(ctx, sh.ID, s)
	if err != nil {
		return apperr.Wrapf(err, apperr.Transient, "apply session fields for %s", sh.ID)
	}
	if changed {
		w.processed.Add(1)
		w.enqueueLifecycleBestEffort(ctx, sh.ID)
	}

	if err := w.proactiveHydrate(ctx, sh); err != nil {
		// Hydration errors are logged, never rethrown; a deferred one is
		// logged at info level since the queue retries it.
		if apperr.Is(err, apperr.Deferred) {
			w.log.Info("proactive hydration deferred", "shipment", sh.ID, "reason", err.Error())
		} else {
			w.log.Error(err, "proactive hydration failed", "shipment", sh.ID)
		}
	}
	return nil
}

func (w *SessionSyncWorker) proactiveHydrate(ctx context.Context, sh *shipment.Shipment) error {
	has, err := w.shipments.HasQCItems(ctx, sh.ID)
	if err != nil {
		return apperr.Wrapf(err, apperr.Transient, "check QC items for %s", sh.ID)
	}
	if has {
		return nil
	}
	if err := w.kits.EnsureFresh(ctx); err != nil {
		w.log.Error(err, "kit mapping refresh failed before proactive hydration", "shipment", sh.ID)
	}
	_, err = w.hydrator.Hydrate(ctx, sh.ID, sh.ExternalOrderNumber)
	return err
}

// detectClosedTransitions re-reads the session document for every local
// shipment whose stored sessionStatus is non-closed but whose sessionId no
// longer appears in the fresh non-closed set.
func (w *SessionSyncWorker) detectClosedTransitions(ctx context.Context, nonClosedIDs map[string]bool) error {
	candidates, err := w.shipments.ShipmentsWithOpenSessionID(ctx)
	if err != nil {
		return apperr.Wrap(err, apperr.Transient, "list shipments with open session id")
	}

	for _, sh := range candidates {
		if sh.ExternalSessionID == nil || nonClosedIDs[*sh.ExternalSessionID] {
			continue
		}
		doc, err := w.docStore.FetchSession(ctx, *sh.ExternalSessionID)
		if err != nil {
			return apperr.Wrapf(err, apperr.Transient, "re-read session %s", *sh.ExternalSessionID)
		}
		if doc == nil || doc.SessionStatus != shipment.SessionClosed {
			continue
		}
		if err := w.shipments.MarkSessionClosed(ctx, sh.ID, timeOrNow(doc.PickEnd)); err != nil {
			return apperr.Wrapf(err, apperr.Transient, "mark session closed for %s", sh.ID)
		}
		w.closedDetected.Add(1)
		w.enqueueLifecycleBestEffort(ctx, sh.ID)
	}
	return nil
}

func timeOrNow(t *time.Time) time.Time {
	if t != nil {
		return *t
	}
	return time.Now()
}

func (w *SessionSyncWorker) enqueueLifecycleBestEffort(ctx context.Context, shipmentID uuid.UUID) {
	if err := w.lifecycle.EnqueueLifecycleEval(ctx, shipmentID); err != nil {
		w.log.Error(err, "lifecycle enqueue failed", "shipment", shipmentID)
	}
}

// Reimport performs a paginated scan of every session updated since `since`
// processing each page the same way a live
// poll would and advancing the cursor to the last page's
// max(updatedAt) + 1ms. Stops when a page returns fewer than ReimportBatch
// rows.
func (w *SessionSyncWorker) Reimport(ctx context.Context, since time.Time) (processed int, err error) {
	cursor := since
	for {
		page, err := w.docStore.FetchSessionsSince(ctx, cursor, w.cfg.ReimportBatch)
		if err != nil {
			return processed, apperr.Wrap(err, apperr.Transient, "fetch reimport page")
		}
		for _, s := range page {
			if rerr := w.reconcileOne(ctx, s); rerr != nil {
				return processed, rerr
			}
			processed++
			if s.UpdatedAt.After(cursor) {
				cursor = s.UpdatedAt.Add(time.Millisecond)
			}
		}
		if len(page) < w.cfg.ReimportBatch {
			return processed, nil
		}
	}
}
