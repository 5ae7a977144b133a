package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr/testr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrgarcia/jerky-shipping-sub001/pkg/lifecycle"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/queue"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
)

type fakeLifecycleQueue struct {
	mu   sync.Mutex
	jobs []*queue.Job
}

func (f *fakeLifecycleQueue) push(shipmentID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, &queue.Job{ID: uuid.New(), QueueName: "lifecycle_eval", CorrelationKey: shipmentID.String(), MaxRetries: 5})
}

func (f *fakeLifecycleQueue) ClaimNext(ctx context.Context, queueName string) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		return nil, queue.ErrNoJob
	}
	j := f.jobs[0]
	f.jobs = f.jobs[1:]
	return j, nil
}

func (f *fakeLifecycleQueue) MarkCompleted(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeLifecycleQueue) MarkFailed(ctx context.Context, id uuid.UUID, job *queue.Job, handlerErr error, rateLimited bool, base, max, rlBackoff time.Duration) error {
	return nil
}
func (f *fakeLifecycleQueue) RecoverStaleProcessing(ctx context.Context, queueName string, threshold time.Duration) (int, error) {
	return 0, nil
}

type fakeShipmentRepo struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*shipment.Shipment
	calls int
}

func (f *fakeShipmentRepo) GetShipment(ctx context.Context, id uuid.UUID) (*shipment.Shipment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id], nil
}

func (f *fakeShipmentRepo) UpdateLifecycle(ctx context.Context, id uuid.UUID, phase lifecycle.Phase, subphase *lifecycle.Subphase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	s := f.byID[id]
	s.LifecyclePhase = string(phase)
	if subphase != nil {
		v := string(*subphase)
		s.DecisionSubphase = &v
	} else {
		s.DecisionSubphase = nil
	}
	return nil
}

type fakeRateChecker struct {
	mu       sync.Mutex
	analyzed []uuid.UUID
}

func (f *fakeRateChecker) AnalyzeAndSave(ctx context.Context, shipmentID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyzed = append(f.analyzed, shipmentID)
	return nil
}

func testConfig() LifecycleWorkerConfig {
	cfg := DefaultLifecycleWorkerConfig()
	cfg.SideEffectGuardDelay = time.Millisecond
	return cfg
}

func TestLifecycleWorker_PersistsAllowedTransition(t *testing.T) {
	shipmentID := uuid.New()
	fq := &fakeLifecycleQueue{}
	fq.push(shipmentID)

	repo := &fakeShipmentRepo{byID: map[uuid.UUID]*shipment.Shipment{
		shipmentID: {
			ID:             shipmentID,
			LifecyclePhase: string(lifecycle.PhaseReadyToSession),
			ExternalStatus: shipment.StatusOnHold,
			HasMoveOverTag: true,
		},
	}}
	rc := &fakeRateChecker{}

	w := NewLifecycleWorker(fq, repo, rc, testConfig(), testr.New(t))
	n := w.runBatch(context.Background())
	require.Equal(t, 1, n)

	assert.Equal(t, 1, repo.calls)
	assert.Equal(t, string(lifecycle.PhaseReadyToSession), repo.byID[shipmentID].LifecyclePhase)
	require.NotNil(t, repo.byID[shipmentID].DecisionSubphase)
	assert.Equal(t, string(lifecycle.SubphaseNeedsCategorization), *repo.byID[shipmentID].DecisionSubphase)
	assert.Equal(t, int64(1), w.Status().Processed)
}

func TestLifecycleWorker_TriggersRateCheckSideEffect(t *testing.T) {
	shipmentID := uuid.New()
	fq := &fakeLifecycleQueue{}
	fq.push(shipmentID)

	fpID := uuid.New()
	pkgID := uuid.New()
	repo := &fakeShipmentRepo{byID: map[uuid.UUID]*shipment.Shipment{
		shipmentID: {
			ID:              shipmentID,
			LifecyclePhase:  string(lifecycle.PhaseAwaitingDecisions),
			FingerprintID:   &fpID,
			PackagingTypeID: &pkgID,
		},
	}}
	rc := &fakeRateChecker{}

	w := NewLifecycleWorker(fq, repo, rc, testConfig(), testr.New(t))
	w.runBatch(context.Background())

	require.Eventually(t, func() bool {
		rc.mu.Lock()
		defer rc.mu.Unlock()
		return len(rc.analyzed) == 1
	}, time.Second, time.Millisecond)
}

func TestLifecycleWorker_RefusesDisallowedTransition(t *testing.T) {
	shipmentID := uuid.New()
	fq := &fakeLifecycleQueue{}
	fq.push(shipmentID)

	// Stored as ON_DOCK (terminal); derivation for a shipment with no
	// tracking number wants AWAITING_DECISIONS, which is not an allowed
	// edge from ON_DOCK.
	repo := &fakeShipmentRepo{byID: map[uuid.UUID]*shipment.Shipment{
		shipmentID: {ID: shipmentID, LifecyclePhase: string(lifecycle.PhaseOnDock)},
	}}
	rc := &fakeRateChecker{}

	w := NewLifecycleWorker(fq, repo, rc, testConfig(), testr.New(t))
	w.runBatch(context.Background())

	assert.Equal(t, 0, repo.calls)
	assert.Equal(t, int64(1), w.Status().Refusals)
}

func TestLifecycleWorker_BatchCapsAtFive(t *testing.T) {
	fq := &fakeLifecycleQueue{}
	repo := &fakeShipmentRepo{byID: map[uuid.UUID]*shipment.Shipment{}}
	for i := 0; i < 8; i++ {
		id := uuid.New()
		repo.byID[id] = &shipment.Shipment{ID: id, LifecyclePhase: string(lifecycle.PhaseReadyToPick)}
		fq.push(id)
	}
	rc := &fakeRateChecker{}
	w := NewLifecycleWorker(fq, repo, rc, testConfig(), testr.New(t))

	n := w.runBatch(context.Background())
	assert.Equal(t, 5, n)
	assert.Len(t, fq.jobs, 3)
}
