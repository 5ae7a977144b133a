package session

import (
	"context"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
)

type fakeStore struct {
	candidates     []Candidate
	drafts         map[shipment.StationType][]OpenDraft
	invalid        map[uuid.UUID]bool
	assigned       map[uuid.UUID]struct {
		session uuid.UUID
		spot    int
	}
	createdSessions []uuid.UUID
	bumps           map[uuid.UUID]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		drafts:  map[shipment.StationType][]OpenDraft{},
		invalid: map[uuid.UUID]bool{},
		assigned: map[uuid.UUID]struct {
			session uuid.UUID
			spot    int
		}{},
		bumps: map[uuid.UUID]int{},
	}
}

func (f *fakeStore) FindSessionableShipments(ctx context.Context, stationType *shipment.StationType) ([]Candidate, error) {
	return f.candidates, nil
}

func (f *fakeStore) FindOpenDrafts(ctx context.Context, stationType shipment.StationType) ([]OpenDraft, error) {
	return f.drafts[stationType], nil
}

func (f *fakeStore) Revalidate(ctx context.Context, shipmentID uuid.UUID) (bool, error) {
	return !f.invalid[shipmentID], nil
}

func (f *fakeStore) CreateSession(ctx context.Context, stationType shipment.StationType, stationID uuid.UUID, maxOrders int) (uuid.UUID, error) {
	id := uuid.New()
	f.createdSessions = append(f.createdSessions, id)
	return id, nil
}

func (f *fakeStore) AssignToSession(ctx context.Context, shipmentID, sessionID uuid.UUID, spot int) error {
	f.assigned[shipmentID] = struct {
		session uuid.UUID
		spot    int
	}{session: sessionID, spot: spot}
	return nil
}

func (f *fakeStore) BumpOrderCount(ctx context.Context, sessionID uuid.UUID, delta int) error {
	f.bumps[sessionID] += delta
	return nil
}

type fakeLifecycle struct{ enqueued []uuid.UUID }

func (f *fakeLifecycle) EnqueueLifecycleEval(ctx context.Context, shipmentID uuid.UUID) error {
	f.enqueued = append(f.enqueued, shipmentID)
	return nil
}

func candidatesFor(n int, stationType shipment.StationType, stationID, fpID uuid.UUID) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{ShipmentID: uuid.New(), StationID: stationID, StationType: stationType, FingerprintID: fpID, OrderNumber: uuid.New().String()}
	}
	return out
}

func TestBuildSessions_FillsOpenDraftBeforeOpeningNew(t *testing.T) {
	stationID := uuid.New()
	fpID := uuid.New()
	cands := candidatesFor(3, shipment.StationBoxingMachine, stationID, fpID)

	store := newFakeStore()
	store.candidates = cands
	draftID := uuid.New()
	store.drafts[shipment.StationBoxingMachine] = []OpenDraft{{SessionID: draftID, StationType: shipment.StationBoxingMachine, OrderCount: 26, MaxOrders: 28, MaxSpot: 26}}

	lc := &fakeLifecycle{}
	b := NewBatcher(store, lc, testr.New(t))
	res, err := b.BuildSessions(context.Background(), uuid.New(), Options{})
	require.NoError(t, err)

	require.Len(t, res.Groups, 1)
	assert.Equal(t, 3, res.Groups[0].Assigned)
	// Draft has capacity for 2; the third candidate overflows into one new session.
	assert.Len(t, store.createdSessions, 1)
	assert.Equal(t, 2, store.bumps[draftID])
	assert.Len(t, lc.enqueued, 3)
}

func TestBuildSessions_OverflowsIntoNewSessionCappedAt28(t *testing.T) {
	stationID := uuid.New()
	fpID := uuid.New()
	cands := candidatesFor(30, shipment.StationPolyBag, stationID, fpID)

	store := newFakeStore()
	store.candidates = cands

	b := NewBatcher(store, &fakeLifecycle{}, testr.New(t))
	res, err := b.BuildSessions(context.Background(), uuid.New(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 30, res.Groups[0].Assigned)
	assert.Len(t, store.createdSessions, 2) // 28 + 2
}

func TestBuildSessions_RejectsCandidatesThatFailRevalidation(t *testing.T) {
	stationID := uuid.New()
	fpID := uuid.New()
	cands := candidatesFor(2, shipment.StationHandPack, stationID, fpID)

	store := newFakeStore()
	store.candidates = cands
	store.invalid[cands[0].ShipmentID] = true

	b := NewBatcher(store, &fakeLifecycle{}, testr.New(t))
	res, err := b.BuildSessions(context.Background(), uuid.New(), Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Groups[0].Assigned)
	assert.Equal(t, 1, res.Groups[0].Rejected)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, cands[0].ShipmentID, res.Rejected[0].ShipmentID)
}

func TestBuildSessions_DryRunWritesNothing(t *testing.T) {
	stationID := uuid.New()
	fpID := uuid.New()
	cands := candidatesFor(5, shipment.StationBoxingMachine, stationID, fpID)

	store := newFakeStore()
	store.candidates = cands

	b := NewBatcher(store, &fakeLifecycle{}, testr.New(t))
	res, err := b.BuildSessions(context.Background(), uuid.New(), Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, 5, res.Groups[0].Assigned)
	assert.Empty(t, store.createdSessions)
	assert.Empty(t, store.assigned)
	assert.Empty(t, store.bumps)
}

func TestBuildSessions_GroupsByStationTypePriorityThenFingerprint(t *testing.T) {
	stationID := uuid.New()
	handPack := candidatesFor(1, shipment.StationHandPack, stationID, uuid.New())
	boxing := candidatesFor(1, shipment.StationBoxingMachine, stationID, uuid.New())
	polyBag := candidatesFor(1, shipment.StationPolyBag, stationID, uuid.New())

	store := newFakeStore()
	store.candidates = append(append(handPack, boxing...), polyBag...)

	b := NewBatcher(store, &fakeLifecycle{}, testr.New(t))
	res, err := b.BuildSessions(context.Background(), uuid.New(), Options{})
	require.NoError(t, err)

	require.Len(t, res.Groups, 3)
	assert.Equal(t, shipment.StationBoxingMachine, res.Groups[0].StationType)
	assert.Equal(t, shipment.StationPolyBag, res.Groups[1].StationType)
	assert.Equal(t, shipment.StationHandPack, res.Groups[2].StationType)
}
