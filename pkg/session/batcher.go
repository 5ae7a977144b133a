// Package session implements the batching algorithm that groups
// sessionable shipments into fulfillment sessions by station type and
// fingerprint.
package session

import (
	"context"
	"sort"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/apperr"
	"github.com/xrgarcia/jerky-shipping-sub001/internal/telemetry"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
)

// Candidate is one sessionable shipment as the batcher's query returns it,
// already filtered to decisionSubphase=NEEDS_SESSION ∧ has packaging ∧ has
// station ∧ no session ∧ on_hold ∧ hasMoveOverTag ∧ not cancelled.
type Candidate struct {
	ShipmentID    uuid.UUID
	StationID     uuid.UUID
	StationType   shipment.StationType
	FingerprintID uuid.UUID
	OrderNumber   string
}

// OpenDraft is an existing draft session with spare capacity.
type OpenDraft struct {
	SessionID   uuid.UUID
	StationType shipment.StationType
	StationID   uuid.UUID
	OrderCount  int
	MaxOrders   int
	MaxSpot     int // current highest smartSessionSpot, 0 if the draft is empty
}

// Store is the persistence the batcher needs: finding the candidate pool
// and the open drafts, re-validating a candidate immediately before
// mutating it, and writing the assignment.
type Store interface {
	FindSessionableShipments(ctx context.Context, stationType *shipment.StationType) ([]Candidate, error)
	FindOpenDrafts(ctx context.Context, stationType shipment.StationType) ([]OpenDraft, error)
	Revalidate(ctx context.Context, shipmentID uuid.UUID) (bool, error)
	CreateSession(ctx context.Context, stationType shipment.StationType, stationID uuid.UUID, maxOrders int) (uuid.UUID, error)
	AssignToSession(ctx context.Context, shipmentID, sessionID uuid.UUID, spot int) error
	BumpOrderCount(ctx context.Context, sessionID uuid.UUID, delta int) error
}

// LifecycleEnqueuer enqueues a lifecycle re-evaluation after a session
// assignment.
type LifecycleEnqueuer interface {
	EnqueueLifecycleEval(ctx context.Context, shipmentID uuid.UUID) error
}

const defaultMaxOrders = 28

// Options controls one buildSessions invocation.
type Options struct {
	StationType *shipment.StationType
	DryRun      bool
}

// GroupResult summarizes one (stationType, fingerprintId) group's outcome.
type GroupResult struct {
	StationType   shipment.StationType
	FingerprintID uuid.UUID
	Assigned      int
	Rejected      int
}

// Result is buildSessions' full outcome.
type Result struct {
	Groups   []GroupResult
	Rejected []Rejection
}

// Rejection names a candidate the batcher refused to assign and why.
type Rejection struct {
	ShipmentID uuid.UUID
	Reason     string
}

// Batcher runs buildSessions.
type Batcher struct {
	store     Store
	lifecycle LifecycleEnqueuer
	log       logr.Logger
}

func NewBatcher(store Store, lifecycle LifecycleEnqueuer, log logr.Logger) *Batcher {
	return &Batcher{store: store, lifecycle: lifecycle, log: log.WithValues("component", "session_batcher")}
}

type group struct {
	stationType   shipment.StationType
	fingerprintID uuid.UUID
	stationID     uuid.UUID
	candidates    []Candidate
}

// BuildSessions groups sessionable shipments by (stationType, fingerprintId),
// fills existing open drafts first, then opens new sessions capped at
// maxOrders=28. Every candidate is re-validated immediately before it is
// mutated; DryRun reports counts without writing anything.
func (b *Batcher) BuildSessions(ctx context.Context, userID uuid.UUID, opts Options) (*Result, error) {
	candidates, err := b.store.FindSessionableShipments(ctx, opts.StationType)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "find sessionable shipments")
	}

	sort.Slice(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.StationID != cj.StationID {
			return ci.StationID.String() < cj.StationID.String()
		}
		if ci.FingerprintID != cj.FingerprintID {
			return ci.FingerprintID.String() < cj.FingerprintID.String()
		}
		return ci.OrderNumber < cj.OrderNumber
	})

	groups := groupByStationAndFingerprint(candidates)
	sort.Slice(groups, func(i, j int) bool {
		pi := shipment.StationTypePriority(groups[i].stationType)
		pj := shipment.StationTypePriority(groups[j].stationType)
		if pi != pj {
			return pi < pj
		}
		return groups[i].fingerprintID.String() < groups[j].fingerprintID.String()
	})

	result := &Result{}
	draftsByStationType := map[shipment.StationType][]OpenDraft{}

	for _, g := range groups {
		drafts, ok := draftsByStationType[g.stationType]
		if !ok {
			drafts, err = b.store.FindOpenDrafts(ctx, g.stationType)
			if err != nil {
				return nil, apperr.Wrap(err, apperr.Transient, "find open drafts")
			}
			draftsByStationType[g.stationType] = drafts
		}

		gr := GroupResult{StationType: g.stationType, FingerprintID: g.fingerprintID}
		remaining := g.candidates

		for i := range drafts {
			if len(remaining) == 0 {
				break
			}
			d := &drafts[i]
			capacity := d.MaxOrders - d.OrderCount
			if capacity <= 0 {
				continue
			}
			take := remaining
			if len(take) > capacity {
				take = take[:capacity]
			}
			assigned, rejections, err := b.fillSession(ctx, d.SessionID, d.MaxSpot, g.stationType, take, opts.DryRun)
			if err != nil {
				return nil, err
			}
			gr.Assigned += assigned
			gr.Rejected += len(rejections)
			result.Rejected = append(result.Rejected, rejections...)
			d.OrderCount += assigned
			d.MaxSpot += assigned
			remaining = remaining[len(take):]
		}

		for len(remaining) > 0 {
			take := remaining
			if len(take) > defaultMaxOrders {
				take = take[:defaultMaxOrders]
			}
			var sessionID uuid.UUID
			if !opts.DryRun {
				sessionID, err = b.store.CreateSession(ctx, g.stationType, g.stationID, defaultMaxOrders)
				if err != nil {
					return nil, apperr.Wrap(err, apperr.Transient, "create session")
				}
			}
			assigned, rejections, err := b.fillSession(ctx, sessionID, 0, g.stationType, take, opts.DryRun)
			if err != nil {
				return nil, err
			}
			gr.Assigned += assigned
			gr.Rejected += len(rejections)
			result.Rejected = append(result.Rejected, rejections...)
			remaining = remaining[len(take):]
		}

		result.Groups = append(result.Groups, gr)
	}

	return result, nil
}

// fillSession assigns up to len(candidates) shipments to sessionID,
// re-validating each immediately before the write. Returns the count
// actually assigned and the candidates revalidation rejected.
func (b *Batcher) fillSession(ctx context.Context, sessionID uuid.UUID, startSpot int, stationType shipment.StationType, candidates []Candidate, dryRun bool) (assigned int, rejections []Rejection, err error) {
	spot := startSpot
	for _, c := range candidates {
		ok, err := b.store.Revalidate(ctx, c.ShipmentID)
		if err != nil {
			return assigned, rejections, apperr.Wrap(err, apperr.Transient, "revalidate candidate")
		}
		if !ok {
			rejections = append(rejections, Rejection{ShipmentID: c.ShipmentID, Reason: "no longer eligible for NEEDS_SESSION"})
			continue
		}
		if dryRun {
			assigned++
			continue
		}
		spot++
		if err := b.store.AssignToSession(ctx, c.ShipmentID, sessionID, spot); err != nil {
			return assigned, rejections, apperr.Wrap(err, apperr.Transient, "assign to session")
		}
		assigned++
		telemetry.RecordSessionAssignment(string(stationType))
		b.enqueueLifecycleBestEffort(ctx, c.ShipmentID)
	}
	if !dryRun && assigned > 0 {
		if err := b.store.BumpOrderCount(ctx, sessionID, assigned); err != nil {
			return assigned, rejections, apperr.Wrap(err, apperr.Transient, "bump session order count")
		}
	}
	return assigned, rejections, nil
}

func (b *Batcher) enqueueLifecycleBestEffort(ctx context.Context, shipmentID uuid.UUID) {
	if err := b.lifecycle.EnqueueLifecycleEval(ctx, shipmentID); err != nil {
		b.log.Error(err, "lifecycle enqueue failed", "shipment", shipmentID)
	}
}

func groupByStationAndFingerprint(candidates []Candidate) []group {
	index := map[string]int{}
	var groups []group
	for _, c := range candidates {
		key := string(c.StationType) + "|" + c.FingerprintID.String()
		if i, ok := index[key]; ok {
			groups[i].candidates = append(groups[i].candidates, c)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, group{
			stationType: c.StationType, fingerprintID: c.FingerprintID,
			stationID: c.StationID, candidates: []Candidate{c},
		})
	}
	return groups
}

