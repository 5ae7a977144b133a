package fingerprint

import (
	"context"

	"github.com/google/uuid"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/apperr"
)

// RepairQueries is the set of targeted cohort lookups the ancillary
// fingerprint operations need. Backed by pkg/shipment's store in
// production; faked in tests.
type RepairQueries interface {
	// ShipmentsNeedingFingerprintRecalc returns shipments whose
	// fingerprintStatus is null/needs_recalc/missing_weight/
	// pending_categorization, or whose fingerprint has totalWeight=0.
	ShipmentsNeedingFingerprintRecalc(ctx context.Context, limit int) ([]uuid.UUID, error)

	// ShipmentsWithUnexplodedKits finds QC items whose SKU is a known kit
	// but isKitComponent=false.
	ShipmentsWithUnexplodedKits(ctx context.Context, limit int) ([]uuid.UUID, error)

	// ShipmentsWithUnsubstitutedVariants is the symmetric query for
	// variant SKUs that slipped through.
	ShipmentsWithUnsubstitutedVariants(ctx context.Context, limit int) ([]uuid.UUID, error)

	// ShipmentsStuckMissingWeight targets shipments in missing_weight
	// whose component SKUs have since acquired weight data.
	ShipmentsStuckMissingWeight(ctx context.Context, limit int) ([]uuid.UUID, error)

	// ShipmentsContainingSKUs finds every unshipped shipment containing
	// any of affectedSkus, for onCollectionChanged invalidation.
	ShipmentsContainingSKUs(ctx context.Context, skus []string) ([]uuid.UUID, error)

	// ClearFingerprintDecision wipes a shipment's fingerprint/packaging/
	// station assignment and, for the unexploded-kit/variant repairs,
	// its QC items too, ahead of re-hydration.
	ClearFingerprintDecision(ctx context.Context, shipmentID uuid.UUID, clearQCItems bool) error

	// MarkNeedsRecalc sets fingerprintStatus='needs_recalc' without
	// touching QC items or the existing assignment.
	MarkNeedsRecalc(ctx context.Context, shipmentID uuid.UUID) error

	// OrderNumber resolves the order number that is passed to Hydrate for
	// a shipment id.
	OrderNumber(ctx context.Context, shipmentID uuid.UUID) (string, error)
}

// BackfillResult summarizes one ancillary run.
type BackfillResult struct {
	Attempted int
	Succeeded int
	Deferred  int
	Failed    int
}

// BackfillFingerprints reprocesses shipments whose fingerprint needs
// recomputation.
func (e *Engine) BackfillFingerprints(ctx context.Context, repair RepairQueries, limit int) (*BackfillResult, error) {
	ids, err := repair.ShipmentsNeedingFingerprintRecalc(ctx, limit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "list shipments needing fingerprint recalc")
	}
	return e.rehydrateAll(ctx, repair, ids, false)
}

// RepairUnexplodedKits finds QC items whose SKU is a known kit but was
// never exploded, wipes QC items + assignments, and re-hydrates.
func (e *Engine) RepairUnexplodedKits(ctx context.Context, repair RepairQueries, limit int) (*BackfillResult, error) {
	ids, err := repair.ShipmentsWithUnexplodedKits(ctx, limit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "list shipments with unexploded kits")
	}
	return e.rehydrateAll(ctx, repair, ids, true)
}

// RepairUnsubstitutedVariants is the symmetric repair for variant SKUs
// that slipped through without substitution.
func (e *Engine) RepairUnsubstitutedVariants(ctx context.Context, repair RepairQueries, limit int) (*BackfillResult, error) {
	ids, err := repair.ShipmentsWithUnsubstitutedVariants(ctx, limit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "list shipments with unsubstituted variants")
	}
	return e.rehydrateAll(ctx, repair, ids, true)
}

// RepairMissingWeightShipments targets shipments stuck in missing_weight
// whose component SKUs have since acquired weight data.
func (e *Engine) RepairMissingWeightShipments(ctx context.Context, repair RepairQueries, limit int) (*BackfillResult, error) {
	ids, err := repair.ShipmentsStuckMissingWeight(ctx, limit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Transient, "list shipments stuck missing weight")
	}
	return e.rehydrateAll(ctx, repair, ids, false)
}

func (e *Engine) rehydrateAll(ctx context.Context, repair RepairQueries, ids []uuid.UUID, clearQCItems bool) (*BackfillResult, error) {
	result := &BackfillResult{Attempted: len(ids)}
	for _, id := range ids {
		if err := repair.ClearFingerprintDecision(ctx, id, clearQCItems); err != nil {
			result.Failed++
			continue
		}
		orderNumber, err := repair.OrderNumber(ctx, id)
		if err != nil {
			result.Failed++
			continue
		}
		if _, err := e.Hydrate(ctx, id, orderNumber); err != nil {
			if apperr.Is(err, apperr.Deferred) {
				result.Deferred++
			} else {
				result.Failed++
			}
			continue
		}
		result.Succeeded++
	}
	return result, nil
}

// OnCollectionChanged invalidates every unshipped shipment containing any
// of affectedSkus: sets fingerprintStatus='needs_recalc' and clears the
// fingerprint/packaging/station assignment, without touching QC items
// (mutating a mapping invalidates every active, not-yet-shipped shipment
// containing that SKU).
func (e *Engine) OnCollectionChanged(ctx context.Context, repair RepairQueries, affectedSkus []string) (int, error) {
	ids, err := repair.ShipmentsContainingSKUs(ctx, affectedSkus)
	if err != nil {
		return 0, apperr.Wrap(err, apperr.Transient, "list shipments containing affected SKUs")
	}
	for _, id := range ids {
		if err := repair.ClearFingerprintDecision(ctx, id, false); err != nil {
			return 0, apperr.Wrapf(err, apperr.Transient, "clear fingerprint decision for %s", id)
		}
		e.enqueueLifecycleBestEffort(ctx, id)
	}
	return len(ids), nil
}
