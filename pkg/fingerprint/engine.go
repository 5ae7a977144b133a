// Package fingerprint implements the QC-explosion and fingerprinting
// engine: it turns purchased line items into
// scannable QC items, computes the canonical packaging signature, and
// auto-assigns packaging when a matching fingerprint model already
// exists.
package fingerprint

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/apperr"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/catalog"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
)

// ItemStore reads the purchased lines ingest wrote.
type ItemStore interface {
	GetPurchasedItems(ctx context.Context, shipmentID uuid.UUID) ([]shipment.ShipmentItem, error)
}

// QCStore owns the post-explosion QC items for a shipment.
type QCStore interface {
	ReplaceQCItems(ctx context.Context, shipmentID uuid.UUID, items []shipment.QCItem) error
	GetQCItems(ctx context.Context, shipmentID uuid.UUID) ([]shipment.QCItem, error)
}

// FingerprintStore owns fingerprint and fingerprint-model rows.
type FingerprintStore interface {
	FindOrCreate(ctx context.Context, fp shipment.Fingerprint) (row shipment.Fingerprint, isNew bool, err error)
	GetModel(ctx context.Context, fingerprintID uuid.UUID) (*shipment.FingerprintModel, error)
}

// StationResolver maps a packaging type onto the first active station of
// its station-type.
type StationResolver interface {
	FirstActiveStationForPackaging(ctx context.Context, packagingTypeID uuid.UUID) (*uuid.UUID, error)
}

// CollectionLookup is the product-collection mapping:
// SKU -> collection id, the source of truth for categorization.
type CollectionLookup interface {
	GetCollections(ctx context.Context, skus []string) (map[string]string, error)
}

// ShipmentStore reads/writes the shipment row's fingerprint-related
// fields.
type ShipmentStore interface {
	GetShipment(ctx context.Context, id uuid.UUID) (*shipment.Shipment, error)
	ApplyHydrationDecision(ctx context.Context, id uuid.UUID, fingerprintID *uuid.UUID, status shipment.FingerprintStatus, packagingTypeID, stationID *uuid.UUID) error
}

// LifecycleEnqueuer triggers a re-evaluation after hydration mutates a
// shipment's fingerprint-related fields.
type LifecycleEnqueuer interface {
	EnqueueLifecycleEval(ctx context.Context, shipmentID uuid.UUID) error
}

// Config carries the operator-configured exclusion set (sentinel kits like
// BUILDBAG).
type Config struct {
	ExcludedSKUs map[string]bool
}

type Engine struct {
	items       ItemStore
	qc          QCStore
	fingerprints FingerprintStore
	stations    StationResolver
	collections CollectionLookup
	shipments   ShipmentStore
	catalog     *catalog.Cache
	lifecycle   LifecycleEnqueuer
	cfg         Config
}

func NewEngine(
	items ItemStore,
	qc QCStore,
	fingerprints FingerprintStore,
	stations StationResolver,
	collections CollectionLookup,
	shipments ShipmentStore,
	cat *catalog.Cache,
	lifecycle LifecycleEnqueuer,
	cfg Config,
) *Engine {
	return &Engine{
		items: items, qc: qc, fingerprints: fingerprints, stations: stations,
		collections: collections, shipments: shipments, catalog: cat,
		lifecycle: lifecycle, cfg: cfg,
	}
}

// HydrationResult reports what Hydrate did.
type HydrationResult struct {
	ItemsCreated          int
	FingerprintStatus     shipment.FingerprintStatus
	FingerprintIsNew      bool
	UncategorizedSKUs     []string
	MissingWeightSKUs     []string
}

// resolvedLine is one post-aggregation (SKU, qty) destined to become a QC
// item.
type resolvedLine struct {
	sku            string
	qty            int
	parentSKU      string // set when this line is a kit component
	isKitComponent bool
	variantSKU     string // set when this line was substituted from a variant
}

// Hydrate runs the full explosion + fingerprint algorithm for one
// shipment. Every step is idempotent — re-running on an already-hydrated
// shipment with no collection/weight changes reproduces the same QC items
// and fingerprint id.
func (e *Engine) Hydrate(ctx context.Context, shipmentID uuid.UUID, orderNumber string) (*HydrationResult, error) {
	purchased, err := e.items.GetPurchasedItems(ctx, shipmentID)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.Transient, "load purchased items for %s", shipmentID)
	}

	rawSKUs := make([]string, 0, len(purchased))
	for _, it := range purchased {
		rawSKUs = append(rawSKUs, it.SKU)
	}

	rawCatalog, err := e.catalog.GetProducts(ctx, rawSKUs)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.Transient, "load catalog for %s", shipmentID)
	}
	if err := e.catalog.Preload(ctx, rawSKUs); err != nil {
		return nil, apperr.Wrapf(err, apperr.Transient, "preload kit mappings for %s", shipmentID)
	}

	lines, err := e.resolveLines(purchased, rawCatalog)
	if err != nil {
		return nil, err
	}

	aggregated := aggregate(lines)
	aggregated = e.dropExcluded(aggregated)

	finalSKUs := make([]string, 0, len(aggregated))
	for _, l := range aggregated {
		finalSKUs = append(finalSKUs, l.sku)
	}
	finalCatalog, err := e.catalog.GetProducts(ctx, finalSKUs)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.Transient, "load final catalog for %s", shipmentID)
	}
	collections, err := e.collections.GetCollections(ctx, finalSKUs)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.Transient, "load collections for %s", shipmentID)
	}

	qcItems := make([]shipment.QCItem, 0, len(aggregated))
	for _, l := range aggregated {
		qc := shipment.QCItem{
			ID:             uuid.New(),
			ShipmentID:     shipmentID,
			SKU:            l.sku,
			ExpectedQty:    l.qty,
			IsKitComponent: l.isKitComponent,
		}
		if l.parentSKU != "" {
			qc.ParentSKU = &l.parentSKU
		}
		if l.variantSKU != "" {
			qc.VariantSKU = &l.variantSKU
		}
		if p, ok := finalCatalog[l.sku]; ok {
			qc.Barcode = &p.Barcode
			qc.ImageURL = &p.ImageURL
			qc.UnitWeight = &p.WeightValue
			qc.WeightUnit = &p.WeightUnit
			qc.Location = &p.PhysicalLocation
		}
		if cid, ok := collections[l.sku]; ok {
			qc.CollectionID = &cid
		}
		qcItems = append(qcItems, qc)
	}

	if err := e.qc.ReplaceQCItems(ctx, shipmentID, qcItems); err != nil {
		return nil, apperr.Wrapf(err, apperr.Transient, "upsert QC items for %s", shipmentID)
	}

	result := &HydrationResult{ItemsCreated: len(qcItems)}

	var uncategorized []string
	for _, it := range qcItems {
		if it.CollectionID == nil || *it.CollectionID == "" {
			uncategorized = append(uncategorized, it.SKU)
		}
	}
	if len(uncategorized) > 0 {
		result.UncategorizedSKUs = uncategorized
		result.FingerprintStatus = shipment.FingerprintPendingCategorization
		if err := e.shipments.ApplyHydrationDecision(ctx, shipmentID, nil, result.FingerprintStatus, nil, nil); err != nil {
			return nil, apperr.Wrapf(err, apperr.Transient, "persist pending_categorization for %s", shipmentID)
		}
		e.enqueueLifecycleBestEffort(ctx, shipmentID)
		return result, nil
	}

	var missingWeight []string
	for _, it := range qcItems {
		if it.UnitWeight == nil || *it.UnitWeight <= 0 {
			missingWeight = append(missingWeight, it.SKU)
		}
	}
	if len(missingWeight) > 0 {
		result.MissingWeightSKUs = missingWeight
		result.FingerprintStatus = shipment.FingerprintMissingWeight
		if err := e.shipments.ApplyHydrationDecision(ctx, shipmentID, nil, result.FingerprintStatus, nil, nil); err != nil {
			return nil, apperr.Wrapf(err, apperr.Transient, "persist missing_weight for %s", shipmentID)
		}
		e.enqueueLifecycleBestEffort(ctx, shipmentID)
		return result, nil
	}

	collectionQuantities := map[string]int{}
	var totalWeight float64
	for _, it := range qcItems {
		collectionQuantities[*it.CollectionID] += it.ExpectedQty
		totalWeight += *it.UnitWeight * float64(it.ExpectedQty)
	}
	totalWeight = Round1dp(totalWeight)

	signature := BuildSignature(collectionQuantities, totalWeight)
	hash := SignatureHash(signature)

	fp := shipment.Fingerprint{
		ID:            uuid.New(),
		SignatureHash: hash,
		Signature:     signature,
		DisplayName:   fmt.Sprintf("%s (%d items, %.1f)", hash[:8], len(qcItems), totalWeight),
		ItemCount:     len(qcItems),
		TotalWeight:   totalWeight,
		WeightUnit:    "oz",
	}
	row, isNew, err := e.fingerprints.FindOrCreate(ctx, fp)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.Transient, "find-or-create fingerprint for %s", shipmentID)
	}
	result.FingerprintStatus = shipment.FingerprintComplete
	result.FingerprintIsNew = isNew

	var packagingTypeID, stationID *uuid.UUID
	model, err := e.fingerprints.GetModel(ctx, row.ID)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.Transient, "load fingerprint model for %s", row.ID)
	}
	if model != nil {
		packagingTypeID = &model.PackagingTypeID
		stationID, err = e.stations.FirstActiveStationForPackaging(ctx, model.PackagingTypeID)
		if err != nil {
			return nil, apperr.Wrapf(err, apperr.Transient, "resolve station for packaging %s", model.PackagingTypeID)
		}
	}

	if err := e.shipments.ApplyHydrationDecision(ctx, shipmentID, &row.ID, result.FingerprintStatus, packagingTypeID, stationID); err != nil {
		return nil, apperr.Wrapf(err, apperr.Transient, "persist fingerprint decision for %s", shipmentID)
	}

	e.enqueueLifecycleBestEffort(ctx, shipmentID)
	return result, nil
}

func (e *Engine) enqueueLifecycleBestEffort(ctx context.Context, shipmentID uuid.UUID) {
	// Enqueue failures here are themselves retried by the repair worker
	// sweeping stale (shipment, lifecyclePhase) pairs; they
	// must not fail the hydration that already committed.
	_ = e.lifecycle.EnqueueLifecycleEval(ctx, shipmentID)
}

// resolveLines explodes kits, substitutes variants, or keeps a line as-is,
// deferring on a wholly missing catalog entry.
func (e *Engine) resolveLines(purchased []shipment.ShipmentItem, rawCatalog map[string]catalog.Product) ([]resolvedLine, error) {
	var lines []resolvedLine
	for _, item := range purchased {
		p, ok := rawCatalog[item.SKU]
		if !ok {
			return nil, apperr.Newf(apperr.Deferred, "catalog entry missing for SKU %s", item.SKU).
				WithDetails("defer hydration until catalog sync catches up")
		}

		shouldExplode := p.ProductCategory == "kit" && e.catalog.GetComponents(item.SKU) != nil
		shouldExplode = shouldExplode || (p.IsAssembledProduct && p.QuantityOnHand == 0 && e.catalog.GetComponents(item.SKU) != nil)

		switch {
		case shouldExplode:
			for _, comp := range e.catalog.GetComponents(item.SKU) {
				lines = append(lines, resolvedLine{
					sku:            comp.SKU,
					qty:            comp.Qty * item.Quantity,
					parentSKU:      item.SKU,
					isKitComponent: true,
				})
			}
		case p.ParentSKU != "":
			lines = append(lines, resolvedLine{
				sku:        p.ParentSKU,
				qty:        item.Quantity,
				variantSKU: item.SKU,
			})
		default:
			lines = append(lines, resolvedLine{sku: item.SKU, qty: item.Quantity})
		}
	}
	return lines, nil
}

// aggregate sums quantities for colliding SKUs, preserving kit-component
// lineage if any occurrence was exploded.
func aggregate(lines []resolvedLine) []resolvedLine {
	type key = string
	order := make([]string, 0, len(lines))
	bySKU := map[key]*resolvedLine{}

	for _, l := range lines {
		existing, ok := bySKU[l.sku]
		if !ok {
			copyLine := l
			bySKU[l.sku] = &copyLine
			order = append(order, l.sku)
			continue
		}
		existing.qty += l.qty
		if l.isKitComponent {
			existing.isKitComponent = true
			if existing.parentSKU == "" {
				existing.parentSKU = l.parentSKU
			}
		}
		if existing.variantSKU == "" {
			existing.variantSKU = l.variantSKU
		}
	}

	out := make([]resolvedLine, 0, len(order))
	for _, sku := range order {
		out = append(out, *bySKU[sku])
	}
	return out
}

// dropExcluded removes any SKU (top-level or component) in the
// configured exclusion set — sentinel kits such as BUILDBAG that exist
// only to trigger packaging logic and carry no real inventory.
func (e *Engine) dropExcluded(lines []resolvedLine) []resolvedLine {
	if len(e.cfg.ExcludedSKUs) == 0 {
		return lines
	}
	out := make([]resolvedLine, 0, len(lines))
	for _, l := range lines {
		if e.cfg.ExcludedSKUs[l.sku] {
			continue
		}
		out = append(out, l)
	}
	return out
}
