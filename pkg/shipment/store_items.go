package shipment

import (
	"context"

	"github.com/google/uuid"
)

type shipmentItemRow struct {
	ID         uuid.UUID `db:"id"`
	ShipmentID uuid.UUID `db:"shipment_id"`
	SKU        string    `db:"sku"`
	Quantity   int       `db:"quantity"`
	UnitPrice  float64   `db:"unit_price"`
}

// GetPurchasedItems loads the storefront-ingested line items for a
// shipment, ordered by item id (not by insertion order).
func (s *Store) GetPurchasedItems(ctx context.Context, shipmentID uuid.UUID) ([]ShipmentItem, error) {
	var rows []shipmentItemRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, shipment_id, sku, quantity, unit_price
		FROM shipment_items WHERE shipment_id = $1 ORDER BY id
	`, shipmentID); err != nil {
		return nil, err
	}
	out := make([]ShipmentItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, ShipmentItem{ID: r.ID, ShipmentID: r.ShipmentID, SKU: r.SKU, Quantity: r.Quantity, UnitPrice: r.UnitPrice})
	}
	return out, nil
}

type qcItemRow struct {
	ID             uuid.UUID      `db:"id"`
	ShipmentID     uuid.UUID      `db:"shipment_id"`
	SKU            string         `db:"sku"`
	Barcode        *string        `db:"barcode"`
	ImageURL       *string        `db:"image_url"`
	ExpectedQty    int            `db:"expected_qty"`
	ParentSKU      *string        `db:"parent_sku"`
	IsKitComponent bool           `db:"is_kit_component"`
	CollectionID   *string        `db:"collection_id"`
	UnitWeight     *float64       `db:"unit_weight"`
	WeightUnit     *string        `db:"weight_unit"`
	Location       *string        `db:"location"`
	VariantSKU     *string        `db:"variant_sku"`
}

func (r qcItemRow) toQCItem() QCItem {
	return QCItem{
		ID: r.ID, ShipmentID: r.ShipmentID, SKU: r.SKU, Barcode: r.Barcode,
		ImageURL: r.ImageURL, ExpectedQty: r.ExpectedQty, ParentSKU: r.ParentSKU,
		IsKitComponent: r.IsKitComponent, CollectionID: r.CollectionID,
		UnitWeight: r.UnitWeight, WeightUnit: r.WeightUnit, Location: r.Location,
		VariantSKU: r.VariantSKU,
	}
}

// GetQCItems loads the post-explosion QC items for a shipment.
func (s *Store) GetQCItems(ctx context.Context, shipmentID uuid.UUID) ([]QCItem, error) {
	var rows []qcItemRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, shipment_id, sku, barcode, image_url, expected_qty, parent_sku,
		       is_kit_component, collection_id, unit_weight, weight_unit, location, variant_sku
		FROM qc_items WHERE shipment_id = $1 ORDER BY id
	`, shipmentID); err != nil {
		return nil, err
	}
	out := make([]QCItem, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toQCItem())
	}
	return out, nil
}

// ReplaceQCItems wholesale-replaces a shipment's QC items inside one
// transaction: every re-hydration is idempotent, so the simplest correct
// write is delete-then-insert rather than a diff.
func (s *Store) ReplaceQCItems(ctx context.Context, shipmentID uuid.UUID, items []QCItem) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM qc_items WHERE shipment_id = $1`, shipmentID); err != nil {
		return err
	}
	for _, it := range items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO qc_items (id, shipment_id, sku, barcode, image_url, expected_qty, parent_sku,
			                       is_kit_component, collection_id, unit_weight, weight_unit, location, variant_sku)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, it.ID, shipmentID, it.SKU, it.Barcode, it.ImageURL, it.ExpectedQty, it.ParentSKU,
			it.IsKitComponent, it.CollectionID, it.UnitWeight, it.WeightUnit, it.Location, it.VariantSKU); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// HasQCItems reports whether a shipment already has any QC items, the
// signal the session sync worker uses to skip proactive hydration for an
// already-hydrated shipment.
func (s *Store) HasQCItems(ctx context.Context, shipmentID uuid.UUID) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n, `SELECT count(*) FROM qc_items WHERE shipment_id = $1`, shipmentID)
	return n > 0, err
}
