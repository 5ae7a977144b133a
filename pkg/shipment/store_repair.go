package shipment

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ShipmentsNeedingFingerprintRecalc finds shipments whose fingerprintStatus
// is null/needs_recalc/missing_weight/pending_categorization, or whose
// fingerprint has totalWeight=0, bounded to limit rows oldest-first.
func (s *Store) ShipmentsNeedingFingerprintRecalc(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids, `
		SELECT sh.id FROM shipments sh
		LEFT JOIN fingerprints fp ON fp.id = sh.fingerprint_id
		WHERE sh.fingerprint_status IS NULL
		   OR sh.fingerprint_status IN ('needs_recalc', 'missing_weight', 'pending_categorization')
		   OR (fp.id IS NOT NULL AND fp.total_weight = 0)
		ORDER BY sh.updated_at ASC LIMIT $1
	`, limit)
	return ids, err
}

// ShipmentsWithUnexplodedKits finds QC items whose SKU is a known kit in
// the kit-mapping table but isKitComponent=false — i.e., a kit that was
// never exploded — and returns their owning shipment ids.
func (s *Store) ShipmentsWithUnexplodedKits(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT qc.shipment_id FROM qc_items qc
		JOIN kit_mappings km ON km.parent_sku = qc.sku
		WHERE NOT qc.is_kit_component
		ORDER BY qc.shipment_id LIMIT $1
	`, limit)
	return ids, err
}

// ShipmentsWithUnsubstitutedVariants is the symmetric query for variant
// SKUs that should have been rewritten to their parent SKU.
func (s *Store) ShipmentsWithUnsubstitutedVariants(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT qc.shipment_id FROM qc_items qc
		JOIN products p ON p.sku = qc.sku
		WHERE p.parent_sku IS NOT NULL AND p.parent_sku != '' AND qc.variant_sku IS NULL
		ORDER BY qc.shipment_id LIMIT $1
	`, limit)
	return ids, err
}

// ShipmentsStuckMissingWeight targets shipments in missing_weight whose
// component SKUs have since acquired weight data in the product table.
func (s *Store) ShipmentsStuckMissingWeight(ctx context.Context, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.SelectContext(ctx, &ids, `
		SELECT sh.id FROM shipments sh
		WHERE sh.fingerprint_status = 'missing_weight'
		  AND NOT EXISTS (
			SELECT 1 FROM qc_items qc JOIN products p ON p.sku = qc.sku
			WHERE qc.shipment_id = sh.id AND (p.weight_value IS NULL OR p.weight_value <= 0)
		  )
		ORDER BY sh.updated_at ASC LIMIT $1
	`, limit)
	return ids, err
}

// ShipmentsContainingSKUs finds every unshipped shipment containing any of
// affectedSkus, for onCollectionChanged invalidation.
func (s *Store) ShipmentsContainingSKUs(ctx context.Context, skus []string) ([]uuid.UUID, error) {
	if len(skus) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		SELECT DISTINCT qc.shipment_id FROM qc_items qc
		JOIN shipments sh ON sh.id = qc.shipment_id
		WHERE qc.sku IN (?) AND sh.shipped_at IS NULL
	`, skus)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)
	var ids []uuid.UUID
	if err := s.db.SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, err
	}
	return ids, nil
}

// ClearFingerprintDecision wipes a shipment's fingerprint/packaging/station
// assignment and, for the unexploded-kit/variant repairs, its QC items too,
// ahead of re-hydration.
func (s *Store) ClearFingerprintDecision(ctx context.Context, shipmentID uuid.UUID, clearQCItems bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `
		UPDATE shipments
		SET fingerprint_id = NULL, fingerprint_status = 'needs_recalc', packaging_type_id = NULL, station_id = NULL, updated_at = now()
		WHERE id = $1
	`, shipmentID); err != nil {
		return err
	}
	if clearQCItems {
		if _, err := tx.ExecContext(ctx, `DELETE FROM qc_items WHERE shipment_id = $1`, shipmentID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// MarkNeedsRecalc sets fingerprintStatus='needs_recalc' without touching
// QC items or clearing the existing assignment.
func (s *Store) MarkNeedsRecalc(ctx context.Context, shipmentID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE shipments SET fingerprint_status = 'needs_recalc', updated_at = now() WHERE id = $1`, shipmentID)
	return err
}

// OrderNumber resolves the order number that is passed to Hydrate for a
// shipment id.
func (s *Store) OrderNumber(ctx context.Context, shipmentID uuid.UUID) (string, error) {
	var orderNumber string
	err := s.db.GetContext(ctx, &orderNumber, `SELECT external_order_number FROM shipments WHERE id = $1`, shipmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("shipment: order number not found")
	}
	return orderNumber, err
}
