package shipment

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type fingerprintRow struct {
	ID            uuid.UUID `db:"id"`
	SignatureHash string    `db:"signature_hash"`
	Signature     string    `db:"signature"`
	DisplayName   string    `db:"display_name"`
	ItemCount     int       `db:"item_count"`
	TotalWeight   float64   `db:"total_weight"`
	WeightUnit    string    `db:"weight_unit"`
	CreatedAt     sql.NullTime `db:"created_at"`
}

func (r fingerprintRow) toFingerprint() Fingerprint {
	fp := Fingerprint{
		ID: r.ID, SignatureHash: r.SignatureHash, Signature: r.Signature,
		DisplayName: r.DisplayName, ItemCount: r.ItemCount,
		TotalWeight: r.TotalWeight, WeightUnit: r.WeightUnit,
	}
	if r.CreatedAt.Valid {
		fp.CreatedAt = r.CreatedAt.Time
	}
	return fp
}

// FindOrCreate looks up a fingerprint by its signature hash, inserting a
// new row only on a miss. The unique index on signature_hash makes the
// insert racy-safe: a conflicting concurrent insert falls back to the
// now-present row.
func (s *Store) FindOrCreate(ctx context.Context, fp Fingerprint) (Fingerprint, bool, error) {
	var existing fingerprintRow
	err := s.db.GetContext(ctx, &existing, `
		SELECT id, signature_hash, signature, display_name, item_count, total_weight, weight_unit, created_at
		FROM fingerprints WHERE signature_hash = $1
	`, fp.SignatureHash)
	if err == nil {
		return existing.toFingerprint(), false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Fingerprint{}, false, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fingerprints (id, signature_hash, signature, display_name, item_count, total_weight, weight_unit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (signature_hash) DO NOTHING
	`, fp.ID, fp.SignatureHash, fp.Signature, fp.DisplayName, fp.ItemCount, fp.TotalWeight, fp.WeightUnit)
	if err != nil {
		return Fingerprint{}, false, err
	}

	var row fingerprintRow
	if err := s.db.GetContext(ctx, &row, `
		SELECT id, signature_hash, signature, display_name, item_count, total_weight, weight_unit, created_at
		FROM fingerprints WHERE signature_hash = $1
	`, fp.SignatureHash); err != nil {
		return Fingerprint{}, false, err
	}
	return row.toFingerprint(), row.ID == fp.ID, nil
}

// GetFingerprint loads a fingerprint row by id.
func (s *Store) GetFingerprint(ctx context.Context, id uuid.UUID) (*Fingerprint, error) {
	var row fingerprintRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, signature_hash, signature, display_name, item_count, total_weight, weight_unit, created_at
		FROM fingerprints WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	fp := row.toFingerprint()
	return &fp, nil
}

// GetModel loads the persisted packaging decision for a fingerprint, or
// nil if no model has been assigned to it yet.
func (s *Store) GetModel(ctx context.Context, fingerprintID uuid.UUID) (*FingerprintModel, error) {
	var row struct {
		ID              uuid.UUID `db:"id"`
		FingerprintID   uuid.UUID `db:"fingerprint_id"`
		PackagingTypeID uuid.UUID `db:"packaging_type_id"`
		CreatedAt       sql.NullTime `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT id, fingerprint_id, packaging_type_id, created_at
		FROM fingerprint_models WHERE fingerprint_id = $1
	`, fingerprintID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m := &FingerprintModel{ID: row.ID, FingerprintID: row.FingerprintID, PackagingTypeID: row.PackagingTypeID}
	if row.CreatedAt.Valid {
		m.CreatedAt = row.CreatedAt.Time
	}
	return m, nil
}

// FirstActiveStationForPackaging maps a packaging type onto the first
// active station configured for its station type.
func (s *Store) FirstActiveStationForPackaging(ctx context.Context, packagingTypeID uuid.UUID) (*uuid.UUID, error) {
	var id uuid.UUID
	err := s.db.GetContext(ctx, &id, `
		SELECT st.id FROM stations st
		JOIN packaging_types pt ON pt.station_type = st.station_type
		WHERE pt.id = $1 AND st.active
		ORDER BY st.created_at ASC LIMIT 1
	`, packagingTypeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// GetCollections batches a SKU -> collection id lookup against the
// product-collection mapping table.
func (s *Store) GetCollections(ctx context.Context, skus []string) (map[string]string, error) {
	if len(skus) == 0 {
		return map[string]string{}, nil
	}
	query, args, err := sqlx.In(`SELECT sku, collection_id FROM product_collections WHERE sku IN (?)`, skus)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var sku, collectionID string
		if err := rows.Scan(&sku, &collectionID); err != nil {
			return nil, err
		}
		out[sku] = collectionID
	}
	return out, rows.Err()
}
