package ratecheck

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// PostgresStore is the sqlx-backed PackagingLookup and AnalysisStore. The
// engine's FingerprintLookup and ShipmentLookup collaborators are
// satisfied directly by *shipment.Store, which already exposes
// GetFingerprint/GetModel/GetShipment/SetRateCheckStatus with matching
// signatures; only the rate-check-specific tables need their own queries
// here.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type packagingRow struct {
	ID       uuid.UUID `db:"id"`
	Name     string    `db:"name"`
	LengthIn float64   `db:"length_in"`
	WidthIn  float64   `db:"width_in"`
	HeightIn float64   `db:"height_in"`
}

// GetPackaging loads a packaging-type catalog row by id.
func (s *PostgresStore) GetPackaging(ctx context.Context, id uuid.UUID) (*Packaging, error) {
	var row packagingRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, name, length_in, width_in, height_in FROM packaging_types WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Packaging{ID: row.ID, Name: row.Name, LengthIn: row.LengthIn, WidthIn: row.WidthIn, HeightIn: row.HeightIn}, nil
}

// UpsertRateAnalysis replaces the rate_analyses row for a shipment, keyed
// by shipment_id so re-running an analysis overwrites rather than
// accumulates history.
func (s *PostgresStore) UpsertRateAnalysis(ctx context.Context, a RateAnalysis) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_analyses (
			id, shipment_id, external_shipment_id, customer_service, customer_cost, customer_delivery_days,
			smart_service, smart_cost, smart_delivery_days, savings, reasoning, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now(), now())
		ON CONFLICT (shipment_id) DO UPDATE SET
			external_shipment_id = EXCLUDED.external_shipment_id,
			customer_service = EXCLUDED.customer_service,
			customer_cost = EXCLUDED.customer_cost,
			customer_delivery_days = EXCLUDED.customer_delivery_days,
			smart_service = EXCLUDED.smart_service,
			smart_cost = EXCLUDED.smart_cost,
			smart_delivery_days = EXCLUDED.smart_delivery_days,
			savings = EXCLUDED.savings,
			reasoning = EXCLUDED.reasoning,
			updated_at = now()
	`, uuid.New(), a.ShipmentID, a.ExternalShipmentID, a.CustomerService, a.CustomerCost, a.CustomerDeliveryDays,
		a.SmartService, a.SmartCost, a.SmartDeliveryDays, a.Savings, a.Reasoning)
	return err
}
