package shipment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Store is the sqlx-backed persistence for the central shipment aggregate:
// the shipment row itself, its purchased/QC line items, fingerprint and
// fingerprint-model rows, station resolution, and the product-collection
// mapping. It satisfies the narrow reader interfaces pkg/fingerprint and
// pkg/workers depend on; nothing in those packages imports *sqlx.DB
// directly.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type shipmentRow struct {
	ID                   uuid.UUID      `db:"id"`
	ExternalShipmentID   sql.NullString `db:"external_shipment_id"`
	ExternalOrderNumber  string         `db:"external_order_number"`
	Carrier              sql.NullString `db:"carrier"`
	ServiceCode          sql.NullString `db:"service_code"`
	DestinationPostal    sql.NullString `db:"destination_postal"`
	DestinationState     sql.NullString `db:"destination_state"`
	TrackingNumber       sql.NullString `db:"tracking_number"`
	ExternalStatus       string         `db:"external_status"`
	DeliveryStatusCode   sql.NullString `db:"delivery_status_code"`
	SessionStatus        sql.NullString `db:"session_status"`
	LifecyclePhase       string         `db:"lifecycle_phase"`
	DecisionSubphase     sql.NullString `db:"decision_subphase"`
	FingerprintID        uuid.NullUUID  `db:"fingerprint_id"`
	FingerprintStatus    sql.NullString `db:"fingerprint_status"`
	PackagingTypeID      uuid.NullUUID  `db:"packaging_type_id"`
	StationID            uuid.NullUUID  `db:"station_id"`
	FulfillmentSessionID uuid.NullUUID  `db:"fulfillment_session_id"`
	SmartSessionSpot     sql.NullInt32  `db:"smart_session_spot"`
	RateCheckStatus      string         `db:"rate_check_status"`
	ProactiveHydration   bool           `db:"proactive_hydration"`
	HasMoveOverTag       bool           `db:"has_move_over_tag"`
	ExternalSessionID    sql.NullString `db:"external_session_id"`
	DocumentID           sql.NullString `db:"document_id"`
	PickerID             sql.NullString `db:"picker_id"`
	PickerName           sql.NullString `db:"picker_name"`
	PickStartedAt        sql.NullTime   `db:"pick_started_at"`
	PickEndedAt          sql.NullTime   `db:"pick_ended_at"`
	ShippedAt            sql.NullTime   `db:"shipped_at"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func (r shipmentRow) toShipment() *Shipment {
	s := &Shipment{
		ID:                  r.ID,
		ExternalOrderNumber: r.ExternalOrderNumber,
		ExternalStatus:      ExternalShipmentStatus(r.ExternalStatus),
		LifecyclePhase:      r.LifecyclePhase,
		RateCheckStatus:     RateCheckStatus(r.RateCheckStatus),
		ProactiveHydration:  r.ProactiveHydration,
		HasMoveOverTag:      r.HasMoveOverTag,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if r.ExternalShipmentID.Valid {
		s.ExternalShipmentID = &r.ExternalShipmentID.String
	}
	if r.Carrier.Valid {
		s.Carrier = &r.Carrier.String
	}
	if r.ServiceCode.Valid {
		s.ServiceCode = &r.ServiceCode.String
	}
	if r.DestinationPostal.Valid {
		s.DestinationPostal = &r.DestinationPostal.String
	}
	if r.DestinationState.Valid {
		s.DestinationState = &r.DestinationState.String
	}
	if r.TrackingNumber.Valid {
		s.TrackingNumber = &r.TrackingNumber.String
	}
	if r.DeliveryStatusCode.Valid {
		s.DeliveryStatusCode = &r.DeliveryStatusCode.String
	}
	if r.SessionStatus.Valid {
		v := SessionStatus(r.SessionStatus.String)
		s.SessionStatus = &v
	}
	if r.DecisionSubphase.Valid {
		s.DecisionSubphase = &r.DecisionSubphase.String
	}
	if r.FingerprintID.Valid {
		id := r.FingerprintID.UUID
		s.FingerprintID = &id
	}
	if r.FingerprintStatus.Valid {
		v := FingerprintStatus(r.FingerprintStatus.String)
		s.FingerprintStatus = &v
	}
	if r.PackagingTypeID.Valid {
		id := r.PackagingTypeID.UUID
		s.PackagingTypeID = &id
	}
	if r.StationID.Valid {
		id := r.StationID.UUID
		s.StationID = &id
	}
	if r.FulfillmentSessionID.Valid {
		id := r.FulfillmentSessionID.UUID
		s.FulfillmentSessionID = &id
	}
	if r.SmartSessionSpot.Valid {
		v := int(r.SmartSessionSpot.Int32)
		s.SmartSessionSpot = &v
	}
	if r.ExternalSessionID.Valid {
		s.ExternalSessionID = &r.ExternalSessionID.String
	}
	if r.DocumentID.Valid {
		s.DocumentID = &r.DocumentID.String
	}
	if r.PickerID.Valid {
		s.PickerID = &r.PickerID.String
	}
	if r.PickerName.Valid {
		s.PickerName = &r.PickerName.String
	}
	if r.PickStartedAt.Valid {
		s.PickStartedAt = &r.PickStartedAt.Time
	}
	if r.PickEndedAt.Valid {
		s.PickEndedAt = &r.PickEndedAt.Time
	}
	if r.ShippedAt.Valid {
		s.ShippedAt = &r.ShippedAt.Time
	}
	return s
}

const shipmentColumns = `
	id, external_shipment_id, external_order_number, carrier, service_code,
	destination_postal, destination_state, tracking_number, external_status,
	delivery_status_code, session_status, lifecycle_phase, decision_subphase,
	fingerprint_id, fingerprint_status, packaging_type_id, station_id,
	fulfillment_session_id, smart_session_spot, rate_check_status,
	proactive_hydration, has_move_over_tag, external_session_id, document_id,
	picker_id, picker_name, pick_started_at, pick_ended_at, shipped_at,
	created_at, updated_at`

// GetShipment loads one shipment row, or nil if it doesn't exist.
func (s *Store) GetShipment(ctx context.Context, id uuid.UUID) (*Shipment, error) {
	var row shipmentRow
	err := s.db.GetContext(ctx, &row, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toShipment(), nil
}

// UpdateLifecyclePhase persists the lifecycle event worker's derived
// transition. Phase and subphase are passed as plain strings rather than
// pkg/lifecycle's typed aliases: pkg/lifecycle imports pkg/shipment, so
// this package cannot import pkg/lifecycle back. pkg/workers' lifecycleRepo
// adapter does the typed-to-string conversion at the call site.
func (s *Store) UpdateLifecyclePhase(ctx context.Context, id uuid.UUID, phase string, subphase *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE shipments SET lifecycle_phase = $2, decision_subphase = $3, updated_at = now()
		WHERE id = $1
	`, id, phase, subphase)
	return err
}

// ApplyHydrationDecision persists the fingerprint engine's outcome for one
// Hydrate call: the resolved fingerprint id (nil while pending), the
// fingerprint status, and the packaging/station assignment it implies.
func (s *Store) ApplyHydrationDecision(ctx context.Context, id uuid.UUID, fingerprintID *uuid.UUID, status FingerprintStatus, packagingTypeID, stationID *uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE shipments
		SET fingerprint_id = $2, fingerprint_status = $3, packaging_type_id = $4, station_id = $5, updated_at = now()
		WHERE id = $1
	`, id, nullUUID(fingerprintID), status, nullUUID(packagingTypeID), nullUUID(stationID))
	return err
}

// SetRateCheckStatus updates a shipment's rate-check outcome column.
func (s *Store) SetRateCheckStatus(ctx context.Context, shipmentID uuid.UUID, status RateCheckStatus) error {
	_, err := s.db.ExecContext(ctx, `UPDATE shipments SET rate_check_status = $2, updated_at = now() WHERE id = $1`, shipmentID, status)
	return err
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}
