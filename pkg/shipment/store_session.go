package shipment

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ExternalSessionInput is the subset of the document-store session the
// store needs to apply a reconciliation: the type is duplicated here
// (rather than imported from pkg/workers, which imports this package)
// field-for-field with workers.ExternalSession.
type ExternalSessionInput struct {
	SessionID          string
	SessionStatus      SessionStatus
	OrderNumber        string
	ExternalShipmentID string
	PickStart          *time.Time
	PickEnd            *time.Time
	SpotNumber         *int
	PickerID           *string
	PickerName         *string
	DocumentID         string
	UpdatedAt          time.Time
}

// FindByOrderAndExternalID resolves a document-store session to the local
// shipment it belongs to.
func (s *Store) FindByOrderAndExternalID(ctx context.Context, orderNumber, externalShipmentID string) (*Shipment, error) {
	var row shipmentRow
	err := s.db.GetContext(ctx, &row, `SELECT `+shipmentColumns+`
		FROM shipments WHERE external_order_number = $1 AND external_shipment_id = $2
	`, orderNumber, externalShipmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toShipment(), nil
}

// ApplySessionFields compares the document-store session against the
// cached normalized fields and writes an update only when something
// actually changed, so callers can decide whether to re-enqueue a
// lifecycle evaluation.
func (s *Store) ApplySessionFields(ctx context.Context, shipmentID uuid.UUID, in ExternalSessionInput) (bool, error) {
	current, err := s.GetShipment(ctx, shipmentID)
	if err != nil {
		return false, err
	}
	if current == nil {
		return false, errors.New("shipment: not found")
	}

	changed := current.ExternalSessionID == nil || *current.ExternalSessionID != in.SessionID ||
		current.SessionStatus == nil || *current.SessionStatus != in.SessionStatus ||
		current.DocumentID == nil || *current.DocumentID != in.DocumentID ||
		!ptrTimeEqual(current.PickStartedAt, in.PickStart) ||
		!ptrTimeEqual(current.PickEndedAt, in.PickEnd) ||
		!ptrIntEqual(current.SmartSessionSpot, in.SpotNumber) ||
		!ptrStringEqual(current.PickerID, in.PickerID) ||
		!ptrStringEqual(current.PickerName, in.PickerName)
	if !changed {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE shipments SET
			external_session_id = $2, session_status = $3, document_id = $4,
			pick_started_at = $5, pick_ended_at = $6, smart_session_spot = $7,
			picker_id = $8, picker_name = $9, updated_at = now()
		WHERE id = $1
	`, shipmentID, in.SessionID, in.SessionStatus, in.DocumentID,
		in.PickStart, in.PickEnd, in.SpotNumber, in.PickerID, in.PickerName)
	if err != nil {
		return false, err
	}
	return true, nil
}

// MarkSessionClosed records that a session's document flipped to closed,
// stamping the pick-end timestamp the lifecycle derivation needs to move a
// shipment into PACKING_READY.
func (s *Store) MarkSessionClosed(ctx context.Context, shipmentID uuid.UUID, pickEndedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE shipments SET session_status = 'closed', pick_ended_at = $2, updated_at = now()
		WHERE id = $1
	`, shipmentID, pickEndedAt)
	return err
}

// ShipmentsWithOpenSessionID lists every shipment whose stored
// sessionStatus is non-closed and non-null, the candidate pool the session
// sync worker re-checks against the document store's fresh non-closed set.
func (s *Store) ShipmentsWithOpenSessionID(ctx context.Context) ([]Shipment, error) {
	var rows []shipmentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+shipmentColumns+`
		FROM shipments WHERE external_session_id IS NOT NULL AND session_status IS NOT NULL AND session_status != 'closed'
	`); err != nil {
		return nil, err
	}
	out := make([]Shipment, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toShipment())
	}
	return out, nil
}

func ptrTimeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func ptrIntEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func ptrStringEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
