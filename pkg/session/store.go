package session

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
)

// PostgresStore is the sqlx-backed Store: the sessionable-shipment query,
// the open-draft lookup, and the two writes the batcher performs
// (AssignToSession, BumpOrderCount), plus CreateSession and the
// immediate-before-mutation Revalidate check.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type candidateRow struct {
	ShipmentID    uuid.UUID `db:"id"`
	StationID     uuid.UUID `db:"station_id"`
	StationType   string    `db:"station_type"`
	FingerprintID uuid.UUID `db:"fingerprint_id"`
	OrderNumber   string    `db:"external_order_number"`
}

// FindSessionableShipments resolves the candidate pool: NEEDS_SESSION ∧
// has packaging ∧ has station ∧ no session yet ∧ on_hold ∧ has the
// move-over tag ∧ not cancelled. A nil stationType returns every station.
func (s *PostgresStore) FindSessionableShipments(ctx context.Context, stationType *shipment.StationType) ([]Candidate, error) {
	query := `
		SELECT sh.id, st.id AS station_id, st.station_type, sh.fingerprint_id, sh.external_order_number
		FROM shipments sh
		JOIN stations st ON st.id = sh.station_id
		WHERE sh.decision_subphase = 'NEEDS_SESSION'
		  AND sh.packaging_type_id IS NOT NULL
		  AND sh.station_id IS NOT NULL
		  AND sh.fulfillment_session_id IS NULL
		  AND sh.external_status = 'on_hold'
		  AND sh.has_move_over_tag = true
		  AND sh.external_status != 'cancelled'
	`
	args := []any{}
	if stationType != nil {
		query += ` AND st.station_type = $1`
		args = append(args, string(*stationType))
	}

	var rows []candidateRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(rows))
	for _, r := range rows {
		out = append(out, Candidate{
			ShipmentID: r.ShipmentID, StationID: r.StationID, StationType: shipment.StationType(r.StationType),
			FingerprintID: r.FingerprintID, OrderNumber: r.OrderNumber,
		})
	}
	return out, nil
}

type openDraftRow struct {
	SessionID   uuid.UUID `db:"id"`
	StationType string    `db:"station_type"`
	StationID   uuid.UUID `db:"station_id"`
	OrderCount  int       `db:"order_count"`
	MaxOrders   int       `db:"max_orders"`
	MaxSpot     sql.NullInt32 `db:"max_spot"`
}

// FindOpenDrafts lists draft sessions for a station type with spare
// capacity, along with the highest assigned spot so new assignments can
// continue the sequence.
func (s *PostgresStore) FindOpenDrafts(ctx context.Context, stationType shipment.StationType) ([]OpenDraft, error) {
	var rows []openDraftRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT fs.id, fs.station_type, fs.station_id, fs.order_count, fs.max_orders,
			(SELECT MAX(sh.smart_session_spot) FROM shipments sh WHERE sh.fulfillment_session_id = fs.id) AS max_spot
		FROM fulfillment_sessions fs
		WHERE fs.station_type = $1 AND fs.status = 'draft' AND fs.order_count < fs.max_orders
		ORDER BY fs.created_at ASC
	`, string(stationType))
	if err != nil {
		return nil, err
	}
	out := make([]OpenDraft, 0, len(rows))
	for _, r := range rows {
		d := OpenDraft{
			SessionID: r.SessionID, StationType: shipment.StationType(r.StationType), StationID: r.StationID,
			OrderCount: r.OrderCount, MaxOrders: r.MaxOrders,
		}
		if r.MaxSpot.Valid {
			d.MaxSpot = int(r.MaxSpot.Int32)
		}
		out = append(out, d)
	}
	return out, nil
}

// Revalidate re-checks a candidate's eligibility immediately before
// assignment, closing the race window between the candidate scan and the
// write (another worker may have reassigned or cancelled it meanwhile).
func (s *PostgresStore) Revalidate(ctx context.Context, shipmentID uuid.UUID) (bool, error) {
	var ok bool
	err := s.db.GetContext(ctx, &ok, `
		SELECT decision_subphase = 'NEEDS_SESSION'
			AND packaging_type_id IS NOT NULL
			AND station_id IS NOT NULL
			AND fulfillment_session_id IS NULL
			AND external_status = 'on_hold'
		FROM shipments WHERE id = $1
	`, shipmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return ok, err
}

// CreateSession inserts a new draft session for a station.
func (s *PostgresStore) CreateSession(ctx context.Context, stationType shipment.StationType, stationID uuid.UUID, maxOrders int) (uuid.UUID, error) {
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO fulfillment_sessions (
			id, station_type, station_id, order_count, max_orders, status, sequence_num, day_seq, created_at, updated_at
		) VALUES (
			$1, $2, $3, 0, $4, 'draft',
			COALESCE((SELECT MAX(sequence_num) FROM fulfillment_sessions WHERE day_seq = to_char(now(), 'YYYY-MM-DD')), 0) + 1,
			to_char(now(), 'YYYY-MM-DD'), now(), now()
		)
	`, id, string(stationType), stationID, maxOrders)
	return id, err
}

// AssignToSession stamps a shipment with its session and pick spot and
// moves it to READY_FOR_SKU_VAULT via the caller's lifecycle re-evaluation.
func (s *PostgresStore) AssignToSession(ctx context.Context, shipmentID, sessionID uuid.UUID, spot int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE shipments SET fulfillment_session_id = $2, smart_session_spot = $3, updated_at = now()
		WHERE id = $1
	`, shipmentID, sessionID, spot)
	return err
}

// BumpOrderCount adjusts a session's order_count after an assignment, and
// flips it to ready once it hits capacity.
func (s *PostgresStore) BumpOrderCount(ctx context.Context, sessionID uuid.UUID, delta int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE fulfillment_sessions SET
			order_count = order_count + $2,
			status = CASE WHEN order_count + $2 >= max_orders THEN 'ready' ELSE status END,
			ready_at = CASE WHEN order_count + $2 >= max_orders THEN now() ELSE ready_at END,
			updated_at = now()
		WHERE id = $1
	`, sessionID, delta)
	return err
}
