package workers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/xrgarcia/jerky-shipping-sub001/pkg/lifecycle"
)

// RepairJobStore is the sqlx-backed RepairStore: the repair_jobs table
// plus the named cohort queries an operator can enqueue against shipments
// stuck somewhere in the lifecycle.
type RepairJobStore struct {
	db *sqlx.DB
}

func NewRepairJobStore(db *sqlx.DB) *RepairJobStore {
	return &RepairJobStore{db: db}
}

// cohortQueries maps an operator-facing cohort name onto the SQL that
// resolves it. Every query returns shipment ids only; ReconcileOne does
// the actual re-derivation.
var cohortQueries = map[string]string{
	"on_dock_stale":             `SELECT id FROM shipments WHERE lifecycle_phase = 'ON_DOCK' AND updated_at < now() - interval '1 day'`,
	"awaiting_decisions_stuck":  `SELECT id FROM shipments WHERE lifecycle_phase = 'AWAITING_DECISIONS' AND updated_at < now() - interval '6 hours'`,
	"ready_to_session_stuck":    `SELECT id FROM shipments WHERE lifecycle_phase = 'READY_TO_SESSION' AND updated_at < now() - interval '6 hours'`,
	"picking_issues_stuck":      `SELECT id FROM shipments WHERE lifecycle_phase = 'PICKING_ISSUES' AND updated_at < now() - interval '12 hours'`,
}

type repairJobRow struct {
	ID        uuid.UUID      `db:"id"`
	Kind      string         `db:"kind"`
	Status    string         `db:"status"`
	Processed int            `db:"processed"`
	Total     sql.NullInt32  `db:"total"`
	LastError sql.NullString `db:"last_error"`
}

func (r repairJobRow) toJob() *RepairJob {
	j := &RepairJob{ID: r.ID, CohortQuery: r.Kind, Status: RepairJobStatus(r.Status), Processed: r.Processed}
	if r.Total.Valid {
		j.Total = int(r.Total.Int32)
	}
	if r.LastError.Valid {
		j.LastError = &r.LastError.String
	}
	return j
}

// ClaimNextPending atomically selects the oldest pending repair job and
// flips it to running.
func (s *RepairJobStore) ClaimNextPending(ctx context.Context) (*RepairJob, error) {
	var row repairJobRow
	err := s.db.GetContext(ctx, &row, `
		UPDATE repair_jobs SET status = 'running', updated_at = now()
		WHERE id = (
			SELECT id FROM repair_jobs WHERE status = 'pending' ORDER BY created_at ASC LIMIT 1 FOR UPDATE SKIP LOCKED
		)
		RETURNING id, kind, status, processed, total, last_error
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toJob(), nil
}

// Enqueue creates a new pending repair job for the named cohort.
func (s *RepairJobStore) Enqueue(ctx context.Context, cohortQuery string) (uuid.UUID, error) {
	if _, ok := cohortQueries[cohortQuery]; !ok {
		return uuid.Nil, fmt.Errorf("repair: unknown cohort query %q", cohortQuery)
	}
	id := uuid.New()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repair_jobs (id, kind, status, processed, total, created_at, updated_at)
		VALUES ($1, $2, 'pending', 0, 0, now(), now())
	`, id, cohortQuery)
	return id, err
}

// ResolveCohort runs the named cohort's query and returns its shipment ids.
func (s *RepairJobStore) ResolveCohort(ctx context.Context, cohortQuery string) ([]uuid.UUID, error) {
	query, ok := cohortQueries[cohortQuery]
	if !ok {
		return nil, fmt.Errorf("repair: unknown cohort query %q", cohortQuery)
	}
	var ids []uuid.UUID
	if err := s.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *RepairJobStore) UpdateProgress(ctx context.Context, jobID uuid.UUID, processed, total int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE repair_jobs SET processed = $2, total = $3, updated_at = now() WHERE id = $1`, jobID, processed, total)
	return err
}

func (s *RepairJobStore) MarkCompleted(ctx context.Context, jobID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `UPDATE repair_jobs SET status = 'completed', updated_at = now() WHERE id = $1`, jobID)
	return err
}

func (s *RepairJobStore) MarkFailed(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE repair_jobs SET status = 'failed', last_error = $2, updated_at = now() WHERE id = $1`, jobID, errMsg)
	return err
}

// IsCancelled reports whether an operator flipped cancel_requested while
// the job was running.
func (s *RepairJobStore) IsCancelled(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var cancelled bool
	err := s.db.GetContext(ctx, &cancelled, `SELECT cancel_requested FROM repair_jobs WHERE id = $1`, jobID)
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// LifecycleReconciler implements CohortReconciler by re-deriving and
// persisting one shipment's lifecycle state, the same refusal rules the
// event worker applies, without the queue-job wrapping.
type LifecycleReconciler struct {
	shipments ShipmentRepo
}

func NewLifecycleReconciler(shipments ShipmentRepo) *LifecycleReconciler {
	return &LifecycleReconciler{shipments: shipments}
}

func (r *LifecycleReconciler) ReconcileOne(ctx context.Context, shipmentID uuid.UUID) error {
	s, err := r.shipments.GetShipment(ctx, shipmentID)
	if err != nil {
		return err
	}
	if s == nil {
		return fmt.Errorf("repair: shipment %s not found", shipmentID)
	}

	previous := storedState(s)
	current := lifecycle.Derive(s)
	if previous.Equal(current) || !transitionAllowed(previous, current) {
		return nil
	}
	return r.shipments.UpdateLifecycle(ctx, shipmentID, current.Phase, current.Subphase)
}
