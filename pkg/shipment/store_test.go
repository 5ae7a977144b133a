package shipment_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
)

func TestShipmentStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "shipment store Suite")
}

var _ = Describe("Store", func() {
	var (
		ctx   context.Context
		store *shipment.Store
		db    *sqlx.DB
		mock  sqlmock.Sqlmock
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL
		store = shipment.NewStore(db)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("GetShipment", func() {
		It("returns nil, nil when the shipment doesn't exist", func() {
			mock.ExpectQuery(`SELECT id, external_shipment_id.*FROM shipments WHERE id = \$1`).
				WithArgs(sqlmock.AnyArg()).
				WillReturnError(sql.ErrNoRows)

			s, err := store.GetShipment(ctx, uuid.New())
			Expect(err).ToNot(HaveOccurred())
			Expect(s).To(BeNil())
		})

		It("maps a full row, including the nullable fingerprint and station columns", func() {
			id := uuid.New()
			fingerprintID := uuid.New()
			stationID := uuid.New()
			now := time.Now().UTC()

			cols := []string{
				"id", "external_shipment_id", "external_order_number", "carrier", "service_code",
				"destination_postal", "destination_state", "tracking_number", "external_status",
				"delivery_status_code", "session_status", "lifecycle_phase", "decision_subphase",
				"fingerprint_id", "fingerprint_status", "packaging_type_id", "station_id",
				"fulfillment_session_id", "smart_session_spot", "rate_check_status",
				"proactive_hydration", "has_move_over_tag", "external_session_id", "document_id",
				"picker_id", "picker_name", "pick_started_at", "pick_ended_at", "shipped_at",
				"created_at", "updated_at",
			}
			rows := sqlmock.NewRows(cols).AddRow(
				id, "ext-1", "ORD-1", "ups", "ground",
				"98101", "WA", nil, "label_purchased",
				nil, "active", "needs_action", nil,
				fingerprintID, "complete", nil, stationID,
				nil, nil, "pending",
				false, false, nil, nil,
				nil, nil, nil, nil, nil,
				now, now,
			)
			mock.ExpectQuery(`SELECT id, external_shipment_id.*FROM shipments WHERE id = \$1`).
				WithArgs(id).
				WillReturnRows(rows)

			s, err := store.GetShipment(ctx, id)
			Expect(err).ToNot(HaveOccurred())
			Expect(s.ExternalOrderNumber).To(Equal("ORD-1"))
			Expect(*s.ExternalShipmentID).To(Equal("ext-1"))
			Expect(*s.FingerprintID).To(Equal(fingerprintID))
			Expect(*s.StationID).To(Equal(stationID))
			Expect(s.SmartSessionSpot).To(BeNil())
		})
	})

	Describe("UpdateLifecyclePhase", func() {
		It("writes phase and subphase as plain strings", func() {
			id := uuid.New()
			subphase := "NEEDS_SESSION"
			mock.ExpectExec(`UPDATE shipments SET lifecycle_phase = \$2, decision_subphase = \$3`).
				WithArgs(id, "NEEDS_ACTION", &subphase).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(store.UpdateLifecyclePhase(ctx, id, "NEEDS_ACTION", &subphase)).To(Succeed())
		})
	})

	Describe("SetRateCheckStatus", func() {
		It("updates the rate_check_status column", func() {
			id := uuid.New()
			mock.ExpectExec(`UPDATE shipments SET rate_check_status = \$2`).
				WithArgs(id, shipment.RateCheckComplete).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(store.SetRateCheckStatus(ctx, id, shipment.RateCheckComplete)).To(Succeed())
		})
	})
})
