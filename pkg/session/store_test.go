package session_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xrgarcia/jerky-shipping-sub001/pkg/session"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
)

func TestSessionStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "session store Suite")
}

var _ = Describe("PostgresStore", func() {
	var (
		ctx   context.Context
		store *session.PostgresStore
		db    *sqlx.DB
		mock  sqlmock.Sqlmock
	)

	BeforeEach(func() {
		ctx = context.Background()
		mockDB, mockSQL, err := sqlmock.New()
		Expect(err).ToNot(HaveOccurred())
		db = sqlx.NewDb(mockDB, "sqlmock")
		mock = mockSQL
		store = session.NewPostgresStore(db)
	})

	AfterEach(func() {
		Expect(mock.ExpectationsWereMet()).To(Succeed())
	})

	Describe("FindSessionableShipments", func() {
		It("adds the station-type filter only when one is given", func() {
			stationType := shipment.StationBoxingMachine
			shipmentID := uuid.New()
			stationID := uuid.New()
			fingerprintID := uuid.New()

			rows := sqlmock.NewRows([]string{"id", "station_id", "station_type", "fingerprint_id", "external_order_number"}).
				AddRow(shipmentID, stationID, "boxing_machine", fingerprintID, "ORD-1")
			mock.ExpectQuery(`SELECT sh.id, st.id AS station_id.*FROM shipments sh.*AND st.station_type = \$1`).
				WithArgs(string(stationType)).
				WillReturnRows(rows)

			candidates, err := store.FindSessionableShipments(ctx, &stationType)
			Expect(err).ToNot(HaveOccurred())
			Expect(candidates).To(HaveLen(1))
			Expect(candidates[0].ShipmentID).To(Equal(shipmentID))
			Expect(candidates[0].StationType).To(Equal(stationType))
		})

		It("omits the filter when stationType is nil", func() {
			rows := sqlmock.NewRows([]string{"id", "station_id", "station_type", "fingerprint_id", "external_order_number"})
			mock.ExpectQuery(`SELECT sh.id, st.id AS station_id.*FROM shipments sh`).
				WillReturnRows(rows)

			candidates, err := store.FindSessionableShipments(ctx, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(candidates).To(BeEmpty())
		})
	})

	Describe("FindOpenDrafts", func() {
		It("maps a null max_spot to zero", func() {
			sessionID := uuid.New()
			stationID := uuid.New()
			rows := sqlmock.NewRows([]string{"id", "station_type", "station_id", "order_count", "max_orders", "max_spot"}).
				AddRow(sessionID, "poly_bag", stationID, 3, 28, nil)
			mock.ExpectQuery(`SELECT fs.id, fs.station_type.*FROM fulfillment_sessions fs`).
				WithArgs("poly_bag").
				WillReturnRows(rows)

			drafts, err := store.FindOpenDrafts(ctx, shipment.StationPolyBag)
			Expect(err).ToNot(HaveOccurred())
			Expect(drafts).To(HaveLen(1))
			Expect(drafts[0].MaxSpot).To(Equal(0))
		})
	})

	Describe("Revalidate", func() {
		It("returns false without erroring when the shipment no longer exists", func() {
			mock.ExpectQuery(`SELECT decision_subphase = 'NEEDS_SESSION'`).
				WithArgs(sqlmock.AnyArg()).
				WillReturnError(sql.ErrNoRows)

			ok, err := store.Revalidate(ctx, uuid.New())
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
	})

	Describe("AssignToSession", func() {
		It("stamps the session id and spot", func() {
			shipmentID, sessionID := uuid.New(), uuid.New()
			mock.ExpectExec(`UPDATE shipments SET fulfillment_session_id = \$2`).
				WithArgs(shipmentID, sessionID, 4).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(store.AssignToSession(ctx, shipmentID, sessionID, 4)).To(Succeed())
		})
	})

	Describe("BumpOrderCount", func() {
		It("increments order_count", func() {
			sessionID := uuid.New()
			mock.ExpectExec(`UPDATE fulfillment_sessions SET`).
				WithArgs(sessionID, 1).
				WillReturnResult(sqlmock.NewResult(0, 1))

			Expect(store.BumpOrderCount(ctx, sessionID, 1)).To(Succeed())
		})
	})
})
