package fingerprint_test

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/apperr"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/catalog"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/fingerprint"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
)

type fakeRepairQueries struct {
	needRecalc    []uuid.UUID
	containingSKU []uuid.UUID
	orderNumbers  map[uuid.UUID]string
	cleared       map[uuid.UUID]bool
	markedRecalc  map[uuid.UUID]bool
}

func (f *fakeRepairQueries) ShipmentsNeedingFingerprintRecalc(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return f.needRecalc, nil
}

func (f *fakeRepairQueries) ShipmentsWithUnexplodedKits(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeRepairQueries) ShipmentsWithUnsubstitutedVariants(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeRepairQueries) ShipmentsStuckMissingWeight(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeRepairQueries) ShipmentsContainingSKUs(ctx context.Context, skus []string) ([]uuid.UUID, error) {
	return f.containingSKU, nil
}

func (f *fakeRepairQueries) ClearFingerprintDecision(ctx context.Context, shipmentID uuid.UUID, clearQCItems bool) error {
	if f.cleared == nil {
		f.cleared = map[uuid.UUID]bool{}
	}
	f.cleared[shipmentID] = clearQCItems
	return nil
}

func (f *fakeRepairQueries) MarkNeedsRecalc(ctx context.Context, shipmentID uuid.UUID) error {
	if f.markedRecalc == nil {
		f.markedRecalc = map[uuid.UUID]bool{}
	}
	f.markedRecalc[shipmentID] = true
	return nil
}

func (f *fakeRepairQueries) OrderNumber(ctx context.Context, shipmentID uuid.UUID) (string, error) {
	n, ok := f.orderNumbers[shipmentID]
	if !ok {
		return "", errors.New("order number not found")
	}
	return n, nil
}

func newRepairTestEngine(items *fakeItems, shipments *fakeShipments, lc *fakeLifecycle) *fingerprint.Engine {
	qc := &fakeQC{}
	fps := &fakeFingerprints{}
	stations := &fakeStations{}
	collections := &fakeCollections{}
	cat := catalog.NewCache(
		kitSourceFunc(func(ctx context.Context) (map[string][]catalog.Component, time.Time, error) {
			return map[string][]catalog.Component{}, time.Now(), nil
		}),
		productSourceFunc(func(ctx context.Context, skus []string) (map[string]catalog.Product, error) {
			out := map[string]catalog.Product{}
			for _, s := range skus {
				out[s] = catalog.Product{SKU: s, WeightValue: 4, WeightUnit: "oz"}
			}
			return out, nil
		}),
		nil,
	)
	return fingerprint.NewEngine(items, qc, fps, stations, collections, shipments, cat, lc, fingerprint.Config{})
}

var _ = Describe("Engine.BackfillFingerprints", func() {
	It("rehydrates every candidate and reports successes", func() {
		shipmentID := uuid.New()
		items := &fakeItems{byShipment: map[uuid.UUID][]shipment.ShipmentItem{
			shipmentID: {{SKU: "SKU_X", Quantity: 1}},
		}}
		shipments := &fakeShipments{}
		lc := &fakeLifecycle{}
		engine := newRepairTestEngine(items, shipments, lc)

		repair := &fakeRepairQueries{
			needRecalc:   []uuid.UUID{shipmentID},
			orderNumbers: map[uuid.UUID]string{shipmentID: "ORD-1"},
		}

		result, err := engine.BackfillFingerprints(context.Background(), repair, 50)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Attempted).To(Equal(1))
		Expect(result.Succeeded).To(Equal(1))
		Expect(result.Failed).To(Equal(0))
		Expect(repair.cleared[shipmentID]).To(BeFalse())
	})

	It("counts a failure when OrderNumber can't resolve the shipment", func() {
		shipmentID := uuid.New()
		items := &fakeItems{}
		engine := newRepairTestEngine(items, &fakeShipments{}, &fakeLifecycle{})

		repair := &fakeRepairQueries{needRecalc: []uuid.UUID{shipmentID}}
		result, err := engine.BackfillFingerprints(context.Background(), repair, 50)
		Expect(err).ToNot(HaveOccurred())
		Expect(result.Attempted).To(Equal(1))
		Expect(result.Succeeded).To(Equal(0))
	})

	It("wraps the lookup failure as transient", func() {
		engine := newRepairTestEngine(&fakeItems{}, &fakeShipments{}, &fakeLifecycle{})
		repair := &failingRepairQueries{}
		_, err := engine.BackfillFingerprints(context.Background(), repair, 50)
		Expect(apperr.Is(err, apperr.Transient)).To(BeTrue())
	})
})

var _ = Describe("Engine.OnCollectionChanged", func() {
	It("clears the fingerprint/packaging/station assignment for every shipment containing an affected SKU and enqueues re-evaluation", func() {
		shipmentID := uuid.New()
		lc := &fakeLifecycle{}
		engine := newRepairTestEngine(&fakeItems{}, &fakeShipments{}, lc)
		repair := &fakeRepairQueries{containingSKU: []uuid.UUID{shipmentID}}

		n, err := engine.OnCollectionChanged(context.Background(), repair, []string{"SKU_X"})
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(1))
		Expect(repair.cleared).To(HaveKeyWithValue(shipmentID, false))
		Expect(repair.markedRecalc).To(BeEmpty())
		Expect(lc.enqueued).To(ContainElement(shipmentID))
	})
})

type failingRepairQueries struct {
	fakeRepairQueries
}

func (f *failingRepairQueries) ShipmentsNeedingFingerprintRecalc(ctx context.Context, limit int) ([]uuid.UUID, error) {
	return nil, context.DeadlineExceeded
}
