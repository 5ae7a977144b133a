package fingerprint_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xrgarcia/jerky-shipping-sub001/internal/apperr"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/catalog"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/fingerprint"
	"github.com/xrgarcia/jerky-shipping-sub001/pkg/shipment"
)

// kitSourceFunc/productSourceFunc adapt plain functions to
// catalog.KitSource/catalog.ProductSource so each test can inline its
// fixture instead of declaring a named fake type.
type kitSourceFunc func(ctx context.Context) (map[string][]catalog.Component, time.Time, error)

func (f kitSourceFunc) FetchKitMappings(ctx context.Context) (map[string][]catalog.Component, time.Time, error) {
	return f(ctx)
}

type productSourceFunc func(ctx context.Context, skus []string) (map[string]catalog.Product, error)

func (f productSourceFunc) FetchProducts(ctx context.Context, skus []string) (map[string]catalog.Product, error) {
	return f(ctx, skus)
}

func TestFingerprint(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "fingerprint Suite")
}

// --- fakes -------------------------------------------------------------

type fakeItems struct {
	byShipment map[uuid.UUID][]shipment.ShipmentItem
}

func (f *fakeItems) GetPurchasedItems(ctx context.Context, id uuid.UUID) ([]shipment.ShipmentItem, error) {
	return f.byShipment[id], nil
}

type fakeQC struct {
	byShipment map[uuid.UUID][]shipment.QCItem
}

func (f *fakeQC) ReplaceQCItems(ctx context.Context, id uuid.UUID, items []shipment.QCItem) error {
	if f.byShipment == nil {
		f.byShipment = map[uuid.UUID][]shipment.QCItem{}
	}
	f.byShipment[id] = items
	return nil
}

func (f *fakeQC) GetQCItems(ctx context.Context, id uuid.UUID) ([]shipment.QCItem, error) {
	return f.byShipment[id], nil
}

type fakeFingerprints struct {
	byHash map[string]shipment.Fingerprint
	models map[uuid.UUID]*shipment.FingerprintModel
}

func (f *fakeFingerprints) FindOrCreate(ctx context.Context, fp shipment.Fingerprint) (shipment.Fingerprint, bool, error) {
	if f.byHash == nil {
		f.byHash = map[string]shipment.Fingerprint{}
	}
	if existing, ok := f.byHash[fp.SignatureHash]; ok {
		return existing, false, nil
	}
	f.byHash[fp.SignatureHash] = fp
	return fp, true, nil
}

func (f *fakeFingerprints) GetModel(ctx context.Context, fingerprintID uuid.UUID) (*shipment.FingerprintModel, error) {
	return f.models[fingerprintID], nil
}

type fakeStations struct {
	byPackaging map[uuid.UUID]uuid.UUID
}

func (f *fakeStations) FirstActiveStationForPackaging(ctx context.Context, packagingTypeID uuid.UUID) (*uuid.UUID, error) {
	id, ok := f.byPackaging[packagingTypeID]
	if !ok {
		return nil, nil
	}
	return &id, nil
}

type fakeCollections struct {
	bySKU map[string]string
}

func (f *fakeCollections) GetCollections(ctx context.Context, skus []string) (map[string]string, error) {
	out := map[string]string{}
	for _, s := range skus {
		if c, ok := f.bySKU[s]; ok {
			out[s] = c
		}
	}
	return out, nil
}

type fakeShipments struct {
	applied map[uuid.UUID]appliedDecision
}

type appliedDecision struct {
	fingerprintID   *uuid.UUID
	status          shipment.FingerprintStatus
	packagingTypeID *uuid.UUID
	stationID       *uuid.UUID
}

func (f *fakeShipments) GetShipment(ctx context.Context, id uuid.UUID) (*shipment.Shipment, error) {
	return &shipment.Shipment{ID: id}, nil
}

func (f *fakeShipments) ApplyHydrationDecision(ctx context.Context, id uuid.UUID, fingerprintID *uuid.UUID, status shipment.FingerprintStatus, packagingTypeID, stationID *uuid.UUID) error {
	if f.applied == nil {
		f.applied = map[uuid.UUID]appliedDecision{}
	}
	f.applied[id] = appliedDecision{fingerprintID, status, packagingTypeID, stationID}
	return nil
}

type fakeLifecycle struct {
	enqueued []uuid.UUID
}

func (f *fakeLifecycle) EnqueueLifecycleEval(ctx context.Context, id uuid.UUID) error {
	f.enqueued = append(f.enqueued, id)
	return nil
}

// --- suite ---------------------------------------------------------------

var _ = Describe("Engine.Hydrate", func() {
	It("explodes a kit into its components with multiplied quantities (S1)", func() {
		shipmentID := uuid.New()
		items := &fakeItems{byShipment: map[uuid.UUID][]shipment.ShipmentItem{
			shipmentID: {{SKU: "KIT_A", Quantity: 2}},
		}}
		qc := &fakeQC{}
		fps := &fakeFingerprints{}
		stations := &fakeStations{}
		collections := &fakeCollections{bySKU: map[string]string{"SKU_X": "C_JERKY", "SKU_Y": "C_JERKY"}}
		shipments := &fakeShipments{}
		lc := &fakeLifecycle{}

		cat := catalog.NewCache(
			kitSourceFunc(func(ctx context.Context) (map[string][]catalog.Component, time.Time, error) {
				return map[string][]catalog.Component{"KIT_A": {{SKU: "SKU_X", Qty: 3}, {SKU: "SKU_Y", Qty: 1}}}, time.Now(), nil
			}),
			productSourceFunc(func(ctx context.Context, skus []string) (map[string]catalog.Product, error) {
				products := map[string]catalog.Product{
					"KIT_A": {SKU: "KIT_A", ProductCategory: "kit"},
					"SKU_X": {SKU: "SKU_X", WeightValue: 16, WeightUnit: "oz"},
					"SKU_Y": {SKU: "SKU_Y", WeightValue: 4, WeightUnit: "oz"},
				}
				out := map[string]catalog.Product{}
				for _, s := range skus {
					if p, ok := products[s]; ok {
						out[s] = p
					}
				}
				return out, nil
			}),
			nil,
		)
		Expect(cat.EnsureFresh(context.Background())).To(Succeed())

		engine := fingerprint.NewEngine(items, qc, fps, stations, collections, shipments, cat, lc, fingerprint.Config{})

		result, err := engine.Hydrate(context.Background(), shipmentID, "ORDER-1")
		Expect(err).NotTo(HaveOccurred())
		Expect(result.FingerprintStatus).To(Equal(shipment.FingerprintComplete))

		created := qc.byShipment[shipmentID]
		Expect(created).To(HaveLen(2))
		bySKU := map[string]shipment.QCItem{}
		for _, it := range created {
			bySKU[it.SKU] = it
		}
		Expect(bySKU["SKU_X"].ExpectedQty).To(Equal(6))
		Expect(bySKU["SKU_Y"].ExpectedQty).To(Equal(2))
		Expect(bySKU["SKU_X"].IsKitComponent).To(BeTrue())
		Expect(*bySKU["SKU_X"].ParentSKU).To(Equal("KIT_A"))

		applied := shipments.applied[shipmentID]
		Expect(lc.enqueued).To(ContainElement(shipmentID))
		Expect(applied.fingerprintID).NotTo(BeNil())
	})

	It("defers when a raw SKU has no catalog entry", func() {
		shipmentID := uuid.New()
		items := &fakeItems{byShipment: map[uuid.UUID][]shipment.ShipmentItem{
			shipmentID: {{SKU: "UNKNOWN", Quantity: 1}},
		}}
		cat := catalog.NewCache(
			kitSourceFunc(func(ctx context.Context) (map[string][]catalog.Component, time.Time, error) {
				return nil, time.Time{}, nil
			}),
			productSourceFunc(func(ctx context.Context, skus []string) (map[string]catalog.Product, error) {
				return map[string]catalog.Product{}, nil
			}),
			nil,
		)
		engine := fingerprint.NewEngine(items, &fakeQC{}, &fakeFingerprints{}, &fakeStations{}, &fakeCollections{}, &fakeShipments{}, cat, &fakeLifecycle{}, fingerprint.Config{})

		_, err := engine.Hydrate(context.Background(), shipmentID, "ORDER-2")
		Expect(err).To(HaveOccurred())
		Expect(apperr.Is(err, apperr.Deferred)).To(BeTrue())
	})
})
