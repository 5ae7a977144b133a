package catalog_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/xrgarcia/jerky-shipping-sub001/pkg/catalog"
)

func TestCatalog(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "catalog Suite")
}

type fakeKitSource struct {
	mappings map[string][]catalog.Component
	observed time.Time
	err      error
	calls    int
}

func (f *fakeKitSource) FetchKitMappings(ctx context.Context) (map[string][]catalog.Component, time.Time, error) {
	f.calls++
	return f.mappings, f.observed, f.err
}

type fakeProductSource struct{}

func (fakeProductSource) FetchProducts(ctx context.Context, skus []string) (map[string]catalog.Product, error) {
	return nil, nil
}

var _ = Describe("Cache", func() {
	var source *fakeKitSource
	var cache *catalog.Cache

	BeforeEach(func() {
		source = &fakeKitSource{
			mappings: map[string][]catalog.Component{"KIT_A": {{SKU: "SKU_X", Qty: 3}}},
			observed: time.Now(),
		}
		cache = catalog.NewCache(source, fakeProductSource{}, nil)
	})

	It("starts empty before the first refresh", func() {
		Expect(cache.IsKit("KIT_A")).To(BeFalse())
	})

	It("replaces the whole map when the upstream timestamp is newer", func() {
		Expect(cache.EnsureFresh(context.Background())).To(Succeed())
		Expect(cache.IsKit("KIT_A")).To(BeTrue())
		Expect(cache.GetComponents("KIT_A")).To(Equal([]catalog.Component{{SKU: "SKU_X", Qty: 3}}))
	})

	It("does not refresh again when the observed timestamp hasn't advanced", func() {
		Expect(cache.EnsureFresh(context.Background())).To(Succeed())
		before := cache.Stats().Refreshes

		Expect(cache.EnsureFresh(context.Background())).To(Succeed())
		Expect(cache.Stats().Refreshes).To(Equal(before))
	})

	It("keeps the previous snapshot when the fetch fails", func() {
		Expect(cache.EnsureFresh(context.Background())).To(Succeed())

		source.err = context.DeadlineExceeded
		source.observed = source.observed.Add(time.Hour)
		Expect(cache.EnsureFresh(context.Background())).To(HaveOccurred())

		Expect(cache.IsKit("KIT_A")).To(BeTrue(), "stale read is acceptable, but must not go empty")
	})
})
