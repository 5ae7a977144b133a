// Package catalog serves the catalog data the fingerprint engine depends
// on: kit mappings (parent SKU -> components), held as an in-memory
// snapshot that is replaced wholesale only once a full snapshot has been
// fetched, so readers never see a partially populated map; and product
// metadata, which is not cached here and is looked up in batches against
// the product source on every call.
package catalog

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Component is one (SKU, quantity) pair in a kit's bill of materials.
type Component struct {
	SKU string
	Qty int
}

// Product is the materialized product-lookup row.
type Product struct {
	SKU                string
	Barcode            string
	Description        string
	ImageURL           string
	IsAssembledProduct bool
	WeightValue        float64
	WeightUnit         string
	ProductCategory    string
	ParentSKU          string
	QuantityOnHand     int
	PhysicalLocation   string
}

// KitSource fetches the upstream kit-mapping view and its newest
// snapshot_timestamp.
type KitSource interface {
	FetchKitMappings(ctx context.Context) (map[string][]Component, time.Time, error)
}

// ProductSource fetches the local materialized product table (synced
// hourly out-of-band).
type ProductSource interface {
	FetchProducts(ctx context.Context, skus []string) (map[string]Product, error)
}

// snapshot is the atomically-swapped kit-mapping state.
type snapshot struct {
	mappings  map[string][]Component
	observed  time.Time
}

// Cache is the kit/catalog cache. Safe for concurrent use; refresh
// replaces the snapshot pointer, never mutates the map in place.
type Cache struct {
	kitSource     KitSource
	productSource ProductSource
	sharedCache   *redis.Client // receives only the observed timestamp of each refresh

	current atomic.Pointer[snapshot]

	hits   atomic.Int64
	misses atomic.Int64
	refreshes atomic.Int64
}

func NewCache(kitSource KitSource, productSource ProductSource, sharedCache *redis.Client) *Cache {
	c := &Cache{kitSource: kitSource, productSource: productSource, sharedCache: sharedCache}
	c.current.Store(&snapshot{mappings: map[string][]Component{}})
	return c
}

const sharedCacheKey = "catalog:kit_mappings:observed_at"

// EnsureFresh compares the upstream snapshot_timestamp against the cached
// one and, if newer, atomically replaces the whole map. Stale reads are
// acceptable on fetch failure — the previous snapshot is kept and the
// error is returned for the caller to log.
func (c *Cache) EnsureFresh(ctx context.Context) error {
	mappings, observed, err := c.kitSource.FetchKitMappings(ctx)
	if err != nil {
		return err // caller logs; previous snapshot remains in place
	}

	cur := c.current.Load()
	if !observed.After(cur.observed) {
		return nil
	}

	c.current.Store(&snapshot{mappings: mappings, observed: observed})
	c.refreshes.Add(1)

	if c.sharedCache != nil {
		// Only the observed timestamp is published to the shared cache; the
		// mappings themselves are not stored there, nothing in this package
		// reads the key back, and every process fetches the mappings from
		// the kit source itself.
		_ = c.sharedCache.Set(ctx, sharedCacheKey, observed.Format(time.RFC3339Nano), time.Hour).Err()
	}
	return nil
}

// IsKit reports whether sku has a known kit mapping.
func (c *Cache) IsKit(sku string) bool {
	cur := c.current.Load()
	_, ok := cur.mappings[sku]
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return ok
}

// GetComponents returns sku's bill of materials, or nil if sku is not a
// kit.
func (c *Cache) GetComponents(sku string) []Component {
	cur := c.current.Load()
	return cur.mappings[sku]
}

// Preload is a hint that callers are about to query these SKUs; with an
// in-memory map there's nothing to warm beyond ensuring freshness, so this
// just calls EnsureFresh. Kept as a distinct operation because a future
// per-SKU-lazy backend would need it.
func (c *Cache) Preload(ctx context.Context, skus []string) error {
	return c.EnsureFresh(ctx)
}

// GetProducts batches a lookup against the product table.
func (c *Cache) GetProducts(ctx context.Context, skus []string) (map[string]Product, error) {
	return c.productSource.FetchProducts(ctx, skus)
}

// Stats reports cache hit/miss/refresh counters for the operations
// surface.
type Stats struct {
	Hits      int64
	Misses    int64
	Refreshes int64
	KitCount  int
}

func (c *Cache) Stats() Stats {
	cur := c.current.Load()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Refreshes: c.refreshes.Load(),
		KitCount:  len(cur.mappings),
	}
}
