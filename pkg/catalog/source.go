package catalog

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresSource is the sqlx-backed KitSource and ProductSource: the
// kit_mappings table (parent SKU -> component rows) and the products
// materialized table synced hourly out-of-band by a separate job.
type PostgresSource struct {
	db *sqlx.DB
}

func NewPostgresSource(db *sqlx.DB) *PostgresSource {
	return &PostgresSource{db: db}
}

type kitMappingRow struct {
	ParentSKU        string    `db:"parent_sku"`
	ComponentSKU     string    `db:"component_sku"`
	Qty              int       `db:"qty"`
	SnapshotTimestamp time.Time `db:"snapshot_timestamp"`
}

// FetchKitMappings loads the entire kit-mapping view, grouped by parent
// SKU, along with the newest snapshot_timestamp across every row — the
// cache refuses to adopt a snapshot older than what it already holds.
func (s *PostgresSource) FetchKitMappings(ctx context.Context) (map[string][]Component, time.Time, error) {
	var rows []kitMappingRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT parent_sku, component_sku, qty, snapshot_timestamp FROM kit_mappings
	`); err != nil {
		return nil, time.Time{}, err
	}

	mappings := make(map[string][]Component)
	var newest time.Time
	for _, r := range rows {
		mappings[r.ParentSKU] = append(mappings[r.ParentSKU], Component{SKU: r.ComponentSKU, Qty: r.Qty})
		if r.SnapshotTimestamp.After(newest) {
			newest = r.SnapshotTimestamp
		}
	}
	return mappings, newest, nil
}

type productRow struct {
	SKU                string  `db:"sku"`
	Barcode            string  `db:"barcode"`
	Description        string  `db:"description"`
	ImageURL           string  `db:"image_url"`
	IsAssembledProduct bool    `db:"is_assembled_product"`
	WeightValue        float64 `db:"weight_value"`
	WeightUnit         string  `db:"weight_unit"`
	ProductCategory    string  `db:"product_category"`
	ParentSKU          string  `db:"parent_sku"`
	QuantityOnHand     int     `db:"quantity_on_hand"`
	PhysicalLocation   string  `db:"physical_location"`
}

// FetchProducts loads the materialized product rows for a batch of SKUs.
// Missing SKUs are simply absent from the returned map.
func (s *PostgresSource) FetchProducts(ctx context.Context, skus []string) (map[string]Product, error) {
	if len(skus) == 0 {
		return map[string]Product{}, nil
	}

	query, args, err := sqlx.In(`
		SELECT sku, barcode, description, image_url, is_assembled_product, weight_value,
			weight_unit, product_category, parent_sku, quantity_on_hand, physical_location
		FROM products WHERE sku IN (?)
	`, skus)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var rows []productRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	out := make(map[string]Product, len(rows))
	for _, r := range rows {
		out[r.SKU] = Product{
			SKU: r.SKU, Barcode: r.Barcode, Description: r.Description, ImageURL: r.ImageURL,
			IsAssembledProduct: r.IsAssembledProduct, WeightValue: r.WeightValue, WeightUnit: r.WeightUnit,
			ProductCategory: r.ProductCategory, ParentSKU: r.ParentSKU, QuantityOnHand: r.QuantityOnHand,
			PhysicalLocation: r.PhysicalLocation,
		}
	}
	return out, nil
}
