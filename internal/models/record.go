package models

import "time"

// PriceRecord is a single observed price for a user-tracked product at a store.
// StandardUnitPrice is derived once at creation time from the original triple and
// is never recomputed afterwards; CatalogVersion records which rate table produced
// it so later migrations can detect stale conversions.
type PriceRecord struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	UserProductID     string    `json:"user_product_id"`
	StoreID           string    `json:"store_id"`
	StoreName         string    `json:"store_name"`
	OriginalPrice     float64   `json:"original_price"`
	OriginalQuantity  float64   `json:"original_quantity"`
	OriginalUnit      string    `json:"original_unit"`
	StandardUnitPrice float64   `json:"standard_unit_price"`
	Currency          string    `json:"currency"`
	PhotoURL          string    `json:"photo_url,omitempty"`
	CatalogVersion    string    `json:"catalog_version"`
	RecordedAt        time.Time `json:"recorded_at"`
	CreatedAt         time.Time `json:"created_at"`
}

// StoreRef identifies the store holding a statistic's extremal price.
type StoreRef struct {
	StoreID   string `json:"store_id"`
	StoreName string `json:"store_name"`
}

// ProductPriceStatistics is the mutable rollup owned by one (user, product) pair.
// It exists only while the product has at least one price record; deleting the last
// record deletes the document rather than zeroing it.
type ProductPriceStatistics struct {
	UserID            string    `json:"user_id"`
	UserProductID     string    `json:"user_product_id"`
	Currency          string    `json:"currency"`
	TotalPrice        float64   `json:"total_price"`
	AveragePrice      float64   `json:"average_price"`
	LowestPrice       float64   `json:"lowest_price"`
	HighestPrice      float64   `json:"highest_price"`
	LowestPriceStore  StoreRef  `json:"lowest_price_store"`
	TotalPriceRecords int       `json:"total_price_records"`
	LastUpdated       time.Time `json:"last_updated"`
}
