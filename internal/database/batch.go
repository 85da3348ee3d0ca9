package database

import (
	"database/sql"
	"fmt"
	"time"

	"gorm.io/gorm"

	"pricetag/server/internal/models"
	"pricetag/server/internal/stats"
)

// ApplyRecordBatch folds a batch of already-persisted price records into their
// products' statistics documents. Run inside a transaction by the aggregation
// processor; records for the same product are folded in arrival order.
func ApplyRecordBatch(tx *gorm.DB, batch []*models.PriceRecord, now time.Time) error {
	grouped := make(map[ProductKey][]*models.PriceRecord)
	var order []ProductKey
	for _, record := range batch {
		key := ProductKey{UserID: record.UserID, UserProductID: record.UserProductID}
		if _, ok := grouped[key]; !ok {
			order = append(order, key)
		}
		grouped[key] = append(grouped[key], record)
	}

	for _, key := range order {
		current, err := readStatistics(tx, key)
		if err != nil {
			return err
		}

		for _, record := range grouped[key] {
			next := stats.ApplyNewRecord(current, stats.Observation{
				Price:     record.StandardUnitPrice,
				StoreID:   record.StoreID,
				StoreName: record.StoreName,
				Currency:  record.Currency,
			}, now)
			next.UserID = key.UserID
			next.UserProductID = key.UserProductID
			current = &next
		}

		if err := writeStatistics(tx, current); err != nil {
			return err
		}
	}
	return nil
}

func readStatistics(tx *gorm.DB, key ProductKey) (*models.ProductPriceStatistics, error) {
	row := tx.Raw(`
		SELECT user_id, user_product_id, currency, total_price, average_price,
		       lowest_price, highest_price, lowest_price_store_id,
		       lowest_price_store_name, total_price_records,
		       COALESCE(last_updated, '') as last_updated
		FROM product_price_statistics
		WHERE user_id = ? AND user_product_id = ?
	`, key.UserID, key.UserProductID).Row()

	var s models.ProductPriceStatistics
	var lastUpdated string
	err := row.Scan(
		&s.UserID,
		&s.UserProductID,
		&s.Currency,
		&s.TotalPrice,
		&s.AveragePrice,
		&s.LowestPrice,
		&s.HighestPrice,
		&s.LowestPriceStore.StoreID,
		&s.LowestPriceStore.StoreName,
		&s.TotalPriceRecords,
		&lastUpdated,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read statistics: %w", err)
	}

	if lastUpdated != "" {
		if t, err := time.Parse(time.RFC3339, lastUpdated); err == nil {
			s.LastUpdated = t
		}
	}
	return &s, nil
}

func writeStatistics(tx *gorm.DB, stats *models.ProductPriceStatistics) error {
	result := tx.Exec(`
		INSERT OR REPLACE INTO product_price_statistics
		(user_id, user_product_id, currency, total_price, average_price,
		 lowest_price, highest_price, lowest_price_store_id,
		 lowest_price_store_name, total_price_records, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		stats.UserID,
		stats.UserProductID,
		stats.Currency,
		stats.TotalPrice,
		stats.AveragePrice,
		stats.LowestPrice,
		stats.HighestPrice,
		stats.LowestPriceStore.StoreID,
		stats.LowestPriceStore.StoreName,
		stats.TotalPriceRecords,
		stats.LastUpdated.Format(time.RFC3339),
	)
	if result.Error != nil {
		return fmt.Errorf("failed to write statistics: %w", result.Error)
	}
	return nil
}
