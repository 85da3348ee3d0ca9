package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"pricetag/server/internal/models"
)

type Database struct {
	db *sql.DB
}

func NewDatabase(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable foreign keys
	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, err
	}

	return &Database{db: db}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

func (d *Database) GetDB() *sql.DB {
	return d.db
}

// InsertPriceRecord stores a fully-formed price record. StandardUnitPrice and
// CatalogVersion must already be set; records are immutable once created.
func (d *Database) InsertPriceRecord(record *models.PriceRecord) error {
	_, err := d.db.Exec(`
		INSERT INTO price_records
		(id, user_id, user_product_id, store_id, store_name, original_price,
		 original_quantity, original_unit, standard_unit_price, currency,
		 photo_url, catalog_version, recorded_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.UserID,
		record.UserProductID,
		record.StoreID,
		record.StoreName,
		record.OriginalPrice,
		record.OriginalQuantity,
		record.OriginalUnit,
		record.StandardUnitPrice,
		record.Currency,
		record.PhotoURL,
		record.CatalogVersion,
		record.RecordedAt.Format(time.RFC3339),
		record.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert price record: %w", err)
	}
	return nil
}

const recordColumns = `
	id, user_id, user_product_id, store_id, COALESCE(store_name, '') as store_name,
	original_price, original_quantity, original_unit, standard_unit_price,
	currency, COALESCE(photo_url, '') as photo_url,
	COALESCE(catalog_version, '') as catalog_version,
	COALESCE(recorded_at, '') as recorded_at,
	COALESCE(created_at, '') as created_at
`

func scanRecord(scanner interface{ Scan(...interface{}) error }) (*models.PriceRecord, error) {
	var r models.PriceRecord
	var recordedAt, createdAt string

	err := scanner.Scan(
		&r.ID,
		&r.UserID,
		&r.UserProductID,
		&r.StoreID,
		&r.StoreName,
		&r.OriginalPrice,
		&r.OriginalQuantity,
		&r.OriginalUnit,
		&r.StandardUnitPrice,
		&r.Currency,
		&r.PhotoURL,
		&r.CatalogVersion,
		&recordedAt,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if recordedAt != "" {
		if t, err := time.Parse(time.RFC3339, recordedAt); err == nil {
			r.RecordedAt = t
		}
	}
	if createdAt != "" {
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			r.CreatedAt = t
		}
	}
	return &r, nil
}

// GetPriceRecord returns one of a user's records, or nil when it does not exist.
func (d *Database) GetPriceRecord(userID, recordID string) (*models.PriceRecord, error) {
	row := d.db.QueryRow(`
		SELECT `+recordColumns+`
		FROM price_records
		WHERE id = ? AND user_id = ?
	`, recordID, userID)

	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get price record: %w", err)
	}
	return record, nil
}

// GetRecordsForProduct returns all of a user's records for one product in the
// stable (recorded_at, id) ordering the aggregator's tie-break relies on.
func (d *Database) GetRecordsForProduct(userID, productID string) ([]models.PriceRecord, error) {
	rows, err := d.db.Query(`
		SELECT `+recordColumns+`
		FROM price_records
		WHERE user_id = ? AND user_product_id = ?
		ORDER BY recorded_at, id
	`, userID, productID)
	if err != nil {
		return nil, fmt.Errorf("failed to query price records: %w", err)
	}
	defer rows.Close()

	var records []models.PriceRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan price record: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating price records: %w", err)
	}
	return records, nil
}

// DeletePriceRecord removes one of a user's records.
func (d *Database) DeletePriceRecord(userID, recordID string) error {
	result, err := d.db.Exec(`
		DELETE FROM price_records WHERE id = ? AND user_id = ?
	`, recordID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete price record: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("price record not found: %s", recordID)
	}
	return nil
}

// UpdateRecordStandardPrice rewrites a record's cached standardized price after
// a catalog rate change. Used only by the reconciliation job.
func (d *Database) UpdateRecordStandardPrice(recordID string, standardPrice float64, catalogVersion string) error {
	_, err := d.db.Exec(`
		UPDATE price_records
		SET standard_unit_price = ?, catalog_version = ?
		WHERE id = ?
	`, standardPrice, catalogVersion, recordID)
	if err != nil {
		return fmt.Errorf("failed to update standard price: %w", err)
	}
	return nil
}

// GetStatistics returns the statistics document for a (user, product) pair, or
// nil when the product has no records.
func (d *Database) GetStatistics(userID, productID string) (*models.ProductPriceStatistics, error) {
	var s models.ProductPriceStatistics
	var lastUpdated string

	err := d.db.QueryRow(`
		SELECT user_id, user_product_id, currency, total_price, average_price,
		       lowest_price, highest_price, lowest_price_store_id,
		       lowest_price_store_name, total_price_records,
		       COALESCE(last_updated, '') as last_updated
		FROM product_price_statistics
		WHERE user_id = ? AND user_product_id = ?
	`, userID, productID).Scan(
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
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}

	if lastUpdated != "" {
		if t, err := time.Parse(time.RFC3339, lastUpdated); err == nil {
			s.LastUpdated = t
		}
	}
	return &s, nil
}

// UpsertStatistics writes a full replacement statistics document. Insert and
// replace share one statement: a document deleted concurrently by another
// client is simply recreated, matching last-writer-wins semantics.
func (d *Database) UpsertStatistics(stats *models.ProductPriceStatistics) error {
	_, err := d.db.Exec(`
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
	if err != nil {
		return fmt.Errorf("failed to upsert statistics: %w", err)
	}
	return nil
}

// DeleteStatistics removes a statistics document (the tombstone case). Deleting
// an already-absent document is not an error.
func (d *Database) DeleteStatistics(userID, productID string) error {
	_, err := d.db.Exec(`
		DELETE FROM product_price_statistics
		WHERE user_id = ? AND user_product_id = ?
	`, userID, productID)
	if err != nil {
		return fmt.Errorf("failed to delete statistics: %w", err)
	}
	return nil
}

// ProductKey identifies one user's tracked product.
type ProductKey struct {
	UserID        string
	UserProductID string
}

// ListProductsWithRecords returns every (user, product) pair that currently has
// at least one price record.
func (d *Database) ListProductsWithRecords() ([]ProductKey, error) {
	rows, err := d.db.Query(`
		SELECT DISTINCT user_id, user_product_id FROM price_records
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var keys []ProductKey
	for rows.Next() {
		var key ProductKey
		if err := rows.Scan(&key.UserID, &key.UserProductID); err != nil {
			return nil, fmt.Errorf("failed to scan product key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// ListStatisticsKeys returns every (user, product) pair that has a statistics
// document, whether or not records still exist for it.
func (d *Database) ListStatisticsKeys() ([]ProductKey, error) {
	rows, err := d.db.Query(`
		SELECT user_id, user_product_id FROM product_price_statistics
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics keys: %w", err)
	}
	defer rows.Close()

	var keys []ProductKey
	for rows.Next() {
		var key ProductKey
		if err := rows.Scan(&key.UserID, &key.UserProductID); err != nil {
			return nil, fmt.Errorf("failed to scan statistics key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// GetUserPreference returns a user's display preference, or nil when none has
// been saved. An absent preference is a valid, expected state.
func (d *Database) GetUserPreference(userID string) (*models.UserPreference, error) {
	var p models.UserPreference

	err := d.db.QueryRow(`
		SELECT user_id, currency, COALESCE(unit, '') as unit
		FROM user_preferences
		WHERE user_id = ?
	`, userID).Scan(&p.UserID, &p.Currency, &p.Unit)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user preference: %w", err)
	}
	return &p, nil
}

// UpsertUserPreference saves a user's display preference.
func (d *Database) UpsertUserPreference(pref *models.UserPreference) error {
	_, err := d.db.Exec(`
		INSERT OR REPLACE INTO user_preferences (user_id, currency, unit)
		VALUES (?, ?, ?)
	`, pref.UserID, pref.Currency, pref.Unit)
	if err != nil {
		return fmt.Errorf("failed to upsert user preference: %w", err)
	}
	return nil
}
