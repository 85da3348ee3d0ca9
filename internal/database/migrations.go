package database

import "fmt"

func (d *Database) RunMigrations() error {
	// Price records: immutable facts, one row per observed price
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS price_records (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			user_product_id TEXT NOT NULL,
			store_id TEXT NOT NULL,
			store_name TEXT,
			original_price REAL NOT NULL,
			original_quantity REAL NOT NULL,
			original_unit TEXT NOT NULL,
			standard_unit_price REAL NOT NULL,
			currency TEXT NOT NULL,
			photo_url TEXT,
			catalog_version TEXT,
			recorded_at TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create price_records table: %v", err)
	}

	_, err = d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_price_records_product
		ON price_records(user_id, user_product_id, recorded_at, id);
	`)
	if err != nil {
		return err
	}

	// One statistics document per (user, product); deleted, never zeroed,
	// when the last record goes away
	_, err = d.db.Exec(`
		CREATE TABLE IF NOT EXISTS product_price_statistics (
			user_id TEXT NOT NULL,
			user_product_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			total_price REAL NOT NULL,
			average_price REAL NOT NULL,
			lowest_price REAL NOT NULL,
			highest_price REAL NOT NULL,
			lowest_price_store_id TEXT NOT NULL,
			lowest_price_store_name TEXT NOT NULL,
			total_price_records INTEGER NOT NULL CHECK (total_price_records > 0),
			last_updated TIMESTAMP,
			PRIMARY KEY (user_id, user_product_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create product_price_statistics table: %v", err)
	}

	_, err = d.db.Exec(`
		CREATE TABLE IF NOT EXISTS stores (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			street TEXT,
			city TEXT,
			postal_code TEXT,
			latitude REAL,
			longitude REAL,
			geocoding_attempted BOOLEAN DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create stores table: %v", err)
	}

	// Add catalog_version to databases created before versioned catalogs
	_, err = d.db.Exec(`
		ALTER TABLE price_records
		ADD COLUMN catalog_version TEXT;
	`)
	if err != nil && err.Error() != "duplicate column name: catalog_version" {
		return err
	}

	_, err = d.db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_stores_coordinates
		ON stores(latitude, longitude);
	`)
	if err != nil {
		return err
	}

	_, err = d.db.Exec(`
		CREATE TABLE IF NOT EXISTS user_preferences (
			user_id TEXT PRIMARY KEY,
			currency TEXT NOT NULL,
			unit TEXT
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create user_preferences table: %v", err)
	}

	return nil
}
