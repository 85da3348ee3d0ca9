package database

import (
	"database/sql"
	"fmt"
	"time"

	"pricetag/server/internal/geocoding"
	"pricetag/server/internal/models"
)

// InsertStore adds a store to the registry.
func (d *Database) InsertStore(store *models.Store) error {
	_, err := d.db.Exec(`
		INSERT INTO stores
		(id, name, street, city, postal_code, latitude, longitude,
		 geocoding_attempted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		store.ID,
		store.Name,
		store.Street,
		store.City,
		store.PostalCode,
		store.Latitude,
		store.Longitude,
		store.GeocodingAttempted,
		store.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert store: %w", err)
	}
	return nil
}

func scanStore(scanner interface{ Scan(...interface{}) error }) (*models.Store, error) {
	var s models.Store
	var street, city, postalCode sql.NullString
	var latitude, longitude sql.NullFloat64
	var createdAt sql.NullString

	err := scanner.Scan(
		&s.ID,
		&s.Name,
		&street,
		&city,
		&postalCode,
		&latitude,
		&longitude,
		&s.GeocodingAttempted,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	if street.Valid {
		s.Street = street.String
	}
	if city.Valid {
		s.City = city.String
	}
	if postalCode.Valid {
		s.PostalCode = postalCode.String
	}
	if latitude.Valid {
		lat := latitude.Float64
		s.Latitude = &lat
	}
	if longitude.Valid {
		lon := longitude.Float64
		s.Longitude = &lon
	}
	if createdAt.Valid && createdAt.String != "" {
		if t, err := time.Parse(time.RFC3339, createdAt.String); err == nil {
			s.CreatedAt = t
		}
	}
	return &s, nil
}

// GetStores returns every store in the registry.
func (d *Database) GetStores() ([]models.Store, error) {
	rows, err := d.db.Query(`
		SELECT id, name, street, city, postal_code, latitude, longitude,
		       geocoding_attempted, created_at
		FROM stores
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stores: %w", err)
	}
	defer rows.Close()

	var stores []models.Store
	for rows.Next() {
		store, err := scanStore(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan store: %w", err)
		}
		stores = append(stores, *store)
	}
	return stores, rows.Err()
}

// GetStoreByID returns a store, or nil when it does not exist.
func (d *Database) GetStoreByID(id string) (*models.Store, error) {
	row := d.db.QueryRow(`
		SELECT id, name, street, city, postal_code, latitude, longitude,
		       geocoding_attempted, created_at
		FROM stores
		WHERE id = ?
	`, id)

	store, err := scanStore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get store: %w", err)
	}
	return store, nil
}

// GetStoreByName returns the first store matching a name case-insensitively,
// or nil. Used by the receipt importer to resolve extracted store names.
func (d *Database) GetStoreByName(name string) (*models.Store, error) {
	row := d.db.QueryRow(`
		SELECT id, name, street, city, postal_code, latitude, longitude,
		       geocoding_attempted, created_at
		FROM stores
		WHERE LOWER(name) = LOWER(?)
		ORDER BY created_at
		LIMIT 1
	`, name)

	store, err := scanStore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get store by name: %w", err)
	}
	return store, nil
}

// UpdateMissingCoordinates geocodes every store that has an address but no
// coordinates yet. Failed lookups are marked as attempted so they are not
// retried on every run.
func (d *Database) UpdateMissingCoordinates(geocoder *geocoding.Geocoder) (int, error) {
	rows, err := d.db.Query(`
		SELECT id, name, street, city, postal_code
		FROM stores
		WHERE (latitude IS NULL OR longitude IS NULL)
		AND geocoding_attempted = 0
		AND street IS NOT NULL
		AND city IS NOT NULL
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to query stores needing geocoding: %w", err)
	}

	type pending struct {
		id, name, street, city, postalCode string
	}
	var candidates []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.name, &p.street, &p.city, &p.postalCode); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan store: %w", err)
		}
		candidates = append(candidates, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tx, err := d.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updateStmt, err := tx.Prepare(`
		UPDATE stores
		SET latitude = ?, longitude = ?, geocoding_attempted = 1
		WHERE id = ?
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer updateStmt.Close()

	attemptedStmt, err := tx.Prepare(`
		UPDATE stores SET geocoding_attempted = 1 WHERE id = ?
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare attempted statement: %w", err)
	}
	defer attemptedStmt.Close()

	var processed int
	for _, store := range candidates {
		lat, lon, err := geocoder.GeocodeAddress(store.street, store.postalCode, store.city)
		if err != nil {
			if _, err := attemptedStmt.Exec(store.id); err != nil {
				return processed, fmt.Errorf("failed to mark geocoding attempt: %w", err)
			}
			continue
		}

		if _, err := updateStmt.Exec(lat, lon, store.id); err != nil {
			return processed, fmt.Errorf("failed to update coordinates: %w", err)
		}
		processed++
	}

	if err := tx.Commit(); err != nil {
		return processed, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return processed, nil
}
