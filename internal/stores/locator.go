package stores

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/sirupsen/logrus"

	"pricetag/server/internal/models"
)

// Locator answers nearby-store queries over the geocoded store registry.
type Locator struct {
	db     *sql.DB
	logger *logrus.Logger
}

func NewLocator(db *sql.DB, logger *logrus.Logger) *Locator {
	return &Locator{
		db:     db,
		logger: logger,
	}
}

// Nearby returns all geocoded stores within radiusMeters of the query point,
// closest first. Stores without coordinates are never candidates.
func (l *Locator) Nearby(lat, lon, radiusMeters float64) ([]models.NearbyStore, error) {
	rows, err := l.db.Query(`
		SELECT id, name, street, city, postal_code, latitude, longitude, created_at
		FROM stores
		WHERE latitude IS NOT NULL AND longitude IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query geocoded stores: %w", err)
	}
	defer rows.Close()

	origin := orb.Point{lon, lat}

	var nearby []models.NearbyStore
	for rows.Next() {
		var s models.Store
		var street, city, postalCode, createdAt sql.NullString
		var storeLat, storeLon float64

		err := rows.Scan(&s.ID, &s.Name, &street, &city, &postalCode, &storeLat, &storeLon, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan store: %w", err)
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
		if createdAt.Valid && createdAt.String != "" {
			if t, err := time.Parse(time.RFC3339, createdAt.String); err == nil {
				s.CreatedAt = t
			}
		}
		s.Latitude = &storeLat
		s.Longitude = &storeLon

		distance := geo.Distance(origin, orb.Point{storeLon, storeLat})
		if distance > radiusMeters {
			continue
		}

		nearby = append(nearby, models.NearbyStore{
			Store:          s,
			DistanceMeters: distance,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stores: %w", err)
	}

	sort.Slice(nearby, func(i, j int) bool {
		return nearby[i].DistanceMeters < nearby[j].DistanceMeters
	})

	l.logger.WithFields(logrus.Fields{
		"latitude":  lat,
		"longitude": lon,
		"radius_m":  radiusMeters,
		"matches":   len(nearby),
	}).Debug("Nearby store lookup")

	return nearby, nil
}
