package models

import "time"

// Store is a physical shop where prices are recorded.
type Store struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Street             string    `json:"street"`
	City               string    `json:"city"`
	PostalCode         string    `json:"postal_code"`
	Latitude           *float64  `json:"latitude"`
	Longitude          *float64  `json:"longitude"`
	GeocodingAttempted bool      `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
}

// NearbyStore is a store annotated with its distance from a query point.
type NearbyStore struct {
	Store
	DistanceMeters float64 `json:"distance_meters"`
}

// UserPreference holds the currency and display unit a user wants prices
// rendered in. An empty Unit is valid and means "show the standardized price".
type UserPreference struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
	Unit     string `json:"unit"`
}
