package config

import "github.com/caarlos0/env/v6"

type Config struct {
	// Server configuration
	Server struct {
		Port         string `env:"SERVER_PORT" envDefault:"5250"`
		DatabasePath string `env:"DATABASE_PATH" envDefault:"database/pricetag.db"`
		CatalogPath  string `env:"CATALOG_PATH" envDefault:"config/unit_catalog.json"`
	}

	// Aggregation pipeline configuration
	Aggregation struct {
		// Number of concurrent aggregation workers
		WorkerCount int `env:"AGGREGATION_WORKER_COUNT" envDefault:"2"`

		// Buffer size of the record batch queue
		QueueSize int `env:"AGGREGATION_QUEUE_SIZE" envDefault:"100"`

		// Maximum number of retries for failed batches
		MaxRetries int `env:"AGGREGATION_MAX_RETRIES" envDefault:"3"`

		// Delay between retries in seconds
		RetryDelay int `env:"AGGREGATION_RETRY_DELAY" envDefault:"5"`
	}

	// Reconciliation job configuration
	Reconciliation struct {
		// Interval between full statistics reconciliation runs (in minutes)
		IntervalMinutes int `env:"RECONCILE_INTERVAL" envDefault:"1440"`

		// Whether to run a reconciliation pass on startup
		RunOnStartup bool `env:"RECONCILE_ON_STARTUP" envDefault:"false"`
	}

	// Vision extraction service configuration
	Vision struct {
		Endpoint string `env:"VISION_ENDPOINT"`
		APIKey   string `env:"VISION_API_KEY"`
	}

	// Geocoding configuration
	Geocoding struct {
		NominatimURL string `env:"NOMINATIM_URL" envDefault:"https://nominatim.openstreetmap.org/search"`
		CountryCode  string `env:"GEOCODING_COUNTRY" envDefault:"us"`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
