package importing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"pricetag/server/internal/database"
	"pricetag/server/internal/models"
	"pricetag/server/internal/queue"
	"pricetag/server/internal/units"
	"pricetag/server/internal/vision"
)

// Importer turns extracted receipt lines into persisted price records and
// hands them to the aggregation queue. One bad line fails that line, not the
// whole batch: a receipt with an unreadable unit still imports the rest.
type Importer struct {
	logger    *logrus.Logger
	db        *database.Database
	converter *units.Converter
	queue     *queue.RecordQueue
	vision    *vision.Client
}

// Item is one receipt line bound to the user product it was recorded for.
type Item struct {
	UserProductID string  `json:"user_product_id" binding:"required"`
	Price         float64 `json:"price" binding:"required"`
	Quantity      float64 `json:"quantity" binding:"required"`
	Unit          string  `json:"unit" binding:"required"`
	Currency      string  `json:"currency"`
	StoreName     string  `json:"store_name" binding:"required"`
	PhotoURL      string  `json:"photo_url"`
}

// ItemError reports why one line of a batch was rejected.
type ItemError struct {
	UserProductID string `json:"user_product_id"`
	Error         string `json:"error"`
}

// Result summarizes an import run.
type Result struct {
	Imported int         `json:"imported"`
	Failed   []ItemError `json:"failed,omitempty"`
}

func NewImporter(db *database.Database, converter *units.Converter, recordQueue *queue.RecordQueue, visionClient *vision.Client, logger *logrus.Logger) *Importer {
	return &Importer{
		logger:    logger,
		db:        db,
		converter: converter,
		queue:     recordQueue,
		vision:    visionClient,
	}
}

// Import persists a batch of receipt lines for one user and enqueues the
// created records for statistics aggregation.
func (i *Importer) Import(userID string, items []Item) (*Result, error) {
	result := &Result{}
	now := time.Now().UTC()

	var created []*models.PriceRecord
	for _, item := range items {
		record, err := i.buildRecord(userID, item, now)
		if err != nil {
			i.logger.WithError(err).WithField("user_product_id", item.UserProductID).Warn("Skipping import item")
			result.Failed = append(result.Failed, ItemError{
				UserProductID: item.UserProductID,
				Error:         err.Error(),
			})
			continue
		}

		if err := i.db.InsertPriceRecord(record); err != nil {
			return result, fmt.Errorf("failed to persist record: %w", err)
		}
		created = append(created, record)
		result.Imported++
	}

	if len(created) > 0 {
		if err := i.queue.Push(created); err != nil {
			return result, fmt.Errorf("failed to enqueue records for aggregation: %w", err)
		}
	}

	i.logger.WithFields(logrus.Fields{
		"user_id":  userID,
		"imported": result.Imported,
		"failed":   len(result.Failed),
	}).Info("Completed receipt import")

	return result, nil
}

// ImportFromImage runs one image through the vision service and imports the
// extracted line. The caller supplies the product binding; the extraction
// only identifies what the tag says.
func (i *Importer) ImportFromImage(ctx context.Context, userID, userProductID, imageURL string) (*Result, error) {
	extraction, err := i.vision.ExtractPriceTag(ctx, imageURL)
	if err != nil {
		return nil, err
	}

	return i.Import(userID, []Item{{
		UserProductID: userProductID,
		Price:         extraction.Price,
		Quantity:      extraction.Quantity,
		Unit:          extraction.Unit,
		Currency:      extraction.Currency,
		StoreName:     extraction.StoreName,
		PhotoURL:      imageURL,
	}})
}

func (i *Importer) buildRecord(userID string, item Item, now time.Time) (*models.PriceRecord, error) {
	standardPrice, err := i.converter.StandardizePrice(item.Price, item.Quantity, item.Unit)
	if err != nil {
		return nil, err
	}

	store, err := i.resolveStore(item.StoreName, now)
	if err != nil {
		return nil, err
	}

	currency := item.Currency
	if currency == "" {
		currency = "USD"
	}

	return &models.PriceRecord{
		ID:                uuid.NewString(),
		UserID:            userID,
		UserProductID:     item.UserProductID,
		StoreID:           store.ID,
		StoreName:         store.Name,
		OriginalPrice:     item.Price,
		OriginalQuantity:  item.Quantity,
		OriginalUnit:      item.Unit,
		StandardUnitPrice: standardPrice,
		Currency:          currency,
		PhotoURL:          item.PhotoURL,
		CatalogVersion:    i.converter.CatalogVersion(),
		RecordedAt:        now,
		CreatedAt:         now,
	}, nil
}

// resolveStore finds a store by extracted name, registering an address-less
// store when the name is new. Geocoding happens later, once an address is
// known.
func (i *Importer) resolveStore(name string, now time.Time) (*models.Store, error) {
	if name == "" {
		return nil, fmt.Errorf("store name is required")
	}

	store, err := i.db.GetStoreByName(name)
	if err != nil {
		return nil, err
	}
	if store != nil {
		return store, nil
	}

	store = &models.Store{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
	}
	if err := i.db.InsertStore(store); err != nil {
		return nil, err
	}

	i.logger.WithField("store", name).Info("Registered new store from import")
	return store, nil
}
