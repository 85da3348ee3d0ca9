package stats

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"pricetag/server/internal/models"
)

// Observation is one standardized price being folded into a product's
// statistics, together with the store it was seen at.
type Observation struct {
	Price     float64
	StoreID   string
	StoreName string
	Currency  string
}

// ApplyNewRecord folds one new observation into a product's statistics. A nil
// existing document means this is the product's first record. The fold is O(1)
// and never rescans earlier records.
func ApplyNewRecord(existing *models.ProductPriceStatistics, obs Observation, now time.Time) models.ProductPriceStatistics {
	if existing == nil {
		return models.ProductPriceStatistics{
			Currency:     obs.Currency,
			TotalPrice:   obs.Price,
			AveragePrice: obs.Price,
			LowestPrice:  obs.Price,
			HighestPrice: obs.Price,
			LowestPriceStore: models.StoreRef{
				StoreID:   obs.StoreID,
				StoreName: obs.StoreName,
			},
			TotalPriceRecords: 1,
			LastUpdated:       now,
		}
	}

	updated := *existing
	updated.TotalPriceRecords = existing.TotalPriceRecords + 1

	total := decimal.NewFromFloat(existing.TotalPrice).Add(decimal.NewFromFloat(obs.Price))
	updated.TotalPrice, _ = total.Float64()
	updated.AveragePrice = round2(total.Div(decimal.NewFromInt(int64(updated.TotalPriceRecords))))

	if obs.Price > existing.HighestPrice {
		updated.HighestPrice = obs.Price
	}
	// Strict comparison: an equal price keeps the earlier store.
	if obs.Price < existing.LowestPrice {
		updated.LowestPrice = obs.Price
		updated.LowestPriceStore = models.StoreRef{
			StoreID:   obs.StoreID,
			StoreName: obs.StoreName,
		}
	}

	updated.LastUpdated = now
	return updated
}

// RecomputeAfterDelete rebuilds a product's statistics from the records that
// remain after a deletion. The second result is the tombstone signal: true
// means the last record is gone and the statistics document (and its parent
// user-product entry) must be deleted, not zeroed.
//
// Removing a possibly-extremal record requires knowing the new extremes, so
// this is O(n) over the remaining records; there is no cheaper incremental
// form without an order statistic structure.
func RecomputeAfterDelete(remaining []models.PriceRecord, now time.Time) (*models.ProductPriceStatistics, bool) {
	if len(remaining) == 0 {
		return nil, true
	}

	// Fixed ordering makes the lowest-price-store choice deterministic when
	// several records tie at the minimum: earliest recorded_at wins, then
	// lowest id.
	records := make([]models.PriceRecord, len(remaining))
	copy(records, remaining)
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].RecordedAt.Equal(records[j].RecordedAt) {
			return records[i].RecordedAt.Before(records[j].RecordedAt)
		}
		return records[i].ID < records[j].ID
	})

	first := records[0]
	result := models.ProductPriceStatistics{
		UserID:        first.UserID,
		UserProductID: first.UserProductID,
		Currency:      first.Currency,
		LowestPrice:   first.StandardUnitPrice,
		HighestPrice:  first.StandardUnitPrice,
		LowestPriceStore: models.StoreRef{
			StoreID:   first.StoreID,
			StoreName: first.StoreName,
		},
		TotalPriceRecords: len(records),
		LastUpdated:       now,
	}

	total := decimal.Zero
	for _, record := range records {
		total = total.Add(decimal.NewFromFloat(record.StandardUnitPrice))

		if record.StandardUnitPrice > result.HighestPrice {
			result.HighestPrice = record.StandardUnitPrice
		}
		if record.StandardUnitPrice < result.LowestPrice {
			result.LowestPrice = record.StandardUnitPrice
			result.LowestPriceStore = models.StoreRef{
				StoreID:   record.StoreID,
				StoreName: record.StoreName,
			}
		}
	}

	result.TotalPrice, _ = total.Float64()
	result.AveragePrice = round2(total.Div(decimal.NewFromInt(int64(len(records)))))
	return &result, false
}

func round2(d decimal.Decimal) float64 {
	v, _ := d.Round(2).Float64()
	return v
}
