package stats

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricetag/server/internal/models"
)

var testTime = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestApplyNewRecord_FirstRecord(t *testing.T) {
	obs := Observation{Price: 0.66, StoreID: "store-1", StoreName: "Corner Market", Currency: "USD"}

	result := ApplyNewRecord(nil, obs, testTime)

	assert.Equal(t, 1, result.TotalPriceRecords)
	assert.Equal(t, 0.66, result.TotalPrice)
	assert.Equal(t, 0.66, result.AveragePrice)
	assert.Equal(t, 0.66, result.LowestPrice)
	assert.Equal(t, 0.66, result.HighestPrice)
	assert.Equal(t, "store-1", result.LowestPriceStore.StoreID)
	assert.Equal(t, "Corner Market", result.LowestPriceStore.StoreName)
	assert.Equal(t, "USD", result.Currency)
	assert.Equal(t, testTime, result.LastUpdated)
}

func TestApplyNewRecord_SecondRecord(t *testing.T) {
	// Spec scenario: 5.99 for 2lb standardizes to 0.66/100g, then 6.00 for
	// 1kg standardizes to 0.60/100g.
	first := ApplyNewRecord(nil, Observation{Price: 0.66, StoreID: "store-1", StoreName: "Corner Market"}, testTime)
	second := ApplyNewRecord(&first, Observation{Price: 0.60, StoreID: "store-2", StoreName: "Budget Foods"}, testTime)

	assert.Equal(t, 2, second.TotalPriceRecords)
	assert.Equal(t, 0.63, second.AveragePrice)
	assert.Equal(t, 0.60, second.LowestPrice)
	assert.Equal(t, 0.66, second.HighestPrice)
	assert.Equal(t, "store-2", second.LowestPriceStore.StoreID)
}

func TestApplyNewRecord_EqualPriceKeepsEarlierStore(t *testing.T) {
	first := ApplyNewRecord(nil, Observation{Price: 1.50, StoreID: "store-1", StoreName: "First"}, testTime)
	second := ApplyNewRecord(&first, Observation{Price: 1.50, StoreID: "store-2", StoreName: "Second"}, testTime)

	assert.Equal(t, "store-1", second.LowestPriceStore.StoreID)
	assert.Equal(t, 1.50, second.LowestPrice)
	assert.Equal(t, 1.50, second.HighestPrice)
}

func TestApplyNewRecord_DoesNotMutateExisting(t *testing.T) {
	first := ApplyNewRecord(nil, Observation{Price: 2.00, StoreID: "store-1", StoreName: "First"}, testTime)
	before := first

	ApplyNewRecord(&first, Observation{Price: 1.00, StoreID: "store-2", StoreName: "Second"}, testTime)

	assert.Equal(t, before, first)
}

func TestApplyNewRecord_InsertMonotonicity(t *testing.T) {
	prices := []float64{2.50, 0.99, 3.10, 1.75, 0.99, 4.00, 2.00}

	var current *models.ProductPriceStatistics
	var inserted []float64

	for i, price := range prices {
		next := ApplyNewRecord(current, Observation{Price: price, StoreID: "store", StoreName: "Store"}, testTime)
		current = &next
		inserted = append(inserted, price)

		require.Equal(t, i+1, current.TotalPriceRecords)

		sum := decimal.Zero
		for _, p := range inserted {
			assert.LessOrEqual(t, current.LowestPrice, p)
			assert.GreaterOrEqual(t, current.HighestPrice, p)
			sum = sum.Add(decimal.NewFromFloat(p))
		}

		expectedAvg, _ := sum.Div(decimal.NewFromInt(int64(len(inserted)))).Round(2).Float64()
		assert.Equal(t, expectedAvg, current.AveragePrice)

		// A violation here is a programming-contract bug in the
		// aggregator and must fail loudly, never be clamped.
		require.LessOrEqual(t, current.LowestPrice, current.AveragePrice)
		require.LessOrEqual(t, current.AveragePrice, current.HighestPrice)
	}
}

func record(id, storeID string, price float64, recordedAt time.Time) models.PriceRecord {
	return models.PriceRecord{
		ID:                id,
		UserID:            "user-1",
		UserProductID:     "product-1",
		StoreID:           storeID,
		StoreName:         "Store " + storeID,
		StandardUnitPrice: price,
		Currency:          "USD",
		RecordedAt:        recordedAt,
	}
}

func TestRecomputeAfterDelete(t *testing.T) {
	// Records [5, 3, 9] with the 3 deleted: stats over [5, 9].
	remaining := []models.PriceRecord{
		record("a", "s1", 5, testTime),
		record("c", "s3", 9, testTime.Add(2*time.Hour)),
	}

	result, tombstone := RecomputeAfterDelete(remaining, testTime)

	require.False(t, tombstone)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.TotalPriceRecords)
	assert.Equal(t, 14.0, result.TotalPrice)
	assert.Equal(t, 7.00, result.AveragePrice)
	assert.Equal(t, 5.0, result.LowestPrice)
	assert.Equal(t, 9.0, result.HighestPrice)
	assert.Equal(t, "s1", result.LowestPriceStore.StoreID)
	assert.Equal(t, "user-1", result.UserID)
	assert.Equal(t, "product-1", result.UserProductID)
}

func TestRecomputeAfterDelete_TombstoneOnEmpty(t *testing.T) {
	result, tombstone := RecomputeAfterDelete(nil, testTime)

	assert.True(t, tombstone)
	assert.Nil(t, result)

	result, tombstone = RecomputeAfterDelete([]models.PriceRecord{}, testTime)
	assert.True(t, tombstone)
	assert.Nil(t, result)
}

func TestRecomputeAfterDelete_TieBreakIsDeterministic(t *testing.T) {
	// Two records tie at the minimum; the earliest recorded_at must win
	// regardless of input order.
	early := record("b", "early", 1.25, testTime)
	late := record("a", "late", 1.25, testTime.Add(time.Hour))
	other := record("c", "other", 2.00, testTime.Add(2*time.Hour))

	forward, _ := RecomputeAfterDelete([]models.PriceRecord{early, late, other}, testTime)
	reversed, _ := RecomputeAfterDelete([]models.PriceRecord{other, late, early}, testTime)

	assert.Equal(t, "early", forward.LowestPriceStore.StoreID)
	assert.Equal(t, forward.LowestPriceStore, reversed.LowestPriceStore)
}

func TestRecomputeAfterDelete_TieBreakFallsBackToID(t *testing.T) {
	// Identical timestamps: the lowest record id wins.
	a := record("a", "first", 1.25, testTime)
	b := record("b", "second", 1.25, testTime)

	result, _ := RecomputeAfterDelete([]models.PriceRecord{b, a}, testTime)
	assert.Equal(t, "first", result.LowestPriceStore.StoreID)
}

func TestRecomputeAfterDelete_DoesNotMutateInput(t *testing.T) {
	records := []models.PriceRecord{
		record("c", "s3", 9, testTime.Add(2*time.Hour)),
		record("a", "s1", 5, testTime),
	}

	RecomputeAfterDelete(records, testTime)

	assert.Equal(t, "c", records[0].ID)
	assert.Equal(t, "a", records[1].ID)
}

func TestRecomputeAfterDelete_AverageRounding(t *testing.T) {
	remaining := []models.PriceRecord{
		record("a", "s1", 0.66, testTime),
		record("b", "s2", 0.60, testTime.Add(time.Hour)),
		record("c", "s3", 0.71, testTime.Add(2*time.Hour)),
	}

	result, tombstone := RecomputeAfterDelete(remaining, testTime)

	require.False(t, tombstone)
	assert.Equal(t, 0.66, result.AveragePrice) // 1.97 / 3 = 0.6566...
	assert.Equal(t, 0.60, result.LowestPrice)
	assert.Equal(t, 0.71, result.HighestPrice)
	require.LessOrEqual(t, result.LowestPrice, result.AveragePrice)
	require.LessOrEqual(t, result.AveragePrice, result.HighestPrice)
}
