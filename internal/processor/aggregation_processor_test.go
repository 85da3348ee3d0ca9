package processor

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"pricetag/server/config"
	"pricetag/server/internal/models"
	"pricetag/server/internal/queue"
)

const statisticsTable = `
	CREATE TABLE product_price_statistics (
		user_id TEXT NOT NULL,
		user_product_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		total_price REAL NOT NULL,
		average_price REAL NOT NULL,
		lowest_price REAL NOT NULL,
		highest_price REAL NOT NULL,
		lowest_price_store_id TEXT NOT NULL,
		lowest_price_store_name TEXT NOT NULL,
		total_price_records INTEGER NOT NULL,
		last_updated TIMESTAMP,
		PRIMARY KEY (user_id, user_product_id)
	);
`

func newTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.Exec(statisticsTable).Error)
	return db
}

func newTestConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Aggregation.WorkerCount = 2
	cfg.Aggregation.MaxRetries = 2
	cfg.Aggregation.RetryDelay = 0
	return cfg
}

func testRecord(id, productID, storeID string, price float64) *models.PriceRecord {
	return &models.PriceRecord{
		ID:                id,
		UserID:            "user-1",
		UserProductID:     productID,
		StoreID:           storeID,
		StoreName:         "Store " + storeID,
		StandardUnitPrice: price,
		Currency:          "USD",
		RecordedAt:        time.Now().UTC(),
	}
}

func TestNewAggregationProcessor(t *testing.T) {
	db := newTestDB(t)
	mockQueue := queue.NewRecordQueue(10, logrus.New())
	cfg := newTestConfig()
	logger := logrus.New()

	processor := NewAggregationProcessor(db, mockQueue, cfg, logger)

	assert.NotNil(t, processor)
	assert.Equal(t, db, processor.db)
	assert.Equal(t, mockQueue, processor.queue)
	assert.Equal(t, cfg, processor.config)
	assert.Equal(t, logger, processor.logger)
}

func TestAggregationProcessor_ProcessBatch(t *testing.T) {
	db := newTestDB(t)
	processor := NewAggregationProcessor(db, queue.NewRecordQueue(10, logrus.New()), newTestConfig(), logrus.New())

	batch := []*models.PriceRecord{
		testRecord("r1", "milk", "s1", 0.66),
		testRecord("r2", "milk", "s2", 0.60),
		testRecord("r3", "eggs", "s1", 3.25),
	}

	require.NoError(t, processor.processBatch(batch))

	var avg, lowest, highest float64
	var count int
	var lowestStore string
	row := db.Raw(`
		SELECT average_price, lowest_price, highest_price,
		       total_price_records, lowest_price_store_id
		FROM product_price_statistics
		WHERE user_id = ? AND user_product_id = ?
	`, "user-1", "milk").Row()
	require.NoError(t, row.Scan(&avg, &lowest, &highest, &count, &lowestStore))

	assert.Equal(t, 0.63, avg)
	assert.Equal(t, 0.60, lowest)
	assert.Equal(t, 0.66, highest)
	assert.Equal(t, 2, count)
	assert.Equal(t, "s2", lowestStore)

	row = db.Raw(`
		SELECT total_price_records FROM product_price_statistics
		WHERE user_id = ? AND user_product_id = ?
	`, "user-1", "eggs").Row()
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, 1, count)
}

func TestAggregationProcessor_ProcessBatch_FoldsIntoExisting(t *testing.T) {
	db := newTestDB(t)
	processor := NewAggregationProcessor(db, queue.NewRecordQueue(10, logrus.New()), newTestConfig(), logrus.New())

	require.NoError(t, processor.processBatch([]*models.PriceRecord{
		testRecord("r1", "milk", "s1", 0.66),
	}))
	require.NoError(t, processor.processBatch([]*models.PriceRecord{
		testRecord("r2", "milk", "s2", 0.60),
	}))

	var avg float64
	var count int
	row := db.Raw(`
		SELECT average_price, total_price_records FROM product_price_statistics
		WHERE user_id = ? AND user_product_id = ?
	`, "user-1", "milk").Row()
	require.NoError(t, row.Scan(&avg, &count))

	assert.Equal(t, 0.63, avg)
	assert.Equal(t, 2, count)
}

func TestAggregationProcessor_ProcessBatch_RetriesThenFails(t *testing.T) {
	// No statistics table: every transaction fails and retries are exhausted.
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "empty.db")), &gorm.Config{})
	require.NoError(t, err)

	processor := NewAggregationProcessor(db, queue.NewRecordQueue(10, logrus.New()), newTestConfig(), logrus.New())

	err = processor.processBatch([]*models.PriceRecord{
		testRecord("r1", "milk", "s1", 0.66),
	})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to aggregate batch after 2 attempts")
}

func TestAggregationProcessor_EachBatchFoldsExactlyOnce(t *testing.T) {
	// Two workers, one batch through the full queue pipeline: the fold is
	// not idempotent, so the batch must be counted once, not per worker.
	db := newTestDB(t)
	mockQueue := queue.NewRecordQueue(10, logrus.New())
	processor := NewAggregationProcessor(db, mockQueue, newTestConfig(), logrus.New())

	processor.Start()
	mockQueue.Start()

	require.NoError(t, mockQueue.Push([]*models.PriceRecord{
		testRecord("r1", "milk", "s1", 0.66),
	}))

	readCount := func() (int, error) {
		var count int
		row := db.Raw(`
			SELECT total_price_records FROM product_price_statistics
			WHERE user_id = ? AND user_product_id = ?
		`, "user-1", "milk").Row()
		err := row.Scan(&count)
		return count, err
	}

	require.Eventually(t, func() bool {
		count, err := readCount()
		return err == nil && count >= 1
	}, 2*time.Second, 20*time.Millisecond)

	// Give a duplicate fold time to land before asserting there isn't one
	time.Sleep(200 * time.Millisecond)
	processor.Stop()
	mockQueue.Close()

	count, err := readCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	var total float64
	row := db.Raw(`
		SELECT total_price FROM product_price_statistics
		WHERE user_id = ? AND user_product_id = ?
	`, "user-1", "milk").Row()
	require.NoError(t, row.Scan(&total))
	assert.Equal(t, 0.66, total)
}

func TestAggregationProcessor_StartStop(t *testing.T) {
	db := newTestDB(t)
	mockQueue := queue.NewRecordQueue(10, logrus.New())
	processor := NewAggregationProcessor(db, mockQueue, newTestConfig(), logrus.New())

	processor.Start()
	time.Sleep(100 * time.Millisecond) // Give time for goroutines to start

	processor.Stop()
	mockQueue.Close()
	assert.True(t, mockQueue.IsClosed())
}
