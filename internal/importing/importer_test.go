package importing

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricetag/server/config"
	"pricetag/server/internal/database"
	"pricetag/server/internal/queue"
	"pricetag/server/internal/units"
	"pricetag/server/internal/vision"
)

func newTestImporter(t *testing.T) (*Importer, *database.Database, *queue.RecordQueue) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	converter := units.NewConverter(config.DefaultUnitCatalog())
	recordQueue := queue.NewRecordQueue(10, logger)
	visionClient := vision.NewClient(logger, "", "")

	return NewImporter(db, converter, recordQueue, visionClient, logger), db, recordQueue
}

func TestImporter_Import(t *testing.T) {
	importer, db, recordQueue := newTestImporter(t)

	result, err := importer.Import("user-1", []Item{
		{UserProductID: "milk", Price: 5.99, Quantity: 2, Unit: "lb", StoreName: "Corner Market"},
		{UserProductID: "eggs", Price: 3.99, Quantity: 4, Unit: "EA", StoreName: "Corner Market"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Imported)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 1, recordQueue.Len())

	records, err := db.GetRecordsForProduct("user-1", "milk")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0.66, records[0].StandardUnitPrice)
	assert.Equal(t, "lb", records[0].OriginalUnit)
	assert.Equal(t, "1", records[0].CatalogVersion)
	assert.NotEmpty(t, records[0].StoreID)

	records, err = db.GetRecordsForProduct("user-1", "eggs")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1.00, records[0].StandardUnitPrice)
}

func TestImporter_Import_SharesResolvedStore(t *testing.T) {
	importer, db, _ := newTestImporter(t)

	_, err := importer.Import("user-1", []Item{
		{UserProductID: "milk", Price: 2.00, Quantity: 1, Unit: "l", StoreName: "Corner Market"},
		{UserProductID: "juice", Price: 4.00, Quantity: 1, Unit: "l", StoreName: "corner market"},
	})
	require.NoError(t, err)

	// Case-insensitive name resolution: one store, not two
	stores, err := db.GetStores()
	require.NoError(t, err)
	assert.Len(t, stores, 1)
}

func TestImporter_Import_BadLineFailsAlone(t *testing.T) {
	importer, db, recordQueue := newTestImporter(t)

	result, err := importer.Import("user-1", []Item{
		{UserProductID: "milk", Price: 2.00, Quantity: 1, Unit: "l", StoreName: "Corner Market"},
		{UserProductID: "mystery", Price: 2.00, Quantity: 1, Unit: "cubit", StoreName: "Corner Market"},
		{UserProductID: "flour", Price: 3.00, Quantity: 0, Unit: "kg", StoreName: "Corner Market"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Imported)
	require.Len(t, result.Failed, 2)
	assert.Equal(t, "mystery", result.Failed[0].UserProductID)
	assert.Contains(t, result.Failed[0].Error, "unsupported unit")
	assert.Equal(t, "flour", result.Failed[1].UserProductID)
	assert.Contains(t, result.Failed[1].Error, "invalid quantity")

	// The good line still made it through
	records, err := db.GetRecordsForProduct("user-1", "milk")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, recordQueue.Len())
}

func TestImporter_Import_EmptyBatchPushesNothing(t *testing.T) {
	importer, _, recordQueue := newTestImporter(t)

	result, err := importer.Import("user-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 0, recordQueue.Len())
}
