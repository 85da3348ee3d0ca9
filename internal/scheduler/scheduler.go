package scheduler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pricetag/server/internal/database"
	"pricetag/server/internal/stats"
	"pricetag/server/internal/units"
)

// Scheduler periodically reconciles statistics documents with the price
// records that back them. The pass repairs two kinds of drift: statistics
// left stale by an interrupted write, and records standardized under an older
// unit catalog version.
type Scheduler struct {
	db        *database.Database
	converter *units.Converter
	logger    *logrus.Logger
	interval  time.Duration
	stopChan  chan struct{}
	wg        sync.WaitGroup
	jobMutex  sync.Mutex // Ensures sequential reconciliation runs
}

func NewScheduler(db *database.Database, converter *units.Converter, interval time.Duration, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		db:        db,
		converter: converter,
		logger:    logger,
		interval:  interval,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the periodic reconciliation loop.
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				if err := s.RunReconciliation(); err != nil {
					s.logger.WithError(err).Error("Reconciliation run failed")
				}
			}
		}
	}()
}

// Stop shuts down the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// RunReconciliation recomputes every product's statistics from its records,
// re-standardizing records whose catalog version is stale, and removes
// statistics documents whose records are all gone.
func (s *Scheduler) RunReconciliation() error {
	s.jobMutex.Lock()
	defer s.jobMutex.Unlock()

	started := time.Now()
	s.logger.Info("Starting statistics reconciliation")

	products, err := s.db.ListProductsWithRecords()
	if err != nil {
		return err
	}

	var migrated, recomputed int
	live := make(map[database.ProductKey]bool, len(products))
	for _, key := range products {
		live[key] = true

		n, err := s.reconcileProduct(key)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"user_id":    key.UserID,
				"product_id": key.UserProductID,
			}).Error("Failed to reconcile product")
			continue
		}
		migrated += n
		recomputed++
	}

	// Statistics whose last record was deleted without the cascade
	// completing are orphans; finish the tombstone for them.
	statsKeys, err := s.db.ListStatisticsKeys()
	if err != nil {
		return err
	}

	var orphans int
	for _, key := range statsKeys {
		if live[key] {
			continue
		}
		if err := s.db.DeleteStatistics(key.UserID, key.UserProductID); err != nil {
			s.logger.WithError(err).Error("Failed to delete orphaned statistics")
			continue
		}
		orphans++
	}

	s.logger.WithFields(logrus.Fields{
		"products":         recomputed,
		"records_migrated": migrated,
		"orphans_removed":  orphans,
		"duration":         time.Since(started).String(),
	}).Info("Completed statistics reconciliation")

	return nil
}

// reconcileProduct re-standardizes stale records for one product and rewrites
// its statistics document. Returns the number of migrated records.
func (s *Scheduler) reconcileProduct(key database.ProductKey) (int, error) {
	records, err := s.db.GetRecordsForProduct(key.UserID, key.UserProductID)
	if err != nil {
		return 0, err
	}

	version := s.converter.CatalogVersion()
	var migrated int
	for idx := range records {
		record := &records[idx]
		if record.CatalogVersion == version {
			continue
		}

		standardPrice, err := s.converter.StandardizePrice(record.OriginalPrice, record.OriginalQuantity, record.OriginalUnit)
		if err != nil {
			// A unit removed from the catalog leaves its historical
			// records on their old standardization.
			s.logger.WithError(err).WithField("record_id", record.ID).Warn("Cannot re-standardize record")
			continue
		}

		if err := s.db.UpdateRecordStandardPrice(record.ID, standardPrice, version); err != nil {
			return migrated, err
		}
		record.StandardUnitPrice = standardPrice
		record.CatalogVersion = version
		migrated++
	}

	result, tombstone := stats.RecomputeAfterDelete(records, time.Now().UTC())
	if tombstone {
		return migrated, s.db.DeleteStatistics(key.UserID, key.UserProductID)
	}
	return migrated, s.db.UpsertStatistics(result)
}
