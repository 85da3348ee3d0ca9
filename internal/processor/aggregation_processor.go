package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"pricetag/server/config"
	"pricetag/server/internal/database"
	"pricetag/server/internal/models"
	"pricetag/server/internal/queue"
)

// AggregationProcessor folds queued batches of price records into their
// products' statistics documents.
type AggregationProcessor struct {
	db        *gorm.DB
	logger    *logrus.Logger
	config    *config.Config
	queue     *queue.RecordQueue
	batches   chan []*models.PriceRecord
	waitGroup sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewAggregationProcessor creates a new aggregation processor instance
func NewAggregationProcessor(db *gorm.DB, queue *queue.RecordQueue, config *config.Config, logger *logrus.Logger) *AggregationProcessor {
	ctx, cancel := context.WithCancel(context.Background())
	return &AggregationProcessor{
		db:      db,
		queue:   queue,
		config:  config,
		logger:  logger,
		batches: make(chan []*models.PriceRecord, config.Aggregation.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the queue and launches the worker pool. The fold is not
// idempotent, so each batch must reach exactly one worker: a single
// subscription dispatches into the internal channel the workers share.
func (p *AggregationProcessor) Start() {
	p.queue.Subscribe(p.dispatch)

	for i := 0; i < p.config.Aggregation.WorkerCount; i++ {
		p.waitGroup.Add(1)
		go p.processLoop()
	}
}

// Stop gracefully shuts down the processor
func (p *AggregationProcessor) Stop() {
	p.cancel()
	p.waitGroup.Wait()
}

// dispatch hands one queue batch to the worker pool.
func (p *AggregationProcessor) dispatch(batch []*models.PriceRecord) error {
	select {
	case p.batches <- batch:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// processLoop handles the continuous processing of batches
func (p *AggregationProcessor) processLoop() {
	defer p.waitGroup.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case batch := <-p.batches:
			if err := p.processBatch(batch); err != nil {
				p.logger.WithError(err).Error("Dropping batch after exhausted retries")
			}
		}
	}
}

// processBatch folds a single batch of records with transaction and retry logic
func (p *AggregationProcessor) processBatch(batch []*models.PriceRecord) error {
	var err error
	for attempt := 0; attempt <= p.config.Aggregation.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Infof("Retrying batch aggregation, attempt %d of %d", attempt, p.config.Aggregation.MaxRetries)
			time.Sleep(time.Duration(p.config.Aggregation.RetryDelay) * time.Second)
		}

		err = p.db.Transaction(func(tx *gorm.DB) error {
			if err := database.ApplyRecordBatch(tx, batch, time.Now().UTC()); err != nil {
				return fmt.Errorf("failed to aggregate record batch: %w", err)
			}
			return nil
		})

		if err == nil {
			p.logger.Infof("Successfully aggregated batch of %d records", len(batch))
			return nil
		}

		p.logger.Errorf("Batch aggregation failed: %v", err)
	}

	return fmt.Errorf("failed to aggregate batch after %d attempts: %w", p.config.Aggregation.MaxRetries, err)
}
