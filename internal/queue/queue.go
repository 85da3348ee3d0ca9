package queue

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"pricetag/server/internal/models"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// RecordQueue is an in-memory queue of price record batches awaiting
// aggregation into product statistics. Each batch is delivered to exactly one
// consumer: the statistics fold is not idempotent, so duplicate delivery
// would double-count every record.
type RecordQueue struct {
	items   chan []*models.PriceRecord
	done    chan struct{}
	maxSize int
	closed  bool
	mu      sync.RWMutex
	logger  *logrus.Logger
	handler func([]*models.PriceRecord) error
}

// NewRecordQueue creates a new record queue with the specified buffer size
func NewRecordQueue(bufferSize int, logger *logrus.Logger) *RecordQueue {
	return &RecordQueue{
		items:   make(chan []*models.PriceRecord, bufferSize),
		done:    make(chan struct{}),
		maxSize: bufferSize,
		logger:  logger,
	}
}

// Push adds a batch of price records to the queue
func (q *RecordQueue) Push(records []*models.PriceRecord) error {
	q.mu.RLock()
	if q.closed {
		q.mu.RUnlock()
		return ErrQueueClosed
	}
	q.mu.RUnlock()

	// Non-blocking send to prevent deadlocks
	select {
	case q.items <- records:
		q.logger.WithField("batch_size", len(records)).Debug("Pushed batch to queue")
		return nil
	default:
		return ErrQueueFull
	}
}

// Subscribe registers the consumer called once per batch. A later call
// replaces the previous consumer; batches are never fanned out.
func (q *RecordQueue) Subscribe(handler func([]*models.PriceRecord) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handler = handler
}

// Start begins processing items in the queue
func (q *RecordQueue) Start() {
	go q.process()
}

// process handles the queue processing loop
func (q *RecordQueue) process() {
	for {
		select {
		case <-q.done:
			return
		case batch := <-q.items:
			q.processBatch(batch)
		}
	}
}

// processBatch delivers the batch to the registered consumer
func (q *RecordQueue) processBatch(batch []*models.PriceRecord) {
	q.mu.RLock()
	handler := q.handler
	q.mu.RUnlock()

	if handler == nil {
		q.logger.WithField("batch_size", len(batch)).Warn("Dropping batch: no consumer registered")
		return
	}
	if err := handler(batch); err != nil {
		q.logger.WithError(err).Error("Consumer failed to process batch")
	}
}

// Close stops the queue and prevents new items from being added
func (q *RecordQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}

	q.closed = true
	close(q.done)
	close(q.items)
	return nil
}

// Len returns the current number of batches in the queue
func (q *RecordQueue) Len() int {
	return len(q.items)
}

// IsClosed returns whether the queue has been closed
func (q *RecordQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
