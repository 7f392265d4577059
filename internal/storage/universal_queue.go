package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/thisdougb/runlog/internal/config"
	"go.uber.org/zap"
)

// PointQueue batches points in memory and writes them to any Backend.
// Writes happen when the batch size is reached, on every flush interval
// tick and on Stop.
type PointQueue struct {
	backend       Backend
	flushInterval time.Duration
	batchSize     int
	queue         []Point
	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewPointQueue creates a queue in front of backend.
//
// Parameters:
//   - backend: Any storage backend implementation (memory, SQLite, Postgres)
//   - flushInterval: How often queued points are written (e.g., 10s)
//   - batchSize: Points to queue before a write is forced (e.g., 100)
func NewPointQueue(backend Backend, flushInterval time.Duration, batchSize int) *PointQueue {
	ctx, cancel := context.WithCancel(context.Background())

	if batchSize < 1 {
		batchSize = 1
	}
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}

	return &PointQueue{
		backend:       backend,
		flushInterval: flushInterval,
		batchSize:     batchSize,
		queue:         make([]Point, 0, batchSize),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins background processing of the queue.
func (q *PointQueue) Start() {
	q.wg.Add(1)
	go q.processQueue()
}

// Stop shuts down background processing and writes whatever is left.
func (q *PointQueue) Stop() error {
	q.cancel()
	q.wg.Wait()

	return q.ForceFlush()
}

// Enqueue adds points to the queue, writing synchronously once the batch
// size is reached.
func (q *PointQueue) Enqueue(points []Point) error {
	if len(points) == 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.queue = append(q.queue, points...)

	if len(q.queue) >= q.batchSize {
		return q.flushQueueUnsafe()
	}

	return nil
}

// ForceFlush writes all queued points now.
func (q *PointQueue) ForceFlush() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.flushQueueUnsafe()
}

// QueueSize returns the current number of queued points (for testing)
func (q *PointQueue) QueueSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func (q *PointQueue) processQueue() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			if err := q.ForceFlush(); err != nil {
				config.LogError(q.ctx, "failed to flush point queue", zap.Error(err))
			}
		}
	}
}

// flushQueueUnsafe assumes the caller holds mu. Points stay queued when
// the backend write fails so the next flush retries them.
func (q *PointQueue) flushQueueUnsafe() error {
	if len(q.queue) == 0 {
		return nil
	}

	batch := make([]Point, len(q.queue))
	copy(batch, q.queue)

	if err := q.backend.WritePoints(batch); err != nil {
		return fmt.Errorf("write %d points: %w", len(batch), err)
	}

	q.queue = q.queue[:0]
	return nil
}
