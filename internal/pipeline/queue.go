package pipeline

import (
	"errors"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/pondwatch/internal/metrics"
	"github.com/good-yellow-bee/pondwatch/internal/models"
)

var (
	// ErrQueueFull is returned when a reading's shard has no free slot.
	ErrQueueFull = errors.New("queue full")
	// ErrQueueClosed is returned after Close.
	ErrQueueClosed = errors.New("queue closed")
)

// Queue is a bounded work queue sharded by pond. Readings for one pond always
// land on the same shard, so a single worker sees them in arrival order.
// Push never blocks; a full shard drops the incoming reading.
type Queue struct {
	shards  []chan *models.Reading
	logger  *zap.Logger
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a queue with the given number of shards, each holding up
// to capacity readings.
func NewQueue(shards, capacity int, logger *zap.Logger) *Queue {
	if shards <= 0 {
		shards = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	q := &Queue{
		shards: make([]chan *models.Reading, shards),
		logger: logger,
	}
	for i := range q.shards {
		q.shards[i] = make(chan *models.Reading, capacity)
	}
	return q
}

// ShardFor returns the shard index serving pondID.
func (q *Queue) ShardFor(pondID string) int {
	h := fnv.New32a()
	h.Write([]byte(pondID))
	return int(h.Sum32() % uint32(len(q.shards)))
}

// Push enqueues r on its pond's shard.
func (q *Queue) Push(r *models.Reading) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	shard := q.ShardFor(r.PondID)
	select {
	case q.shards[shard] <- r:
		metrics.QueueDepth.Inc()
		return nil
	default:
		n := q.dropped.Add(1)
		metrics.QueueDroppedTotal.Inc()
		q.logger.Warn("queue full, dropping reading",
			zap.String("pond_id", r.PondID),
			zap.String("reading_id", r.ID),
			zap.Int("shard", shard),
			zap.Int64("dropped_total", n),
		)
		return ErrQueueFull
	}
}

// Shards returns the receive side of every shard.
func (q *Queue) Shards() []<-chan *models.Reading {
	out := make([]<-chan *models.Reading, len(q.shards))
	for i, ch := range q.shards {
		out[i] = ch
	}
	return out
}

// Len returns the number of queued readings across all shards.
func (q *Queue) Len() int {
	n := 0
	for _, ch := range q.shards {
		n += len(ch)
	}
	return n
}

// Dropped returns how many readings were dropped on overflow.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Close stops accepting readings. Queued readings remain readable.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	for _, ch := range q.shards {
		close(ch)
	}
}
