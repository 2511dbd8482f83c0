package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/pondwatch/internal/metrics"
	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// ReadingBuffer batches readings for a ReadingArchive.
// It flushes on either batch size threshold or time interval,
// whichever comes first, and drops the oldest readings when full.
type ReadingBuffer struct {
	archive       ReadingArchive
	batchSize     int
	flushInterval time.Duration
	maxSize       int
	logger        *zap.Logger

	mu       sync.Mutex
	buffer   []*models.Reading
	kickCh   chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopped  atomic.Bool
	dropped  atomic.Int64
	flushed  atomic.Int64
	inserted atomic.Int64
}

// ReadingBufferConfig holds ReadingBuffer configuration.
type ReadingBufferConfig struct {
	// BatchSize is the number of readings that triggers a flush.
	BatchSize int

	// FlushInterval is the time interval that triggers a flush.
	FlushInterval time.Duration

	// MaxSize is the maximum buffer size. When reached, oldest readings are dropped.
	MaxSize int
}

// NewReadingBuffer creates a buffer and starts its flush loop.
func NewReadingBuffer(archive ReadingArchive, config ReadingBufferConfig, logger *zap.Logger) *ReadingBuffer {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 5 * time.Second
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 50000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &ReadingBuffer{
		archive:       archive,
		batchSize:     config.BatchSize,
		flushInterval: config.FlushInterval,
		maxSize:       config.MaxSize,
		logger:        logger.Named("archive"),
		buffer:        make([]*models.Reading, 0, config.BatchSize),
		kickCh:        make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}

	go b.flushLoop()
	return b
}

// Add queues a reading for archiving. It never blocks on the archive.
func (b *ReadingBuffer) Add(reading *models.Reading) {
	if b.stopped.Load() {
		return
	}

	b.mu.Lock()
	if len(b.buffer) >= b.maxSize {
		b.buffer = b.buffer[1:]
		if n := b.dropped.Add(1); n == 1 || n%100 == 0 {
			b.logger.Warn("archive buffer full, dropping oldest readings", zap.Int64("dropped_total", n))
		}
		metrics.ArchiveDroppedTotal.Inc()
	}
	b.buffer = append(b.buffer, reading)
	pending := len(b.buffer)
	shouldFlush := pending >= b.batchSize
	b.mu.Unlock()

	metrics.ArchivePending.Set(float64(pending))
	if shouldFlush {
		select {
		case b.kickCh <- struct{}{}:
		default:
		}
	}
}

// Flush forces a flush of the current buffer.
func (b *ReadingBuffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.buffer) == 0 {
		b.mu.Unlock()
		return nil
	}
	toFlush := b.buffer
	b.buffer = make([]*models.Reading, 0, b.batchSize)
	b.mu.Unlock()

	start := time.Now()
	err := b.archive.InsertReadings(ctx, toFlush)
	metrics.ArchiveFlushDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		// Put readings back at the front so they're flushed next.
		b.mu.Lock()
		b.buffer = append(toFlush, b.buffer...)
		if len(b.buffer) > b.maxSize {
			excess := len(b.buffer) - b.maxSize
			b.dropped.Add(int64(excess))
			metrics.ArchiveDroppedTotal.Add(float64(excess))
			b.buffer = b.buffer[excess:]
		}
		b.mu.Unlock()
		metrics.ArchiveErrorsTotal.Inc()
		return err
	}

	b.flushed.Add(1)
	b.inserted.Add(int64(len(toFlush)))
	metrics.ArchivePending.Set(float64(b.Stats().Pending))
	return nil
}

func (b *ReadingBuffer) flushLoop() {
	defer close(b.doneCh)
	ticker := time.NewTicker(b.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-b.kickCh:
		case <-b.stopCh:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := b.Flush(ctx); err != nil {
				b.logger.Error("final archive flush failed", zap.Error(err))
			}
			cancel()
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := b.Flush(ctx); err != nil {
			b.logger.Warn("archive flush failed", zap.Error(err))
		}
		cancel()
	}
}

// Close stops the flush loop after a final flush, then closes the archive.
func (b *ReadingBuffer) Close() error {
	if b.stopped.Swap(true) {
		return nil
	}
	close(b.stopCh)
	<-b.doneCh
	return b.archive.Close()
}

// Stats returns buffer statistics.
func (b *ReadingBuffer) Stats() ReadingBufferStats {
	b.mu.Lock()
	pending := len(b.buffer)
	b.mu.Unlock()

	return ReadingBufferStats{
		Pending:  pending,
		Dropped:  b.dropped.Load(),
		Flushed:  b.flushed.Load(),
		Inserted: b.inserted.Load(),
	}
}

// ReadingBufferStats contains buffer statistics.
type ReadingBufferStats struct {
	Pending  int
	Dropped  int64
	Flushed  int64
	Inserted int64
}
