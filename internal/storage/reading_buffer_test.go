package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

type fakeArchive struct {
	mu       sync.Mutex
	batches  [][]*models.Reading
	fail     bool
	closed   bool
	inserted chan struct{}
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{inserted: make(chan struct{}, 16)}
}

func (f *fakeArchive) InsertReadings(ctx context.Context, readings []*models.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("archive down")
	}
	f.batches = append(f.batches, readings)
	select {
	case f.inserted <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeArchive) Ping(ctx context.Context) error { return nil }

func (f *fakeArchive) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeArchive) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestReadingBuffer_FlushOnBatchSize(t *testing.T) {
	archive := newFakeArchive()
	buf := NewReadingBuffer(archive, ReadingBufferConfig{BatchSize: 3, FlushInterval: time.Hour}, nil)
	defer buf.Close()

	for i := 0; i < 3; i++ {
		buf.Add(testReading("pond_001", t0))
	}

	select {
	case <-archive.inserted:
	case <-time.After(2 * time.Second):
		t.Fatal("batch was not flushed")
	}
	if archive.total() != 3 {
		t.Errorf("archived %d readings, want 3", archive.total())
	}
}

func TestReadingBuffer_CloseFlushes(t *testing.T) {
	archive := newFakeArchive()
	buf := NewReadingBuffer(archive, ReadingBufferConfig{BatchSize: 100, FlushInterval: time.Hour}, nil)

	buf.Add(testReading("pond_001", t0))
	buf.Add(testReading("pond_002", t0))
	if err := buf.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if archive.total() != 2 {
		t.Errorf("archived %d readings on close, want 2", archive.total())
	}
	if !archive.closed {
		t.Error("archive should be closed")
	}
}

func TestReadingBuffer_DropsOldestWhenFull(t *testing.T) {
	archive := newFakeArchive()
	archive.fail = true
	buf := NewReadingBuffer(archive, ReadingBufferConfig{BatchSize: 100, FlushInterval: time.Hour, MaxSize: 2}, nil)
	defer buf.Close()

	first := testReading("pond_001", t0)
	buf.Add(first)
	buf.Add(testReading("pond_001", t0))
	buf.Add(testReading("pond_001", t0))

	stats := buf.Stats()
	if stats.Pending != 2 || stats.Dropped != 1 {
		t.Errorf("stats = %+v, want 2 pending and 1 dropped", stats)
	}
	if err := buf.Flush(context.Background()); err == nil {
		t.Error("Flush should report archive failure")
	}
	if buf.Stats().Pending != 2 {
		t.Errorf("failed flush should requeue, pending = %d", buf.Stats().Pending)
	}
}
