package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// MemoryStorage is a process-local Storage used for tests and for running
// without a database file. Data does not survive restarts.
type MemoryStorage struct {
	mu       sync.RWMutex
	readings map[string]*models.Reading
	byPond   map[string][]*models.Reading
	alerts   map[string]*models.Alert
	order    []string

	readingRepo *memoryReadingRepo
	alertRepo   *memoryAlertRepo
}

// NewMemoryStorage creates an empty in-memory store.
func NewMemoryStorage() *MemoryStorage {
	s := &MemoryStorage{
		readings: make(map[string]*models.Reading),
		byPond:   make(map[string][]*models.Reading),
		alerts:   make(map[string]*models.Alert),
	}
	s.readingRepo = &memoryReadingRepo{s: s}
	s.alertRepo = &memoryAlertRepo{s: s}
	return s
}

func (s *MemoryStorage) Open() error    { return nil }
func (s *MemoryStorage) Close() error   { return nil }
func (s *MemoryStorage) Migrate() error { return nil }

// Readings returns the reading repository.
func (s *MemoryStorage) Readings() ReadingRepository { return s.readingRepo }

// Alerts returns the alert repository.
func (s *MemoryStorage) Alerts() AlertRepository { return s.alertRepo }

// ReadingCount returns the number of stored readings.
func (s *MemoryStorage) ReadingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.readings)
}

// AlertCount returns the number of stored alerts.
func (s *MemoryStorage) AlertCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}

type memoryReadingRepo struct {
	s *MemoryStorage
}

func (r *memoryReadingRepo) Append(ctx context.Context, reading *models.Reading) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.readings[reading.ID]; ok {
		return nil
	}
	cp := *reading
	r.s.readings[reading.ID] = &cp
	r.s.byPond[reading.PondID] = append(r.s.byPond[reading.PondID], &cp)
	return nil
}

func (r *memoryReadingRepo) Latest(ctx context.Context, pondID string) (*models.Reading, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var latest *models.Reading
	for _, rd := range r.s.byPond[pondID] {
		if latest == nil || !rd.Timestamp.Before(latest.Timestamp) {
			latest = rd
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *memoryReadingRepo) ListSince(ctx context.Context, pondID string, since time.Time, limit int) ([]*models.Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.Reading
	for _, rd := range r.s.byPond[pondID] {
		if !rd.Timestamp.Before(since) {
			cp := *rd
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memoryAlertRepo struct {
	s *MemoryStorage
}

func (r *memoryAlertRepo) Append(ctx context.Context, alert *models.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.alerts[alert.ID]; ok {
		return nil
	}
	cp := *alert
	cp.Persisted = true
	r.s.alerts[alert.ID] = &cp
	r.s.order = append(r.s.order, alert.ID)
	return nil
}

func (r *memoryAlertRepo) Get(ctx context.Context, id string) (*models.Alert, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	a, ok := r.s.alerts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r *memoryAlertRepo) ListSince(ctx context.Context, pondID string, since time.Time) ([]*models.Alert, error) {
	return r.filter(func(a *models.Alert) bool {
		return a.PondID == pondID && !a.CreatedAt.Before(since)
	}), nil
}

func (r *memoryAlertRepo) ListActive(ctx context.Context, pondID string) ([]*models.Alert, error) {
	return r.filter(func(a *models.Alert) bool {
		return !a.Resolved && (pondID == "" || a.PondID == pondID)
	}), nil
}

func (r *memoryAlertRepo) Acknowledge(ctx context.Context, id, by string, at time.Time) error {
	return r.update(id, func(a *models.Alert) {
		at := at.UTC()
		a.Acknowledged = true
		a.AcknowledgedAt = &at
		a.AcknowledgedBy = by
	})
}

func (r *memoryAlertRepo) Resolve(ctx context.Context, id, by string, at time.Time) error {
	return r.update(id, func(a *models.Alert) {
		at := at.UTC()
		a.Resolved = true
		a.ResolvedAt = &at
		a.ResolvedBy = by
	})
}

func (r *memoryAlertRepo) MarkNotified(ctx context.Context, id string) error {
	return r.update(id, func(a *models.Alert) { a.NotificationSent = true })
}

func (r *memoryAlertRepo) update(id string, fn func(*models.Alert)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.alerts[id]
	if !ok {
		return fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	fn(a)
	return nil
}

// filter returns matching alerts newest first.
func (r *memoryAlertRepo) filter(match func(*models.Alert) bool) []*models.Alert {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var out []*models.Alert
	for i := len(r.s.order) - 1; i >= 0; i-- {
		a := r.s.alerts[r.s.order[i]]
		if match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
