package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/pondwatch/internal/backoff"
	"github.com/good-yellow-bee/pondwatch/internal/metrics"
	"github.com/good-yellow-bee/pondwatch/internal/models"
	"github.com/good-yellow-bee/pondwatch/internal/storage"
)

// ErrPersistence wraps storage failures surfaced by the broadcaster.
var ErrPersistence = errors.New("persistence failure")

// Pusher delivers messages to live subscribers without blocking.
type Pusher interface {
	PublishReading(r *models.Reading)
	PublishAlert(a *models.Alert)
}

// Dispatcher forwards an alert to the external notification channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, alert *models.Alert) (int, error)
}

// Archiver mirrors readings into a secondary sink.
type Archiver interface {
	Add(r *models.Reading)
}

// BroadcasterConfig configures timeouts and retries.
type BroadcasterConfig struct {
	// WriteTimeout bounds each storage write attempt.
	WriteTimeout time.Duration
	// NotifyTimeout bounds one dispatch to every notifier.
	NotifyTimeout time.Duration
	// PersistRetries is the number of attempts for a reading write.
	PersistRetries int
	// RetryBackoff is the delay before the second attempt; it doubles after that.
	RetryBackoff time.Duration
	// MaxPending bounds alerts awaiting reconciliation; the oldest is dropped.
	MaxPending int
}

// DefaultBroadcasterConfig returns production defaults.
func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		WriteTimeout:   5 * time.Second,
		NotifyTimeout:  10 * time.Second,
		PersistRetries: 3,
		RetryBackoff:   200 * time.Millisecond,
		MaxPending:     1000,
	}
}

// Broadcaster fans readings and alerts out to storage, live subscribers and
// the notification channel.
type Broadcaster struct {
	readings storage.ReadingRepository
	alerts   storage.AlertRepository
	push     Pusher
	notify   Dispatcher
	archive  Archiver
	config   BroadcasterConfig
	logger   *zap.Logger

	mu      sync.Mutex
	pending []*models.Alert
}

// BroadcasterOption configures optional sinks.
type BroadcasterOption func(*Broadcaster)

// WithPusher sets the live push sink.
func WithPusher(p Pusher) BroadcasterOption {
	return func(b *Broadcaster) { b.push = p }
}

// WithDispatcher sets the notification sink.
func WithDispatcher(d Dispatcher) BroadcasterOption {
	return func(b *Broadcaster) { b.notify = d }
}

// WithArchive mirrors persisted readings to a secondary sink.
func WithArchive(a Archiver) BroadcasterOption {
	return func(b *Broadcaster) { b.archive = a }
}

// NewBroadcaster creates a broadcaster writing to store.
func NewBroadcaster(store storage.Storage, config BroadcasterConfig, logger *zap.Logger, opts ...BroadcasterOption) *Broadcaster {
	defaults := DefaultBroadcasterConfig()
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.NotifyTimeout <= 0 {
		config.NotifyTimeout = defaults.NotifyTimeout
	}
	if config.PersistRetries <= 0 {
		config.PersistRetries = 1
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = defaults.RetryBackoff
	}
	if config.MaxPending <= 0 {
		config.MaxPending = defaults.MaxPending
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Broadcaster{
		readings: store.Readings(),
		alerts:   store.Alerts(),
		config:   config,
		logger:   logger.Named("broadcaster"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// PublishReading stores r, mirrors it to the archive and pushes it.
// A storage failure is logged and returned wrapped in ErrPersistence, but the
// reading is still pushed.
func (b *Broadcaster) PublishReading(ctx context.Context, r *models.Reading) error {
	err := b.persistReading(ctx, r)
	if err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("reading").Inc()
		b.logger.Error("failed to persist reading",
			zap.String("pond_id", r.PondID),
			zap.String("reading_id", r.ID),
			zap.Error(err),
		)
	} else {
		metrics.ReadingsPersistedTotal.Inc()
		if b.archive != nil {
			b.archive.Add(r)
		}
	}

	if b.push != nil {
		b.push.PublishReading(r)
	}
	return err
}

func (b *Broadcaster) persistReading(ctx context.Context, r *models.Reading) error {
	bo := backoff.New(b.config.RetryBackoff, b.config.RetryBackoff*8)
	var err error
	for attempt := 1; attempt <= b.config.PersistRetries; attempt++ {
		writeCtx, cancel := context.WithTimeout(ctx, b.config.WriteTimeout)
		err = b.readings.Append(writeCtx, r)
		cancel()
		if err == nil {
			return nil
		}
		if attempt == b.config.PersistRetries {
			break
		}
		b.logger.Warn("reading write failed, retrying",
			zap.String("reading_id", r.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if werr := bo.Wait(ctx); werr != nil {
			break
		}
	}
	return fmt.Errorf("%w: reading %s: %w", ErrPersistence, r.ID, err)
}

// PublishAlerts handles each alert in order: persist, push, notify when the
// severity warrants it, then record the notification.
func (b *Broadcaster) PublishAlerts(ctx context.Context, alerts []*models.Alert) {
	for _, a := range alerts {
		b.publishAlert(ctx, a)
	}
}

func (b *Broadcaster) publishAlert(ctx context.Context, a *models.Alert) {
	metrics.AlertsEmittedTotal.WithLabelValues(string(a.Severity), string(a.Source)).Inc()
	log := b.logger.With(
		zap.String("alert_id", a.ID),
		zap.String("pond_id", a.PondID),
		zap.String("parameter", string(a.Parameter)),
		zap.String("severity", string(a.Severity)),
	)

	if err := b.appendAlert(ctx, a); err != nil {
		a.Persisted = false
		metrics.StorageErrorsTotal.WithLabelValues("alert").Inc()
		log.Error("failed to persist alert, queued for reconciliation", zap.Error(err))
		// Queued once the notification outcome is known.
		defer b.addPending(a)
	} else {
		a.Persisted = true
	}

	if b.push != nil {
		b.push.PublishAlert(a)
	}

	if b.notify == nil || !a.Severity.Notifiable() {
		return
	}

	notifyCtx, cancel := context.WithTimeout(ctx, b.config.NotifyTimeout)
	delivered, err := b.notify.Dispatch(notifyCtx, a)
	cancel()
	if err != nil {
		log.Warn("notification failed", zap.Int("delivered", delivered), zap.Error(err))
	}
	if delivered == 0 {
		return
	}

	a.NotificationSent = true
	if !a.Persisted {
		// Reconcile writes the flag along with the alert.
		return
	}
	writeCtx, cancel := context.WithTimeout(ctx, b.config.WriteTimeout)
	defer cancel()
	if err := b.alerts.MarkNotified(writeCtx, a.ID); err != nil {
		metrics.StorageErrorsTotal.WithLabelValues("alert").Inc()
		log.Error("failed to record notification", zap.Error(err))
	}
}

func (b *Broadcaster) appendAlert(ctx context.Context, a *models.Alert) error {
	writeCtx, cancel := context.WithTimeout(ctx, b.config.WriteTimeout)
	defer cancel()
	if err := b.alerts.Append(writeCtx, a); err != nil {
		return fmt.Errorf("%w: alert %s: %w", ErrPersistence, a.ID, err)
	}
	return nil
}

func (b *Broadcaster) addPending(a *models.Alert) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) >= b.config.MaxPending {
		dropped := b.pending[0]
		b.pending = b.pending[1:]
		b.logger.Warn("reconciliation backlog full, dropping oldest alert",
			zap.String("alert_id", dropped.ID),
			zap.String("pond_id", dropped.PondID),
		)
	}
	b.pending = append(b.pending, a)
	metrics.AlertsPendingReconcile.Set(float64(len(b.pending)))
}

// Pending returns the number of alerts awaiting reconciliation.
func (b *Broadcaster) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Reconcile retries persistence of queued alerts. It returns how many were
// stored; alerts that still fail stay queued.
func (b *Broadcaster) Reconcile(ctx context.Context) (int, error) {
	b.mu.Lock()
	batch := make([]*models.Alert, len(b.pending))
	copy(batch, b.pending)
	b.mu.Unlock()

	if len(batch) == 0 {
		return 0, nil
	}

	stored := make(map[string]bool, len(batch))
	var errs []error
	for _, a := range batch {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := b.appendAlert(ctx, a); err != nil {
			errs = append(errs, err)
			continue
		}
		a.Persisted = true
		stored[a.ID] = true
	}

	b.mu.Lock()
	kept := b.pending[:0]
	for _, a := range b.pending {
		if !stored[a.ID] {
			kept = append(kept, a)
		}
	}
	b.pending = kept
	remaining := len(b.pending)
	b.mu.Unlock()
	metrics.AlertsPendingReconcile.Set(float64(remaining))

	if len(stored) > 0 {
		b.logger.Info("reconciled alerts", zap.Int("stored", len(stored)), zap.Int("remaining", remaining))
	}
	if len(errs) > 0 {
		return len(stored), errors.Join(errs...)
	}
	return len(stored), nil
}
