// Package notifier delivers alerts to external notification channels.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/pondwatch/internal/metrics"
	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// ErrDelivery wraps every failure reported by Dispatch.
var ErrDelivery = errors.New("notification delivery failed")

// Notifier is the interface for all notification channels.
type Notifier interface {
	// Name returns the notifier name (e.g., "sms", "slack").
	Name() string
	// Send delivers one alert. Implementations do not retry.
	Send(ctx context.Context, alert *models.Alert) error
	// Close releases any resources.
	Close() error
}

// Dispatcher fans an alert out to every registered notifier.
type Dispatcher struct {
	mu        sync.RWMutex
	notifiers map[string]Notifier
	logger    *zap.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		notifiers: make(map[string]Notifier),
		logger:    logger.Named("notifier"),
	}
}

// Register adds a notifier, replacing any with the same name.
func (d *Dispatcher) Register(n Notifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notifiers[n.Name()] = n
}

// Unregister removes a notifier from the dispatcher.
func (d *Dispatcher) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.notifiers, name)
}

// Get returns a notifier by name.
func (d *Dispatcher) Get(name string) (Notifier, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.notifiers[name]
	return n, ok
}

// Names returns the registered notifier names, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.notifiers))
	for name := range d.notifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dispatch sends alert to every registered notifier in name order and
// returns how many accepted it. Failures are joined and wrap ErrDelivery.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *models.Alert) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.notifiers))
	for name := range d.notifiers {
		names = append(names, name)
	}
	sort.Strings(names)

	delivered := 0
	var errs []error
	for _, name := range names {
		if err := d.notifiers[name].Send(ctx, alert); err != nil {
			metrics.NotificationsTotal.WithLabelValues(name, "error").Inc()
			d.logger.Warn("notification failed",
				zap.String("notifier", name),
				zap.String("alert_id", alert.ID),
				zap.String("pond_id", alert.PondID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		metrics.NotificationsTotal.WithLabelValues(name, "sent").Inc()
		delivered++
	}

	if len(errs) > 0 {
		return delivered, fmt.Errorf("%w: %w", ErrDelivery, errors.Join(errs...))
	}
	return delivered, nil
}

// Len returns the number of registered notifiers.
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.notifiers)
}

// Close closes all registered notifiers.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var errs []error
	for name, n := range d.notifiers {
		if err := n.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	d.notifiers = make(map[string]Notifier)
	return errors.Join(errs...)
}
