// Package storage provides persistence for readings and alerts.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// ErrNotFound is returned when an update targets an unknown record.
var ErrNotFound = errors.New("not found")

// Storage is the main interface for database operations.
type Storage interface {
	// Open initializes the database connection.
	Open() error
	// Close closes the database connection.
	Close() error
	// Migrate runs database migrations.
	Migrate() error

	Readings() ReadingRepository
	Alerts() AlertRepository
}

// ReadingRepository stores readings. Readings are never updated or deleted.
type ReadingRepository interface {
	// Append stores a reading. Appending an existing ID is a no-op.
	Append(ctx context.Context, reading *models.Reading) error
	// Latest returns the newest reading for a pond, or nil if there is none.
	Latest(ctx context.Context, pondID string) (*models.Reading, error)
	// ListSince returns readings captured at or after since, newest first.
	ListSince(ctx context.Context, pondID string, since time.Time, limit int) ([]*models.Reading, error)
}

// AlertRepository stores alerts. Alerts are never deleted.
type AlertRepository interface {
	// Append stores an alert. Appending an existing ID is a no-op.
	Append(ctx context.Context, alert *models.Alert) error
	// Get returns an alert by ID, or nil if it does not exist.
	Get(ctx context.Context, id string) (*models.Alert, error)
	// ListSince returns a pond's alerts created at or after since, newest first.
	ListSince(ctx context.Context, pondID string, since time.Time) ([]*models.Alert, error)
	// ListActive returns unresolved alerts, newest first. An empty pondID lists all ponds.
	ListActive(ctx context.Context, pondID string) ([]*models.Alert, error)
	Acknowledge(ctx context.Context, id, by string, at time.Time) error
	Resolve(ctx context.Context, id, by string, at time.Time) error
	// MarkNotified records that the notification channel accepted the alert.
	MarkNotified(ctx context.Context, id string) error
}

// ReadingArchive is a secondary, write-only time-series sink for readings.
type ReadingArchive interface {
	InsertReadings(ctx context.Context, readings []*models.Reading) error
	Ping(ctx context.Context) error
	Close() error
}
