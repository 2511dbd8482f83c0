package health

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/good-yellow-bee/pondwatch/internal/subscriber"
)

// SQLiteChecker checks SQLite database connectivity.
type SQLiteChecker struct {
	db *sql.DB
}

// NewSQLiteChecker creates a new SQLite health checker.
func NewSQLiteChecker(db *sql.DB) *SQLiteChecker {
	return &SQLiteChecker{db: db}
}

// Name returns the checker name.
func (c *SQLiteChecker) Name() string {
	return "sqlite"
}

// Check verifies the SQLite database is accessible.
func (c *SQLiteChecker) Check(ctx context.Context) error {
	if c.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return c.db.PingContext(ctx)
}

// Pinger interface for backends that support ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ArchiveChecker checks the reading archive (ClickHouse or InfluxDB).
type ArchiveChecker struct {
	name   string
	pinger Pinger
}

// NewArchiveChecker creates a checker named after the archive backend.
func NewArchiveChecker(name string, p Pinger) *ArchiveChecker {
	return &ArchiveChecker{name: name, pinger: p}
}

// Name returns the checker name.
func (c *ArchiveChecker) Name() string {
	return c.name
}

// Check pings the archive.
func (c *ArchiveChecker) Check(ctx context.Context) error {
	if c.pinger == nil {
		return fmt.Errorf("%s not configured", c.name)
	}
	return c.pinger.Ping(ctx)
}

// MQTTChecker reports the subscriber state.
type MQTTChecker struct {
	state  func() subscriber.State
	strict bool
}

// NewMQTTReadinessChecker fails unless the subscription is established.
func NewMQTTReadinessChecker(state func() subscriber.State) *MQTTChecker {
	return &MQTTChecker{state: state, strict: true}
}

// NewMQTTLivenessChecker fails only once the subscriber has given up reconnecting.
func NewMQTTLivenessChecker(state func() subscriber.State) *MQTTChecker {
	return &MQTTChecker{state: state}
}

// Name returns the checker name.
func (c *MQTTChecker) Name() string {
	return "mqtt"
}

// Check inspects the current subscriber state.
func (c *MQTTChecker) Check(ctx context.Context) error {
	if c.state == nil {
		return fmt.Errorf("mqtt subscriber not running")
	}
	switch s := c.state(); s {
	case subscriber.StateFailed:
		return fmt.Errorf("mqtt %s: %w", s, subscriber.ErrReconnectsExhausted)
	case subscriber.StateSubscribed, subscriber.StateReceiving:
		return nil
	default:
		if c.strict {
			return fmt.Errorf("mqtt %s", s)
		}
		return nil
	}
}
