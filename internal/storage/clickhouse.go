package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	// Addresses are the ClickHouse server addresses (host:port).
	Addresses []string

	Database string
	Username string
	Password string

	MaxOpenConns int
	MaxIdleConns int
	DialTimeout  time.Duration

	// Compression enables LZ4 compression.
	Compression bool

	// RetentionDays is the TTL in days for archived readings.
	RetentionDays int
}

// ClickHouseArchive implements ReadingArchive for ClickHouse.
type ClickHouseArchive struct {
	config *ClickHouseConfig
	db     *sql.DB
}

// NewClickHouseArchive creates a new ClickHouse archive.
func NewClickHouseArchive(config *ClickHouseConfig) *ClickHouseArchive {
	if config.Database == "" {
		config.Database = "default"
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 5
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 5
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}
	if config.RetentionDays == 0 {
		config.RetentionDays = 365
	}

	return &ClickHouseArchive{config: config}
}

// Open initializes the ClickHouse connection.
func (a *ClickHouseArchive) Open() error {
	opts := &clickhouse.Options{
		Addr: a.config.Addresses,
		Auth: clickhouse.Auth{
			Database: a.config.Database,
			Username: a.config.Username,
			Password: a.config.Password,
		},
		DialTimeout:  a.config.DialTimeout,
		MaxOpenConns: a.config.MaxOpenConns,
		MaxIdleConns: a.config.MaxIdleConns,
	}
	if a.config.Compression {
		opts.Compression = &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		}
	}

	db := clickhouse.OpenDB(opts)

	ctx, cancel := context.WithTimeout(context.Background(), a.config.DialTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping clickhouse: %w", err)
	}

	a.db = db
	return nil
}

// Migrate creates the readings table if it doesn't exist.
func (a *ClickHouseArchive) Migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := a.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS pond_readings (
			id UUID,
			pond_id LowCardinality(String),
			device_id String,
			timestamp DateTime64(3, 'UTC'),
			received_at DateTime64(3, 'UTC'),
			temperature Nullable(Float64),
			ph Nullable(Float64),
			dissolved_oxygen Nullable(Float64),
			turbidity Nullable(Float64),
			ammonia Nullable(Float64),
			nitrite Nullable(Float64),
			nitrate Nullable(Float64),
			water_level Nullable(Float64),
			_date Date DEFAULT toDate(timestamp)
		)
		ENGINE = ReplacingMergeTree()
		PARTITION BY toYYYYMM(_date)
		ORDER BY (pond_id, timestamp, id)
		TTL _date + INTERVAL %d DAY
	`, a.config.RetentionDays))
	if err != nil {
		return fmt.Errorf("create pond_readings table: %w", err)
	}
	return nil
}

// InsertReadings batch-inserts readings.
func (a *ClickHouseArchive) InsertReadings(ctx context.Context, readings []*models.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO pond_readings (
			id, pond_id, device_id, timestamp, received_at,
			temperature, ph, dissolved_oxygen, turbidity,
			ammonia, nitrite, nitrate, water_level
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range readings {
		_, err := stmt.ExecContext(ctx,
			r.ID, r.PondID, r.DeviceID, r.Timestamp, r.ReceivedAt,
			r.Temperature, r.PH, r.DissolvedOxygen, r.Turbidity,
			r.Ammonia, r.Nitrite, r.Nitrate, r.WaterLevel,
		)
		if err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (a *ClickHouseArchive) Ping(ctx context.Context) error {
	if a.db == nil {
		return fmt.Errorf("clickhouse not open")
	}
	return a.db.PingContext(ctx)
}

// Close closes the database connection.
func (a *ClickHouseArchive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}
