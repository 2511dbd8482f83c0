package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

const readingColumns = `id, pond_id, device_id, timestamp_ns, received_at_ns,
	temperature, ph, dissolved_oxygen, turbidity, ammonia, nitrite, nitrate, water_level`

type sqliteReadingRepo struct {
	db *sql.DB
}

func (r *sqliteReadingRepo) Append(ctx context.Context, reading *models.Reading) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO readings (`+readingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		reading.ID,
		reading.PondID,
		nullString(reading.DeviceID),
		reading.Timestamp.UnixNano(),
		reading.ReceivedAt.UnixNano(),
		nullFloat(reading.Temperature),
		nullFloat(reading.PH),
		nullFloat(reading.DissolvedOxygen),
		nullFloat(reading.Turbidity),
		nullFloat(reading.Ammonia),
		nullFloat(reading.Nitrite),
		nullFloat(reading.Nitrate),
		nullFloat(reading.WaterLevel),
	)
	if err != nil {
		return fmt.Errorf("insert reading: %w", err)
	}
	return nil
}

func (r *sqliteReadingRepo) Latest(ctx context.Context, pondID string) (*models.Reading, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+readingColumns+`
		FROM readings WHERE pond_id = ?
		ORDER BY timestamp_ns DESC, received_at_ns DESC LIMIT 1
	`, pondID)
	reading, err := scanReading(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest reading: %w", err)
	}
	return reading, nil
}

func (r *sqliteReadingRepo) ListSince(ctx context.Context, pondID string, since time.Time, limit int) ([]*models.Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+readingColumns+`
		FROM readings WHERE pond_id = ? AND timestamp_ns >= ?
		ORDER BY timestamp_ns DESC LIMIT ?
	`, pondID, boundNanos(since), limit)
	if err != nil {
		return nil, fmt.Errorf("list readings: %w", err)
	}
	defer rows.Close()

	var readings []*models.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReading(s scanner) (*models.Reading, error) {
	var (
		reading    models.Reading
		deviceID   sql.NullString
		ts, recvAt int64
		vals       [8]sql.NullFloat64
	)
	err := s.Scan(
		&reading.ID, &reading.PondID, &deviceID, &ts, &recvAt,
		&vals[0], &vals[1], &vals[2], &vals[3], &vals[4], &vals[5], &vals[6], &vals[7],
	)
	if err != nil {
		return nil, err
	}

	reading.DeviceID = deviceID.String
	reading.Timestamp = fromNanos(ts)
	reading.ReceivedAt = fromNanos(recvAt)
	reading.Temperature = floatPtr(vals[0])
	reading.PH = floatPtr(vals[1])
	reading.DissolvedOxygen = floatPtr(vals[2])
	reading.Turbidity = floatPtr(vals[3])
	reading.Ammonia = floatPtr(vals[4])
	reading.Nitrite = floatPtr(vals[5])
	reading.Nitrate = floatPtr(vals[6])
	reading.WaterLevel = floatPtr(vals[7])
	return &reading, nil
}
