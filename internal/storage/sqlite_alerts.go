package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

const alertColumns = `id, pond_id, reading_id, source, parameter, value, threshold,
	direction, breach, severity, message, score, created_at_ns,
	acknowledged, acknowledged_at_ns, acknowledged_by,
	resolved, resolved_at_ns, resolved_by, notification_sent`

type sqliteAlertRepo struct {
	db *sql.DB
}

func (r *sqliteAlertRepo) Append(ctx context.Context, alert *models.Alert) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		alert.ID,
		alert.PondID,
		alert.ReadingID,
		string(alert.Source),
		string(alert.Parameter),
		alert.Value,
		alert.Threshold,
		nullString(string(alert.Direction)),
		nullString(string(alert.Breach)),
		string(alert.Severity),
		alert.Message,
		alert.Score,
		alert.CreatedAt.UnixNano(),
		boolToInt(alert.Acknowledged),
		nullTime(alert.AcknowledgedAt),
		nullString(alert.AcknowledgedBy),
		boolToInt(alert.Resolved),
		nullTime(alert.ResolvedAt),
		nullString(alert.ResolvedBy),
		boolToInt(alert.NotificationSent),
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (r *sqliteAlertRepo) Get(ctx context.Context, id string) (*models.Alert, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return alert, nil
}

func (r *sqliteAlertRepo) ListSince(ctx context.Context, pondID string, since time.Time) ([]*models.Alert, error) {
	return r.list(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE pond_id = ? AND created_at_ns >= ?
		ORDER BY created_at_ns DESC
	`, pondID, boundNanos(since))
}

func (r *sqliteAlertRepo) ListActive(ctx context.Context, pondID string) ([]*models.Alert, error) {
	if pondID == "" {
		return r.list(ctx, `
			SELECT `+alertColumns+` FROM alerts
			WHERE resolved = 0 ORDER BY created_at_ns DESC
		`)
	}
	return r.list(ctx, `
		SELECT `+alertColumns+` FROM alerts
		WHERE resolved = 0 AND pond_id = ? ORDER BY created_at_ns DESC
	`, pondID)
}

func (r *sqliteAlertRepo) Acknowledge(ctx context.Context, id, by string, at time.Time) error {
	return r.update(ctx, `
		UPDATE alerts SET acknowledged = 1, acknowledged_at_ns = ?, acknowledged_by = ?
		WHERE id = ?
	`, at.UnixNano(), nullString(by), id)
}

func (r *sqliteAlertRepo) Resolve(ctx context.Context, id, by string, at time.Time) error {
	return r.update(ctx, `
		UPDATE alerts SET resolved = 1, resolved_at_ns = ?, resolved_by = ?
		WHERE id = ?
	`, at.UnixNano(), nullString(by), id)
}

func (r *sqliteAlertRepo) MarkNotified(ctx context.Context, id string) error {
	return r.update(ctx, `UPDATE alerts SET notification_sent = 1 WHERE id = ?`, id)
}

func (r *sqliteAlertRepo) update(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("alert %s: %w", args[len(args)-1], ErrNotFound)
	}
	return nil
}

func (r *sqliteAlertRepo) list(ctx context.Context, query string, args ...any) ([]*models.Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*models.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

func scanAlert(s scanner) (*models.Alert, error) {
	var (
		alert                        models.Alert
		source, param, severity      string
		direction, breach            sql.NullString
		ackBy, resolvedBy            sql.NullString
		createdAt                    int64
		ackAt, resolvedAt            sql.NullInt64
		acknowledged, resolved, sent int
	)
	err := s.Scan(
		&alert.ID, &alert.PondID, &alert.ReadingID, &source, &param, &alert.Value, &alert.Threshold,
		&direction, &breach, &severity, &alert.Message, &alert.Score, &createdAt,
		&acknowledged, &ackAt, &ackBy,
		&resolved, &resolvedAt, &resolvedBy, &sent,
	)
	if err != nil {
		return nil, err
	}

	alert.Source = models.AlertSource(source)
	alert.Parameter = models.Parameter(param)
	alert.Severity = models.Severity(severity)
	alert.Direction = models.Direction(direction.String)
	alert.Breach = models.Breach(breach.String)
	alert.CreatedAt = fromNanos(createdAt)
	alert.Acknowledged = acknowledged == 1
	alert.AcknowledgedAt = timePtr(ackAt)
	alert.AcknowledgedBy = ackBy.String
	alert.Resolved = resolved == 1
	alert.ResolvedAt = timePtr(resolvedAt)
	alert.ResolvedBy = resolvedBy.String
	alert.NotificationSent = sent == 1
	alert.Persisted = true
	return &alert, nil
}
