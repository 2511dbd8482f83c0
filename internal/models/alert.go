package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity represents alert severity level.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities; higher is more severe.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	default:
		return 0
	}
}

// Notifiable reports whether alerts of this severity go to the notification channel.
func (s Severity) Notifiable() bool {
	return s == SeverityCritical || s == SeverityHigh
}

// ParseSeverity parses a severity string.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(s), nil
	default:
		return "", fmt.Errorf("invalid severity: %q", s)
	}
}

// AlertSource identifies what raised an alert.
type AlertSource string

const (
	SourceThreshold AlertSource = "threshold"
	SourceAnomaly   AlertSource = "anomaly"
)

// Direction is the side of the band a value fell out of.
type Direction string

const (
	DirectionLow  Direction = "low"
	DirectionHigh Direction = "high"
)

// Breach distinguishes normal-band from critical-band violations.
type Breach string

const (
	BreachNormal   Breach = "normal"
	BreachCritical Breach = "critical"
)

// Alert is a severity-classified breach tied to the reading that caused it.
type Alert struct {
	ID        string      `json:"id"`
	PondID    string      `json:"pond_id"`
	ReadingID string      `json:"reading_id"`
	Source    AlertSource `json:"source"`
	Parameter Parameter   `json:"parameter"`
	Value     float64     `json:"value"`
	Threshold float64     `json:"threshold"`
	Direction Direction   `json:"direction,omitempty"`
	Breach    Breach      `json:"breach,omitempty"`
	Severity  Severity    `json:"severity"`
	Message   string      `json:"message"`
	Score     float64     `json:"score,omitempty"`
	CreatedAt time.Time   `json:"created_at"`

	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	Resolved       bool       `json:"resolved"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy     string     `json:"resolved_by,omitempty"`

	NotificationSent bool `json:"notification_sent"`

	// Persisted is false when the store rejected the alert; it is not stored.
	Persisted bool `json:"persisted"`
}

// NewAlert creates an Alert with a fresh ID.
func NewAlert(reading *Reading, source AlertSource, param Parameter, severity Severity, createdAt time.Time) *Alert {
	return &Alert{
		ID:        uuid.New().String(),
		PondID:    reading.PondID,
		ReadingID: reading.ID,
		Source:    source,
		Parameter: param,
		Severity:  severity,
		CreatedAt: createdAt.UTC(),
	}
}
