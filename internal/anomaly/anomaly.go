// Package anomaly provides reading classifiers that flag unusual telemetry
// independently of the threshold catalog.
package anomaly

import (
	"context"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// Result is the outcome of classifying one reading.
type Result struct {
	IsAnomaly bool     `json:"is_anomaly"`
	Score     float64  `json:"score"`
	Reasons   []string `json:"reasons,omitempty"`
}

// Classifier decides whether a reading is anomalous.
type Classifier interface {
	Classify(ctx context.Context, reading *models.Reading) (Result, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, reading *models.Reading) (Result, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, reading *models.Reading) (Result, error) {
	return f(ctx, reading)
}
