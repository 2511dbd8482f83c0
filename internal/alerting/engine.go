package alerting

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/pondwatch/internal/anomaly"
	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// anomalyMediumScore is the classifier score at which anomaly alerts are
// raised as medium instead of low.
const anomalyMediumScore = 0.5

// Engine evaluates readings against the threshold catalog and an optional
// anomaly classifier, applying per-pond suppression.
type Engine struct {
	catalog    *Catalog
	window     *SuppressionWindow
	classifier anomaly.Classifier
	now        func() time.Time
	logger     *zap.Logger

	stats *EngineStats
}

// EngineStats tracks engine statistics using atomic operations for lock-free access.
type EngineStats struct {
	ReadingsEvaluated atomic.Int64
	Breaches          atomic.Int64
	AlertsEmitted     atomic.Int64
	AlertsSuppressed  atomic.Int64
	ClassifierErrors  atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithClassifier adds an anomaly classifier whose verdicts become extra alerts.
func WithClassifier(c anomaly.Classifier) Option {
	return func(e *Engine) { e.classifier = c }
}

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithCooldown overrides the suppression cooldown.
func WithCooldown(d time.Duration) Option {
	return func(e *Engine) { e.window = NewSuppressionWindow(d) }
}

// NewEngine creates an engine over catalog.
func NewEngine(catalog *Catalog, opts ...Option) *Engine {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	e := &Engine{
		catalog: catalog,
		window:  NewSuppressionWindow(DefaultCooldown),
		now:     time.Now,
		logger:  zap.NewNop(),
		stats:   &EngineStats{},
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("evaluator")
	return e
}

// Catalog returns the engine's threshold catalog.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// Window returns the engine's suppression window.
func (e *Engine) Window() *SuppressionWindow {
	return e.window
}

// Evaluate evaluates a reading at the engine clock's current time.
func (e *Engine) Evaluate(ctx context.Context, reading *models.Reading) []*models.Alert {
	return e.EvaluateAt(ctx, reading, e.now())
}

// EvaluateAt evaluates a reading at a specific time.
// Alerts are returned in parameter order, with any anomaly alert last.
func (e *Engine) EvaluateAt(ctx context.Context, reading *models.Reading, now time.Time) []*models.Alert {
	e.stats.ReadingsEvaluated.Add(1)

	var alerts []*models.Alert
	for _, p := range models.Parameters {
		v, ok := reading.Value(p)
		if !ok {
			continue
		}
		rule := e.catalog.Rule(p)
		if rule == nil {
			continue
		}

		state, bound := rule.Check(v)
		if state == BreachNone {
			continue
		}
		e.stats.Breaches.Add(1)

		severity := SeverityFor(p, state)
		if !e.allow(reading.PondID, p, severity, now) {
			continue
		}

		alert := models.NewAlert(reading, models.SourceThreshold, p, severity, now)
		alert.Value = v
		alert.Threshold = bound
		alert.Direction = state.Direction()
		alert.Breach = models.BreachNormal
		if state.Critical() {
			alert.Breach = models.BreachCritical
		}
		alert.Message = thresholdMessage(p, state, v, bound)
		alerts = append(alerts, alert)
	}

	if a := e.classify(ctx, reading, now); a != nil {
		alerts = append(alerts, a)
	}

	e.stats.AlertsEmitted.Add(int64(len(alerts)))
	return alerts
}

func (e *Engine) classify(ctx context.Context, reading *models.Reading, now time.Time) *models.Alert {
	if e.classifier == nil {
		return nil
	}

	res, err := e.classifier.Classify(ctx, reading)
	if err != nil {
		e.stats.ClassifierErrors.Add(1)
		e.logger.Warn("anomaly classifier failed",
			zap.String("pond_id", reading.PondID),
			zap.Error(err))
		return nil
	}
	if !res.IsAnomaly {
		return nil
	}

	severity := models.SeverityLow
	if res.Score >= anomalyMediumScore {
		severity = models.SeverityMedium
	}
	if !e.allow(reading.PondID, models.ParamAnomaly, severity, now) {
		return nil
	}

	alert := models.NewAlert(reading, models.SourceAnomaly, models.ParamAnomaly, severity, now)
	alert.Value = res.Score
	alert.Threshold = anomalyMediumScore
	alert.Score = res.Score
	alert.Message = fmt.Sprintf("Anomaly detected (score %.2f)", res.Score)
	if len(res.Reasons) > 0 {
		alert.Message += ": " + strings.Join(res.Reasons, "; ")
	}
	return alert
}

func (e *Engine) allow(pondID string, p models.Parameter, severity models.Severity, now time.Time) bool {
	key := SuppressionKey{PondID: pondID, Parameter: p, Severity: severity}
	if e.window.Allow(key, now) {
		return true
	}
	e.stats.AlertsSuppressed.Add(1)
	e.logger.Debug("alert suppressed",
		zap.String("pond_id", pondID),
		zap.String("parameter", string(p)),
		zap.String("severity", string(severity)))
	return false
}

func thresholdMessage(p models.Parameter, state BreachState, value, bound float64) string {
	side := "above"
	if state.Direction() == models.DirectionLow {
		side = "below"
	}
	band := "normal"
	if state.Critical() {
		band = "critical"
	}
	return fmt.Sprintf("%s is %s %s threshold: %s (limit: %s)",
		p.Title(), side, band, FormatValue(value), FormatValue(bound))
}

// FormatValue renders a measurement for humans: integral values keep one
// decimal place (3 -> "3.0"), others use the shortest exact form.
func FormatValue(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// EngineStatsSnapshot is a snapshot of engine statistics for reporting.
type EngineStatsSnapshot struct {
	ReadingsEvaluated int64
	Breaches          int64
	AlertsEmitted     int64
	AlertsSuppressed  int64
	ClassifierErrors  int64
}

// Stats returns a snapshot of engine statistics.
func (e *Engine) Stats() EngineStatsSnapshot {
	return EngineStatsSnapshot{
		ReadingsEvaluated: e.stats.ReadingsEvaluated.Load(),
		Breaches:          e.stats.Breaches.Load(),
		AlertsEmitted:     e.stats.AlertsEmitted.Load(),
		AlertsSuppressed:  e.stats.AlertsSuppressed.Load(),
		ClassifierErrors:  e.stats.ClassifierErrors.Load(),
	}
}
