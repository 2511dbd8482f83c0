// Package pipeline moves telemetry from the transport callback through
// validation, persistence, evaluation and fan-out.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/pondwatch/internal/metrics"
	"github.com/good-yellow-bee/pondwatch/internal/models"
	"github.com/good-yellow-bee/pondwatch/internal/parser"
)

// Evaluator turns a reading into zero or more alerts.
type Evaluator interface {
	Evaluate(ctx context.Context, reading *models.Reading) []*models.Alert
}

// Config configures the worker pool.
type Config struct {
	// Workers is the number of shards; each shard has one worker.
	Workers int
	// QueueCapacity is the per-shard capacity.
	QueueCapacity int
	// ShutdownGrace bounds how long queued readings are drained on shutdown.
	ShutdownGrace time.Duration
	// ReconcileInterval is how often unpersisted alerts are retried. Zero disables it.
	ReconcileInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:           4,
		QueueCapacity:     1000,
		ShutdownGrace:     10 * time.Second,
		ReconcileInterval: time.Minute,
	}
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Received  int64 `json:"received"`
	Rejected  int64 `json:"rejected"`
	Processed int64 `json:"processed"`
	Dropped   int64 `json:"dropped"`
	Queued    int   `json:"queued"`
	Pending   int   `json:"pending_reconcile"`
}

// Pipeline owns the work queue and its workers.
type Pipeline struct {
	config      Config
	queue       *Queue
	evaluator   Evaluator
	broadcaster *Broadcaster
	logger      *zap.Logger
	now         func() time.Time

	received  atomic.Int64
	rejected  atomic.Int64
	processed atomic.Int64
	abandon   atomic.Bool
}

// New creates a pipeline. Call Run to start the workers.
func New(config Config, evaluator Evaluator, broadcaster *Broadcaster, logger *zap.Logger) *Pipeline {
	defaults := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = defaults.Workers
	}
	if config.QueueCapacity <= 0 {
		config.QueueCapacity = defaults.QueueCapacity
	}
	if config.ShutdownGrace <= 0 {
		config.ShutdownGrace = defaults.ShutdownGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pipeline")

	return &Pipeline{
		config:      config,
		queue:       NewQueue(config.Workers, config.QueueCapacity, logger.Named("queue")),
		evaluator:   evaluator,
		broadcaster: broadcaster,
		logger:      logger,
		now:         time.Now,
	}
}

// Queue returns the pipeline's work queue.
func (p *Pipeline) Queue() *Queue {
	return p.queue
}

// Broadcaster returns the pipeline's fan-out stage.
func (p *Pipeline) Broadcaster() *Broadcaster {
	return p.broadcaster
}

// Ingest parses a raw transport message and enqueues the reading. It never
// blocks. Invalid payloads and queue overflow are logged and returned.
func (p *Pipeline) Ingest(topic string, payload []byte) error {
	p.received.Add(1)
	metrics.MessagesReceivedTotal.Inc()

	result, err := parser.Parse(payload, topic, p.now())
	if err != nil {
		p.reject(rejectReason(err))
		p.logger.Warn("dropping invalid message",
			zap.String("topic", topic),
			zap.Int("bytes", len(payload)),
			zap.Error(err),
		)
		return err
	}

	for _, d := range result.Dropped {
		metrics.FieldsDroppedTotal.WithLabelValues(d.Field).Inc()
		p.logger.Warn("dropped field",
			zap.String("topic", topic),
			zap.String("pond_id", result.Reading.PondID),
			zap.String("field", d.Field),
			zap.String("raw", d.Raw),
			zap.String("reason", d.Reason),
		)
	}

	return p.Submit(result.Reading)
}

// Submit enqueues an already-validated reading.
func (p *Pipeline) Submit(r *models.Reading) error {
	if err := p.queue.Push(r); err != nil {
		if errors.Is(err, ErrQueueFull) {
			p.reject("queue_full")
		} else {
			p.reject("shutdown")
		}
		return err
	}
	return nil
}

func (p *Pipeline) reject(reason string) {
	p.rejected.Add(1)
	metrics.MessagesRejectedTotal.WithLabelValues(reason).Inc()
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, parser.ErrMissingPondIdentity):
		return "missing_pond_id"
	case errors.Is(err, parser.ErrMalformedPayload):
		return "malformed"
	default:
		return "invalid"
	}
}

// Run starts one worker per shard and the reconciliation loop. When ctx ends
// it stops accepting readings, drains the queue within the shutdown grace
// period and returns.
func (p *Pipeline) Run(ctx context.Context) error {
	// Work in flight outlives ctx until the grace period expires.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	var wg sync.WaitGroup
	for i, shard := range p.queue.Shards() {
		wg.Add(1)
		go func(id int, in <-chan *models.Reading) {
			defer wg.Done()
			p.worker(workCtx, id, in)
		}(i, shard)
	}

	var reconcileDone chan struct{}
	if p.config.ReconcileInterval > 0 {
		reconcileDone = make(chan struct{})
		go func() {
			defer close(reconcileDone)
			p.reconcileLoop(ctx)
		}()
	}

	p.logger.Info("pipeline started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_capacity", p.config.QueueCapacity),
	)

	<-ctx.Done()
	p.queue.Close()
	queued := p.queue.Len()
	p.logger.Info("draining queue", zap.Int("queued", queued), zap.Duration("grace", p.config.ShutdownGrace))

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()

	var err error
	select {
	case <-drained:
	case <-time.After(p.config.ShutdownGrace):
		p.abandon.Store(true)
		cancelWork()
		<-drained
		err = fmt.Errorf("shutdown grace of %s expired", p.config.ShutdownGrace)
		p.logger.Warn("shutdown grace expired, abandoned queued readings")
	}

	if reconcileDone != nil {
		<-reconcileDone
	}
	// One last attempt for alerts that never reached storage.
	finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.broadcaster.config.WriteTimeout)
	defer cancel()
	if _, rerr := p.broadcaster.Reconcile(finalCtx); rerr != nil {
		p.logger.Warn("final reconciliation incomplete",
			zap.Int("pending", p.broadcaster.Pending()),
			zap.Error(rerr),
		)
	}

	p.logger.Info("pipeline stopped", zap.Int64("processed", p.processed.Load()))
	return err
}

func (p *Pipeline) worker(ctx context.Context, id int, in <-chan *models.Reading) {
	abandoned := 0
	for r := range in {
		metrics.QueueDepth.Dec()
		if p.abandon.Load() {
			abandoned++
			continue
		}
		p.process(ctx, r)
	}
	if abandoned > 0 {
		p.logger.Warn("worker abandoned readings", zap.Int("worker", id), zap.Int("count", abandoned))
	}
}

// process runs one reading through persistence, evaluation and fan-out.
// A panic is recovered so the worker keeps serving its shard.
func (p *Pipeline) process(ctx context.Context, r *models.Reading) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			metrics.WorkerPanicsTotal.Inc()
			p.logger.Error("recovered panic while processing reading",
				zap.String("pond_id", r.PondID),
				zap.String("reading_id", r.ID),
				zap.Any("panic", rec),
				zap.Stack("stack"),
			)
		}
	}()

	// Persistence failures are logged by the broadcaster; evaluation proceeds.
	_ = p.broadcaster.PublishReading(ctx, r)

	alerts := p.evaluator.Evaluate(ctx, r)
	p.broadcaster.PublishAlerts(ctx, alerts)

	p.processed.Add(1)
	metrics.ProcessingDuration.Observe(time.Since(start).Seconds())
}

func (p *Pipeline) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(p.config.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.broadcaster.Pending() == 0 {
				continue
			}
			if _, err := p.broadcaster.Reconcile(ctx); err != nil {
				p.logger.Warn("reconciliation incomplete",
					zap.Int("pending", p.broadcaster.Pending()),
					zap.Error(err),
				)
			}
		}
	}
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:  p.received.Load(),
		Rejected:  p.rejected.Load(),
		Processed: p.processed.Load(),
		Dropped:   p.queue.Dropped(),
		Queued:    p.queue.Len(),
		Pending:   p.broadcaster.Pending(),
	}
}
