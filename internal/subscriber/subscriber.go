// Package subscriber keeps an MQTT subscription alive and hands every
// delivered message to the pipeline.
package subscriber

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/pondwatch/internal/backoff"
	"github.com/good-yellow-bee/pondwatch/internal/metrics"
)

// ErrReconnectsExhausted is returned by Run once MaxReconnects consecutive
// attempts have failed.
var ErrReconnectsExhausted = errors.New("reconnect attempts exhausted")

// State is the subscription state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateReceiving
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateReceiving:
		return "receiving"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handler receives one delivered message. It must not block.
type Handler func(topic string, payload []byte)

// Conn is the transport a Subscriber drives.
type Conn interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topics []string, qos byte, handler Handler) error
	// Lost delivers the cause whenever an established connection drops.
	Lost() <-chan error
	Disconnect()
}

// Config configures subscription and reconnect behavior.
type Config struct {
	Topics         []string
	QoS            byte
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxReconnects is the number of consecutive failed attempts tolerated. 0 = unlimited.
	MaxReconnects int
}

// DefaultConfig returns the default topics and backoff.
func DefaultConfig() Config {
	return Config{
		Topics:         []string{"farm1/+/data", "sensors/water_quality"},
		QoS:            1,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// Subscriber manages the connection lifecycle with automatic reconnection.
type Subscriber struct {
	conn    Conn
	config  Config
	handler Handler
	backoff *backoff.Backoff
	logger  *zap.Logger

	state    atomic.Int32
	received atomic.Int64
	lastErr  atomic.Value // string
}

// New creates a subscriber that passes messages to handler.
func New(conn Conn, config Config, handler Handler, logger *zap.Logger) *Subscriber {
	defaults := DefaultConfig()
	if len(config.Topics) == 0 {
		config.Topics = defaults.Topics
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Subscriber{
		conn:    conn,
		config:  config,
		handler: handler,
		backoff: backoff.New(config.InitialBackoff, config.MaxBackoff),
		logger:  logger.Named("mqtt"),
	}
	s.setState(StateDisconnected)
	return s
}

// State returns the current state.
func (s *Subscriber) State() State {
	return State(s.state.Load())
}

// Received returns the number of delivered messages.
func (s *Subscriber) Received() int64 {
	return s.received.Load()
}

// LastError returns the most recent connection error, if any.
func (s *Subscriber) LastError() string {
	v, _ := s.lastErr.Load().(string)
	return v
}

// Run connects, subscribes and reconnects after failures until ctx ends.
// It returns nil on cancellation and ErrReconnectsExhausted once the
// reconnect ceiling is reached; the state is then StateFailed.
func (s *Subscriber) Run(ctx context.Context) error {
	failures := 0
	for {
		subscribed, err := s.session(ctx)
		if ctx.Err() != nil {
			s.conn.Disconnect()
			s.setState(StateDisconnected)
			s.logger.Info("subscriber stopped")
			return nil
		}
		if subscribed {
			failures = 0
			s.backoff.Reset()
		}

		failures++
		s.lastErr.Store(err.Error())
		if s.config.MaxReconnects > 0 && failures > s.config.MaxReconnects {
			s.setState(StateFailed)
			s.logger.Error("giving up on broker",
				zap.Int("attempts", failures),
				zap.Error(err),
			)
			return fmt.Errorf("%w after %d attempts: %w", ErrReconnectsExhausted, failures, err)
		}

		metrics.MQTTReconnectsTotal.Inc()
		delay := s.backoff.Next()
		s.logger.Warn("connection unavailable, retrying",
			zap.Int("attempt", failures),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(StateDisconnected)
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection until it drops. subscribed reports whether the
// subscription was established before the failure.
func (s *Subscriber) session(ctx context.Context) (subscribed bool, err error) {
	s.setState(StateConnecting)
	if err := s.conn.Connect(ctx); err != nil {
		s.setState(StateDisconnected)
		return false, fmt.Errorf("connect: %w", err)
	}

	if err := s.conn.Subscribe(ctx, s.config.Topics, s.config.QoS, s.deliver); err != nil {
		s.conn.Disconnect()
		s.setState(StateDisconnected)
		return false, fmt.Errorf("subscribe: %w", err)
	}
	s.setState(StateSubscribed)
	s.logger.Info("subscribed", zap.Strings("topics", s.config.Topics), zap.Uint8("qos", s.config.QoS))

	select {
	case <-ctx.Done():
		return true, ctx.Err()
	case err := <-s.conn.Lost():
		s.setState(StateDisconnected)
		if err == nil {
			err = errors.New("connection lost")
		}
		return true, err
	}
}

func (s *Subscriber) deliver(topic string, payload []byte) {
	s.received.Add(1)
	s.state.CompareAndSwap(int32(StateSubscribed), int32(StateReceiving))
	metrics.MQTTState.Set(float64(s.State()))
	s.handler(topic, payload)
}

func (s *Subscriber) setState(state State) {
	old := State(s.state.Swap(int32(state)))
	metrics.MQTTState.Set(float64(state))
	if old != state {
		s.logger.Debug("state changed", zap.Stringer("from", old), zap.Stringer("to", state))
	}
}
