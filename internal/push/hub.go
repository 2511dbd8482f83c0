// Package push streams readings and alerts to live dashboard subscribers
// over WebSocket and Server-Sent Events.
package push

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/pondwatch/internal/metrics"
	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// Message types sent to subscribers.
const (
	TypeSensorData = "sensor_data"
	TypeAlert      = "alert"
)

// Message is the JSON envelope written to subscribers.
type Message struct {
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Frame is an encoded message ready to write.
type Frame struct {
	Type    string
	Payload []byte
}

// Subscriber receives frames from the hub. Send is closed when the hub
// drops the subscriber.
type Subscriber struct {
	ID     string
	Remote string
	Send   chan Frame
}

// HubConfig configures a Hub.
type HubConfig struct {
	// BroadcastBuffer bounds frames waiting for fan-out.
	BroadcastBuffer int
	// ClientBuffer bounds frames queued per subscriber; a full buffer drops the subscriber.
	ClientBuffer int
}

// Hub maintains the set of active subscribers and broadcasts frames to them.
// Publishing never blocks the caller.
type Hub struct {
	config     HubConfig
	clients    map[*Subscriber]bool
	broadcast  chan Frame
	register   chan *Subscriber
	unregister chan *Subscriber
	done       chan struct{}
	logger     *zap.Logger
	now        func() time.Time

	mu        sync.RWMutex
	count     atomic.Int64
	dropped   atomic.Int64
	published atomic.Int64
}

// NewHub creates a hub. Run must be called to start fan-out.
func NewHub(config HubConfig, logger *zap.Logger) *Hub {
	if config.BroadcastBuffer <= 0 {
		config.BroadcastBuffer = 256
	}
	if config.ClientBuffer <= 0 {
		config.ClientBuffer = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		config:     config,
		clients:    make(map[*Subscriber]bool),
		broadcast:  make(chan Frame, config.BroadcastBuffer),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		done:       make(chan struct{}),
		logger:     logger.Named("push"),
		now:        time.Now,
	}
}

// Run fans frames out until ctx is canceled, then closes every subscriber.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.Send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.setCount(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.setCount(n)
			h.logger.Debug("subscriber registered", zap.String("remote", client.Remote))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.Send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.setCount(n)
			h.logger.Debug("subscriber unregistered", zap.String("remote", client.Remote))

		case frame := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.Send <- frame:
				default:
					h.logger.Warn("subscriber too slow, removing", zap.String("remote", client.Remote))
					close(client.Send)
					delete(h.clients, client)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.setCount(n)
		}
	}
}

func (h *Hub) setCount(n int) {
	h.count.Store(int64(n))
	metrics.PushClients.Set(float64(n))
}

// Subscribe registers a new subscriber. It returns nil if the hub has stopped
// or ctx ends first.
func (h *Hub) Subscribe(ctx context.Context, remote string) *Subscriber {
	s := &Subscriber{
		ID:     uuid.New().String(),
		Remote: remote,
		Send:   make(chan Frame, h.config.ClientBuffer),
	}
	select {
	case h.register <- s:
		return s
	case <-h.done:
		return nil
	case <-ctx.Done():
		return nil
	}
}

// Unsubscribe removes s. Safe to call after the hub dropped it.
func (h *Hub) Unsubscribe(s *Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Publish encodes data under msgType and queues it for fan-out.
// When the broadcast buffer is full the frame is dropped and counted.
func (h *Hub) Publish(msgType string, data any) {
	payload, err := json.Marshal(Message{Type: msgType, Data: data, Timestamp: h.now().UTC()})
	if err != nil {
		h.logger.Error("encode push message", zap.String("type", msgType), zap.Error(err))
		return
	}

	select {
	case h.broadcast <- Frame{Type: msgType, Payload: payload}:
		h.published.Add(1)
	default:
		metrics.PushDroppedTotal.Inc()
		if n := h.dropped.Add(1); n == 1 || n%100 == 0 {
			h.logger.Warn("push buffer full, dropping messages", zap.Int64("dropped_total", n))
		}
	}
}

// PublishReading pushes a sensor_data message.
func (h *Hub) PublishReading(r *models.Reading) {
	h.Publish(TypeSensorData, r)
}

// PublishAlert pushes an alert message.
func (h *Hub) PublishAlert(a *models.Alert) {
	h.Publish(TypeAlert, a)
}

// Clients returns the number of connected subscribers.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Dropped returns the number of frames dropped at publish time.
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}
