package subscriber

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// PahoConfig holds MQTT broker settings.
type PahoConfig struct {
	Broker         string // tcp://host:1883, ssl://host:8883, ws://...
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
	CleanSession   bool
	// TLS is used for ssl://, tls:// and wss:// brokers. Nil uses the client default.
	TLS *tls.Config
}

// PahoConn adapts the Eclipse Paho client to Conn. Reconnection is left to
// the Subscriber, so the client's own auto-reconnect is off.
type PahoConn struct {
	client mqtt.Client
	lost   chan error
	config PahoConfig
}

// NewPahoConn creates a Paho-backed connection.
func NewPahoConn(config PahoConfig) (*PahoConn, error) {
	if config.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if config.ClientID == "" {
		config.ClientID = "pondwatch"
	}
	if config.KeepAlive <= 0 {
		config.KeepAlive = 60 * time.Second
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	c := &PahoConn{
		lost:   make(chan error, 1),
		config: config,
	}

	opts := mqtt.NewClientOptions().
		AddBroker(config.Broker).
		SetClientID(config.ClientID).
		SetKeepAlive(config.KeepAlive).
		SetConnectTimeout(config.ConnectTimeout).
		SetCleanSession(config.CleanSession).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			select {
			case c.lost <- err:
			default:
			}
		})
	if config.TLS != nil {
		opts.SetTLSConfig(config.TLS)
	}
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	c.client = mqtt.NewClient(opts)
	return c, nil
}

// Connect dials the broker.
func (c *PahoConn) Connect(ctx context.Context) error {
	// Discard a loss report left over from the previous session.
	select {
	case <-c.lost:
	default:
	}
	return wait(ctx, c.client.Connect(), fmt.Sprintf("connect to %s", c.config.Broker))
}

// Subscribe subscribes to every topic at qos.
func (c *PahoConn) Subscribe(ctx context.Context, topics []string, qos byte, handler Handler) error {
	filters := make(map[string]byte, len(topics))
	for _, t := range topics {
		filters[t] = qos
	}
	token := c.client.SubscribeMultiple(filters, func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	})
	return wait(ctx, token, "subscribe")
}

// Lost implements Conn.
func (c *PahoConn) Lost() <-chan error {
	return c.lost
}

// Disconnect closes the connection, allowing 250ms for in-flight work.
func (c *PahoConn) Disconnect() {
	if c.client.IsConnected() {
		c.client.Disconnect(250)
	}
}

// Publish sends payload to topic and waits for the broker acknowledgment.
func (c *PahoConn) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	return wait(ctx, c.client.Publish(topic, qos, false, payload), "publish to "+topic)
}

func wait(ctx context.Context, token mqtt.Token, op string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
