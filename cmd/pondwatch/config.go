package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/pondwatch/internal/logging"
)

// Config represents the service configuration.
type Config struct {
	Log           logging.Config      `yaml:"log"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Database      DatabaseConfig      `yaml:"database"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Thresholds    ThresholdsConfig    `yaml:"thresholds"`
	Anomaly       AnomalyConfig       `yaml:"anomaly"`
	Notifications NotificationsConfig `yaml:"notifications"`
	HTTP          HTTPConfig          `yaml:"http"`
	Push          PushConfig          `yaml:"push"`
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// MQTTConfig contains broker and subscription settings.
type MQTTConfig struct {
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"` // MQTT_USERNAME
	Password       string        `yaml:"password"` // MQTT_PASSWORD
	Topics         []string      `yaml:"topics"`
	QoS            int           `yaml:"qos"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CleanSession   bool          `yaml:"clean_session"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxReconnects  int           `yaml:"max_reconnects"` // 0 = unlimited
	TLS            MQTTTLSConfig `yaml:"tls"`
}

// MQTTTLSConfig contains broker TLS settings.
type MQTTTLSConfig struct {
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// PipelineConfig contains queue, worker and write settings.
type PipelineConfig struct {
	Workers           int           `yaml:"workers"`
	QueueCapacity     int           `yaml:"queue_capacity"` // per worker
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	NotifyTimeout     time.Duration `yaml:"notify_timeout"`
	PersistRetries    int           `yaml:"persist_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	MaxPendingAlerts  int           `yaml:"max_pending_alerts"`
}

// DatabaseConfig contains primary store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ArchiveConfig selects an optional time-series mirror for readings.
type ArchiveConfig struct {
	Backend       string                  `yaml:"backend"` // "", clickhouse, influxdb
	BatchSize     int                     `yaml:"batch_size"`
	FlushInterval time.Duration           `yaml:"flush_interval"`
	MaxBuffer     int                     `yaml:"max_buffer"`
	ClickHouse    ClickHouseArchiveConfig `yaml:"clickhouse"`
	InfluxDB      InfluxArchiveConfig     `yaml:"influxdb"`
}

// ClickHouseArchiveConfig contains ClickHouse connection settings.
type ClickHouseArchiveConfig struct {
	Addresses     []string `yaml:"addresses"`
	Database      string   `yaml:"database"`
	Username      string   `yaml:"username"`
	Password      string   `yaml:"password"` // CLICKHOUSE_PASSWORD
	Compression   bool     `yaml:"compression"`
	RetentionDays int      `yaml:"retention_days"`
}

// InfluxArchiveConfig contains InfluxDB v2 settings.
type InfluxArchiveConfig struct {
	URL         string        `yaml:"url"`
	Token       string        `yaml:"token"` // INFLUXDB_TOKEN
	Org         string        `yaml:"org"`
	Bucket      string        `yaml:"bucket"`
	Measurement string        `yaml:"measurement"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ThresholdsConfig points at an optional YAML override of the default catalog.
type ThresholdsConfig struct {
	File string `yaml:"file"`
}

// AnomalyConfig selects the anomaly classifier.
type AnomalyConfig struct {
	Mode     string        `yaml:"mode"` // off, range, http
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NotificationsConfig contains notification channels.
type NotificationsConfig struct {
	SMS   SMSConfig   `yaml:"sms"`
	Slack SlackConfig `yaml:"slack"`
}

// SMSConfig contains Twilio settings. Secrets normally come from the environment.
type SMSConfig struct {
	Enabled    bool          `yaml:"enabled"`
	AccountSID string        `yaml:"account_sid"` // TWILIO_ACCOUNT_SID
	AuthToken  string        `yaml:"auth_token"`  // TWILIO_AUTH_TOKEN
	From       string        `yaml:"from"`        // TWILIO_PHONE_NUMBER
	To         string        `yaml:"to"`          // ALERT_PHONE_NUMBER
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// SlackConfig contains Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"` // SLACK_WEBHOOK_URL
}

// HTTPConfig contains API server settings.
type HTTPConfig struct {
	Address            string        `yaml:"address"`
	RateLimitPerMinute int           `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
	QueryTimeout       time.Duration `yaml:"query_timeout"`
	AllowedOrigins     []string      `yaml:"allowed_origins"`
	TLS                TLSConfig     `yaml:"tls"`
}

// TLSConfig contains TLS settings for the HTTP API.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// PushConfig contains live push settings.
type PushConfig struct {
	BroadcastBuffer int           `yaml:"broadcast_buffer"`
	ClientBuffer    int           `yaml:"client_buffer"`
	StreamKeepAlive time.Duration `yaml:"stream_keepalive"`
}

// MetricsConfig contains Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML, applies environment overrides and defaults, and validates.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns a configuration with defaults and environment overrides.
func DefaultConfig() *Config {
	cfg := &Config{Metrics: MetricsConfig{Enabled: true}}
	cfg.applyEnv(os.LookupEnv)
	cfg.setDefaults()
	return cfg
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides secrets and a few deployment settings from the environment.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(dst *string, key string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.MQTT.Broker, "MQTT_BROKER")
	set(&c.MQTT.Username, "MQTT_USERNAME")
	set(&c.MQTT.Password, "MQTT_PASSWORD")
	set(&c.Database.Path, "PONDWATCH_DB_PATH")
	set(&c.Archive.ClickHouse.Password, "CLICKHOUSE_PASSWORD")
	set(&c.Archive.InfluxDB.Token, "INFLUXDB_TOKEN")
	set(&c.Notifications.SMS.AccountSID, "TWILIO_ACCOUNT_SID")
	set(&c.Notifications.SMS.AuthToken, "TWILIO_AUTH_TOKEN")
	set(&c.Notifications.SMS.From, "TWILIO_PHONE_NUMBER")
	set(&c.Notifications.SMS.To, "ALERT_PHONE_NUMBER")
	set(&c.Notifications.Slack.WebhookURL, "SLACK_WEBHOOK_URL")
	set(&c.Log.Level, "LOG_LEVEL")
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.MQTT.Broker == "" {
		c.MQTT.Broker = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "pondwatch"
	}
	if len(c.MQTT.Topics) == 0 {
		c.MQTT.Topics = []string{"farm1/+/data", "sensors/water_quality"}
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 60 * time.Second
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 10 * time.Second
	}
	if c.MQTT.InitialBackoff == 0 {
		c.MQTT.InitialBackoff = time.Second
	}
	if c.MQTT.MaxBackoff == 0 {
		c.MQTT.MaxBackoff = time.Minute
	}

	if c.Pipeline.Workers == 0 {
		c.Pipeline.Workers = 4
	}
	if c.Pipeline.QueueCapacity == 0 {
		c.Pipeline.QueueCapacity = 1000
	}
	if c.Pipeline.ShutdownGrace == 0 {
		c.Pipeline.ShutdownGrace = 10 * time.Second
	}
	if c.Pipeline.ReconcileInterval == 0 {
		c.Pipeline.ReconcileInterval = time.Minute
	}
	if c.Pipeline.WriteTimeout == 0 {
		c.Pipeline.WriteTimeout = 5 * time.Second
	}
	if c.Pipeline.NotifyTimeout == 0 {
		c.Pipeline.NotifyTimeout = 10 * time.Second
	}
	if c.Pipeline.PersistRetries == 0 {
		c.Pipeline.PersistRetries = 3
	}
	if c.Pipeline.RetryBackoff == 0 {
		c.Pipeline.RetryBackoff = 200 * time.Millisecond
	}
	if c.Pipeline.MaxPendingAlerts == 0 {
		c.Pipeline.MaxPendingAlerts = 1000
	}

	if c.Database.Path == "" {
		c.Database.Path = "./data/pondwatch.db"
	}

	if c.Archive.BatchSize == 0 {
		c.Archive.BatchSize = 500
	}
	if c.Archive.FlushInterval == 0 {
		c.Archive.FlushInterval = 5 * time.Second
	}
	if c.Archive.MaxBuffer == 0 {
		c.Archive.MaxBuffer = 50000
	}

	if c.Anomaly.Mode == "" {
		c.Anomaly.Mode = "off"
	}
	if c.Anomaly.Timeout == 0 {
		c.Anomaly.Timeout = 5 * time.Second
	}

	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2"))
	}
	if c.MQTT.MaxReconnects < 0 {
		errs = append(errs, fmt.Errorf("mqtt.max_reconnects must not be negative"))
	}
	if (c.MQTT.TLS.CertFile == "") != (c.MQTT.TLS.KeyFile == "") {
		errs = append(errs, fmt.Errorf("mqtt.tls.cert_file and mqtt.tls.key_file must be set together"))
	}
	if c.MQTT.MaxBackoff < c.MQTT.InitialBackoff {
		errs = append(errs, fmt.Errorf("mqtt.max_backoff must be at least mqtt.initial_backoff"))
	}
	if c.Pipeline.Workers < 1 || c.Pipeline.QueueCapacity < 1 {
		errs = append(errs, fmt.Errorf("pipeline.workers and pipeline.queue_capacity must be positive"))
	}
	if c.Pipeline.PersistRetries < 1 {
		errs = append(errs, fmt.Errorf("pipeline.persist_retries must be at least 1"))
	}

	switch strings.ToLower(c.Archive.Backend) {
	case "":
	case "clickhouse":
		if len(c.Archive.ClickHouse.Addresses) == 0 {
			errs = append(errs, fmt.Errorf("archive.clickhouse.addresses is required"))
		}
	case "influxdb":
		if c.Archive.InfluxDB.URL == "" || c.Archive.InfluxDB.Org == "" || c.Archive.InfluxDB.Bucket == "" {
			errs = append(errs, fmt.Errorf("archive.influxdb url, org and bucket are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.backend %q: want clickhouse or influxdb", c.Archive.Backend))
	}

	switch c.Anomaly.Mode {
	case "off", "range":
	case "http":
		if c.Anomaly.Endpoint == "" {
			errs = append(errs, fmt.Errorf("anomaly.endpoint is required when anomaly.mode is http"))
		}
	default:
		errs = append(errs, fmt.Errorf("anomaly.mode %q: want off, range or http", c.Anomaly.Mode))
	}

	if c.Notifications.SMS.Enabled {
		sms := c.Notifications.SMS
		if sms.AccountSID == "" || sms.AuthToken == "" || sms.From == "" || sms.To == "" {
			errs = append(errs, fmt.Errorf("notifications.sms requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, TWILIO_PHONE_NUMBER and ALERT_PHONE_NUMBER"))
		}
	}
	if c.Notifications.Slack.Enabled && c.Notifications.Slack.WebhookURL == "" {
		errs = append(errs, fmt.Errorf("notifications.slack.webhook_url is required when slack is enabled"))
	}

	if c.HTTP.TLS.Enabled {
		if c.HTTP.TLS.CertFile == "" {
			errs = append(errs, fmt.Errorf("http.tls.cert_file is required when TLS is enabled"))
		}
		if c.HTTP.TLS.KeyFile == "" {
			errs = append(errs, fmt.Errorf("http.tls.key_file is required when TLS is enabled"))
		}
	}
	if c.Metrics.Enabled && c.Metrics.Address == c.HTTP.Address {
		errs = append(errs, fmt.Errorf("metrics.address must differ from http.address"))
	}

	return errors.Join(errs...)
}
