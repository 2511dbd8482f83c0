// Package main is the pondwatch ingestion and alerting service.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/pondwatch/internal/alerting"
	"github.com/good-yellow-bee/pondwatch/internal/anomaly"
	"github.com/good-yellow-bee/pondwatch/internal/api"
	"github.com/good-yellow-bee/pondwatch/internal/api/health"
	"github.com/good-yellow-bee/pondwatch/internal/logging"
	"github.com/good-yellow-bee/pondwatch/internal/metrics"
	"github.com/good-yellow-bee/pondwatch/internal/notifier"
	"github.com/good-yellow-bee/pondwatch/internal/pipeline"
	"github.com/good-yellow-bee/pondwatch/internal/push"
	"github.com/good-yellow-bee/pondwatch/internal/security"
	"github.com/good-yellow-bee/pondwatch/internal/storage"
	"github.com/good-yellow-bee/pondwatch/internal/subscriber"
	"github.com/good-yellow-bee/pondwatch/pkg/config"
)

var (
	configPath string
	envFile    string
	verbose    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "pondwatch",
	Short: "Pond water-quality ingestion and alerting service",
	Long: `pondwatch subscribes to sensor readings over MQTT, stores them,
evaluates water-quality thresholds and pushes readings and alerts to
dashboards, SMS and Slack.`,
	RunE:          runServer,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(config.VersionString("pondwatch"))
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "path to a dotenv file with secrets")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	rootCmd.AddCommand(versionCmd)
}

func runServer(cmd *cobra.Command, args []string) error {
	if err := LoadEnvFile(envFile); err != nil {
		return err
	}

	var cfg *Config
	if configPath != "" {
		var err error
		cfg, err = LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	} else {
		cfg = DefaultConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("validate config: %w", err)
		}
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	metrics.SetBuildInfo(config.Version, config.Commit, config.BuildTime)
	logger.Info("starting pondwatch",
		zap.String("version", config.Version),
		zap.String("commit", config.Commit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, cfg, logger)
}

func run(ctx context.Context, cfg *Config, logger *zap.Logger) error {
	store, err := openStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("close database", zap.Error(err))
		}
	}()

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	dispatcher, err := buildDispatcher(cfg.Notifications, logger)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	hub := push.NewHub(push.HubConfig{
		BroadcastBuffer: cfg.Push.BroadcastBuffer,
		ClientBuffer:    cfg.Push.ClientBuffer,
	}, logger)

	opts := []pipeline.BroadcasterOption{
		pipeline.WithPusher(hub),
		pipeline.WithDispatcher(dispatcher),
	}

	archive, err := openArchive(ctx, cfg.Archive)
	if err != nil {
		return err
	}
	var buffer *storage.ReadingBuffer
	if archive != nil {
		buffer = storage.NewReadingBuffer(archive, storage.ReadingBufferConfig{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			MaxSize:       cfg.Archive.MaxBuffer,
		}, logger)
		defer buffer.Close() //nolint:errcheck
		opts = append(opts, pipeline.WithArchive(buffer))
		logger.Info("archive enabled", zap.String("backend", cfg.Archive.Backend))
	}

	broadcaster := pipeline.NewBroadcaster(store, pipeline.BroadcasterConfig{
		WriteTimeout:   cfg.Pipeline.WriteTimeout,
		NotifyTimeout:  cfg.Pipeline.NotifyTimeout,
		PersistRetries: cfg.Pipeline.PersistRetries,
		RetryBackoff:   cfg.Pipeline.RetryBackoff,
		MaxPending:     cfg.Pipeline.MaxPendingAlerts,
	}, logger, opts...)

	pipe := pipeline.New(pipeline.Config{
		Workers:           cfg.Pipeline.Workers,
		QueueCapacity:     cfg.Pipeline.QueueCapacity,
		ShutdownGrace:     cfg.Pipeline.ShutdownGrace,
		ReconcileInterval: cfg.Pipeline.ReconcileInterval,
	}, engine, broadcaster, logger)

	brokerTLS, err := loadBrokerTLS(cfg.MQTT.TLS)
	if err != nil {
		return err
	}
	conn, err := subscriber.NewPahoConn(subscriber.PahoConfig{
		Broker:         cfg.MQTT.Broker,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		KeepAlive:      cfg.MQTT.KeepAlive,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
		CleanSession:   cfg.MQTT.CleanSession,
		TLS:            brokerTLS,
	})
	if err != nil {
		return err
	}
	// Rejections are logged and counted inside Ingest.
	sub := subscriber.New(conn, subscriber.Config{
		Topics:         cfg.MQTT.Topics,
		QoS:            byte(cfg.MQTT.QoS),
		InitialBackoff: cfg.MQTT.InitialBackoff,
		MaxBackoff:     cfg.MQTT.MaxBackoff,
		MaxReconnects:  cfg.MQTT.MaxReconnects,
	}, func(topic string, payload []byte) {
		_ = pipe.Ingest(topic, payload)
	}, logger)

	apiServer, err := api.New(&api.Config{
		Address:            cfg.HTTP.Address,
		TLSEnabled:         cfg.HTTP.TLS.Enabled,
		TLSCertFile:        cfg.HTTP.TLS.CertFile,
		TLSKeyFile:         cfg.HTTP.TLS.KeyFile,
		RateLimitPerMinute: cfg.HTTP.RateLimitPerMinute,
		RateLimitBurst:     cfg.HTTP.RateLimitBurst,
		QueryTimeout:       cfg.HTTP.QueryTimeout,
		StreamKeepAlive:    cfg.Push.StreamKeepAlive,
		AllowedOrigins:     cfg.HTTP.AllowedOrigins,
		Verbose:            cfg.Log.Level == "debug",
	}, store, hub, logger)
	if err != nil {
		return fmt.Errorf("create api server: %w", err)
	}
	apiServer.RegisterHealthChecker(health.NewSQLiteChecker(store.DB()))
	apiServer.RegisterHealthChecker(health.NewMQTTReadinessChecker(sub.State))
	apiServer.RegisterLivenessChecker(health.NewMQTTLivenessChecker(sub.State))
	if archive != nil {
		apiServer.RegisterHealthChecker(health.NewArchiveChecker(cfg.Archive.Backend, archive))
	}

	// Serving outlives ingestion so the final drain still reaches live
	// subscribers; a serving failure stops ingestion.
	ingestCtx, stopIngest := context.WithCancel(ctx)
	defer stopIngest()
	serveBase, stopServe := context.WithCancel(context.Background())
	defer stopServe()
	serve, serveCtx := errgroup.WithContext(serveBase)

	serve.Go(func() error {
		hub.Run(serveCtx)
		return nil
	})
	serve.Go(func() error {
		return apiServer.Run(serveCtx)
	})
	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewServer(cfg.Metrics.Address, logger)
		serve.Go(metricsServer.Start)
		serve.Go(func() error {
			<-serveCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Shutdown(shutdownCtx)
		})
	}
	serve.Go(func() error {
		<-serveCtx.Done()
		stopIngest()
		return nil
	})

	ingestErr := runIngest(ingestCtx, sub.Run, pipe.Run, logger)
	logger.Info("ingestion stopped", zap.Any("stats", pipe.Stats()))

	if buffer != nil {
		// Flush what the drain produced before the archive goes away.
		if err := buffer.Close(); err != nil {
			logger.Warn("close archive", zap.Error(err))
		}
	}

	stopServe()
	serveErr := serve.Wait()

	logger.Info("pondwatch stopped")
	return errors.Join(ingestErr, serveErr)
}

// runIngest runs the subscriber and the pipeline until ctx ends. Once ctx
// ends the pipeline stops accepting readings and drains; the broker
// connection is closed only after the drain returns.
func runIngest(ctx context.Context, subscribe, process func(context.Context) error, logger *zap.Logger) error {
	logger = logging.OrNop(logger)
	subCtx, stopSub := context.WithCancel(context.WithoutCancel(ctx))
	defer stopSub()

	subDone := make(chan error, 1)
	go func() {
		err := subscribe(subCtx)
		if errors.Is(err, subscriber.ErrReconnectsExhausted) {
			// Keep serving; liveness reports the failed subscriber.
			logger.Error("mqtt subscriber stopped permanently", zap.Error(err))
			err = nil
		}
		subDone <- err
	}()

	pipeErr := process(ctx)
	stopSub()
	return errors.Join(pipeErr, <-subDone)
}

func openStore(path string) (*storage.SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	store := storage.NewSQLiteStorage(path)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

// loadBrokerTLS returns nil when no TLS option is configured.
func loadBrokerTLS(cfg MQTTTLSConfig) (*tls.Config, error) {
	tc := security.ClientTLSConfig{
		CAFile:             cfg.CAFile,
		CertFile:           cfg.CertFile,
		KeyFile:            cfg.KeyFile,
		ServerName:         cfg.ServerName,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	if !tc.Enabled() {
		return nil, nil
	}
	t, err := security.LoadClientTLS(tc)
	if err != nil {
		return nil, fmt.Errorf("mqtt tls: %w", err)
	}
	return t, nil
}

func buildEngine(cfg *Config, logger *zap.Logger) (*alerting.Engine, error) {
	catalog := alerting.DefaultCatalog()
	if cfg.Thresholds.File != "" {
		var err error
		catalog, err = alerting.LoadCatalogFromFile(cfg.Thresholds.File)
		if err != nil {
			return nil, fmt.Errorf("load thresholds: %w", err)
		}
		logger.Info("loaded thresholds", zap.String("file", cfg.Thresholds.File), zap.Int("rules", catalog.Len()))
	}

	opts := []alerting.Option{alerting.WithLogger(logger)}
	switch cfg.Anomaly.Mode {
	case "range":
		opts = append(opts, alerting.WithClassifier(anomaly.NewRangeClassifier(nil)))
	case "http":
		c, err := anomaly.NewHTTPClassifier(anomaly.HTTPConfig{
			Endpoint: cfg.Anomaly.Endpoint,
			Timeout:  cfg.Anomaly.Timeout,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, alerting.WithClassifier(c))
	}
	return alerting.NewEngine(catalog, opts...), nil
}

func buildDispatcher(cfg NotificationsConfig, logger *zap.Logger) (*notifier.Dispatcher, error) {
	d := notifier.NewDispatcher(logger)
	if cfg.SMS.Enabled {
		sms, err := notifier.NewTwilioNotifier(notifier.TwilioConfig{
			AccountSID: cfg.SMS.AccountSID,
			AuthToken:  cfg.SMS.AuthToken,
			From:       cfg.SMS.From,
			To:         cfg.SMS.To,
			BaseURL:    cfg.SMS.BaseURL,
			Timeout:    cfg.SMS.Timeout,
		})
		if err != nil {
			return nil, err
		}
		d.Register(sms)
	}
	if cfg.Slack.Enabled {
		slack, err := notifier.NewSlackNotifier(notifier.SlackConfig{WebhookURL: cfg.Slack.WebhookURL})
		if err != nil {
			return nil, err
		}
		d.Register(slack)
	}
	if d.Len() == 0 {
		logger.Warn("no notification channels configured; alerts are stored and pushed only")
	}
	return d, nil
}

// openArchive returns nil when no archive backend is configured.
func openArchive(ctx context.Context, cfg ArchiveConfig) (storage.ReadingArchive, error) {
	switch strings.ToLower(cfg.Backend) {
	case "":
		return nil, nil
	case "clickhouse":
		ch := storage.NewClickHouseArchive(&storage.ClickHouseConfig{
			Addresses:     cfg.ClickHouse.Addresses,
			Database:      cfg.ClickHouse.Database,
			Username:      cfg.ClickHouse.Username,
			Password:      cfg.ClickHouse.Password,
			Compression:   cfg.ClickHouse.Compression,
			RetentionDays: cfg.ClickHouse.RetentionDays,
		})
		if err := ch.Open(); err != nil {
			return nil, err
		}
		if err := ch.Migrate(); err != nil {
			ch.Close()
			return nil, err
		}
		return ch, nil
	case "influxdb":
		return storage.NewInfluxArchive(ctx, storage.InfluxConfig{
			URL:         cfg.InfluxDB.URL,
			Token:       cfg.InfluxDB.Token,
			Org:         cfg.InfluxDB.Org,
			Bucket:      cfg.InfluxDB.Bucket,
			Measurement: cfg.InfluxDB.Measurement,
			Timeout:     cfg.InfluxDB.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Backend)
	}
}
