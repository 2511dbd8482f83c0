// Package api provides the HTTP server for dashboards and operators.
package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/good-yellow-bee/pondwatch/internal/api/health"
	"github.com/good-yellow-bee/pondwatch/internal/api/middleware"
	"github.com/good-yellow-bee/pondwatch/internal/push"
	"github.com/good-yellow-bee/pondwatch/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address            string
	TLSEnabled         bool
	TLSCertFile        string
	TLSKeyFile         string
	RateLimitPerMinute int
	RateLimitBurst     int
	QueryTimeout       time.Duration // Timeout for storage-backed API calls
	StreamKeepAlive    time.Duration // Comment interval on SSE streams
	AllowedOrigins     []string      // WebSocket origins; empty allows any
	Verbose            bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.RateLimitPerMinute == 0 {
		c.RateLimitPerMinute = 120
	}
	if c.RateLimitBurst == 0 {
		c.RateLimitBurst = 20
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = 10 * time.Second
	}
	if c.StreamKeepAlive == 0 {
		c.StreamKeepAlive = 30 * time.Second
	}
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	storage       storage.Storage
	hub           *push.Hub
	limiter       *middleware.RateLimiter
	healthHandler *health.Handler
	handler       http.Handler
	server        *http.Server
	logger        *zap.Logger
}

// New creates a new API server.
func New(cfg *Config, store storage.Storage, hub *push.Hub, logger *zap.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if hub == nil {
		return nil, fmt.Errorf("push hub is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		storage:       store,
		hub:           hub,
		limiter:       middleware.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst),
		healthHandler: health.NewHandler(),
		logger:        logger.Named("api"),
	}
	s.handler = s.setupRouter()

	s.server = &http.Server{
		Addr:        cfg.Address,
		Handler:     s.handler,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: /ws and /api/v1/stream are long-lived.
		IdleTimeout: 60 * time.Second,
	}
	if cfg.TLSEnabled {
		s.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return s, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP API listening", zap.String("addr", s.config.Address), zap.Bool("tls", s.config.TLSEnabled))
		var err error
		if s.config.TLSEnabled {
			err = s.server.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP API server")
		s.limiter.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		s.limiter.Close()
		return fmt.Errorf("http api: %w", err)
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a readiness checker.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	s.healthHandler.RegisterChecker(c)
}

// RegisterLivenessChecker adds a checker evaluated by every health probe.
func (s *Server) RegisterLivenessChecker(c health.Checker) {
	s.healthHandler.RegisterLivenessChecker(c)
}

// originChecker allows requests without an Origin header and those whose
// host matches an allowed origin.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return nil
	}
	hosts := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts[strings.ToLower(u.Host)] = true
		} else {
			hosts[strings.ToLower(o)] = true
		}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return hosts[strings.ToLower(u.Host)]
	}
}
