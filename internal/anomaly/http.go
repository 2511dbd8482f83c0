package anomaly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// HTTPConfig configures an external model endpoint.
type HTTPConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// HTTPClassifier posts each reading to an external scoring service and
// expects a Result-shaped JSON body in return.
type HTTPClassifier struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPClassifier creates a classifier backed by an HTTP endpoint.
func NewHTTPClassifier(config HTTPConfig) (*HTTPClassifier, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("anomaly endpoint is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 5 * time.Second
	}
	return &HTTPClassifier{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Classify implements Classifier.
func (c *HTTPClassifier) Classify(ctx context.Context, reading *models.Reading) (Result, error) {
	body, err := json.Marshal(reading)
	if err != nil {
		return Result{}, fmt.Errorf("marshal reading: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("classify: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return Result{}, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, string(msg))
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return Result{}, fmt.Errorf("decode classifier response: %w", err)
	}
	return res, nil
}
