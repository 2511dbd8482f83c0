package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/good-yellow-bee/pondwatch/internal/alerting"
	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// DefaultTwilioBaseURL is the Twilio REST API root.
const DefaultTwilioBaseURL = "https://api.twilio.com"

// TwilioConfig holds Twilio SMS configuration.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string // Twilio sender number
	To         string // single operator recipient
	BaseURL    string
	Timeout    time.Duration
}

// Validate validates the Twilio configuration.
func (c *TwilioConfig) Validate() error {
	if c.AccountSID == "" {
		return fmt.Errorf("account SID is required")
	}
	if c.AuthToken == "" {
		return fmt.Errorf("auth token is required")
	}
	if c.From == "" {
		return fmt.Errorf("from number is required")
	}
	if c.To == "" {
		return fmt.Errorf("recipient number is required")
	}
	return nil
}

// TwilioNotifier sends alerts as SMS through the Twilio Messages API.
type TwilioNotifier struct {
	config     TwilioConfig
	httpClient *http.Client
}

// NewTwilioNotifier creates a new Twilio SMS notifier.
func NewTwilioNotifier(config TwilioConfig) (*TwilioNotifier, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid twilio config: %w", err)
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultTwilioBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &TwilioNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Name returns "sms".
func (t *TwilioNotifier) Name() string {
	return "sms"
}

// Send sends one SMS for the alert.
func (t *TwilioNotifier) Send(ctx context.Context, alert *models.Alert) error {
	form := url.Values{}
	form.Set("From", t.config.From)
	form.Set("To", t.config.To)
	form.Set("Body", FormatSMS(alert))

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimRight(t.config.BaseURL, "/"), url.PathEscape(t.config.AccountSID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(t.config.AccountSID, t.config.AuthToken)

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		var apiErr twilioError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("twilio API error: status %d, code %d: %s", resp.StatusCode, apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("twilio API error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

// Close is a no-op for the Twilio notifier.
func (t *TwilioNotifier) Close() error {
	return nil
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// FormatSMS renders the single-line SMS body for an alert.
func FormatSMS(alert *models.Alert) string {
	return fmt.Sprintf("[%s] pond %s: %s %s (threshold %s)",
		strings.ToUpper(string(alert.Severity)),
		alert.PondID,
		alert.Parameter,
		alerting.FormatValue(alert.Value),
		alerting.FormatValue(alert.Threshold))
}
