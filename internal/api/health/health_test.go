package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/good-yellow-bee/pondwatch/internal/subscriber"
)

type stubChecker struct {
	name string
	err  error
}

func (c stubChecker) Name() string                    { return c.name }
func (c stubChecker) Check(ctx context.Context) error { return c.err }

func call(t *testing.T, fn http.HandlerFunc) (int, HealthResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest("GET", "/", nil))
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rec.Code, resp
}

func TestHandler_ReadyReportsFailingDependency(t *testing.T) {
	h := NewHandler()
	h.RegisterChecker(stubChecker{name: "sqlite"})
	h.RegisterChecker(stubChecker{name: "clickhouse", err: errors.New("connection refused")})

	code, resp := call(t, h.Ready)
	if code != http.StatusServiceUnavailable || resp.Status != "not_ready" {
		t.Errorf("Ready = %d %q, want 503 not_ready", code, resp.Status)
	}
	if resp.Checks["sqlite"] != "ok" || resp.Checks["clickhouse"] != "connection refused" {
		t.Errorf("checks = %v", resp.Checks)
	}

	// Readiness failures do not affect liveness.
	if code, _ := call(t, h.Live); code != http.StatusOK {
		t.Errorf("Live = %d, want 200", code)
	}
}

func TestHandler_LivenessFailure(t *testing.T) {
	h := NewHandler()
	state := subscriber.StateFailed
	h.RegisterLivenessChecker(NewMQTTLivenessChecker(func() subscriber.State { return state }))

	for name, fn := range map[string]http.HandlerFunc{"health": h.Health, "live": h.Live, "ready": h.Ready} {
		if code, _ := call(t, fn); code != http.StatusServiceUnavailable {
			t.Errorf("%s = %d, want 503", name, code)
		}
	}

	state = subscriber.StateConnecting
	if code, resp := call(t, h.Health); code != http.StatusOK || resp.Status != "ok" {
		t.Errorf("Health = %d %q, want 200 ok", code, resp.Status)
	}
}

func TestMQTTChecker(t *testing.T) {
	tests := []struct {
		state        subscriber.State
		readyErr     bool
		livenessErr  bool
		wantSentinel bool
	}{
		{subscriber.StateDisconnected, true, false, false},
		{subscriber.StateConnecting, true, false, false},
		{subscriber.StateSubscribed, false, false, false},
		{subscriber.StateReceiving, false, false, false},
		{subscriber.StateFailed, true, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			fn := func() subscriber.State { return tt.state }
			err := NewMQTTReadinessChecker(fn).Check(context.Background())
			if (err != nil) != tt.readyErr {
				t.Errorf("readiness error = %v, want error %v", err, tt.readyErr)
			}
			if tt.wantSentinel && !errors.Is(err, subscriber.ErrReconnectsExhausted) {
				t.Errorf("error %v should wrap ErrReconnectsExhausted", err)
			}
			if err := NewMQTTLivenessChecker(fn).Check(context.Background()); (err != nil) != tt.livenessErr {
				t.Errorf("liveness error = %v, want error %v", err, tt.livenessErr)
			}
		})
	}
}

func TestArchiveChecker_NotConfigured(t *testing.T) {
	c := NewArchiveChecker("influxdb", nil)
	if c.Name() != "influxdb" {
		t.Errorf("Name() = %q", c.Name())
	}
	if err := c.Check(context.Background()); err == nil {
		t.Error("expected error for missing pinger")
	}
}
