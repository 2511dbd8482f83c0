package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/good-yellow-bee/pondwatch/internal/models"
	"github.com/good-yellow-bee/pondwatch/internal/push"
	"github.com/good-yellow-bee/pondwatch/internal/storage"
)

// testServer creates a test server backed by a temporary SQLite database.
func testServer(t *testing.T, cfg *Config) (*Server, storage.Storage, *push.Hub) {
	t.Helper()

	store := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "pondwatch.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open storage: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		t.Fatalf("migrate storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	hub := push.NewHub(push.HubConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	if cfg == nil {
		cfg = &Config{Address: ":0", RateLimitPerMinute: 6000, RateLimitBurst: 1000}
	}
	srv, err := New(cfg, store, hub, nil)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	t.Cleanup(srv.limiter.Close)
	return srv, store, hub
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type list[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func do(t *testing.T, srv *Server, method, path string, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&env); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return rec, env
}

func seedReading(t *testing.T, store storage.Storage, pond string, ts time.Time) *models.Reading {
	t.Helper()
	r := models.NewReading(pond, ts, ts)
	r.Set(models.ParamPH, 7.1)
	r.Set(models.ParamDissolvedOxygen, 2.1)
	if err := store.Readings().Append(context.Background(), r); err != nil {
		t.Fatalf("append reading: %v", err)
	}
	return r
}

func seedAlert(t *testing.T, store storage.Storage, r *models.Reading) *models.Alert {
	t.Helper()
	a := models.NewAlert(r, models.SourceThreshold, models.ParamDissolvedOxygen, models.SeverityCritical, r.Timestamp)
	a.Value = 2.1
	a.Threshold = 3.0
	a.Message = "Dissolved Oxygen is below critical threshold: 2.1 (limit: 3.0)"
	if err := store.Alerts().Append(context.Background(), a); err != nil {
		t.Fatalf("append alert: %v", err)
	}
	return a
}

func TestReadings_Latest(t *testing.T) {
	srv, store, _ := testServer(t, nil)

	rec, env := do(t, srv, "GET", "/api/v1/ponds/pond_001/readings/latest", "")
	if rec.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != "NOT_FOUND" {
		t.Fatalf("empty pond: status %d, error %+v", rec.Code, env.Error)
	}

	now := time.Now().UTC()
	seedReading(t, store, "pond_001", now.Add(-2*time.Minute))
	latest := seedReading(t, store, "pond_001", now.Add(-time.Minute))

	rec, env = do(t, srv, "GET", "/api/v1/ponds/pond_001/readings/latest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var got models.Reading
	if err := json.Unmarshal(env.Data, &got); err != nil {
		t.Fatal(err)
	}
	if got.ID != latest.ID {
		t.Errorf("latest = %s, want %s", got.ID, latest.ID)
	}
}

func TestReadings_History(t *testing.T) {
	srv, store, _ := testServer(t, nil)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		seedReading(t, store, "pond_002", now.Add(-time.Duration(i)*time.Minute))
	}
	seedReading(t, store, "pond_002", now.Add(-48*time.Hour))

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
	}{
		{"default window", "", http.StatusOK, 5},
		{"limit", "?limit=2", http.StatusOK, 2},
		{"duration since", "?since=72h", http.StatusOK, 6},
		{"rfc3339 since", "?since=" + now.Add(-90*time.Second).Format(time.RFC3339), http.StatusOK, 2},
		{"bad since", "?since=yesterday", http.StatusBadRequest, 0},
		{"bad limit", "?limit=-1", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, env := do(t, srv, "GET", "/api/v1/ponds/pond_002/readings"+tt.query, "")
			if rec.Code != tt.wantCode {
				t.Fatalf("status %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			var got list[models.Reading]
			if err := json.Unmarshal(env.Data, &got); err != nil {
				t.Fatal(err)
			}
			if got.Count != tt.wantCount || len(got.Items) != tt.wantCount {
				t.Errorf("count = %d (%d items), want %d", got.Count, len(got.Items), tt.wantCount)
			}
		})
	}
}

func TestReadings_InvalidPondID(t *testing.T) {
	srv, _, _ := testServer(t, nil)
	rec, env := do(t, srv, "GET", "/api/v1/ponds/pond%20one/readings", "")
	if rec.Code != http.StatusBadRequest || env.Error == nil || env.Error.Code != "VALIDATION_FAILED" {
		t.Errorf("status %d, error %+v", rec.Code, env.Error)
	}
}

func TestAlerts_Lifecycle(t *testing.T) {
	srv, store, _ := testServer(t, nil)
	r := seedReading(t, store, "pond_003", time.Now().UTC().Add(-time.Minute))
	a := seedAlert(t, store, r)

	rec, env := do(t, srv, "GET", "/api/v1/ponds/pond_003/alerts?active=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list active: %d", rec.Code)
	}
	var active list[models.Alert]
	json.Unmarshal(env.Data, &active)
	if active.Count != 1 || active.Items[0].ID != a.ID {
		t.Fatalf("active alerts = %+v", active)
	}

	rec, env = do(t, srv, "POST", "/api/v1/alerts/"+a.ID+"/acknowledge", `{"by":"farmer.joe"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("acknowledge: %d %s", rec.Code, rec.Body.String())
	}
	var acked models.Alert
	json.Unmarshal(env.Data, &acked)
	if !acked.Acknowledged || acked.AcknowledgedBy != "farmer.joe" || acked.AcknowledgedAt == nil {
		t.Errorf("acknowledged alert = %+v", acked)
	}

	rec, env = do(t, srv, "POST", "/api/v1/alerts/"+a.ID+"/resolve", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve: %d %s", rec.Code, rec.Body.String())
	}
	var resolved models.Alert
	json.Unmarshal(env.Data, &resolved)
	if !resolved.Resolved || resolved.ResolvedBy != "api" {
		t.Errorf("resolved alert = %+v", resolved)
	}

	_, env = do(t, srv, "GET", "/api/v1/ponds/pond_003/alerts?active=true", "")
	json.Unmarshal(env.Data, &active)
	if active.Count != 0 {
		t.Errorf("active after resolve = %d, want 0", active.Count)
	}

	// History still includes the resolved alert.
	_, env = do(t, srv, "GET", "/api/v1/ponds/pond_003/alerts", "")
	var history list[models.Alert]
	json.Unmarshal(env.Data, &history)
	if history.Count != 1 {
		t.Errorf("history count = %d, want 1", history.Count)
	}
}

func TestAlerts_Errors(t *testing.T) {
	srv, store, _ := testServer(t, nil)
	a := seedAlert(t, store, seedReading(t, store, "pond_004", time.Now().UTC()))

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
	}{
		{"unknown alert ack", "POST", "/api/v1/alerts/does-not-exist/acknowledge", "", http.StatusNotFound},
		{"unknown alert resolve", "POST", "/api/v1/alerts/does-not-exist/resolve", "", http.StatusNotFound},
		{"unknown alert get", "GET", "/api/v1/alerts/does-not-exist", "", http.StatusNotFound},
		{"bad body", "POST", "/api/v1/alerts/" + a.ID + "/acknowledge", `{"who":"x"}`, http.StatusBadRequest},
		{"actor too long", "POST", "/api/v1/alerts/" + a.ID + "/acknowledge", `{"by":"` + strings.Repeat("x", 65) + `"}`, http.StatusBadRequest},
		{"bad active flag", "GET", "/api/v1/ponds/pond_004/alerts?active=maybe", "", http.StatusBadRequest},
		{"get known", "GET", "/api/v1/alerts/" + a.ID, "", http.StatusOK},
		{"list all active", "GET", "/api/v1/alerts", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := do(t, srv, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Errorf("status %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

type failingChecker struct{}

func (failingChecker) Name() string                    { return "mqtt" }
func (failingChecker) Check(ctx context.Context) error { return errors.New("mqtt failed") }

func TestHealthEndpoints(t *testing.T) {
	srv, _, _ := testServer(t, nil)

	for _, path := range []string{"/health", "/health/live", "/health/ready"} {
		if rec, _ := do(t, srv, "GET", path, ""); rec.Code != http.StatusOK {
			t.Errorf("%s = %d, want 200", path, rec.Code)
		}
	}

	srv.RegisterLivenessChecker(failingChecker{})
	if rec, _ := do(t, srv, "GET", "/health", ""); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/health with failed subscriber = %d, want 503", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	srv, _, _ := testServer(t, &Config{RateLimitPerMinute: 60, RateLimitBurst: 2})

	var codes []int
	for i := 0; i < 3; i++ {
		rec, _ := do(t, srv, "GET", "/api/v1/alerts", "")
		codes = append(codes, rec.Code)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want third request limited", codes)
	}

	// Health probes are not limited.
	if rec, _ := do(t, srv, "GET", "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200", rec.Code)
	}
}

func TestSecurityHeadersApplied(t *testing.T) {
	srv, _, _ := testServer(t, nil)
	rec, _ := do(t, srv, "GET", "/health", "")
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID missing")
	}
}

func TestWebSocketPush(t *testing.T) {
	srv, _, hub := testServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("websocket client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	r := models.NewReading("pond_005", time.Now(), time.Now())
	hub.PublishReading(r)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string         `json:"type"`
		Data models.Reading `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "sensor_data" || msg.Data.ID != r.ID {
		t.Errorf("got %s %s", msg.Type, msg.Data.ID)
	}
}

func TestOriginChecker(t *testing.T) {
	if originChecker(nil) != nil {
		t.Error("no allowed origins should disable the check")
	}
	check := originChecker([]string{"https://dashboard.example.com"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://dashboard.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/ws", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		if got := check(req); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	hub := push.NewHub(push.HubConfig{}, nil)
	store := storage.NewMemoryStorage()
	if _, err := New(nil, store, hub, nil); err == nil {
		t.Error("expected error for nil config")
	}
	if _, err := New(&Config{}, nil, hub, nil); err == nil {
		t.Error("expected error for nil storage")
	}
	if _, err := New(&Config{}, store, nil, nil); err == nil {
		t.Error("expected error for nil hub")
	}
}
