package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/pondwatch/internal/api"
	"github.com/good-yellow-bee/pondwatch/internal/models"
	"github.com/good-yellow-bee/pondwatch/internal/push"
	"github.com/good-yellow-bee/pondwatch/internal/storage"
)

func setupTestAPI(t *testing.T) (*storage.MemoryStorage, string) {
	t.Helper()

	store := storage.NewMemoryStorage()
	srv, err := api.New(&api.Config{RateLimitPerMinute: 10000, RateLimitBurst: 1000}, store, push.NewHub(push.HubConfig{}, nil), nil)
	if err != nil {
		t.Fatalf("create api: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return store, ts.URL
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	alertsPond, alertsActive, alertsSince, alertsBy = "", false, "", ""
	readingsSince, readingsLimit = "", 0
	thresholdsFile = ""
	output = "table"

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func seedAlert(t *testing.T, store *storage.MemoryStorage, pond string) *models.Alert {
	t.Helper()
	r := models.NewReading(pond, time.Now().Add(-time.Minute), time.Now())
	r.DissolvedOxygen = models.Float(2.1)
	a := models.NewAlert(r, models.SourceThreshold, models.ParamDissolvedOxygen, models.SeverityCritical, time.Now())
	a.Value = 2.1
	a.Threshold = 3.0
	a.Message = "dissolved_oxygen critically low"
	if err := store.Alerts().Append(context.Background(), a); err != nil {
		t.Fatalf("append alert: %v", err)
	}
	return a
}

func TestAlertsList(t *testing.T) {
	store, url := setupTestAPI(t)
	a := seedAlert(t, store, "pond1")
	seedAlert(t, store, "pond2")

	out, err := execute(t, "--server", url, "alerts", "list")
	if err != nil {
		t.Fatalf("alerts list: %v", err)
	}
	if !strings.Contains(out, a.ID) || !strings.Contains(out, "Total: 2 alert(s)") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = execute(t, "--server", url, "-o", "json", "alerts", "list", "--pond", "pond1", "--active")
	if err != nil {
		t.Fatalf("alerts list --pond: %v", err)
	}
	var got []*models.Alert
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decode json output: %v\n%s", err, out)
	}
	if len(got) != 1 || got[0].PondID != "pond1" {
		t.Errorf("got %d alerts, want one for pond1", len(got))
	}
}

func TestAlertsAckAndResolve(t *testing.T) {
	store, url := setupTestAPI(t)
	a := seedAlert(t, store, "pond1")

	if _, err := execute(t, "--server", url, "alerts", "ack", a.ID, "--by", "alice"); err != nil {
		t.Fatalf("ack: %v", err)
	}
	got, _ := store.Alerts().Get(context.Background(), a.ID)
	if !got.Acknowledged || got.AcknowledgedBy != "alice" {
		t.Errorf("after ack: acknowledged=%v by=%q", got.Acknowledged, got.AcknowledgedBy)
	}

	out, err := execute(t, "--server", url, "alerts", "resolve", a.ID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !strings.Contains(out, "res") {
		t.Errorf("resolve output missing state:\n%s", out)
	}
	got, _ = store.Alerts().Get(context.Background(), a.ID)
	if !got.Resolved || got.ResolvedBy != "api" {
		t.Errorf("after resolve: resolved=%v by=%q", got.Resolved, got.ResolvedBy)
	}
}

func TestAlertsAck_UnknownID(t *testing.T) {
	_, url := setupTestAPI(t)

	_, err := execute(t, "--server", url, "alerts", "ack", "does-not-exist")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v, want a 404", err)
	}
}

func TestReadingsLatest(t *testing.T) {
	store, url := setupTestAPI(t)
	r := models.NewReading("pond1", time.Now().Add(-time.Minute), time.Now())
	r.PH = models.Float(7.25)
	if err := store.Readings().Append(context.Background(), r); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "--server", url, "readings", "latest", "pond1")
	if err != nil {
		t.Fatalf("readings latest: %v", err)
	}
	if !strings.Contains(out, "7.25") {
		t.Errorf("output missing ph value:\n%s", out)
	}

	if _, err := execute(t, "--server", url, "readings", "latest", "pond9"); err == nil {
		t.Error("expected error for pond without readings")
	}
}

func TestThresholds(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(good, []byte("thresholds:\n  - parameter: ph\n    normal_min: 7.0\n    normal_max: 8.0\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("thresholds:\n  - parameter: ph\n    normal_min: 9.0\n    normal_max: 8.0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "thresholds", "validate", good)
	if err != nil {
		t.Fatalf("validate good file: %v", err)
	}
	if !strings.Contains(out, "OK (8 rules)") {
		t.Errorf("unexpected output: %q", out)
	}

	if _, err := execute(t, "thresholds", "validate", bad); err == nil {
		t.Error("expected error for inverted bounds")
	}

	out, err = execute(t, "thresholds", "show", "--file", good)
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	if !strings.Contains(out, "dissolved_oxygen") {
		t.Errorf("show output missing defaults:\n%s", out)
	}
}

func TestBuildPayload(t *testing.T) {
	ts := time.Unix(1700000000, 0)
	values := map[models.Parameter]float64{
		models.ParamDissolvedOxygen: 2.1,
		models.ParamPH:              7.0,
	}

	data, err := buildPayload("pond1", "dev-7", ts, values, 0)
	if err != nil {
		t.Fatal(err)
	}
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatal(err)
	}
	if body["pond_id"] != "pond1" || body["device_id"] != "dev-7" {
		t.Errorf("identity = %v/%v", body["pond_id"], body["device_id"])
	}
	if body["timestamp"] != float64(1700000000) {
		t.Errorf("timestamp = %v", body["timestamp"])
	}
	if body["dissolved_oxygen"] != 2.1 || body["ph"] != 7.0 {
		t.Errorf("values = %v", body)
	}

	data, err = buildPayload("pond1", "", ts, values, 0.1)
	if err != nil {
		t.Fatal(err)
	}
	body = nil
	if err := json.Unmarshal(data, &body); err != nil {
		t.Fatal(err)
	}
	if _, ok := body["device_id"]; ok {
		t.Error("empty device should be omitted")
	}
	if do := body["dissolved_oxygen"].(float64); do < 1.89 || do > 2.31 {
		t.Errorf("jittered value %v outside 10%%", do)
	}
}

func TestPublish_RequiresPond(t *testing.T) {
	if _, err := execute(t, "publish", "--ph", "7"); err == nil {
		t.Fatal("expected error without --pond")
	}
}
