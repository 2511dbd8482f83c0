package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

func TestInfluxArchive_InsertReadings(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
		q    string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"name":"influxdb","status":"pass","message":"ready","checks":[]}`))
		case "/api/v2/write":
			b, _ := io.ReadAll(r.Body)
			mu.Lock()
			body = string(b)
			q = r.URL.RawQuery
			mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	archive, err := NewInfluxArchive(context.Background(), InfluxConfig{
		URL: server.URL, Token: "t", Org: "farm", Bucket: "ponds",
	})
	if err != nil {
		t.Fatalf("NewInfluxArchive: %v", err)
	}
	defer archive.Close()

	r := testReading("pond_001", t0)
	empty := models.NewReading("pond_002", t0, t0)
	if err := archive.InsertReadings(context.Background(), []*models.Reading{r, empty}); err != nil {
		t.Fatalf("InsertReadings: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(q, "bucket=ponds") || !strings.Contains(q, "org=farm") {
		t.Errorf("write query = %q", q)
	}
	if !strings.HasPrefix(body, "pond_reading,pond_id=pond_001") {
		t.Errorf("line protocol = %q", body)
	}
	if !strings.Contains(body, "ph=7.1") || strings.Contains(body, "pond_002") {
		t.Errorf("line protocol = %q", body)
	}
}

func TestInfluxArchive_Unhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"name":"influxdb","status":"fail","message":"starting"}`))
	}))
	defer server.Close()

	if _, err := NewInfluxArchive(context.Background(), InfluxConfig{URL: server.URL, Org: "o", Bucket: "b"}); err == nil {
		t.Fatal("expected error for unhealthy server")
	}
}

func TestNewClickHouseArchive_Defaults(t *testing.T) {
	a := NewClickHouseArchive(&ClickHouseConfig{Addresses: []string{"localhost:9000"}})
	if a.config.Database != "default" || a.config.MaxOpenConns != 5 || a.config.RetentionDays != 365 {
		t.Errorf("defaults not applied: %+v", a.config)
	}
	if err := a.Ping(context.Background()); err == nil {
		t.Error("Ping before Open should fail")
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close before Open: %v", err)
	}
}
