package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()

	store := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	if err := store.Open(); err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate database: %v", err)
	}
	return store
}

// backends runs fn against every Storage implementation.
func backends(t *testing.T, fn func(t *testing.T, s Storage)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, setupTestDB(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStorage()) })
}

func testReading(pond string, ts time.Time) *models.Reading {
	r := models.NewReading(pond, ts, ts)
	r.Set(models.ParamPH, 7.1)
	r.Set(models.ParamDissolvedOxygen, 6.4)
	return r
}

func testAlert(pond string, at time.Time) *models.Alert {
	r := testReading(pond, at)
	a := models.NewAlert(r, models.SourceThreshold, models.ParamDissolvedOxygen, models.SeverityCritical, at)
	a.Value = 2.1
	a.Threshold = 3.0
	a.Direction = models.DirectionLow
	a.Breach = models.BreachCritical
	a.Message = "Dissolved Oxygen is below critical threshold: 2.1 (limit: 3.0)"
	return a
}

func TestSQLiteStorage_MigrateTwice(t *testing.T) {
	store := setupTestDB(t)
	if err := store.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var version int
	if err := store.DB().QueryRow("SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		t.Fatalf("query version: %v", err)
	}
	if version != len(migrations) {
		t.Errorf("schema version = %d, want %d", version, len(migrations))
	}
}

func TestReadings_AppendAndLatest(t *testing.T) {
	backends(t, func(t *testing.T, s Storage) {
		ctx := context.Background()

		if got, err := s.Readings().Latest(ctx, "pond_001"); err != nil || got != nil {
			t.Fatalf("Latest on empty store = %v, %v; want nil, nil", got, err)
		}

		older := testReading("pond_001", t0)
		newer := testReading("pond_001", t0.Add(time.Minute))
		newer.DeviceID = "node-7"
		other := testReading("pond_002", t0.Add(time.Hour))
		for _, r := range []*models.Reading{older, newer, other} {
			if err := s.Readings().Append(ctx, r); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}

		latest, err := s.Readings().Latest(ctx, "pond_001")
		if err != nil {
			t.Fatalf("Latest: %v", err)
		}
		if latest.ID != newer.ID || latest.DeviceID != "node-7" {
			t.Errorf("Latest = %+v, want reading %s", latest, newer.ID)
		}
		if v, ok := latest.Value(models.ParamPH); !ok || v != 7.1 {
			t.Errorf("ph = %v, %v", v, ok)
		}
		if _, ok := latest.Value(models.ParamTurbidity); ok {
			t.Error("absent turbidity should stay absent")
		}
		if !latest.Timestamp.Equal(newer.Timestamp) {
			t.Errorf("Timestamp = %v, want %v", latest.Timestamp, newer.Timestamp)
		}
	})
}

func TestReadings_AppendIdempotent(t *testing.T) {
	backends(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		r := testReading("pond_001", t0)
		for i := 0; i < 3; i++ {
			if err := s.Readings().Append(ctx, r); err != nil {
				t.Fatalf("Append #%d: %v", i, err)
			}
		}
		list, err := s.Readings().ListSince(ctx, "pond_001", time.Time{}, 10)
		if err != nil {
			t.Fatalf("ListSince: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("got %d readings, want 1", len(list))
		}
	})
}

func TestReadings_ListSince(t *testing.T) {
	backends(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			if err := s.Readings().Append(ctx, testReading("pond_001", t0.Add(time.Duration(i)*time.Minute))); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}

		list, err := s.Readings().ListSince(ctx, "pond_001", t0.Add(2*time.Minute), 2)
		if err != nil {
			t.Fatalf("ListSince: %v", err)
		}
		if len(list) != 2 {
			t.Fatalf("got %d readings, want 2", len(list))
		}
		if !list[0].Timestamp.Equal(t0.Add(4*time.Minute)) || !list[1].Timestamp.Equal(t0.Add(3*time.Minute)) {
			t.Errorf("unexpected order: %v, %v", list[0].Timestamp, list[1].Timestamp)
		}
	})
}

func TestAlerts_AppendIdempotent(t *testing.T) {
	backends(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		a := testAlert("pond_001", t0)
		if err := s.Alerts().Append(ctx, a); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := s.Alerts().Append(ctx, a); err != nil {
			t.Fatalf("second Append: %v", err)
		}

		list, err := s.Alerts().ListSince(ctx, "pond_001", time.Time{})
		if err != nil {
			t.Fatalf("ListSince: %v", err)
		}
		if len(list) != 1 {
			t.Fatalf("got %d alerts, want 1", len(list))
		}
		got := list[0]
		if got.ID != a.ID || got.Severity != models.SeverityCritical || got.Threshold != 3.0 ||
			got.Direction != models.DirectionLow || got.Breach != models.BreachCritical {
			t.Errorf("round trip mismatch: %+v", got)
		}
		if !got.Persisted {
			t.Error("stored alert should report Persisted")
		}
	})
}

func TestAlerts_Lifecycle(t *testing.T) {
	backends(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		a := testAlert("pond_001", t0)
		b := testAlert("pond_002", t0.Add(time.Minute))
		for _, al := range []*models.Alert{a, b} {
			if err := s.Alerts().Append(ctx, al); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}

		if err := s.Alerts().Acknowledge(ctx, a.ID, "operator", t0.Add(5*time.Minute)); err != nil {
			t.Fatalf("Acknowledge: %v", err)
		}
		if err := s.Alerts().MarkNotified(ctx, a.ID); err != nil {
			t.Fatalf("MarkNotified: %v", err)
		}
		got, err := s.Alerts().Get(ctx, a.ID)
		if err != nil || got == nil {
			t.Fatalf("Get = %v, %v", got, err)
		}
		if !got.Acknowledged || got.AcknowledgedBy != "operator" || got.AcknowledgedAt == nil || !got.NotificationSent {
			t.Errorf("acknowledge not recorded: %+v", got)
		}

		active, _ := s.Alerts().ListActive(ctx, "")
		if len(active) != 2 {
			t.Errorf("active = %d, want 2", len(active))
		}
		if err := s.Alerts().Resolve(ctx, a.ID, "operator", t0.Add(10*time.Minute)); err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		active, _ = s.Alerts().ListActive(ctx, "")
		if len(active) != 1 || active[0].ID != b.ID {
			t.Errorf("active after resolve = %+v", active)
		}
		active, _ = s.Alerts().ListActive(ctx, "pond_001")
		if len(active) != 0 {
			t.Errorf("pond_001 active = %d, want 0", len(active))
		}
	})
}

func TestAlerts_UnknownID(t *testing.T) {
	backends(t, func(t *testing.T, s Storage) {
		ctx := context.Background()
		if err := s.Alerts().Acknowledge(ctx, "missing", "op", t0); !errors.Is(err, ErrNotFound) {
			t.Errorf("Acknowledge error = %v, want ErrNotFound", err)
		}
		if err := s.Alerts().Resolve(ctx, "missing", "op", t0); !errors.Is(err, ErrNotFound) {
			t.Errorf("Resolve error = %v, want ErrNotFound", err)
		}
		if a, err := s.Alerts().Get(ctx, "missing"); a != nil || err != nil {
			t.Errorf("Get = %v, %v; want nil, nil", a, err)
		}
	})
}
