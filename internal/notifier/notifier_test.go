package notifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

// mockNotifier is a test notifier that can be configured to fail.
type mockNotifier struct {
	name      string
	shouldErr bool
	sendCount int
	closed    bool
}

func (m *mockNotifier) Name() string {
	return m.name
}

func (m *mockNotifier) Send(ctx context.Context, alert *models.Alert) error {
	m.sendCount++
	if m.shouldErr {
		return errors.New("mock send error")
	}
	return nil
}

func (m *mockNotifier) Close() error {
	m.closed = true
	return nil
}

func testAlert() *models.Alert {
	r := models.NewReading("pond_001", time.Now(), time.Now())
	a := models.NewAlert(r, models.SourceThreshold, models.ParamDissolvedOxygen, models.SeverityCritical, time.Now())
	a.Value = 2.1
	a.Threshold = 3.0
	a.Message = "Dissolved Oxygen is below critical threshold: 2.1 (limit: 3.0)"
	return a
}

func TestDispatcher_Dispatch(t *testing.T) {
	d := NewDispatcher(nil)
	ok := &mockNotifier{name: "ok"}
	bad := &mockNotifier{name: "bad", shouldErr: true}
	d.Register(ok)
	d.Register(bad)

	delivered, err := d.Dispatch(context.Background(), testAlert())
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
	if !errors.Is(err, ErrDelivery) {
		t.Errorf("error = %v, want ErrDelivery", err)
	}
	if ok.sendCount != 1 || bad.sendCount != 1 {
		t.Errorf("send counts = %d/%d, want 1/1", ok.sendCount, bad.sendCount)
	}
}

func TestDispatcher_NoNotifiers(t *testing.T) {
	d := NewDispatcher(nil)
	delivered, err := d.Dispatch(context.Background(), testAlert())
	if delivered != 0 || err != nil {
		t.Errorf("Dispatch() = %d, %v; want 0, nil", delivered, err)
	}
}

func TestDispatcher_RegisterUnregister(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(&mockNotifier{name: "sms"})
	d.Register(&mockNotifier{name: "slack"})

	if got := d.Names(); len(got) != 2 || got[0] != "slack" || got[1] != "sms" {
		t.Errorf("Names() = %v", got)
	}
	if _, ok := d.Get("sms"); !ok {
		t.Error("Get(sms) not found")
	}
	d.Unregister("sms")
	if _, ok := d.Get("sms"); ok {
		t.Error("sms should be unregistered")
	}
	if d.Len() != 1 {
		t.Errorf("Len() = %d, want 1", d.Len())
	}
}

func TestDispatcher_Close(t *testing.T) {
	d := NewDispatcher(nil)
	m := &mockNotifier{name: "sms"}
	d.Register(m)
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !m.closed || d.Len() != 0 {
		t.Error("Close should close and remove notifiers")
	}
}
