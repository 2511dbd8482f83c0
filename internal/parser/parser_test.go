package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

var ingestTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParse_TopicIdentity(t *testing.T) {
	res, err := Parse([]byte(`{"ph":7.2}`), "farm1/pond_007/data", ingestTime)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if res.Reading.PondID != "pond_007" {
		t.Errorf("PondID = %q, want pond_007", res.Reading.PondID)
	}
	if v, ok := res.Reading.Value(models.ParamPH); !ok || v != 7.2 {
		t.Errorf("ph = %v, %v", v, ok)
	}
}

func TestParse_PayloadIdentityWins(t *testing.T) {
	res, err := Parse([]byte(`{"pond_id":"pond_042","device_id":"node-3","ph":7}`), "farm1/pond_007/data", ingestTime)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if res.Reading.PondID != "pond_042" || res.Reading.DeviceID != "node-3" {
		t.Errorf("got pond %q device %q", res.Reading.PondID, res.Reading.DeviceID)
	}
}

func TestParse_DropsBadFields(t *testing.T) {
	payload := `{"pond_id":"pond_001","temperature":"warm","ph":"7.4","turbidity":null,"ammonia":true,"nitrate":"1e999","unknown":5}`
	res, err := Parse([]byte(payload), "sensors/water_quality", ingestTime)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	r := res.Reading
	if _, ok := r.Value(models.ParamTemperature); ok {
		t.Error("temperature should be dropped")
	}
	if v, ok := r.Value(models.ParamPH); !ok || v != 7.4 {
		t.Errorf("numeric string ph = %v, %v; want 7.4", v, ok)
	}
	if _, ok := r.Value(models.ParamTurbidity); ok {
		t.Error("null turbidity should be absent")
	}

	dropped := map[string]string{}
	for _, d := range res.Dropped {
		dropped[d.Field] = d.Reason
	}
	if len(dropped) != 3 {
		t.Fatalf("Dropped = %v, want temperature, ammonia and nitrate", res.Dropped)
	}
	if dropped["nitrate"] != "non-finite value" {
		t.Errorf("nitrate reason = %q", dropped["nitrate"])
	}
	if _, ok := dropped["turbidity"]; ok {
		t.Error("null must not be reported as dropped")
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		topic   string
		want    error
	}{
		{"not json", `ph=7`, "farm1/p/data", ErrMalformedPayload},
		{"array", `[1,2]`, "farm1/p/data", ErrMalformedPayload},
		{"null", `null`, "farm1/p/data", ErrMalformedPayload},
		{"trailing garbage", `{"pond_id":"p","ph":7} trailing`, "farm1/p/data", ErrMalformedPayload},
		{"second object", `{"pond_id":"p"}{"pond_id":"q"}`, "farm1/p/data", ErrMalformedPayload},
		{"no identity", `{"ph":7}`, "sensors/water_quality", ErrMissingPondIdentity},
		{"blank identity", `{"pond_id":"  ","ph":7}`, "status/heartbeat", ErrMissingPondIdentity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.payload), tt.topic, ingestTime)
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParse_Timestamp(t *testing.T) {
	tests := []struct {
		name        string
		payload     string
		want        time.Time
		wantDropped bool
	}{
		{"missing", `{"pond_id":"p"}`, ingestTime, false},
		{"rfc3339 z", `{"pond_id":"p","timestamp":"2026-02-28T10:30:00Z"}`, time.Date(2026, 2, 28, 10, 30, 0, 0, time.UTC), false},
		{"offset", `{"pond_id":"p","timestamp":"2026-02-28T10:30:00+02:00"}`, time.Date(2026, 2, 28, 8, 30, 0, 0, time.UTC), false},
		{"no zone", `{"pond_id":"p","timestamp":"2026-02-28T10:30:00.5"}`, time.Date(2026, 2, 28, 10, 30, 0, 500000000, time.UTC), false},
		{"space separator", `{"pond_id":"p","timestamp":"2026-02-28 10:30:00"}`, time.Date(2026, 2, 28, 10, 30, 0, 0, time.UTC), false},
		{"unix seconds", `{"pond_id":"p","timestamp":1772274600}`, time.Unix(1772274600, 0).UTC(), false},
		{"garbage", `{"pond_id":"p","timestamp":"yesterday"}`, ingestTime, true},
		{"epoch overflow", `{"pond_id":"p","timestamp":1e300}`, ingestTime, true},
		{"millisecond epoch", `{"pond_id":"p","timestamp":1000000000000}`, ingestTime, true},
		{"negative epoch", `{"pond_id":"p","timestamp":-5}`, ingestTime, true},
		{"year 9999 string", `{"pond_id":"p","timestamp":"9999-01-01T00:00:00Z"}`, ingestTime, true},
		{"before epoch string", `{"pond_id":"p","timestamp":"1969-12-31T23:59:59Z"}`, ingestTime, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Parse([]byte(tt.payload), "", ingestTime)
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			if !res.Reading.Timestamp.Equal(tt.want) {
				t.Errorf("Timestamp = %v, want %v", res.Reading.Timestamp, tt.want)
			}
			if res.Reading.Timestamp.Location() != time.UTC {
				t.Error("timestamp should be UTC")
			}
			if got := len(res.Dropped) > 0; got != tt.wantDropped {
				t.Errorf("dropped = %v, want %v", res.Dropped, tt.wantDropped)
			}
			if !res.Reading.ReceivedAt.Equal(ingestTime) {
				t.Errorf("ReceivedAt = %v, want %v", res.Reading.ReceivedAt, ingestTime)
			}
		})
	}
}

func TestParse_TrailingWhitespaceAccepted(t *testing.T) {
	if _, err := Parse([]byte("{\"pond_id\":\"p\",\"ph\":7}\n  "), "", ingestTime); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
}

func TestPondFromTopic(t *testing.T) {
	tests := map[string]string{
		"farm1/pond_007/data":   "pond_007",
		"farm2/north/data":      "north",
		"farm1/pond_007/status": "",
		"sensors/water_quality": "",
		"farm1/a/b/data":        "",
		"":                      "",
	}
	for topic, want := range tests {
		if got := PondFromTopic(topic); got != want {
			t.Errorf("PondFromTopic(%q) = %q, want %q", topic, got, want)
		}
	}
}
