package anomaly

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

func TestRangeClassifier(t *testing.T) {
	tests := []struct {
		name      string
		set       map[models.Parameter]float64
		anomaly   bool
		score     float64
		reasonHas string
	}{
		{
			name:    "all normal",
			set:     map[models.Parameter]float64{models.ParamPH: 7.0, models.ParamTemperature: 25},
			anomaly: false,
			score:   0,
		},
		{
			name:      "mildly warm",
			set:       map[models.Parameter]float64{models.ParamTemperature: 31.5},
			anomaly:   true,
			score:     0.05,
			reasonHas: "temperature above normal",
		},
		{
			name:      "critical ph",
			set:       map[models.Parameter]float64{models.ParamPH: 9.5},
			anomaly:   true,
			score:     1.0,
			reasonHas: "ph above normal",
		},
		{
			name:      "negative value against zero bound",
			set:       map[models.Parameter]float64{models.ParamAmmonia: -0.2},
			anomaly:   true,
			score:     1.0,
			reasonHas: "ammonia below normal",
		},
	}

	c := NewRangeClassifier(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := models.NewReading("pond_1", time.Now(), time.Now())
			for p, v := range tt.set {
				r.Set(p, v)
			}
			res, err := c.Classify(context.Background(), r)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if res.IsAnomaly != tt.anomaly {
				t.Errorf("IsAnomaly = %v, want %v", res.IsAnomaly, tt.anomaly)
			}
			if diff := res.Score - tt.score; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Score = %v, want %v", res.Score, tt.score)
			}
			if tt.reasonHas != "" && !strings.Contains(strings.Join(res.Reasons, ";"), tt.reasonHas) {
				t.Errorf("Reasons = %v, want one containing %q", res.Reasons, tt.reasonHas)
			}
		})
	}
}

func TestHTTPClassifier(t *testing.T) {
	var got models.Reading
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"is_anomaly":true,"score":0.7,"reasons":["drift"]}`))
	}))
	defer server.Close()

	c, err := NewHTTPClassifier(HTTPConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("NewHTTPClassifier() error = %v", err)
	}

	r := models.NewReading("pond_9", time.Now(), time.Now())
	r.Set(models.ParamPH, 7.1)
	res, err := c.Classify(context.Background(), r)
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if !res.IsAnomaly || res.Score != 0.7 || len(res.Reasons) != 1 {
		t.Errorf("unexpected result: %+v", res)
	}
	if got.PondID != "pond_9" {
		t.Errorf("posted pond_id = %q, want pond_9", got.PondID)
	}
}

func TestHTTPClassifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("model offline"))
	}))
	defer server.Close()

	c, _ := NewHTTPClassifier(HTTPConfig{Endpoint: server.URL})
	_, err := c.Classify(context.Background(), models.NewReading("p", time.Now(), time.Now()))
	if err == nil || !strings.Contains(err.Error(), "502") {
		t.Fatalf("expected status error, got %v", err)
	}
}

func TestNewHTTPClassifier_RequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPClassifier(HTTPConfig{}); err == nil {
		t.Fatal("expected error for empty endpoint")
	}
}
