package models

import (
	"time"

	"github.com/google/uuid"
)

// Reading is one normalized telemetry sample from a pond sensor node.
// Absent measurements are nil; present ones are always finite.
type Reading struct {
	ID         string    `json:"id"`
	PondID     string    `json:"pond_id"`
	DeviceID   string    `json:"device_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	ReceivedAt time.Time `json:"received_at"`

	Temperature     *float64 `json:"temperature,omitempty"`
	PH              *float64 `json:"ph,omitempty"`
	DissolvedOxygen *float64 `json:"dissolved_oxygen,omitempty"`
	Turbidity       *float64 `json:"turbidity,omitempty"`
	Ammonia         *float64 `json:"ammonia,omitempty"`
	Nitrite         *float64 `json:"nitrite,omitempty"`
	Nitrate         *float64 `json:"nitrate,omitempty"`
	WaterLevel      *float64 `json:"water_level,omitempty"`
}

// NewReading creates a Reading with a fresh ID and UTC timestamps.
func NewReading(pondID string, ts, receivedAt time.Time) *Reading {
	return &Reading{
		ID:         uuid.New().String(),
		PondID:     pondID,
		Timestamp:  ts.UTC(),
		ReceivedAt: receivedAt.UTC(),
	}
}

func (r *Reading) field(p Parameter) **float64 {
	switch p {
	case ParamTemperature:
		return &r.Temperature
	case ParamPH:
		return &r.PH
	case ParamDissolvedOxygen:
		return &r.DissolvedOxygen
	case ParamTurbidity:
		return &r.Turbidity
	case ParamAmmonia:
		return &r.Ammonia
	case ParamNitrite:
		return &r.Nitrite
	case ParamNitrate:
		return &r.Nitrate
	case ParamWaterLevel:
		return &r.WaterLevel
	}
	return nil
}

// Value returns the measurement for p and whether it is present.
func (r *Reading) Value(p Parameter) (float64, bool) {
	f := r.field(p)
	if f == nil || *f == nil {
		return 0, false
	}
	return **f, true
}

// Set stores a measurement. Unknown parameters are ignored.
func (r *Reading) Set(p Parameter, v float64) {
	if f := r.field(p); f != nil {
		val := v
		*f = &val
	}
}

// Values returns the present measurements keyed by parameter.
func (r *Reading) Values() map[Parameter]float64 {
	out := make(map[Parameter]float64, len(Parameters))
	for _, p := range Parameters {
		if v, ok := r.Value(p); ok {
			out[p] = v
		}
	}
	return out
}

// Float is a helper returning a pointer to v.
func Float(v float64) *float64 {
	return &v
}
