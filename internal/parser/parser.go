// Package parser turns raw telemetry payloads into normalized readings.
// It performs no I/O.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/good-yellow-bee/pondwatch/internal/models"
)

var (
	// ErrMalformedPayload is returned when the payload is not a JSON object.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrMissingPondIdentity is returned when neither payload nor topic names a pond.
	ErrMissingPondIdentity = errors.New("missing pond identity")
)

// DroppedField describes a field that was present but unusable.
type DroppedField struct {
	Field  string
	Raw    string
	Reason string
}

func (d DroppedField) String() string {
	return fmt.Sprintf("%s=%s (%s)", d.Field, d.Raw, d.Reason)
}

// Result is a parsed reading plus the fields that were discarded on the way.
type Result struct {
	Reading *models.Reading
	Dropped []DroppedField
}

// Parse validates and normalizes one payload received on topic at now.
// Bad measurement fields are dropped and reported, never fatal; only a
// non-object payload or a missing pond identity reject the message.
func Parse(payload []byte, topic string, now time.Time) (*Result, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedPayload)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON object", ErrMalformedPayload)
	}

	pondID := stringField(fields["pond_id"])
	if pondID == "" {
		pondID = PondFromTopic(topic)
	}
	if pondID == "" {
		return nil, ErrMissingPondIdentity
	}

	res := &Result{}

	ts := now
	if raw, ok := fields["timestamp"]; ok && raw != nil {
		parsed, ok := ParseTimestamp(raw)
		if ok {
			ts = parsed
		} else {
			res.Dropped = append(res.Dropped, DroppedField{
				Field: "timestamp", Raw: rawString(raw), Reason: "unrecognized timestamp, using ingestion time",
			})
		}
	}

	reading := models.NewReading(pondID, ts, now)
	reading.DeviceID = stringField(fields["device_id"])

	for _, p := range models.Parameters {
		raw, ok := fields[string(p)]
		if !ok || raw == nil {
			continue
		}
		v, reason := number(raw)
		if reason != "" {
			res.Dropped = append(res.Dropped, DroppedField{Field: string(p), Raw: rawString(raw), Reason: reason})
			continue
		}
		reading.Set(p, v)
	}

	res.Reading = reading
	return res, nil
}

// PondFromTopic extracts the pond segment of a "<realm>/<pond-id>/data" topic.
func PondFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[2] != "data" {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Timestamps must fit in int64 Unix nanoseconds, which is how they are stored.
var (
	minTimestamp = time.Unix(0, 0).UTC()
	maxTimestamp = time.Unix(0, math.MaxInt64).UTC()
)

// ParseTimestamp accepts an ISO-8601 string or a numeric Unix epoch in
// seconds. Zone-less strings are taken as UTC. The result is UTC and lies
// between 1970 and 2262; anything outside is rejected.
func ParseTimestamp(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case string:
		s := strings.TrimSpace(v)
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return inRange(t.UTC())
			}
		}
	case json.Number:
		f, err := v.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > float64(maxTimestamp.Unix()) {
			return time.Time{}, false
		}
		sec, frac := math.Modf(f)
		return inRange(time.Unix(int64(sec), int64(frac*float64(time.Second))).UTC())
	case float64:
		return ParseTimestamp(json.Number(strconv.FormatFloat(v, 'f', -1, 64)))
	}
	return time.Time{}, false
}

func inRange(t time.Time) (time.Time, bool) {
	if t.Before(minTimestamp) || t.After(maxTimestamp) {
		return time.Time{}, false
	}
	return t, true
}

// number coerces a JSON number or numeric string to a finite float.
// A non-empty reason means the value must be dropped.
func number(raw any) (float64, string) {
	var s string
	switch v := raw.(type) {
	case json.Number:
		s = v.String()
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, "non-finite value"
		}
		return v, ""
	case string:
		s = strings.TrimSpace(v)
	default:
		return 0, "not a number"
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		var numErr *strconv.NumError
		if errors.As(err, &numErr) && errors.Is(numErr.Err, strconv.ErrRange) {
			return 0, "non-finite value"
		}
		return 0, "not a number"
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, "non-finite value"
	}
	return f, ""
}

func stringField(raw any) string {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func rawString(raw any) string {
	switch v := raw.(type) {
	case string:
		return strconv.Quote(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
