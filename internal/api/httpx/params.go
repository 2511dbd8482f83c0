package httpx

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// PondID returns the {pondID} URL parameter after validating it.
func PondID(r *http.Request) (string, *Error) {
	return ident(r, "pondID", "pond id")
}

// AlertID returns the {alertID} URL parameter after validating it.
func AlertID(r *http.Request) (string, *Error) {
	return ident(r, "alertID", "alert id")
}

func ident(r *http.Request, param, label string) (string, *Error) {
	v := chi.URLParam(r, param)
	if !identPattern.MatchString(v) {
		return "", NewValidationError(fmt.Sprintf("invalid %s %q", label, v))
	}
	return v, nil
}

// Since parses the "since" query parameter. It accepts an RFC 3339 time, a
// duration looking back from now ("6h"), or Unix seconds. Missing means now
// minus def.
func Since(r *http.Request, now time.Time, def time.Duration) (time.Time, *Error) {
	raw := strings.TrimSpace(r.URL.Query().Get("since"))
	if raw == "" {
		return now.Add(-def), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	if d, err := time.ParseDuration(raw); err == nil && d >= 0 {
		return now.Add(-d), nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil && secs >= 0 {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, NewValidationError(fmt.Sprintf("invalid since %q: want RFC 3339 time, duration or Unix seconds", raw))
}

// Limit parses the "limit" query parameter, defaulting to def and capped at max.
func Limit(r *http.Request, def, max int) (int, *Error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, NewValidationError(fmt.Sprintf("invalid limit %q", raw))
	}
	if n > max {
		n = max
	}
	return n, nil
}

// Bool parses a boolean query parameter; missing means false.
func Bool(r *http.Request, name string) (bool, *Error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, NewValidationError(fmt.Sprintf("invalid %s %q", name, raw))
	}
	return b, nil
}
