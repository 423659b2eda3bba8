package utils

import (
	"net/http"
	"time"
)

// DurationParam reads a Go duration from the query string, falling back to
// def when it is missing or invalid and capping it at limit.
func DurationParam(r *http.Request, name string, def, limit time.Duration) time.Duration {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return def
	}
	if limit > 0 && d > limit {
		return limit
	}
	return d
}
