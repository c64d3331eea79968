package resilience

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ParseRetryAfter reads a Retry-After value given either as delay seconds or
// as an HTTP date.
func ParseRetryAfter(raw string, now time.Time) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := http.ParseTime(raw); err == nil {
		if retryAt.After(now) {
			return retryAt.Sub(now), true
		}
		return 0, false
	}
	for _, layout := range []string{time.RFC1123, time.RFC1123Z} {
		if retryAt, err := time.Parse(layout, raw); err == nil && retryAt.After(now) {
			return retryAt.Sub(now), true
		}
	}
	return 0, false
}

// RetryAfterFromHeaders looks up Retry-After case-insensitively
func RetryAfterFromHeaders(headers map[string]string, now time.Time) (time.Duration, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, "retry-after") {
			return ParseRetryAfter(v, now)
		}
	}
	return 0, false
}
