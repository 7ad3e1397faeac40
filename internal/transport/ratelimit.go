package transport

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/dialplan/extaudit/pkg/constants"
)

// parseIntHeader parses a numeric header value, tolerating fractional
// numbers by flooring them. Returns nil when absent or unparseable.
func parseIntHeader(raw string) *int {
	if raw == "" {
		return nil
	}
	if i, err := strconv.Atoi(raw); err == nil {
		return &i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		i := int(math.Floor(f))
		return &i
	}
	return nil
}

// parseResetHeader normalizes the X-RateLimit-Reset header to an absolute
// UTC time. Platforms have shipped the value as epoch milliseconds, epoch
// seconds, and relative seconds; magnitude disambiguates.
func parseResetHeader(raw string, now time.Time) *time.Time {
	if raw == "" {
		return nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}

	var t time.Time
	switch {
	case f > 1e12: // epoch milliseconds
		t = time.UnixMilli(int64(math.Floor(f))).UTC()
	case f > 1e9: // epoch seconds
		t = time.Unix(int64(math.Floor(f)), 0).UTC()
	default: // relative seconds
		t = now.Add(time.Duration(math.Max(0, f) * float64(time.Second))).UTC()
	}
	return &t
}

// retryAfter returns the server-requested delay from a Retry-After header,
// either delta-seconds or an HTTP date. Zero when absent or in the past.
func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get(constants.HeaderRetryAfter)
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
