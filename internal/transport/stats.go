package transport

import (
	"sync"
	"time"
)

// RateLimitSnapshot is the most recent rate-limit state advertised by the
// platform via X-RateLimit-* headers.
type RateLimitSnapshot struct {
	Limit      *int
	Remaining  *int
	ResetUTC   *time.Time
	CapturedAt time.Time
}

// Stats accumulates observability counters for the transport. It is written
// on every request and read by status displays; it never influences retry
// decisions beyond the rate-limit snapshot used for proactive throttling.
type Stats struct {
	mu sync.Mutex

	totalCalls int64
	byMethod   map[string]int64
	byPath     map[string]int64

	lastError         string
	lastStatusCode    int
	lastRequestID     string
	lastCorrelationID string

	rateLimit *RateLimitSnapshot
}

// NewStats creates an empty Stats.
func NewStats() *Stats {
	return &Stats{
		byMethod: make(map[string]int64),
		byPath:   make(map[string]int64),
	}
}

// RecordCall counts a request by method and path template. The path key is
// the path without its query string, so repeated paginated calls collapse
// into one counter.
func (s *Stats) RecordCall(method, pathKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalCalls++
	s.byMethod[method]++
	s.byPath[pathKey]++
}

// RecordError stores the last failure message.
func (s *Stats) RecordError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = message
}

// RecordRateLimit stores the latest rate-limit snapshot.
func (s *Stats) RecordRateLimit(snapshot RateLimitSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimit = &snapshot
}

// RecordLastResponse stores the status and diagnostic identifiers of the
// most recent response, success or failure.
func (s *Stats) RecordLastResponse(statusCode int, requestID, correlationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStatusCode = statusCode
	if requestID != "" {
		s.lastRequestID = requestID
	}
	if correlationID != "" {
		s.lastCorrelationID = correlationID
	}
}

// RateLimit returns the latest rate-limit snapshot, or nil if none was seen.
func (s *Stats) RateLimit() *RateLimitSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rateLimit
}

// Snapshot is a point-in-time copy of the transport counters.
type Snapshot struct {
	TotalCalls        int64            `json:"total_calls"`
	ByMethod          map[string]int64 `json:"by_method"`
	ByPath            map[string]int64 `json:"by_path"`
	LastError         string           `json:"last_error,omitempty"`
	LastStatusCode    int              `json:"last_status_code,omitempty"`
	LastRequestID     string           `json:"last_request_id,omitempty"`
	LastCorrelationID string           `json:"last_correlation_id,omitempty"`
}

// Snapshot returns a copy of the current counters safe for concurrent use.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TotalCalls:        s.totalCalls,
		ByMethod:          make(map[string]int64, len(s.byMethod)),
		ByPath:            make(map[string]int64, len(s.byPath)),
		LastError:         s.lastError,
		LastStatusCode:    s.lastStatusCode,
		LastRequestID:     s.lastRequestID,
		LastCorrelationID: s.lastCorrelationID,
	}
	for k, v := range s.byMethod {
		snap.ByMethod[k] = v
	}
	for k, v := range s.byPath {
		snap.ByPath[k] = v
	}
	return snap
}
