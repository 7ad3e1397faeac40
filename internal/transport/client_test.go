package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dialplan/extaudit/pkg/errors"
	"github.com/dialplan/extaudit/pkg/logging"
)

// fastConfig shrinks every duration so retry tests run in milliseconds.
func fastConfig(baseURL string) Config {
	return Config{
		BaseURL:           baseURL,
		Token:             "test-token",
		InitialBackoff:    2 * time.Millisecond,
		MaxBackoff:        10 * time.Millisecond,
		BackoffMultiplier: 1.8,
		MaxJitter:         time.Millisecond,
		RequestTimeout:    2 * time.Second,
		Logger:            &logging.Nop,
	}
}

func TestSendDecodesJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("X-Correlation-Id"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"ok"}`))
	}))
	defer srv.Close()

	c := New(fastConfig(srv.URL))
	var out struct {
		Name string `json:"name"`
	}
	require.NoError(t, c.Send(context.Background(), "GET", "/api/v2/users", nil, &out))
	assert.Equal(t, "ok", out.Name)
}

func TestSendRetriesTransientFailures(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(fastConfig(srv.URL))
	require.NoError(t, c.Send(context.Background(), "GET", "/api/v2/users", nil, nil))
	assert.Equal(t, 3, calls)
}

func TestSendRetries429(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(fastConfig(srv.URL))
	require.NoError(t, c.Send(context.Background(), "GET", "/x", nil, nil))
	assert.Equal(t, 2, calls)
}

func TestSendExhaustsRetriesAndReturnsAPIError(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("X-Request-Id", "req-123")
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := fastConfig(srv.URL)
	cfg.MaxRetries = 3
	c := New(cfg)

	err := c.Send(context.Background(), "GET", "/api/v2/users?pageSize=5", nil, nil)
	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var apiErr *errors.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 502, apiErr.StatusCode)
	assert.Equal(t, "/api/v2/users", apiErr.Path) // query stripped from the key
	assert.Equal(t, "req-123", apiErr.RequestID)
	assert.True(t, errors.Is(err, errors.ErrUnavailable))
}

func TestSendDoesNotRetryTerminalStatus(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := New(fastConfig(srv.URL))
	err := c.Send(context.Background(), "GET", "/x", nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsAuthorization(err))
}

func TestSendHonorsLargerRetryAfter(t *testing.T) {
	var calls int
	var gap time.Duration
	var last time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		now := time.Now()
		if calls == 2 {
			gap = now.Sub(last)
		}
		last = now
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(fastConfig(srv.URL))
	require.NoError(t, c.Send(context.Background(), "GET", "/x", nil, nil))
	// Retry-After of 1s beats the millisecond backoff.
	assert.GreaterOrEqual(t, gap, time.Second)
}

func TestSendRequestTimeoutIsTerminal(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	cfg := fastConfig(srv.URL)
	cfg.RequestTimeout = 50 * time.Millisecond
	c := New(cfg)

	err := c.Send(context.Background(), "GET", "/slow", nil, nil)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsTimeout(err))
	assert.False(t, errors.IsCanceled(err))
}

func TestSendCallerCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	c := New(fastConfig(srv.URL))
	err := c.Send(ctx, "GET", "/slow", nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRateLimitHeaderCapture(t *testing.T) {
	reset := time.Now().Add(30 * time.Second).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "300")
		w.Header().Set("X-RateLimit-Remaining", "250")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(fastConfig(srv.URL))
	require.NoError(t, c.Send(context.Background(), "GET", "/x", nil, nil))

	snapshot := c.Stats().RateLimit()
	require.NotNil(t, snapshot)
	require.NotNil(t, snapshot.Limit)
	assert.Equal(t, 300, *snapshot.Limit)
	require.NotNil(t, snapshot.Remaining)
	assert.Equal(t, 250, *snapshot.Remaining)
	require.NotNil(t, snapshot.ResetUTC)
	assert.WithinDuration(t, time.Unix(reset, 0).UTC(), *snapshot.ResetUTC, time.Second)
}

func TestPreemptiveThrottleWhenRemainingLow(t *testing.T) {
	reset := time.Now().Add(150 * time.Millisecond)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "1")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.UnixMilli(), 10))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(fastConfig(srv.URL))
	start := time.Now()
	require.NoError(t, c.Send(context.Background(), "GET", "/x", nil, nil))
	elapsed := time.Since(start)

	// The success path sleeps until the advertised reset plus padding.
	assert.GreaterOrEqual(t, elapsed, time.Until(reset)) // coarse lower bound
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
}

func TestStatsKeyedByMethodAndPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(fastConfig(srv.URL))
	require.NoError(t, c.Send(context.Background(), "GET", "/api/v2/users?pageNumber=1", nil, nil))
	require.NoError(t, c.Send(context.Background(), "GET", "/api/v2/users?pageNumber=2", nil, nil))
	require.NoError(t, c.Send(context.Background(), "PATCH", "/api/v2/users/u1", map[string]int{"version": 2}, nil))

	snap := c.Stats().Snapshot()
	assert.Equal(t, int64(3), snap.TotalCalls)
	assert.Equal(t, int64(2), snap.ByMethod["GET"])
	assert.Equal(t, int64(1), snap.ByMethod["PATCH"])
	// Pagination queries collapse into one path key.
	assert.Equal(t, int64(2), snap.ByPath["/api/v2/users"])
}
