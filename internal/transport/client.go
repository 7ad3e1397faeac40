// Package transport provides a resilient HTTP client for the directory API.
// It handles bearer authentication, retry with exponential backoff and
// jitter, rate-limit header tracking with proactive throttling, and
// per-request timeouts. It has no knowledge of domain semantics.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dialplan/extaudit/pkg/constants"
	"github.com/dialplan/extaudit/pkg/errors"
	"github.com/dialplan/extaudit/pkg/logging"
)

// Config customizes a Client. Zero values fall back to the defaults in
// pkg/constants; tests shrink the durations to keep runs fast.
type Config struct {
	BaseURL string
	Token   string

	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	MaxJitter         time.Duration
	RequestTimeout    time.Duration

	// HTTPClient overrides the underlying client, used by tests.
	HTTPClient *http.Client

	Logger *zerolog.Logger
}

// Client issues authenticated JSON requests against the directory API base
// endpoint, retrying transient failures and respecting rate-limit signals.
type Client struct {
	base  string
	token string
	http  *http.Client
	stats *Stats
	log   *zerolog.Logger

	maxRetries        int
	initialBackoff    time.Duration
	maxBackoff        time.Duration
	backoffMultiplier float64
	maxJitter         time.Duration
	requestTimeout    time.Duration
}

// New creates a transport client for the given configuration.
func New(cfg Config) *Client {
	c := &Client{
		base:              strings.TrimRight(cfg.BaseURL, "/"),
		token:             cfg.Token,
		http:              cfg.HTTPClient,
		stats:             NewStats(),
		log:               cfg.Logger,
		maxRetries:        cfg.MaxRetries,
		initialBackoff:    cfg.InitialBackoff,
		maxBackoff:        cfg.MaxBackoff,
		backoffMultiplier: cfg.BackoffMultiplier,
		maxJitter:         cfg.MaxJitter,
		requestTimeout:    cfg.RequestTimeout,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.log == nil {
		c.log = logging.Default()
	}
	if c.maxRetries <= 0 {
		c.maxRetries = constants.MaxRetries
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = constants.InitialBackoff
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = constants.MaxBackoff
	}
	if c.backoffMultiplier <= 1 {
		c.backoffMultiplier = constants.BackoffMultiplier
	}
	if c.maxJitter <= 0 {
		c.maxJitter = constants.MaxJitter
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = constants.RequestTimeout
	}
	return c
}

// Stats returns the observability counters for this client.
func (c *Client) Stats() *Stats {
	return c.stats
}

// Send issues a single logical request, retrying transient failures, and
// decodes a JSON response into out when out is non-nil. The path may carry a
// query string; the leading slash is normalized.
func (c *Client) Send(ctx context.Context, method, pathAndQuery string, body, out any) error {
	if !strings.HasPrefix(pathAndQuery, "/") {
		pathAndQuery = "/" + pathAndQuery
	}
	url := c.base + pathAndQuery
	pathKey := pathAndQuery
	if i := strings.IndexByte(pathKey, '?'); i >= 0 {
		pathKey = pathKey[:i]
	}

	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return errors.WrapResource("encode", "request body", method+" "+pathKey, err)
		}
	}

	// One correlation id per logical call, carried across retries.
	correlationID := uuid.NewString()

	backoff := c.initialBackoff

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		done, err := c.attempt(ctx, method, url, pathAndQuery, pathKey, correlationID, encoded, out, attempt, &backoff)
		if done {
			return err
		}
	}

	// Unreachable: the final attempt either succeeds or returns its error.
	return errors.NewAPIError(method, pathKey, 0, "retries exhausted")
}

// attempt performs one request attempt. It returns done=true when the call
// finished (successfully or with a terminal error), and done=false when the
// failure was retryable and the backoff sleep completed.
func (c *Client) attempt(ctx context.Context, method, url, pathAndQuery, pathKey, correlationID string, encoded []byte, out any, attempt int, backoff *time.Duration) (bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var bodyReader io.Reader
	if encoded != nil {
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		return true, errors.WrapResource("create", "request", method+" "+pathKey, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(constants.HeaderCorrelationID, correlationID)
	if encoded != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.stats.RecordCall(method, pathKey)
	c.log.Debug().
		Str("method", method).
		Str("path", pathAndQuery).
		Int("attempt", attempt).
		Msg("API request")

	resp, err := c.http.Do(req)
	if err != nil {
		// A deadline on the per-request context while the caller context is
		// still live is a request timeout, surfaced distinctly and never
		// retried here.
		if reqCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			msg := fmt.Sprintf("%s %s", method, pathAndQuery)
			c.stats.RecordError("request timed out: " + msg)
			c.log.Error().Str("method", method).Str("path", pathAndQuery).Msg("API request timed out")
			return true, errors.NewTimeoutError(method+" "+pathKey, c.requestTimeout.String(), msg)
		}
		if ctx.Err() != nil {
			return true, ctx.Err()
		}
		c.stats.RecordError(err.Error())
		return true, errors.WrapResource("send", "request", method+" "+pathKey, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	c.captureDiagnostics(resp)
	c.captureRateLimit(resp)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := c.throttle(ctx); err != nil {
			return true, err
		}
		if out == nil {
			return true, nil
		}
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return true, errors.WrapResource("read", "response body", method+" "+pathKey, err)
		}
		if len(bytes.TrimSpace(raw)) == 0 {
			return true, nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return true, errors.WrapResource("decode", "response body", method+" "+pathKey, err)
		}
		return true, nil
	}

	status := resp.StatusCode
	retryable := status == http.StatusTooManyRequests || (status >= 500 && status <= 504)

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
	c.stats.RecordError(msg)
	c.log.Warn().
		Str("method", method).
		Str("path", pathAndQuery).
		Int("status", status).
		Bool("retryable", retryable).
		Str("request_id", headerAny(resp.Header, constants.HeaderRequestID, "Request-Id")).
		Str("retry_after", resp.Header.Get(constants.HeaderRetryAfter)).
		Str("body", truncate(string(raw), 1000)).
		Msg("API failure")

	if !retryable || attempt == c.maxRetries {
		apiErr := errors.NewAPIError(method, pathKey, status, msg)
		apiErr.RequestID = headerAny(resp.Header, constants.HeaderRequestID, "Request-Id")
		apiErr.CorrelationID = headerAny(resp.Header, constants.HeaderCorrelationID, "Correlation-Id")
		return true, apiErr
	}

	sleep := *backoff
	if ra := retryAfter(resp); ra > sleep {
		sleep = ra
	}
	sleep += rand.N(c.maxJitter)

	if err := sleepCtx(ctx, sleep); err != nil {
		return true, err
	}

	next := time.Duration(float64(*backoff) * c.backoffMultiplier)
	if next > c.maxBackoff {
		next = c.maxBackoff
	}
	*backoff = next
	return false, nil
}

// throttle pauses when the captured rate-limit remaining value is at or
// below the low-water mark, sleeping until the advertised reset so the next
// call does not burst past the limit.
func (c *Client) throttle(ctx context.Context) error {
	snapshot := c.stats.RateLimit()
	if snapshot == nil || snapshot.Remaining == nil {
		return nil
	}
	if *snapshot.Remaining > constants.RateLimitLowWater {
		return nil
	}

	sleep := constants.DefaultThrottleSleep
	if snapshot.ResetUTC != nil {
		if delta := time.Until(*snapshot.ResetUTC); delta > 0 {
			sleep = delta + constants.ThrottlePad
		}
	}
	if sleep > constants.MaxThrottleSleep {
		sleep = constants.MaxThrottleSleep
	}
	if sleep <= 0 {
		return nil
	}

	evt := c.log.Warn().Dur("sleep", sleep)
	if snapshot.Remaining != nil {
		evt = evt.Int("remaining", *snapshot.Remaining)
	}
	if snapshot.Limit != nil {
		evt = evt.Int("limit", *snapshot.Limit)
	}
	evt.Msg("Rate limit low; throttling")

	return sleepCtx(ctx, sleep)
}

// captureDiagnostics records the status code and the request/correlation
// identifiers of every response, success or failure.
func (c *Client) captureDiagnostics(resp *http.Response) {
	requestID := headerAny(resp.Header, constants.HeaderRequestID, "Request-Id")
	correlationID := headerAny(resp.Header, constants.HeaderCorrelationID, "Correlation-Id")
	c.stats.RecordLastResponse(resp.StatusCode, requestID, correlationID)
}

// captureRateLimit parses the X-RateLimit-* headers when present.
func (c *Client) captureRateLimit(resp *http.Response) {
	limitRaw := resp.Header.Get(constants.HeaderRateLimitLimit)
	remRaw := resp.Header.Get(constants.HeaderRateLimitRemaining)
	resetRaw := resp.Header.Get(constants.HeaderRateLimitReset)

	if limitRaw == "" && remRaw == "" && resetRaw == "" {
		return
	}

	now := time.Now().UTC()
	c.stats.RecordRateLimit(RateLimitSnapshot{
		Limit:      parseIntHeader(limitRaw),
		Remaining:  parseIntHeader(remRaw),
		ResetUTC:   parseResetHeader(resetRaw, now),
		CapturedAt: now,
	})
}

// headerAny returns the first non-empty value among the named headers.
func headerAny(h http.Header, names ...string) string {
	for _, name := range names {
		if v := h.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
