// Package upstream issues outbound vendor HTTP calls with injected
// credentials, self-throttling, and retry/backoff.
//
// DESIGN: One structurally uniform client serves every vendor adapter. The
// retry policy lives entirely here:
//   - 429: honor Retry-After when present (capped), else exponential backoff
//     starting at 1s, doubling to an 8s cap, up to 3 attempts total, then
//     rate_limited.
//   - 401/403: auth_error, never retried (credentials are not self-healing).
//   - other 4xx: client_error carrying the vendor body verbatim.
//   - 5xx: one retry after a short fixed delay, then server_error.
//   - network failure: same backoff as 429, then transport_error.
//
// Waits happen only between attempts: once the outcome is decided (terminal
// error, or the attempt budget is spent) the failure surfaces immediately.
// All waits select on ctx.Done so no retry continues past the caller's
// cancellation.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/toolbridge/tool-gateway/internal/credentials"
	"github.com/toolbridge/tool-gateway/internal/envelope"
)

// RawJSON is an unparsed vendor response body.
type RawJSON = json.RawMessage

// EmptyResult is returned for successful responses with no body (e.g. 204)
// instead of attempting a JSON parse.
var EmptyResult = RawJSON(`{}`)

const (
	defaultMaxAttempts      = 3
	defaultTimeout          = 30 * time.Second
	defaultServerRetryDelay = 500 * time.Millisecond
	maxBackoff              = 8 * time.Second

	// maxRetryAfter bounds how long a vendor's Retry-After header can stall
	// a retry; anything longer is not worth blocking the caller for.
	maxRetryAfter = 30 * time.Second
)

// Client is a per-vendor HTTP client with a uniform shape.
type Client struct {
	baseURL string
	httpc   *http.Client
	auth    AuthScheme

	// limiter smooths outbound request pacing; nil means unthrottled.
	limiter *rate.Limiter

	maxAttempts      int
	serverRetryDelay time.Duration

	// waitFn returns the backoff before the next attempt; replaceable in
	// tests to avoid real sleeps.
	waitFn func(attempt int) time.Duration

	// onAuthFailure is invoked on a vendor 401/403, letting token-cache
	// backed vendors drop a stale bearer.
	onAuthFailure func()

	// onAttempt is invoked before every HTTP attempt (metrics).
	onAttempt func()
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithLimiter sets an outbound pacing limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// WithMaxAttempts overrides the retry attempt bound.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithAuthFailureHook registers a callback for vendor 401/403 responses.
func WithAuthFailureHook(fn func()) Option {
	return func(c *Client) { c.onAuthFailure = fn }
}

// WithAttemptHook registers a callback invoked before every HTTP attempt.
func WithAttemptHook(fn func()) Option {
	return func(c *Client) { c.onAttempt = fn }
}

// withWaitFn replaces the backoff function (tests only).
func withWaitFn(fn func(int) time.Duration) Option {
	return func(c *Client) { c.waitFn = fn }
}

// NewClient creates a vendor client rooted at baseURL.
func NewClient(baseURL string, auth AuthScheme, opts ...Option) *Client {
	c := &Client{
		baseURL:          baseURL,
		httpc:            &http.Client{Timeout: defaultTimeout},
		auth:             auth,
		maxAttempts:      defaultMaxAttempts,
		serverRetryDelay: defaultServerRetryDelay,
		waitFn:           backoff,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// backoff implements the 1s -> 2s -> 4s doubling schedule capped at 8s.
func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Call performs an HTTP request with a JSON body against the vendor and
// returns the raw JSON response. Credentials must be present before any
// attempt is made.
func (c *Client) Call(ctx context.Context, creds *credentials.Credentials, method, path string, query url.Values, body any) (RawJSON, error) {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		payload = b
	}
	return c.do(ctx, creds, method, path, query, payload, "application/json")
}

// CallForm performs an HTTP request with a form-encoded body, for vendors
// (Twilio, OAuth token endpoints) that do not accept JSON.
func (c *Client) CallForm(ctx context.Context, creds *credentials.Credentials, method, path string, form url.Values) (RawJSON, error) {
	return c.do(ctx, creds, method, path, nil, []byte(form.Encode()), "application/x-www-form-urlencoded")
}

func (c *Client) do(ctx context.Context, creds *credentials.Credentials, method, path string, query url.Values, payload []byte, contentType string) (RawJSON, error) {
	if c.auth != nil {
		if err := creds.Require(); err != nil {
			return nil, err
		}
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	serverRetried := false
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, envelope.New(envelope.KindTransportError, "request cancelled while throttled: %v", err)
			}
		}

		raw, delay, retry, err := c.attempt(ctx, creds, method, target, payload, contentType, attempt, &serverRetried)
		if err == nil {
			return raw, nil
		}
		// The outcome is final once no retry can help or the attempt budget
		// is spent; surface it without sleeping.
		if !retry || attempt == c.maxAttempts-1 {
			return nil, err
		}
		if delay <= 0 {
			delay = c.waitFn(attempt)
		}
		if !c.wait(ctx, delay) {
			return nil, err
		}
	}
	// Unreachable with maxAttempts >= 1.
	return nil, envelope.New(envelope.KindTransportError, "no attempts were made")
}

// attempt performs a single HTTP exchange. retry reports whether another
// attempt may help; delay is an explicit inter-attempt wait (Retry-After or
// the fixed server retry delay), zero to use the backoff schedule. The
// caller decides whether to actually wait.
func (c *Client) attempt(ctx context.Context, creds *credentials.Credentials, method, target string, payload []byte, contentType string, attempt int, serverRetried *bool) (RawJSON, time.Duration, bool, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, 0, false, envelope.New(envelope.KindTransportError, "build request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		if err := c.auth.Apply(ctx, req, creds); err != nil {
			return nil, 0, false, err
		}
	}

	if c.onAttempt != nil {
		c.onAttempt()
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, false, envelope.New(envelope.KindTransportError, "request cancelled: %v", ctx.Err())
		}
		return nil, 0, true, envelope.New(envelope.KindTransportError, "%s %s: %v", method, target, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, true, envelope.New(envelope.KindTransportError, "read response: %v", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(bytes.TrimSpace(raw)) == 0 {
			return EmptyResult, 0, false, nil
		}
		return raw, 0, false, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		delay := retryAfter(resp.Header)
		log.Debug().Int("attempt", attempt+1).Dur("retry_after", delay).Str("url", target).Msg("vendor rate limited")
		tagged := envelope.New(envelope.KindRateLimited, "vendor rate limited the call (attempt %d of %d)", attempt+1, c.maxAttempts).WithDetails(raw)
		return nil, delay, true, tagged

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		if c.onAuthFailure != nil {
			c.onAuthFailure()
		}
		return nil, 0, false, envelope.New(envelope.KindAuthError, "vendor rejected credentials (HTTP %d)", resp.StatusCode).WithDetails(raw)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, 0, false, envelope.New(envelope.KindClientError, "vendor error (HTTP %d)", resp.StatusCode).WithDetails(raw)

	case resp.StatusCode >= 500:
		tagged := envelope.New(envelope.KindServerError, "vendor server error (HTTP %d)", resp.StatusCode).WithDetails(raw)
		if *serverRetried {
			return nil, 0, false, tagged
		}
		*serverRetried = true
		return nil, c.serverRetryDelay, true, tagged

	default:
		return nil, 0, false, envelope.New(envelope.KindServerError, "unexpected vendor status %d", resp.StatusCode).WithDetails(raw)
	}
}

// wait sleeps for d unless ctx is cancelled first. Returns false when the
// caller should give up.
func (c *Client) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses a Retry-After header given in seconds, capped at
// maxRetryAfter. Zero when absent or unparsable.
func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		return maxRetryAfter
	}
	return d
}
