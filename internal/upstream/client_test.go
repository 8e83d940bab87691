package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbridge/tool-gateway/internal/credentials"
	"github.com/toolbridge/tool-gateway/internal/envelope"
)

// noWait removes real sleeps from the retry schedule.
var noWait = withWaitFn(func(int) time.Duration { return 0 })

func testCreds() *credentials.Credentials {
	return credentials.FromToken("xoxb-test")
}

func errKind(t *testing.T, err error) envelope.Kind {
	t.Helper()
	var tagged *envelope.Error
	require.ErrorAs(t, err, &tagged)
	return tagged.Kind
}

func TestCall_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xoxb-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "C123", body["channel"])

		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, BearerAuth{})
	raw, err := c.Call(context.Background(), testCreds(), http.MethodPost, "/chat.postMessage", nil, map[string]any{"channel": "C123"})

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(raw))
}

func TestCall_EmptyBodyYieldsEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, BearerAuth{})
	raw, err := c.Call(context.Background(), testCreds(), http.MethodDelete, "/v2/meetings/1", nil, nil)

	require.NoError(t, err)
	assert.Equal(t, string(EmptyResult), string(raw))
}

func TestCall_MissingCredentialsSkipsHTTP(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		attempts++
	}))
	defer srv.Close()

	c := NewClient(srv.URL, BearerAuth{})
	_, err := c.Call(context.Background(), nil, http.MethodGet, "/v1/things", nil, nil)

	require.Error(t, err)
	assert.Equal(t, envelope.KindMissingCredentials, errKind(t, err))
	assert.Zero(t, attempts, "no HTTP attempt may be made without credentials")
}

func TestCall_RateLimitedThenSuccess(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, BearerAuth{}, noWait)
	raw, err := c.Call(context.Background(), testCreds(), http.MethodGet, "/v1/things", nil, nil)

	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, string(raw))
	assert.Equal(t, int32(2), attempts.Load(), "exactly one retry after the 429")
}

func TestCall_RateLimitExhaustsAttempts(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, BearerAuth{}, noWait)
	_, err := c.Call(context.Background(), testCreds(), http.MethodGet, "/v1/things", nil, nil)

	require.Error(t, err)
	assert.Equal(t, envelope.KindRateLimited, errKind(t, err))
	assert.Equal(t, int32(3), attempts.Load())
	assert.Contains(t, err.Error(), "attempt 3 of 3", "message reflects the actual attempt count")
}

func TestCall_NoWaitAfterFinalAttempt(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	var waits atomic.Int32
	c := NewClient(srv.URL, BearerAuth{}, withWaitFn(func(int) time.Duration {
		waits.Add(1)
		return 25 * time.Millisecond
	}))

	start := time.Now()
	_, err := c.Call(context.Background(), testCreds(), http.MethodGet, "/v1/things", nil, nil)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, int32(2), waits.Load(), "no backoff after the deciding attempt")
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 2*time.Second)
}

func TestCall_RetryAfterHeaderOverridesBackoff(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	// Backoff poisoned: if Retry-After were ignored this test would hang far
	// past its deadline.
	c := NewClient(srv.URL, BearerAuth{}, withWaitFn(func(int) time.Duration { return time.Hour }))

	start := time.Now()
	_, err := c.Call(context.Background(), testCreds(), http.MethodGet, "/v1/things", nil, nil)

	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCall_AuthFailureNeverRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "invalid_auth"}`))
	}))
	defer srv.Close()

	hookCalls := 0
	c := NewClient(srv.URL, BearerAuth{}, noWait, WithAuthFailureHook(func() { hookCalls++ }))
	_, err := c.Call(context.Background(), testCreds(), http.MethodGet, "/v1/things", nil, nil)

	require.Error(t, err)
	assert.Equal(t, envelope.KindAuthError, errKind(t, err))
	assert.Equal(t, int32(1), attempts.Load(), "401 is terminal")
	assert.Equal(t, 1, hookCalls)
}

func TestCall_ClientErrorCarriesBodyVerbatim(t *testing.T) {
	vendorBody := `{"error": "channel_not_found", "detail": "no such channel C999"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(vendorBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, BearerAuth{}, noWait)
	_, err := c.Call(context.Background(), testCreds(), http.MethodGet, "/v1/things", nil, nil)

	require.Error(t, err)
	var tagged *envelope.Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, envelope.KindClientError, tagged.Kind)
	assert.JSONEq(t, vendorBody, string(tagged.Details))
}

func TestCall_ServerErrorRetriesOnce(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, BearerAuth{}, noWait)
	c.serverRetryDelay = 0
	_, err := c.Call(context.Background(), testCreds(), http.MethodGet, "/v1/things", nil, nil)

	require.Error(t, err)
	assert.Equal(t, envelope.KindServerError, errKind(t, err))
	assert.Equal(t, int32(2), attempts.Load(), "5xx gets a single retry")
}

func TestCall_ServerErrorThenSuccess(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"recovered": true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, BearerAuth{}, noWait)
	c.serverRetryDelay = 0
	raw, err := c.Call(context.Background(), testCreds(), http.MethodGet, "/v1/things", nil, nil)

	require.NoError(t, err)
	assert.JSONEq(t, `{"recovered": true}`, string(raw))
}

func TestCall_NetworkErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // refuse all connections

	c := NewClient(srv.URL, BearerAuth{}, noWait)
	_, err := c.Call(context.Background(), testCreds(), http.MethodGet, "/v1/things", nil, nil)

	require.Error(t, err)
	assert.Equal(t, envelope.KindTransportError, errKind(t, err))
}

func TestCall_ContextCancellationStopsRetries(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClient(srv.URL, BearerAuth{}, withWaitFn(func(int) time.Duration {
		cancel() // cancel while the client is waiting to retry
		return time.Hour
	}))

	start := time.Now()
	_, err := c.Call(ctx, testCreds(), http.MethodGet, "/v1/things", nil, nil)

	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "cancellation must interrupt the backoff wait")
	assert.Equal(t, int32(1), attempts.Load())
}

func TestCallForm_EncodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "+15551234567", r.PostForm.Get("To"))
		assert.Equal(t, "hello", r.PostForm.Get("Body"))
		w.Write([]byte(`{"sid": "SM1"}`))
	}))
	defer srv.Close()

	creds := credentials.Composite("AC1:secret", "account_sid", "auth_token")
	c := NewClient(srv.URL, BasicAuth{UserField: "account_sid", PassField: "auth_token"})

	form := url.Values{}
	form.Set("To", "+15551234567")
	form.Set("Body", "hello")
	raw, err := c.CallForm(context.Background(), creds, http.MethodPost, "/Messages.json", form)

	require.NoError(t, err)
	assert.JSONEq(t, `{"sid": "SM1"}`, string(raw))
}

func TestBackoffSchedule(t *testing.T) {
	assert.Equal(t, time.Second, backoff(0))
	assert.Equal(t, 2*time.Second, backoff(1))
	assert.Equal(t, 4*time.Second, backoff(2))
	assert.Equal(t, 8*time.Second, backoff(3))
	assert.Equal(t, 8*time.Second, backoff(10), "capped")
}

func TestRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, retryAfter(h))

	h.Set("Retry-After", "5")
	assert.Equal(t, 5*time.Second, retryAfter(h))

	h.Set("Retry-After", "3600")
	assert.Equal(t, maxRetryAfter, retryAfter(h), "an hour-long stall is capped")

	h.Set("Retry-After", "soon")
	assert.Zero(t, retryAfter(h))
}
