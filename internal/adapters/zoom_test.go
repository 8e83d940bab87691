package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbridge/tool-gateway/internal/config"
	"github.com/toolbridge/tool-gateway/internal/credentials"
	"github.com/toolbridge/tool-gateway/internal/envelope"
	"github.com/toolbridge/tool-gateway/internal/registry"
)

// fakeZoom emulates both the OAuth host and the API host on one server.
func fakeZoom(t *testing.T, tokenGrants *atomic.Int32, apiCalls *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			tokenGrants.Add(1)
			user, pass, ok := r.BasicAuth()
			require.True(t, ok)
			assert.Equal(t, "cid", user)
			assert.Equal(t, "csecret", pass)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "account_credentials", r.PostForm.Get("grant_type"))
			assert.Equal(t, "acc1", r.PostForm.Get("account_id"))
			w.Write([]byte(`{"access_token": "zat-1", "expires_in": 3600}`))
		case "/v2/users/me/meetings":
			apiCalls.Add(1)
			assert.Equal(t, "Bearer zat-1", r.Header.Get("Authorization"))
			w.Write([]byte(`{"id": 987, "topic": "standup", "join_url": "https://zoom.us/j/987"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func zoomConfig(srvURL string, rl *config.RateLimitConfig) config.VendorConfig {
	return config.VendorConfig{
		Enabled: true,
		BaseURL: srvURL,
		Credentials: map[string]string{
			"client_id":     "cid",
			"client_secret": "csecret",
			"account_id":    "acc1",
		},
		RateLimit: rl,
		Options:   map[string]string{"auth_base_url": srvURL},
	}
}

func TestZoom_CreateMeeting_MintsAndReusesToken(t *testing.T) {
	var grants, calls atomic.Int32
	srv := fakeZoom(t, &grants, &calls)

	a := NewZoomAdapter(zoomConfig(srv.URL, nil), nil)
	reg := registry.New()
	require.NoError(t, a.RegisterTools(reg))

	args := map[string]any{"topic": "standup"}
	for i := 0; i < 3; i++ {
		out, err := a.handleCreateMeeting(context.Background(), args, nil)
		require.NoError(t, err)
		require.NotNil(t, out)
	}

	assert.Equal(t, int32(1), grants.Load(), "token minted once and cached")
	assert.Equal(t, int32(3), calls.Load())
}

func TestZoom_PerCallerCredentialsMintOwnToken(t *testing.T) {
	var grants atomic.Int32
	var mu sync.Mutex
	var bearers []string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/token":
			grants.Add(1)
			user, _, ok := r.BasicAuth()
			require.True(t, ok)
			require.NoError(t, r.ParseForm())
			if user == "caller-id" {
				assert.Equal(t, "caller-acct", r.PostForm.Get("account_id"), "grant is issued for the caller's account")
			}
			fmt.Fprintf(w, `{"access_token": "zat-%s", "expires_in": 3600}`, user)
		case "/v2/users/me/meetings":
			mu.Lock()
			bearers = append(bearers, r.Header.Get("Authorization"))
			mu.Unlock()
			w.Write([]byte(`{"id": 1, "topic": "standup"}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)

	a := NewZoomAdapter(zoomConfig(srv.URL, nil), nil)
	args := map[string]any{"topic": "standup"}
	caller := &credentials.Credentials{Fields: map[string]string{
		"client_id":     "caller-id",
		"client_secret": "caller-secret",
		"account_id":    "caller-acct",
	}}

	_, err := a.handleCreateMeeting(context.Background(), args, nil)
	require.NoError(t, err)
	_, err = a.handleCreateMeeting(context.Background(), args, caller)
	require.NoError(t, err)
	_, err = a.handleCreateMeeting(context.Background(), args, caller)
	require.NoError(t, err)

	assert.Equal(t, int32(2), grants.Load(), "one grant per credential set, then cached")
	assert.Equal(t, []string{"Bearer zat-cid", "Bearer zat-caller-id", "Bearer zat-caller-id"}, bearers)
}

func TestZoom_SelfThrottleMapsToRateLimited(t *testing.T) {
	var grants, calls atomic.Int32
	srv := fakeZoom(t, &grants, &calls)

	a := NewZoomAdapter(zoomConfig(srv.URL, &config.RateLimitConfig{
		MaxCalls: 2,
		Window:   time.Minute,
	}), nil)

	args := map[string]any{"topic": "standup"}
	for i := 0; i < 2; i++ {
		_, err := a.handleCreateMeeting(context.Background(), args, nil)
		require.NoError(t, err)
	}

	_, err := a.handleCreateMeeting(context.Background(), args, nil)
	require.Error(t, err)
	var tagged *envelope.Error
	require.ErrorAs(t, err, &tagged)
	assert.Equal(t, envelope.KindRateLimited, tagged.Kind)
	assert.Equal(t, int32(2), calls.Load(), "throttled call never reaches the vendor")
}
