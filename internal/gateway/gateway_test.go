package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/toolbridge/tool-gateway/internal/config"
	"github.com/toolbridge/tool-gateway/internal/credentials"
	"github.com/toolbridge/tool-gateway/internal/dispatch"
	"github.com/toolbridge/tool-gateway/internal/monitoring"
	"github.com/toolbridge/tool-gateway/internal/registry"
	"github.com/toolbridge/tool-gateway/internal/store"
)

// newTestGateway builds a gateway around a single echo tool that reports the
// credential token it saw.
func newTestGateway(t *testing.T, yaml string) *Gateway {
	t.Helper()
	cfg, err := config.LoadFromBytes([]byte(yaml))
	require.NoError(t, err)

	reg := registry.New()
	require.NoError(t, reg.Register(registry.ToolSpec{
		Name:        "echo",
		Description: "echoes arguments back",
	}, registry.HandlerFunc(func(_ context.Context, args map[string]any, creds *credentials.Credentials) (any, error) {
		out := map[string]any{"args": args}
		if !creds.Empty() {
			out["token"] = creds.Token
		}
		return out, nil
	})))

	audit := store.NewMemoryStore(16)
	d := dispatch.New(reg, audit, monitoring.NewMetricsCollector())
	return New(cfg, d, audit, monitoring.NewMetricsCollector())
}

func doRequest(t *testing.T, g *Gateway, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.RemoteAddr = "203.0.113.7:50000"
	for k, v := range hdr {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	g.handler().ServeHTTP(w, r)
	return w
}

func TestGateway_Health(t *testing.T) {
	g := newTestGateway(t, `{}`)
	w := doRequest(t, g, "GET", "/health", "", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", gjson.Get(w.Body.String(), "status").String())
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
}

func TestGateway_ListTools(t *testing.T) {
	g := newTestGateway(t, `{}`)
	w := doRequest(t, g, "GET", "/v1/tools", "", nil)

	require.Equal(t, http.StatusOK, w.Code)
	tools := gjson.Get(w.Body.String(), "tools").Array()
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Get("name").String())
}

func TestGateway_CallTool(t *testing.T) {
	g := newTestGateway(t, `{}`)
	w := doRequest(t, g, "POST", "/v1/tools/call",
		`{"tool_name": "echo", "arguments": {"x": 1}}`,
		map[string]string{"X-Auth-Token": "tok-abc"})

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Equal(t, int64(1), gjson.Get(body, "result.args.x").Int())
	assert.Equal(t, "tok-abc", gjson.Get(body, "result.token").String(), "header credentials reach the handler")
	assert.False(t, gjson.Get(body, "error").Exists())
}

func TestGateway_CallTool_FailuresAreInBand(t *testing.T) {
	g := newTestGateway(t, `{}`)

	w := doRequest(t, g, "POST", "/v1/tools/call", `{"tool_name": "nope"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, "tool failures keep HTTP 200")
	assert.Equal(t, "unknown_tool", gjson.Get(w.Body.String(), "error.kind").String())

	w = doRequest(t, g, "POST", "/v1/tools/call", `{not json`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "invalid_arguments", gjson.Get(w.Body.String(), "error.kind").String())

	w = doRequest(t, g, "POST", "/v1/tools/call", `{"arguments": {}}`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "invalid_arguments", gjson.Get(w.Body.String(), "error.kind").String())
}

func TestGateway_AuditTrail(t *testing.T) {
	g := newTestGateway(t, `{}`)

	doRequest(t, g, "POST", "/v1/tools/call", `{"tool_name": "echo"}`, nil)
	doRequest(t, g, "POST", "/v1/tools/call", `{"tool_name": "nope"}`, nil)

	w := doRequest(t, g, "GET", "/v1/audit", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	calls := gjson.Get(w.Body.String(), "calls").Array()
	require.Len(t, calls, 2)
	assert.Equal(t, "nope", calls[0].Get("tool").String())
	assert.Equal(t, "unknown_tool", calls[0].Get("kind").String())
	assert.Equal(t, "echo", calls[1].Get("tool").String())
}

func TestGateway_InboundRateLimit(t *testing.T) {
	g := newTestGateway(t, "server:\n  rate_per_second: 2\n")

	for i := 0; i < 2; i++ {
		w := doRequest(t, g, "GET", "/health", "", nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}

	w := doRequest(t, g, "GET", "/health", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
}

func TestGateway_CORSPreflight(t *testing.T) {
	g := newTestGateway(t, `{}`)

	w := doRequest(t, g, "OPTIONS", "/v1/tools/call", "",
		map[string]string{"Origin": "http://localhost:3000"})

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "X-Auth-Data")
}

func TestGateway_RequestIDPropagated(t *testing.T) {
	g := newTestGateway(t, `{}`)

	w := doRequest(t, g, "GET", "/health", "", map[string]string{HeaderRequestID: "req-42"})
	assert.Equal(t, "req-42", w.Header().Get(HeaderRequestID))
}
