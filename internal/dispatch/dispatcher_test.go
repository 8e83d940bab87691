package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolbridge/tool-gateway/internal/credentials"
	"github.com/toolbridge/tool-gateway/internal/envelope"
	"github.com/toolbridge/tool-gateway/internal/monitoring"
	"github.com/toolbridge/tool-gateway/internal/registry"
	"github.com/toolbridge/tool-gateway/internal/store"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *registry.Registry, *store.MemoryStore) {
	t.Helper()
	reg := registry.New()
	audit := store.NewMemoryStore(16)
	return New(reg, audit, monitoring.NewMetricsCollector()), reg, audit
}

func TestDispatch_Success(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	require.NoError(t, reg.Register(registry.ToolSpec{Name: "echo"},
		registry.HandlerFunc(func(_ context.Context, args map[string]any, _ *credentials.Credentials) (any, error) {
			return args["v"], nil
		})))

	env := d.Dispatch(context.Background(), ToolCall{Name: "echo", Args: map[string]any{"v": "hi"}})

	require.True(t, env.OK())
	assert.Equal(t, "hi", env.Result)
}

func TestDispatch_UnknownToolNeverInvokesHandler(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	invoked := false
	require.NoError(t, reg.Register(registry.ToolSpec{Name: "real"},
		registry.HandlerFunc(func(context.Context, map[string]any, *credentials.Credentials) (any, error) {
			invoked = true
			return nil, nil
		})))

	env := d.Dispatch(context.Background(), ToolCall{Name: "ghost"})

	require.False(t, env.OK())
	assert.Equal(t, envelope.KindUnknownTool, env.Err.Kind)
	assert.Contains(t, env.Err.Message, "ghost")
	assert.False(t, invoked)
}

func TestDispatch_InvalidArguments(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	require.NoError(t, reg.Register(registry.ToolSpec{
		Name: "strict",
		InputSchema: []byte(`{
			"type": "object",
			"properties": {"name": {"type": "string"}},
			"required": ["name"]
		}`),
	}, registry.HandlerFunc(func(context.Context, map[string]any, *credentials.Credentials) (any, error) {
		t.Fatal("handler must not run on invalid arguments")
		return nil, nil
	})))

	env := d.Dispatch(context.Background(), ToolCall{Name: "strict", Args: map[string]any{}})

	require.False(t, env.OK())
	assert.Equal(t, envelope.KindInvalidArguments, env.Err.Kind)
	assert.NotEmpty(t, env.Err.Details, "violations should be attached")
}

func TestDispatch_TaggedErrorPassesThrough(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	require.NoError(t, reg.Register(registry.ToolSpec{Name: "denied"},
		registry.HandlerFunc(func(context.Context, map[string]any, *credentials.Credentials) (any, error) {
			return nil, envelope.New(envelope.KindMissingCredentials, "no credentials supplied for this call")
		})))

	env := d.Dispatch(context.Background(), ToolCall{Name: "denied"})

	require.False(t, env.OK())
	assert.Equal(t, envelope.KindMissingCredentials, env.Err.Kind)
}

func TestDispatch_UnclassifiedErrorBecomesInternal(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	require.NoError(t, reg.Register(registry.ToolSpec{Name: "flaky"},
		registry.HandlerFunc(func(context.Context, map[string]any, *credentials.Credentials) (any, error) {
			return nil, errors.New("something odd")
		})))

	env := d.Dispatch(context.Background(), ToolCall{Name: "flaky"})

	require.False(t, env.OK())
	assert.Equal(t, envelope.KindInternal, env.Err.Kind)
}

func TestDispatch_PanicIsRecovered(t *testing.T) {
	d, reg, _ := newTestDispatcher(t)
	require.NoError(t, reg.Register(registry.ToolSpec{Name: "boom"},
		registry.HandlerFunc(func(context.Context, map[string]any, *credentials.Credentials) (any, error) {
			panic("handler bug")
		})))

	var env envelope.Envelope
	require.NotPanics(t, func() {
		env = d.Dispatch(context.Background(), ToolCall{Name: "boom"})
	})
	require.False(t, env.OK())
	assert.Equal(t, envelope.KindInternal, env.Err.Kind)
	assert.Contains(t, env.Err.Message, "panicked")
}

func TestDispatch_RecordsAudit(t *testing.T) {
	d, reg, audit := newTestDispatcher(t)
	require.NoError(t, reg.Register(registry.ToolSpec{Name: "echo"},
		registry.HandlerFunc(func(_ context.Context, args map[string]any, _ *credentials.Credentials) (any, error) {
			return "ok", nil
		})))

	d.Dispatch(context.Background(), ToolCall{Name: "echo"})
	d.Dispatch(context.Background(), ToolCall{Name: "ghost"})

	entries, err := audit.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Newest first.
	assert.Equal(t, "ghost", entries[0].Tool)
	assert.Equal(t, string(envelope.KindUnknownTool), entries[0].Kind)
	assert.Equal(t, "echo", entries[1].Tool)
	assert.Empty(t, entries[1].Kind)
}
