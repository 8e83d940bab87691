// Package dispatch routes inbound tool calls to registered handlers and
// wraps every outcome in a uniform envelope.
//
// FLOW:
//  1. Resolve the handler via the registry; miss -> unknown_tool.
//  2. Validate arguments against the tool's input schema (type and
//     requiredness only; deeper semantics are the handler's job).
//  3. Invoke the handler with explicit credentials.
//  4. Wrap success, or classify the failure. A panic or raw error never
//     escapes the dispatcher.
//
// The dispatcher holds no per-call state; the audit store and metrics it
// writes to are safe for concurrent use.
package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/toolbridge/tool-gateway/internal/credentials"
	"github.com/toolbridge/tool-gateway/internal/envelope"
	"github.com/toolbridge/tool-gateway/internal/monitoring"
	"github.com/toolbridge/tool-gateway/internal/registry"
	"github.com/toolbridge/tool-gateway/internal/store"
)

// ToolCall is one inbound request: a tool name, its argument mapping, and
// the originating credentials. Discarded after the call completes.
type ToolCall struct {
	Name  string
	Args  map[string]any
	Creds *credentials.Credentials
}

// Dispatcher resolves and invokes tool handlers.
type Dispatcher struct {
	reg     *registry.Registry
	audit   store.Store
	metrics *monitoring.MetricsCollector
}

// New creates a dispatcher. audit and metrics may be nil.
func New(reg *registry.Registry, audit store.Store, metrics *monitoring.MetricsCollector) *Dispatcher {
	return &Dispatcher{reg: reg, audit: audit, metrics: metrics}
}

// List returns the registered tool specs for capability discovery.
func (d *Dispatcher) List() []registry.ToolSpec {
	return d.reg.List()
}

// Dispatch executes one tool call and always returns an envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) envelope.Envelope {
	start := time.Now()
	env := d.dispatch(ctx, call)
	d.record(ctx, call.Name, env, time.Since(start))
	return env
}

func (d *Dispatcher) dispatch(ctx context.Context, call ToolCall) envelope.Envelope {
	spec, handler, ok := d.reg.Resolve(call.Name)
	if !ok {
		return envelope.Failure(envelope.New(envelope.KindUnknownTool, "unknown tool %q", call.Name))
	}

	if violations := spec.ValidateArgs(call.Args); len(violations) > 0 {
		details, _ := json.Marshal(violations)
		return envelope.Failure(
			envelope.New(envelope.KindInvalidArguments, "arguments for %q failed validation", call.Name).
				WithDetails(details))
	}

	result, err := d.invoke(ctx, handler, call)
	if err != nil {
		tagged := envelope.Classify(err)
		log.Debug().
			Str("tool", call.Name).
			Str("kind", string(tagged.Kind)).
			Str("error", tagged.Message).
			Msg("tool call failed")
		return envelope.Failure(tagged)
	}
	return envelope.Success(result)
}

// invoke runs the handler, converting a panic into a tagged internal error.
func (d *Dispatcher) invoke(ctx context.Context, handler registry.Handler, call ToolCall) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("tool", call.Name).Interface("panic", rec).Msg("handler panicked")
			err = envelope.New(envelope.KindInternal, "handler for %q panicked: %v", call.Name, rec)
		}
	}()
	return handler.Handle(ctx, call.Args, call.Creds)
}

// record writes the audit entry and metrics. Best effort: an audit failure
// must not fail the call.
func (d *Dispatcher) record(ctx context.Context, tool string, env envelope.Envelope, latency time.Duration) {
	if d.metrics != nil {
		d.metrics.RecordDispatch(env.OK(), latency)
	}
	if d.audit == nil {
		return
	}
	entry := store.Entry{
		RequestID: monitoring.RequestID(ctx),
		Tool:      tool,
		Latency:   latency,
		At:        time.Now(),
	}
	if !env.OK() {
		entry.Kind = string(env.Err.Kind)
	}
	if err := d.audit.Record(context.WithoutCancel(ctx), entry); err != nil {
		log.Warn().Err(err).Str("tool", tool).Msg("audit record failed")
	}
}
