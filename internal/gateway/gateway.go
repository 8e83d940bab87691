// Package gateway exposes the tool dispatcher over HTTP and MCP.
//
// FLOW (REST surface):
//  1. Middleware chain assigns a request ID and throttles per client IP.
//  2. Credentials are decoded from the X-Auth-* headers.
//  3. The dispatcher resolves, validates and invokes the tool.
//  4. The uniform envelope is written back; tool-level failures travel
//     in-band with HTTP 200, transport-level failures use HTTP statuses.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/toolbridge/tool-gateway/internal/config"
	"github.com/toolbridge/tool-gateway/internal/credentials"
	"github.com/toolbridge/tool-gateway/internal/dispatch"
	"github.com/toolbridge/tool-gateway/internal/envelope"
	"github.com/toolbridge/tool-gateway/internal/monitoring"
	"github.com/toolbridge/tool-gateway/internal/store"
)

// Gateway serves the REST and MCP surfaces over one shared dispatcher.
type Gateway struct {
	cfg        *config.Config
	dispatcher *dispatch.Dispatcher
	audit      store.Store
	metrics    *monitoring.MetricsCollector
	limiter    *ipLimiter
	server     *http.Server
}

// New creates a gateway around a populated dispatcher.
func New(cfg *config.Config, d *dispatch.Dispatcher, audit store.Store, metrics *monitoring.MetricsCollector) *Gateway {
	g := &Gateway{
		cfg:        cfg,
		dispatcher: d,
		audit:      audit,
		metrics:    metrics,
		limiter:    newIPLimiter(cfg.Server.RatePerSecond),
	}
	g.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      g.handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return g
}

// handler builds the route mux wrapped in the middleware chain.
func (g *Gateway) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /v1/tools", g.handleListTools)
	mux.HandleFunc("POST /v1/tools/call", g.handleCallTool)
	mux.HandleFunc("GET /v1/audit", g.handleAudit)
	mux.HandleFunc("GET /v1/stats", g.handleStats)

	var h http.Handler = mux
	h = g.security(h)
	h = g.loggingMiddleware(h)
	h = g.rateLimit(h)
	h = g.panicRecovery(h)
	return h
}

// Run serves all configured surfaces until ctx is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		log.Info().Str("addr", g.server.Addr).Msg("rest surface listening")
		if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("rest server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), g.cfg.Server.WriteTimeout)
		defer cancel()
		return g.server.Shutdown(shutdownCtx)
	})

	if g.cfg.MCP.Stdio || g.cfg.MCP.HTTPAddr != "" {
		mcpSrv := g.newMCPServer()
		if g.cfg.MCP.Stdio {
			eg.Go(func() error { return serveMCPStdio(ctx, mcpSrv) })
		}
		if addr := g.cfg.MCP.HTTPAddr; addr != "" {
			eg.Go(func() error { return serveMCPHTTP(ctx, mcpSrv, addr) })
		}
	}

	return eg.Wait()
}

// toolCallRequest is the inbound REST envelope.
type toolCallRequest struct {
	ToolName  string         `json:"tool_name"`
	Arguments map[string]any `json:"arguments"`
}

func (g *Gateway) handleCallTool(w http.ResponseWriter, r *http.Request) {
	var req toolCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.writeEnvelope(w, envelope.Failure(
			envelope.New(envelope.KindInvalidArguments, "request body is not valid JSON: %v", err)))
		return
	}
	if req.ToolName == "" {
		g.writeEnvelope(w, envelope.Failure(
			envelope.New(envelope.KindInvalidArguments, "tool_name is required")))
		return
	}

	creds, err := credentials.FromHeaders(r.Header)
	if err != nil {
		g.writeEnvelope(w, envelope.Failure(envelope.Classify(err)))
		return
	}

	env := g.dispatcher.Dispatch(r.Context(), dispatch.ToolCall{
		Name:  req.ToolName,
		Args:  req.Arguments,
		Creds: creds,
	})
	g.writeEnvelope(w, env)
}

func (g *Gateway) handleListTools(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]any{"tools": g.dispatcher.List()})
}

func (g *Gateway) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := g.audit.Recent(r.Context(), 100)
	if err != nil {
		g.writeError(w, "audit unavailable", http.StatusInternalServerError)
		return
	}
	g.writeJSON(w, http.StatusOK, map[string]any{"calls": entries})
}

func (g *Gateway) handleStats(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, g.metrics.Stats())
}

func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	g.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeEnvelope writes a dispatch envelope. Tool-level failures are in-band:
// the HTTP status stays 200 so callers always parse one shape.
func (g *Gateway) writeEnvelope(w http.ResponseWriter, env envelope.Envelope) {
	g.writeJSON(w, http.StatusOK, env)
}

func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write response")
	}
}

func (g *Gateway) writeError(w http.ResponseWriter, msg string, status int) {
	g.writeJSON(w, status, map[string]any{
		"error": map[string]string{"kind": "http", "message": msg},
	})
}
