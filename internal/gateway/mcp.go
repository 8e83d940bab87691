// MCP surface: the same registry exported over the Model Context Protocol,
// for agent clients speaking stdio or Streamable HTTP.
package gateway

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpsrv "github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog/log"

	"github.com/toolbridge/tool-gateway/internal/dispatch"
	"github.com/toolbridge/tool-gateway/internal/registry"
)

const (
	mcpServerName    = "tool-gateway"
	mcpServerVersion = "1.0.0"
)

// newMCPServer builds an MCP server exposing every registered tool. MCP
// clients carry no per-request auth headers, so calls fall back to the
// statically configured vendor credentials.
func (g *Gateway) newMCPServer() *mcpsrv.MCPServer {
	srv := mcpsrv.NewMCPServer(mcpServerName, mcpServerVersion,
		mcpsrv.WithInstructions("This gateway exposes vendor operations (Slack, Twilio, Zoom, Airtable, Spotify) as uniform tools. Results are normalized JSON; failures carry a machine-readable error kind."),
	)
	for _, spec := range g.dispatcher.List() {
		srv.AddTool(mcpTool(spec), g.mcpHandler(spec.Name))
	}
	return srv
}

// mcpTool converts a registry spec to an MCP tool definition.
func mcpTool(spec registry.ToolSpec) mcplib.Tool {
	if len(spec.InputSchema) > 0 {
		return mcplib.NewToolWithRawSchema(spec.Name, spec.Description, spec.InputSchema)
	}
	return mcplib.NewTool(spec.Name, mcplib.WithDescription(spec.Description))
}

// mcpHandler adapts one tool to the MCP handler signature. Dispatch
// failures become IsError results, never protocol errors.
func (g *Gateway) mcpHandler(name string) mcpsrv.ToolHandlerFunc {
	return func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		env := g.dispatcher.Dispatch(ctx, dispatch.ToolCall{
			Name: name,
			Args: req.GetArguments(),
		})
		if !env.OK() {
			return &mcplib.CallToolResult{
				Content: []mcplib.Content{mcplib.NewTextContent(env.Err.Error())},
				IsError: true,
			}, nil
		}
		return mcplib.NewToolResultJSON(env.Result)
	}
}

// serveMCPStdio runs the MCP server over stdin/stdout until ctx is
// cancelled.
func serveMCPStdio(ctx context.Context, srv *mcpsrv.MCPServer) error {
	log.Info().Msg("mcp surface listening on stdio")
	stdio := mcpsrv.NewStdioServer(srv)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return nil
}

// serveMCPHTTP runs the MCP server as Streamable HTTP on addr until ctx is
// cancelled.
func serveMCPHTTP(ctx context.Context, srv *mcpsrv.MCPServer, addr string) error {
	streamSrv := mcpsrv.NewStreamableHTTPServer(srv)
	log.Info().Str("addr", addr).Msg("mcp surface listening on http")

	errCh := make(chan error, 1)
	go func() {
		if err := streamSrv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return streamSrv.Shutdown(context.Background())
	case err := <-errCh:
		return err
	}
}
