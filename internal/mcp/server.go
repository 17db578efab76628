// Package mcp exposes the tool catalogue over the Model Context Protocol,
// for both stdio clients and the streamable HTTP transport. Each MCP tool is
// a thin shim over the dispatcher, so MCP callers get the same validation,
// auth, and retry behavior as the HTTP endpoints.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/dispatch"
	"github.com/georgeantonopoulos/Basecamp-MCP-Server/internal/tools"
)

// NewServer builds an MCP server with one tool per catalogue entry.
// transport tags dispatched calls so the audit trail records their origin.
func NewServer(version, transport string, schemas *tools.Registry, dispatcher *dispatch.Dispatcher, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.Default()
	}
	srv := server.NewMCPServer(
		"basecamp-mcp-server",
		version,
		server.WithToolCapabilities(true),
	)
	for _, def := range schemas.List() {
		registerTool(srv, def, dispatcher, transport, logger)
	}
	return srv
}

func registerTool(srv *server.MCPServer, def tools.Definition, dispatcher *dispatch.Dispatcher, transport string, logger *slog.Logger) {
	tool := mcp.NewToolWithRawSchema(def.Name, def.Description, def.InputSchema())

	name := def.Name
	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		env := dispatcher.Dispatch(ctx, dispatch.Call{
			Tool:      name,
			Params:    req.GetArguments(),
			Transport: transport,
		})
		body, err := json.Marshal(env)
		if err != nil {
			logger.Error("encoding tool result", "tool", name, "error", err)
			return mcp.NewToolResultError("internal error encoding result"), nil
		}
		if !env.OK() {
			return mcp.NewToolResultError(string(body)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	})
}

// NewHTTPHandler wraps the MCP server in the streamable HTTP transport,
// suitable for mounting on a mux.
func NewHTTPHandler(srv *server.MCPServer) *server.StreamableHTTPServer {
	return server.NewStreamableHTTPServer(srv)
}

// ServeStdio runs the MCP server over stdin/stdout until EOF.
func ServeStdio(srv *server.MCPServer) error {
	return server.ServeStdio(srv)
}
