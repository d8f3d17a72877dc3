// Package mcp exposes the service surface over the Model Context Protocol.
// The adaptor is intentionally thin: it maps tool calls onto the core
// services one-to-one and adds no semantic behaviour — no retries, no
// result reshaping.
package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/codescope/codescope/internal/app"
	"github.com/codescope/codescope/pkg/version"
)

// Server bridges MCP clients to the indexing and search services.
type Server struct {
	mcp    *mcp.Server
	app    *app.App
	logger *slog.Logger
}

// NewServer creates the MCP server and registers the tool surface.
func NewServer(application *app.App) *Server {
	s := &Server{
		app:    application,
		logger: slog.Default(),
	}
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "Codescope",
			Version: version.Version,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Serve runs the server over stdio until the context ends.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_starting", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && err != context.Canceled {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}
