// Package mcpadapter exposes the evidence engine as Model Context Protocol tools over stdio.
package mcpadapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/stewmckendry/health-assistant/internal/core/ports"
)

const Version = "0.1.0"

var ErrMissingService = errors.New("mcp: evidence service is required")

type Server struct {
	service ports.EvidenceService
	server  *server.MCPServer
	logger  *slog.Logger
}

func NewServer(service ports.EvidenceService, logger *slog.Logger) (*Server, error) {
	if service == nil {
		return nil, ErrMissingService
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		service: service,
		server: server.NewMCPServer(
			"evidence",
			Version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		logger: logger.With("component", "mcp"),
	}
	s.registerTools()
	return s, nil
}

// Run serves over the process stdio until ctx is cancelled or stdin closes.
func (s *Server) Run(ctx context.Context) error {
	return s.Serve(ctx, os.Stdin, os.Stdout)
}

func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.server)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	s.logger.Info("mcp_server_started", "version", Version)
	if err := stdio.Listen(ctx, in, out); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio: %w", err)
	}
	return nil
}
