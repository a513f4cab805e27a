// Package mcpserver exposes spectrometer analyses as MCP tools over stdio.
package mcpserver

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/panbanda/spectrometer/pkg/config"
	"github.com/panbanda/spectrometer/pkg/taxonomy"
)

// Server wraps the MCP server and registers the spectrometer tools.
type Server struct {
	server   *mcp.Server
	cfg      *config.Config
	logger   *slog.Logger
	registry *taxonomy.Registry
}

// Option configures a Server.
type Option func(*Server)

// WithConfig sets the configuration analyses run with.
func WithConfig(cfg *config.Config) Option {
	return func(s *Server) {
		s.cfg = cfg
	}
}

// WithLogger sets the logger. It must not write to stdout, which carries
// the protocol.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// WithRegistry shares a taxonomy registry across tool calls.
func WithRegistry(r *taxonomy.Registry) Option {
	return func(s *Server) {
		s.registry = r
	}
}

// NewServer creates a new MCP server with all tools and prompts registered.
func NewServer(version string, opts ...Option) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{
		cfg:    config.DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.server = mcp.NewServer(
		&mcp.Implementation{
			Name:    "spectrometer",
			Version: version,
		},
		nil,
	)
	s.registerTools()
	s.registerPrompts()
	return s
}

// Run starts the MCP server over stdio transport.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "grade",
		Description: describeGrade(),
	}, s.handleGrade)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "graph_stats",
		Description: describeGraphStats(),
	}, s.handleGraphStats)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "discover",
		Description: describeDiscover(),
	}, s.handleDiscover)
}
