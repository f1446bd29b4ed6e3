package mcpservice

import "github.com/ggoodman/salon-mcp/mcp"

// ServerOption configures a Server.
type ServerOption func(*Server)

// Server bundles what the dispatcher exposes: identity, protocol version and
// the tool, resource and prompt catalogs. Absent catalogs are served as empty.
type Server struct {
	info            mcp.ImplementationInfo
	protocolVersion string
	tools           *ToolsContainer
	resources       *ResourcesContainer
	prompts         *PromptsContainer
}

// NewServer builds a Server using functional options.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		info:            mcp.ImplementationInfo{Name: "mcp-server", Version: "1.0.0"},
		protocolVersion: mcp.ProtocolVersion,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tools == nil {
		s.tools = NewToolsContainer()
	}
	if s.resources == nil {
		s.resources = NewResourcesContainer()
	}
	if s.prompts == nil {
		s.prompts = NewPromptsContainer()
	}
	return s
}

// WithServerInfo sets the server identity returned from initialize.
func WithServerInfo(info mcp.ImplementationInfo) ServerOption {
	return func(s *Server) { s.info = info }
}

// WithProtocolVersion overrides the protocol version returned from initialize.
func WithProtocolVersion(version string) ServerOption {
	return func(s *Server) { s.protocolVersion = version }
}

// WithToolsContainer sets the tool catalog.
func WithToolsContainer(tc *ToolsContainer) ServerOption {
	return func(s *Server) { s.tools = tc }
}

// WithResourcesContainer sets the resource catalog.
func WithResourcesContainer(rc *ResourcesContainer) ServerOption {
	return func(s *Server) { s.resources = rc }
}

// WithPromptsContainer sets the prompt catalog.
func WithPromptsContainer(pc *PromptsContainer) ServerOption {
	return func(s *Server) { s.prompts = pc }
}

func (s *Server) Info() mcp.ImplementationInfo   { return s.info }
func (s *Server) ProtocolVersion() string        { return s.protocolVersion }
func (s *Server) Tools() *ToolsContainer         { return s.tools }
func (s *Server) Resources() *ResourcesContainer { return s.resources }
func (s *Server) Prompts() *PromptsContainer     { return s.prompts }
