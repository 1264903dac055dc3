package mcpadapter

import (
	"github.com/mark3labs/mcp-go/server"

	"github.com/kirillkom/expert-match/internal/core/ports"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Server exposes the expert pipeline as MCP tools.
type Server struct {
	query     ports.ExpertQueryService
	retriever ports.ExpertRetriever
	experts   ports.ExpertReader
	mcp       *server.MCPServer
}

func NewServer(query ports.ExpertQueryService, retriever ports.ExpertRetriever, experts ports.ExpertReader) *Server {
	s := &Server{
		query:     query,
		retriever: retriever,
		experts:   experts,
	}
	s.mcp = server.NewMCPServer(
		"expert-match",
		Version,
		server.WithToolCapabilities(false),
	)
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	s.mcp.AddTool(findExpertsTool, s.handleFindExperts)
	s.mcp.AddTool(retrieveExpertsTool, s.handleRetrieveExperts)
	s.mcp.AddTool(getExpertTool, s.handleGetExpert)
}

// Serve runs the server on stdio. Stdout carries protocol messages, so logs must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
