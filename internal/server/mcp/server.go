// Package mcp exposes the stage router as MCP tools over stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/server"
)

const instructions = `specpilot turns a rough product idea into a structured specification.

Call start_session once, then relay every user answer through advance_session
with the returned id. Replies carry either a clarifying question, a list of
options (pass the chosen option id as the next message), or the output of the
stage that just finished. Once the stage reaches "completed" the final
specification is in the session's final_spec field (use get_session).`

// New builds an MCP server with every specpilot tool registered.
func New(r SessionRouter, stats CacheStatsFunc, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"specpilot",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	start := NewStartSessionTool(r)
	s.AddTool(start.Definition(), start.Handle)

	advance := NewAdvanceSessionTool(r)
	s.AddTool(advance.Definition(), advance.Handle)

	get := NewGetSessionTool(r)
	s.AddTool(get.Definition(), get.Handle)

	cacheStats := NewCacheStatsTool(stats)
	s.AddTool(cacheStats.Definition(), cacheStats.Handle)

	return s
}

// Serve runs s on stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
