package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"specpilot/internal/agent/ports"
	"specpilot/internal/cache"
	"specpilot/internal/router"
	"specpilot/internal/shared/errors"
	jsonx "specpilot/internal/shared/json"
)

// SessionRouter is the slice of the stage router the tools drive.
type SessionRouter interface {
	Create(ctx context.Context) (*ports.SessionState, error)
	Get(ctx context.Context, sessionID string) (*ports.Session, error)
	Advance(ctx context.Context, sessionID, userMessage string) (router.TurnResult, error)
}

// CacheStatsFunc reports the response cache counters; nil means caching is off.
type CacheStatsFunc func() cache.Stats

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := jsonx.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func errorResult(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(errors.FormatForUser(err))
}

// StartSessionTool handles the start_session MCP tool.
type StartSessionTool struct {
	router SessionRouter
}

// NewStartSessionTool creates a StartSessionTool.
func NewStartSessionTool(r SessionRouter) *StartSessionTool {
	return &StartSessionTool{router: r}
}

// Definition returns the MCP tool definition for start_session.
func (t *StartSessionTool) Definition() mcp.Tool {
	return mcp.NewTool("start_session",
		mcp.WithDescription(
			"Start a new specification session. Returns the session id to pass to advance_session.",
		),
	)
}

// Handle processes the start_session tool call.
func (t *StartSessionTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := t.router.Create(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(state)
}

// AdvanceSessionTool handles the advance_session MCP tool.
type AdvanceSessionTool struct {
	router SessionRouter
}

// NewAdvanceSessionTool creates an AdvanceSessionTool.
func NewAdvanceSessionTool(r SessionRouter) *AdvanceSessionTool {
	return &AdvanceSessionTool{router: r}
}

// Definition returns the MCP tool definition for advance_session.
func (t *AdvanceSessionTool) Definition() mcp.Tool {
	return mcp.NewTool("advance_session",
		mcp.WithDescription(
			"Send one user message to a session. The reply either asks a clarifying question, "+
				"offers options to choose from, or delivers the next stage's output.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Session id returned by start_session"),
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The user's answer, a chosen option id, or free text"),
		),
	)
}

// Handle processes the advance_session tool call.
func (t *AdvanceSessionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := strings.TrimSpace(req.GetString("id", ""))
	if sessionID == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	result, err := t.router.Advance(ctx, sessionID, req.GetString("message", ""))
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(result)
}

// GetSessionTool handles the get_session MCP tool.
type GetSessionTool struct {
	router SessionRouter
}

// NewGetSessionTool creates a GetSessionTool.
func NewGetSessionTool(r SessionRouter) *GetSessionTool {
	return &GetSessionTool{router: r}
}

// Definition returns the MCP tool definition for get_session.
func (t *GetSessionTool) Definition() mcp.Tool {
	return mcp.NewTool("get_session",
		mcp.WithDescription("Show a session's stage, completeness and collected profile."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Session id"),
		),
	)
}

// Handle processes the get_session tool call.
func (t *GetSessionTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := strings.TrimSpace(req.GetString("id", ""))
	if sessionID == "" {
		return mcp.NewToolResultError("id is required"), nil
	}
	session, err := t.router.Get(ctx, sessionID)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(session.State)
}

// CacheStatsTool handles the cache_stats MCP tool.
type CacheStatsTool struct {
	stats CacheStatsFunc
}

// NewCacheStatsTool creates a CacheStatsTool.
func NewCacheStatsTool(stats CacheStatsFunc) *CacheStatsTool {
	return &CacheStatsTool{stats: stats}
}

// Definition returns the MCP tool definition for cache_stats.
func (t *CacheStatsTool) Definition() mcp.Tool {
	return mcp.NewTool("cache_stats",
		mcp.WithDescription("Show response cache statistics: hits, misses, hit rate and time saved."),
	)
}

// Handle processes the cache_stats tool call.
func (t *CacheStatsTool) Handle(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.stats == nil {
		return mcp.NewToolResultText("Response cache is disabled."), nil
	}
	s := t.stats()

	var sb strings.Builder
	sb.WriteString("## Cache Statistics\n\n")
	sb.WriteString(fmt.Sprintf("- **Entries**: %d\n", s.Entries))
	sb.WriteString(fmt.Sprintf("- **Hits**: %d\n", s.Hits))
	sb.WriteString(fmt.Sprintf("- **Misses**: %d\n", s.Misses))
	sb.WriteString(fmt.Sprintf("- **Hit rate**: %.1f%%\n", s.HitRate*100))
	sb.WriteString(fmt.Sprintf("- **Evictions**: %d\n", s.Evictions))
	sb.WriteString(fmt.Sprintf("- **Time saved**: %s\n", s.TimeSaved))
	return mcp.NewToolResultText(sb.String()), nil
}
