package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const (
	ToolStartAuth      = "start_auth"
	ToolCheckAuthToken = "check_auth_token"
	ToolCheckAuth      = "check_auth"
	ToolImportCookies  = "import_cookies"
)

// MCP serves a Toolkit over the streamable HTTP transport.
type MCP struct {
	toolkit   *Toolkit
	server    *mcpserver.MCPServer
	transport *mcpserver.StreamableHTTPServer
}

// NewMCP registers the auth tools on a new MCP server mounted at path.
// Session state is dropped when the transport unregisters the session, or by
// Toolkit.Sweep once it has been idle for the session idle TTL.
func NewMCP(k *Toolkit, name, version, path string) *MCP {
	m := &MCP{toolkit: k}

	hooks := &mcpserver.Hooks{}
	hooks.AddOnUnregisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		k.EndSession(session.SessionID())
		slog.DebugContext(ctx, "mcp session ended", "session", session.SessionID())
	})

	m.server = mcpserver.NewMCPServer(name, version,
		mcpserver.WithHooks(hooks),
		mcpserver.WithToolCapabilities(false),
	)
	m.register()

	m.transport = mcpserver.NewStreamableHTTPServer(m.server,
		mcpserver.WithEndpointPath(path),
	)

	return m
}

// Handler returns the HTTP handler for the MCP endpoint.
func (m *MCP) Handler() http.Handler {
	return m.transport
}

// Shutdown closes open MCP sessions.
func (m *MCP) Shutdown(ctx context.Context) error {
	return m.transport.Shutdown(ctx)
}

func (m *MCP) register() {
	m.server.AddTool(mcp.NewTool(ToolStartAuth,
		mcp.WithDescription("Start browser-extension authentication for NotebookLM. "+
			"Returns a one-time token and steps to show the user. "+
			"After the user says 'done', call check_auth_token."),
	), m.handleStartAuth)

	m.server.AddTool(mcp.NewTool(ToolCheckAuthToken,
		mcp.WithDescription("Check whether the browser extension delivered cookies for the token "+
			"from start_auth and store them. Call once after the user says 'done'."),
	), m.handleCheckAuthToken)

	m.server.AddTool(mcp.NewTool(ToolCheckAuth,
		mcp.WithDescription("Check whether stored NotebookLM credentials exist."),
		mcp.WithString("profile", mcp.Description("Credential profile, defaults to the session profile")),
	), m.handleCheckAuth)

	m.server.AddTool(mcp.NewTool(ToolImportCookies,
		mcp.WithDescription("Import NotebookLM cookies pasted by the user, as a cURL command, "+
			"a Cookie header or name=value pairs."),
		mcp.WithString("cookies", mcp.Required(), mcp.Description("cURL command or cookie string")),
		mcp.WithString("profile", mcp.Description("Credential profile, defaults to the session profile")),
	), m.handleImportCookies)
}

func (m *MCP) handleStartAuth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := m.toolkit.StartAuth(ctx, sessionIDFromContext(ctx))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (m *MCP) handleCheckAuthToken(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := m.toolkit.CheckAuthToken(ctx, sessionIDFromContext(ctx))
	if errors.Is(err, ErrNoActiveToken) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err != nil {
		return nil, err
	}
	return jsonResult(result)
}

func (m *MCP) handleCheckAuth(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := m.toolkit.CheckAuth(ctx, sessionIDFromContext(ctx), req.GetString("profile", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func (m *MCP) handleImportCookies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cookies, err := req.RequireString("cookies")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, err := m.toolkit.ImportCookies(ctx, sessionIDFromContext(ctx), cookies, req.GetString("profile", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func sessionIDFromContext(ctx context.Context) string {
	if session := mcpserver.ClientSessionFromContext(ctx); session != nil {
		if id := session.SessionID(); id != "" {
			return id
		}
	}
	return DefaultSessionID
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
