package mcp

import (
	"context"
	"fmt"
	"sync"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"askd/config"
	"askd/model"
)

// Router owns the remote tool connections of one conversation. It tracks
// which servers are already connected so repeated requests never reconnect,
// and maps each advertised tool name to the client that serves it.
//
// Tool names are assumed unique across a conversation's servers. When two
// servers advertise the same name the later connection wins the route; the
// collision is logged.
type Router struct {
	mu      sync.RWMutex
	clients map[string]*Client // serverURL → client
	byTool  map[string]*Client // tool name → owning client
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{
		clients: make(map[string]*Client),
		byTool:  make(map[string]*Client),
	}
}

// EnsureConnected connects every configured server that is not connected
// yet. Servers that fail to connect are skipped with a debug log entry; the
// remaining servers' tools stay available.
func (r *Router) EnsureConnected(ctx context.Context, servers []config.ToolServerConfig) {
	for _, sc := range servers {
		r.mu.RLock()
		_, connected := r.clients[sc.ServerURL]
		r.mu.RUnlock()
		if connected {
			continue
		}

		c, err := Connect(ctx, ServerConfig{Name: sc.Name, ServerURL: sc.ServerURL})
		if err != nil {
			if config.Debug && config.DebugLog != nil {
				config.DebugLog.Printf("[mcp] skipping tool server %s: %v", sc.ServerURL, err)
			}
			continue
		}

		r.mu.Lock()
		r.clients[sc.ServerURL] = c
		for _, tool := range c.Tools() {
			if prev, ok := r.byTool[tool.Name]; ok && prev != c {
				if config.DebugLog != nil {
					config.DebugLog.Printf("[mcp] tool name collision: %s advertised by %s and %s, using %s",
						tool.Name, prev.ServerURL(), c.ServerURL(), c.ServerURL())
				}
			}
			r.byTool[tool.Name] = c
		}
		r.mu.Unlock()
	}
}

// Tools returns the merged catalogue across every connected server.
func (r *Router) Tools() []mcptypes.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []mcptypes.Tool
	for _, c := range r.clients {
		out = append(out, c.Tools()...)
	}
	return out
}

// HasTool reports whether any connected server advertises the name.
func (r *Router) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byTool[name]
	return ok
}

// CallTool routes a tool call to the server advertising it and folds the
// protocol result into the uniform response envelope. Like the local
// executor, it never returns a Go error to the stream: failures become
// error envelopes the model can react to.
func (r *Router) CallTool(ctx context.Context, name string, args map[string]any) model.ToolResponse {
	r.mu.RLock()
	c, ok := r.byTool[name]
	r.mu.RUnlock()

	if !ok {
		return model.ToolResponse{
			Status:  model.ToolError,
			Error:   fmt.Sprintf("no connected server advertises tool %s", name),
			Message: fmt.Sprintf("tool %s not found", name),
		}
	}

	result, err := c.CallTool(ctx, name, args)
	if err != nil {
		return model.ErrorResponse(name, err)
	}

	return convertResult(name, result)
}

// convertResult flattens a protocol tool result into the envelope. Text
// content blocks are concatenated; IsError maps to an error envelope.
func convertResult(name string, result *mcptypes.CallToolResult) model.ToolResponse {
	var text string
	for _, content := range result.Content {
		if tc, ok := content.(mcptypes.TextContent); ok {
			text += tc.Text
		}
	}

	if result.IsError {
		return model.ToolResponse{
			Status:  model.ToolError,
			Content: text,
			Error:   fmt.Sprintf("tool %s reported an error", name),
			Message: text,
		}
	}

	return model.ToolResponse{
		Status:  model.ToolSuccess,
		Content: text,
	}
}

// TestServer checks a server's reachability for the control surface:
// connect, ping, report the tool count, disconnect.
func TestServer(ctx context.Context, sc ServerConfig) (int, error) {
	c, err := Connect(ctx, sc)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	if err := c.Ping(ctx); err != nil {
		return 0, fmt.Errorf("ping failed: %w", err)
	}

	return len(c.Tools()), nil
}

// CloseAll disconnects every server and clears the routing table.
func (r *Router) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for url, c := range r.clients {
		if err := c.Close(); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("[mcp] closing %s: %v", url, err)
		}
		delete(r.clients, url)
	}
	r.byTool = make(map[string]*Client)
}
