// Package mcp connects to remote tool servers over the Model Context
// Protocol and routes tool calls to the server that advertises each tool.
package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"askd/config"
)

const protocolVersion = "2025-06-18"

// ServerConfig identifies one remote tool server.
type ServerConfig struct {
	Name      string
	ServerURL string
}

// Client wraps one connected remote tool server: the underlying protocol
// client plus the tool catalogue fetched at connect time.
type Client struct {
	name      string
	serverURL string
	mc        *client.Client
	tools     []mcptypes.Tool
}

// Connect establishes a connection to a remote tool server. Streamable HTTP
// is tried first; any failure there falls back to SSE. Both transports
// expose the identical client interface, so callers never see which one won.
func Connect(ctx context.Context, sc ServerConfig) (*Client, error) {
	if sc.ServerURL == "" {
		return nil, fmt.Errorf("no server URL provided")
	}

	mc, err := connectStreamableHTTP(ctx, sc.ServerURL)
	if err != nil {
		if config.Debug && config.DebugLog != nil {
			config.DebugLog.Printf("[mcp] streamable HTTP connect to %s failed, falling back to SSE: %v", sc.ServerURL, err)
		}
		mc, err = connectSSE(ctx, sc.ServerURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to tool server %s: %w", sc.ServerURL, err)
		}
	}

	c := &Client{
		name:      sc.Name,
		serverURL: sc.ServerURL,
		mc:        mc,
	}

	if err := c.initialize(ctx); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}

func connectStreamableHTTP(ctx context.Context, serverURL string) (*client.Client, error) {
	mc, err := client.NewStreamableHttpClient(serverURL)
	if err != nil {
		return nil, err
	}

	// Transport must be started before Initialize/ListTools
	if err := mc.GetTransport().Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start HTTP transport: %w", err)
	}

	return mc, nil
}

func connectSSE(ctx context.Context, serverURL string) (*client.Client, error) {
	mc, err := client.NewSSEMCPClient(serverURL)
	if err != nil {
		return nil, err
	}

	if err := mc.GetTransport().Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start SSE transport: %w", err)
	}

	return mc, nil
}

func (c *Client) initialize(ctx context.Context) error {
	initReq := mcptypes.InitializeRequest{
		Params: mcptypes.InitializeParams{
			ProtocolVersion: protocolVersion,
			Capabilities:    mcptypes.ClientCapabilities{},
			ClientInfo: mcptypes.Implementation{
				Name:    "askd",
				Version: "1.0.0",
			},
		},
	}

	if _, err := c.mc.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("failed to initialize tool server %s: %w", c.serverURL, err)
	}

	toolsResult, err := c.mc.ListTools(ctx, mcptypes.ListToolsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list tools for %s: %w", c.serverURL, err)
	}
	c.tools = toolsResult.Tools

	if config.Debug && config.DebugLog != nil {
		names := make([]string, 0, len(c.tools))
		for _, t := range c.tools {
			names = append(names, t.Name)
		}
		config.DebugLog.Printf("[mcp] connected to %s, tools: %v", c.serverURL, names)
	}

	return nil
}

// Tools returns the catalogue fetched at connect time.
func (c *Client) Tools() []mcptypes.Tool {
	return c.tools
}

// ServerURL returns the address this client is connected to.
func (c *Client) ServerURL() string {
	return c.serverURL
}

// CallTool invokes a tool on this server.
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]any) (*mcptypes.CallToolResult, error) {
	result, err := c.mc.CallTool(ctx, mcptypes.CallToolRequest{
		Params: mcptypes.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tool call %s on %s failed: %w", toolName, c.serverURL, err)
	}

	return result, nil
}

// Ping checks that the server is still reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.mc.Ping(ctx)
}

// Close shuts the connection down.
func (c *Client) Close() error {
	return c.mc.Close()
}
