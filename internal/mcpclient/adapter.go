// Package mcpclient implements the protocol client used to exercise MCP
// tool servers. It hides the transport behind a session façade: callers
// connect, discover the tool catalog once, and invoke tools; transport
// selection (streamable HTTP, SSE, stdio against a launched process) happens
// from the target descriptor.
package mcpclient

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/giantswarm/mcp-doctor/internal/logging"
)

// protocolVersion is the MCP protocol revision spoken during the handshake.
const protocolVersion = "2024-11-05"

// adapter abstracts one transport-bound MCP session. Implementations are
// constructed disconnected; connect establishes the transport and performs
// the handshake.
type adapter interface {
	connect(ctx context.Context) error
	discover(ctx context.Context) ([]mcp.Tool, error)
	invoke(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	close() error
}

// mcpAdapter drives any of the three transports through mcp-go's client.
// The variants differ only in how the underlying client is constructed.
type mcpAdapter struct {
	endpoint string
	mc       *client.Client
	logger   *logging.Logger
	version  string
	caps     *mcp.ServerCapabilities
}

func (a *mcpAdapter) connect(ctx context.Context) error {
	if err := a.mc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	a.mc.OnNotification(func(notification mcp.JSONRPCNotification) {
		a.logger.Debug("Notification: %s", notification.Method)
	})

	req := mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: protocolVersion,
			ClientInfo: mcp.Implementation{
				Name:    "mcp-doctor",
				Version: a.version,
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	}

	a.logger.Request("initialize", req.Params)
	result, err := a.mc.Initialize(ctx, req)
	if err != nil {
		return fmt.Errorf("initialize failed: %w", err)
	}
	a.logger.Response("initialize", result)

	a.caps = &result.Capabilities
	return nil
}

func (a *mcpAdapter) discover(ctx context.Context) ([]mcp.Tool, error) {
	if a.caps == nil || a.caps.Tools == nil {
		return nil, &ProtocolError{Endpoint: a.endpoint, Reason: "server does not advertise the tools capability"}
	}

	req := mcp.ListToolsRequest{}
	a.logger.Request("tools/list", req.Params)
	result, err := a.mc.ListTools(ctx, req)
	if err != nil {
		return nil, &ProtocolError{Endpoint: a.endpoint, Reason: "tool listing failed", Err: err}
	}
	a.logger.Response("tools/list", result)

	return result.Tools, nil
}

func (a *mcpAdapter) invoke(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}

	a.logger.Request("tools/call", req.Params)
	result, err := a.mc.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}
	a.logger.Response("tools/call", result)
	return result, nil
}

func (a *mcpAdapter) close() error {
	return a.mc.Close()
}
