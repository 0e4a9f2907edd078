// Package mcp bridges tools served by external MCP (Model Context Protocol)
// servers into the agent tool registry.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/astro/internal/config"
	"github.com/jkaninda/astro/internal/tools"
)

// session is the subset of an MCP client the bridge uses.
type session interface {
	Initialize(ctx context.Context, req mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Tool adapts one remote MCP tool to tools.Tool.
type Tool struct {
	name         string // "mcp__<server>__<tool>"
	description  string
	inputSchema  map[string]any
	client       session
	originalName string
	serverName   string
	logger       *slog.Logger
}

func (t *Tool) Name() string                { return t.name }
func (t *Tool) Description() string         { return t.description }
func (t *Tool) InputSchema() map[string]any { return t.inputSchema }

func (t *Tool) Validate(params map[string]any) error {
	required, _ := t.inputSchema["required"].([]any)
	for _, r := range required {
		key, ok := r.(string)
		if !ok {
			continue
		}
		if _, exists := params[key]; !exists {
			return fmt.Errorf("missing required parameter: %s", key)
		}
	}
	return nil
}

func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	t.logger.InfoContext(ctx, "mcp tool executing",
		slog.String("server", t.serverName),
		slog.String("tool", t.originalName),
	)

	req := mcp.CallToolRequest{}
	req.Params.Name = t.originalName
	req.Params.Arguments = params

	res, err := t.client.CallTool(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("MCP call to %s/%s failed: %w", t.serverName, t.originalName, err)
	}
	return &tools.Result{
		Output:  tools.TruncateOutput(formatContent(res.Content), tools.MaxOutputBytes),
		Success: !res.IsError,
		Metadata: map[string]any{
			"mcp_server":    t.serverName,
			"mcp_tool":      t.originalName,
			"content_items": len(res.Content),
		},
	}, nil
}

// formatContent joins text items and serializes anything else as JSON.
func formatContent(content []mcp.Content) string {
	var sb strings.Builder
	for i, c := range content {
		if i > 0 {
			sb.WriteString("\n")
		}
		if tc, ok := mcp.AsTextContent(c); ok {
			sb.WriteString(tc.Text)
			continue
		}
		data, _ := json.Marshal(c)
		sb.Write(data)
	}
	return sb.String()
}

// Bridge owns MCP client connections for the lifetime of the process.
type Bridge struct {
	clients []session
	version string
	logger  *slog.Logger
}

// NewBridge creates a bridge. version is reported to servers in the handshake.
func NewBridge(version string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Bridge{version: version, logger: logger}
}

// ConnectAll connects to every configured server and returns their tools.
// A server that fails to connect is logged and skipped.
func (b *Bridge) ConnectAll(ctx context.Context, servers []config.MCPServerConfig) []tools.Tool {
	var out []tools.Tool
	for _, cfg := range servers {
		discovered, err := b.Connect(ctx, cfg)
		if err != nil {
			b.logger.Warn("MCP server unavailable",
				slog.String("server", cfg.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, t := range discovered {
			out = append(out, t)
		}
	}
	return out
}

// Connect performs the handshake with one server and lists its tools.
func (b *Bridge) Connect(ctx context.Context, cfg config.MCPServerConfig) ([]*Tool, error) {
	c, err := newClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating MCP client for %q: %w", cfg.Name, err)
	}
	discovered, err := b.discover(ctx, cfg, c)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return discovered, nil
}

func (b *Bridge) discover(ctx context.Context, cfg config.MCPServerConfig, c session) ([]*Tool, error) {
	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "astro", Version: b.version}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return nil, fmt.Errorf("MCP initialize for %q: %w", cfg.Name, err)
	}

	list, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("MCP list tools for %q: %w", cfg.Name, err)
	}
	b.clients = append(b.clients, c)

	discovered := make([]*Tool, 0, len(list.Tools))
	for _, t := range list.Tools {
		discovered = append(discovered, &Tool{
			name:         fmt.Sprintf("mcp__%s__%s", cfg.Name, t.Name),
			description:  fmt.Sprintf("[MCP:%s] %s", cfg.Name, t.Description),
			inputSchema:  convertInputSchema(t.InputSchema),
			client:       c,
			originalName: t.Name,
			serverName:   cfg.Name,
			logger:       b.logger,
		})
	}

	b.logger.Info("MCP server connected",
		slog.String("server", cfg.Name),
		slog.String("transport", cfg.Transport),
		slog.Int("tools_discovered", len(discovered)),
	)
	return discovered, nil
}

// Close shuts down all client connections.
func (b *Bridge) Close() {
	for _, c := range b.clients {
		if err := c.Close(); err != nil {
			b.logger.Error("closing MCP client", slog.String("error", err.Error()))
		}
	}
	b.clients = nil
}

func newClient(ctx context.Context, cfg config.MCPServerConfig) (*mcpclient.Client, error) {
	switch cfg.Transport {
	case "stdio", "":
		return mcpclient.NewStdioMCPClient(cfg.Command, expandEnvList(cfg.Env), cfg.Args...)
	case "sse":
		var opts []transport.ClientOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(expandEnv(cfg.Headers)))
		}
		c, err := mcpclient.NewSSEMCPClient(cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		return c, start(ctx, c)
	case "streamable_http":
		var opts []transport.StreamableHTTPCOption
		if len(cfg.Headers) > 0 {
			opts = append(opts, transport.WithHTTPHeaders(expandEnv(cfg.Headers)))
		}
		c, err := mcpclient.NewStreamableHttpClient(cfg.URL, opts...)
		if err != nil {
			return nil, err
		}
		return c, start(ctx, c)
	default:
		return nil, fmt.Errorf("unsupported transport: %s", cfg.Transport)
	}
}

// start opens network transports; stdio clients start on construction.
func start(ctx context.Context, c *mcpclient.Client) error {
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return fmt.Errorf("starting transport: %w", err)
	}
	return nil
}

func convertInputSchema(schema mcp.ToolInputSchema) map[string]any {
	typ := schema.Type
	if typ == "" {
		typ = "object"
	}
	result := map[string]any{"type": typ}
	if schema.Properties != nil {
		result["properties"] = schema.Properties
	}
	if len(schema.Required) > 0 {
		req := make([]any, len(schema.Required))
		for i, r := range schema.Required {
			req[i] = r
		}
		result["required"] = req
	}
	return result
}

func expandEnvList(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, k+"="+os.ExpandEnv(v))
	}
	return env
}

func expandEnv(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = os.ExpandEnv(v)
	}
	return out
}
