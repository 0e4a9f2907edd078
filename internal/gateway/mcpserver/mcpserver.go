// Package mcpserver exposes the crew as an MCP tool so that other agents
// and MCP clients can ask the space crew questions over stdio.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jkaninda/astro/internal/mission"
	"github.com/jkaninda/astro/internal/storage"
)

// ToolName is the name of the single tool the server offers.
const ToolName = "ask_space_agents"

const instructions = `This server answers questions about space missions with a crew of
four agents: a mission planner, a space operations expert, a space data
analyst and a QA expert. Call ask_space_agents with the full question.
A run can take several minutes.`

// Asker submits a query to the crew. *mission.Service implements it.
type Asker interface {
	Ask(ctx context.Context, req mission.AskRequest) (*storage.Run, error)
}

// New creates an MCP server with the ask_space_agents tool registered.
func New(asker Asker, version string, logger *slog.Logger) *server.MCPServer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := server.NewMCPServer(
		"astro",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(instructions),
	)

	tool := mcp.NewTool(ToolName,
		mcp.WithDescription("Ask the space agents crew a question about space missions. Returns the reviewed answer."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The question, e.g. \"What are the upcoming missions to Mars?\""),
		),
	)
	s.AddTool(tool, askHandler(asker, logger))
	return s
}

func askHandler(asker Asker, logger *slog.Logger) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		run, err := asker.Ask(ctx, mission.AskRequest{Query: query, Source: storage.SourceMCP, UserID: "mcp"})
		if errors.Is(err, mission.ErrEmptyQuery) {
			return mcp.NewToolResultError(mission.EmptyQueryMessage), nil
		}
		if err != nil {
			logger.ErrorContext(ctx, "mcp crew run failed", slog.String("error", err.Error()))
			msg := fmt.Sprintf("crew run failed: %v", err)
			if run != nil {
				msg += " (run " + run.ID.String() + ")"
			}
			return mcp.NewToolResultError(msg), nil
		}
		return mcp.NewToolResultText(run.Result), nil
	}
}

// ServeStdio serves s on stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}
