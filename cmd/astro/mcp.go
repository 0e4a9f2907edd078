package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jkaninda/astro/internal/gateway/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the crew as an MCP tool over stdio",
	Long: `Start an MCP server on stdin/stdout exposing the ask_space_agents tool,
so MCP clients can put questions to the crew. Logs go to stderr.`,
	RunE: runMCP,
}

func runMCP(_ *cobra.Command, _ []string) error {
	// Stdout carries the protocol.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := initShared(context.Background(), cfg, logger)
	if err != nil {
		return err
	}
	defer c.Cleanup()

	return mcpserver.ServeStdio(mcpserver.New(c.Missions, version, logger))
}
