// Astro runs the Space Agents crew: four LLM agents that plan, elaborate,
// analyze and review answers to questions about space missions.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "astro",
	Short: "Space Agents: a crew of AI agents answering space mission questions.",
	Long: `Astro routes a question about space missions through a crew of four agents:
a mission planner, a space operations expert, a space data analyst and a
QA expert. It serves a web page, a JSON API and a websocket endpoint, and
can also answer one-shot questions from the command line.`,
	RunE:          runServe, // Default to serve mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, askCmd, runsCmd, mcpCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
