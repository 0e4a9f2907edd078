package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jkaninda/astro/internal/storage"
)

var (
	runsLimit  int
	runsSource string
	runsStatus string
	runsJSON   bool
)

var runsCmd = &cobra.Command{
	Use:   "runs [run-id]",
	Short: "List recent crew runs, or show one run with its task outputs",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRuns,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "number of runs to list")
	runsCmd.Flags().StringVar(&runsSource, "source", "", "filter by source (web, api, websocket, cli, scheduler, mcp)")
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status (running, completed, failed)")
	runsCmd.Flags().BoolVar(&runsJSON, "json", false, "print JSON")
}

// runRuns reads the run store directly, so no LLM key is needed.
func runRuns(_ *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", args[0], err)
		}
		run, err := store.Runs().GetRun(ctx, id)
		if err != nil {
			return err
		}
		if runsJSON {
			return printJSON(os.Stdout, run)
		}
		printRun(os.Stdout, run)
		return nil
	}

	runs, err := store.Runs().ListRuns(ctx, storage.RunFilter{
		Source: runsSource,
		Status: storage.RunStatus(runsStatus),
		Limit:  runsLimit,
	})
	if err != nil {
		return err
	}
	if runsJSON {
		return printJSON(os.Stdout, runs)
	}
	printRunTable(os.Stdout, runs)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRunTable(w io.Writer, runs []storage.Run) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tSOURCE\tSTATUS\tTOKENS\tDURATION\tQUERY")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.ID,
			r.CreatedAt.Local().Format(time.DateTime),
			r.Source,
			r.Status,
			r.InputTokens+r.OutputTokens,
			time.Duration(r.DurationMS)*time.Millisecond,
			truncate(r.Query, 60),
		)
	}
	_ = tw.Flush()
}

func printRun(w io.Writer, r *storage.Run) {
	fmt.Fprintf(w, "Run:      %s\n", r.ID)
	fmt.Fprintf(w, "Query:    %s\n", r.Query)
	fmt.Fprintf(w, "Status:   %s\n", r.Status)
	fmt.Fprintf(w, "Source:   %s\n", r.Source)
	fmt.Fprintf(w, "Tokens:   %d in / %d out\n", r.InputTokens, r.OutputTokens)
	if r.Error != "" {
		fmt.Fprintf(w, "Error:    %s\n", r.Error)
	}
	for _, t := range r.Tasks {
		fmt.Fprintf(w, "\n--- %d. %s (%s) ---\n%s\n", t.Position+1, t.Name, t.Agent, t.Output)
	}
	if r.Result != "" {
		fmt.Fprintf(w, "\nResult:\n%s\n", r.Result)
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
