package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/astro/internal/crew"
	"github.com/jkaninda/astro/internal/mission"
	"github.com/jkaninda/astro/internal/storage"
)

// Exit codes for the ask command.
const (
	ExitSuccess     = 0
	ExitFailure     = 1
	ExitRejected    = 2
	ExitUnavailable = 3
)

var (
	askQuery   string
	askServer  string
	askAPIKey  string
	askStream  bool
	askTimeout int
	askVerbose bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask the crew one question",
	Long: `Run the crew once on a question and print the answer.
Without --server the crew runs in this process; with --server the question
is sent to a running astro serve instance.

Examples:
  astro ask -q "What are the upcoming missions to Mars?"
  astro ask -q "Plan a lunar sample return" --server http://localhost:8080 --stream

Exit codes:
  0  success
  1  crew run failed
  2  rejected (empty query, unauthorized or rate limited)
  3  server unavailable`,
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askQuery, "query", "q", "", "question to ask (required)")
	askCmd.Flags().StringVar(&askServer, "server", "", "astro server URL (or ASTRO_SERVER_URL env); empty runs locally")
	askCmd.Flags().StringVar(&askAPIKey, "api-key", "", "API key for the server (or ASTRO_API_KEY env)")
	askCmd.Flags().BoolVar(&askStream, "stream", false, "print task progress as it happens")
	askCmd.Flags().IntVar(&askTimeout, "timeout", 600, "timeout in seconds")
	askCmd.Flags().BoolVarP(&askVerbose, "verbose", "v", false, "log crew activity to stderr")
}

func runAsk(_ *cobra.Command, _ []string) error {
	if askQuery == "" {
		fmt.Fprintln(os.Stderr, mission.EmptyQueryMessage)
		os.Exit(ExitRejected)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(askTimeout)*time.Second)
	defer cancel()

	if server := goutils.Env("ASTRO_SERVER_URL", askServer); server != "" {
		apiKey := goutils.Env("ASTRO_API_KEY", askAPIKey)
		server = strings.TrimRight(server, "/")
		if askStream {
			return askRemoteSSE(ctx, server, apiKey)
		}
		return askRemote(ctx, server, apiKey)
	}
	return askLocal(ctx)
}

// askLocal runs the crew in-process.
func askLocal(ctx context.Context) error {
	level := slog.LevelWarn
	if askVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Cleanup()

	if askStream {
		ctx = crew.WithObserver(ctx, crew.ObserverFunc(printEvent))
	}

	run, err := c.Missions.Ask(ctx, mission.AskRequest{Query: askQuery, Source: storage.SourceCLI, UserID: currentUser()})
	if err != nil {
		if run != nil {
			return fmt.Errorf("run %s: %w", run.ID, err)
		}
		return err
	}
	fmt.Println(run.Result)
	fmt.Fprintf(os.Stderr, "\n[run_id=%s tokens=%d duration=%s]\n",
		run.ID, run.InputTokens+run.OutputTokens, time.Duration(run.DurationMS)*time.Millisecond)
	return nil
}

func printEvent(_ context.Context, ev crew.Event) {
	switch ev.Type {
	case crew.EventTaskStarted:
		fmt.Fprintf(os.Stderr, "[%s] %s started\n", ev.Agent, ev.Task)
	case crew.EventToolCall:
		fmt.Fprintf(os.Stderr, "[%s] tool: %s\n", ev.Agent, ev.Tool)
	case crew.EventTaskCompleted:
		fmt.Fprintf(os.Stderr, "[%s] %s completed\n", ev.Agent, ev.Task)
	}
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "cli"
}

func newQueryRequest(ctx context.Context, url, apiKey string) (*http.Request, error) {
	body, err := json.Marshal(map[string]string{"query": askQuery})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// askRemote sends a synchronous query and prints the answer.
func askRemote(ctx context.Context, server, apiKey string) error {
	req, err := newQueryRequest(ctx, server+"/v1/query", apiKey)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", server, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		var result struct {
			ID            string `json:"id"`
			Result        string `json:"result"`
			InputTokens   int    `json:"input_tokens"`
			OutputTokens  int    `json:"output_tokens"`
			CorrelationID string `json:"correlation_id"`
		}
		if err := json.Unmarshal(respBody, &result); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		fmt.Println(result.Result)
		fmt.Fprintf(os.Stderr, "\n[run_id=%s correlation_id=%s tokens=%d]\n",
			result.ID, result.CorrelationID, result.InputTokens+result.OutputTokens)
		return nil
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusTooManyRequests:
		fmt.Fprintf(os.Stderr, "Error: %s\n", errorMessage(respBody, resp.Status))
		os.Exit(ExitRejected)
	case http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		fmt.Fprintf(os.Stderr, "Error: server unavailable (%d)\n", resp.StatusCode)
		os.Exit(ExitUnavailable)
	}
	fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, errorMessage(respBody, resp.Status))
	os.Exit(ExitFailure)
	return nil
}

// askRemoteSSE sends a streaming query and prints task events as they arrive.
func askRemoteSSE(ctx context.Context, server, apiKey string) error {
	req, err := newQueryRequest(ctx, server+"/v1/query/stream", apiKey)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach server at %s: %v\n", server, err)
		os.Exit(ExitUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, errorMessage(body, resp.Status))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusTooManyRequests {
			os.Exit(ExitRejected)
		}
		os.Exit(ExitFailure)
	}

	var event string
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 4<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event:"); ok {
			event = strings.TrimSpace(name)
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok || strings.TrimSpace(data) == "" {
			continue
		}
		var ev struct {
			Task    string `json:"task"`
			Agent   string `json:"agent"`
			Tool    string `json:"tool"`
			Content string `json:"content"`
			RunID   string `json:"run_id"`
		}
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
			continue
		}
		switch event {
		case "done":
			fmt.Println(ev.Content)
			fmt.Fprintf(os.Stderr, "\n[run_id=%s]\n", ev.RunID)
			return nil
		case "error":
			fmt.Fprintf(os.Stderr, "Error: %s (run %s)\n", ev.Content, ev.RunID)
			os.Exit(ExitFailure)
		default:
			printEvent(ctx, crew.Event{Type: crew.EventType(event), Task: ev.Task, Agent: ev.Agent, Tool: ev.Tool})
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream interrupted: %w", err)
	}
	return errors.New("stream ended without a result")
}

func errorMessage(body []byte, fallback string) string {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if e.Message != "" {
			return e.Message
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return fallback
}
