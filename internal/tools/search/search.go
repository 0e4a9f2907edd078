// Package search implements the internet search tool on the Serper API
// (Google results as JSON).
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jkaninda/astro/internal/tools"
)

const (
	// ToolName is the name agents reference the tool by.
	ToolName = "search_internet"

	defaultEndpoint   = "https://google.serper.dev/search"
	defaultMaxResults = 10
	defaultTimeout    = 15 * time.Second
	maxResponseBytes  = 2 << 20
)

// ErrNotConfigured is returned by Execute when no API key is set.
var ErrNotConfigured = errors.New("internet search is not configured (set SERPER_API_KEY)")

// Config configures the search tool.
type Config struct {
	APIKey     string
	Endpoint   string
	MaxResults int
	Timeout    time.Duration
}

// Tool searches the internet through Serper.
type Tool struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

// NewTool creates the search tool. An empty API key keeps the tool registered
// but every call fails with ErrNotConfigured, which the agent sees as a tool error.
func NewTool(cfg Config, logger *slog.Logger) *Tool {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMaxResults
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tool{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (t *Tool) Name() string { return ToolName }

// Ready reports ErrNotConfigured while no API key is set. It does not call
// the API, since every Serper request is billed.
func (t *Tool) Ready(context.Context) error {
	if t.config.APIKey == "" {
		return ErrNotConfigured
	}
	return nil
}
func (t *Tool) Description() string {
	return "Search the internet for up-to-date information about a topic. Returns titles, links and snippets."
}
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"search_query": map[string]any{"type": "string", "description": "Mandatory search query you want to use to search the internet"},
			"n_results":    map[string]any{"type": "number", "description": "Number of results to return (default 10)"},
		},
		"required": []string{"search_query"},
	}
}

func (t *Tool) Validate(params map[string]any) error {
	_, err := tools.RequireString(params, "search_query")
	return err
}

// Execute runs the search and returns a numbered result list.
func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	if t.config.APIKey == "" {
		return nil, ErrNotConfigured
	}
	query, err := tools.RequireString(params, "search_query")
	if err != nil {
		return nil, err
	}
	n := tools.OptionalInt(params, "n_results", t.config.MaxResults)
	if n <= 0 || n > t.config.MaxResults {
		n = t.config.MaxResults
	}

	t.logger.InfoContext(ctx, "search executing",
		slog.String("query", query),
		slog.Int("results", n),
	)

	resp, err := t.search(ctx, query, n)
	if err != nil {
		return nil, err
	}
	return &tools.Result{
		Output:  tools.TruncateOutput(formatResults(query, resp, n), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"query":   query,
			"results": min(len(resp.Organic), n),
		},
	}, nil
}

func (t *Tool) search(ctx context.Context, query string, n int) (*serperResponse, error) {
	body, err := json.Marshal(serperRequest{Q: query, Num: n})
	if err != nil {
		return nil, fmt.Errorf("marshaling search request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", t.config.APIKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading search response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var out serperResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}
	return &out, nil
}

func formatResults(query string, resp *serperResponse, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search results for: %s\n\n", query)

	if ab := resp.AnswerBox; ab != nil && (ab.Answer != "" || ab.Snippet != "") {
		answer := ab.Answer
		if answer == "" {
			answer = ab.Snippet
		}
		fmt.Fprintf(&b, "Answer: %s\n\n", answer)
	}
	if kg := resp.KnowledgeGraph; kg != nil && kg.Title != "" {
		fmt.Fprintf(&b, "Knowledge graph: %s", kg.Title)
		if kg.Type != "" {
			fmt.Fprintf(&b, " (%s)", kg.Type)
		}
		b.WriteString("\n")
		if kg.Description != "" {
			fmt.Fprintf(&b, "   %s\n", kg.Description)
		}
		b.WriteString("\n")
	}

	if len(resp.Organic) == 0 {
		b.WriteString("No results found.\n")
		return b.String()
	}
	for i, r := range resp.Organic {
		if i >= n {
			break
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Title)
		fmt.Fprintf(&b, "   Link: %s\n", r.Link)
		if r.Date != "" {
			fmt.Fprintf(&b, "   Date: %s\n", r.Date)
		}
		fmt.Fprintf(&b, "   %s\n\n", r.Snippet)
	}
	return b.String()
}

type serperRequest struct {
	Q   string `json:"q"`
	Num int    `json:"num"`
}

type serperResponse struct {
	AnswerBox      *serperAnswerBox `json:"answerBox,omitempty"`
	KnowledgeGraph *serperKnowledge `json:"knowledgeGraph,omitempty"`
	Organic        []serperOrganic  `json:"organic"`
}

type serperAnswerBox struct {
	Title   string `json:"title"`
	Answer  string `json:"answer"`
	Snippet string `json:"snippet"`
}

type serperKnowledge struct {
	Title       string `json:"title"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type serperOrganic struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Snippet  string `json:"snippet"`
	Date     string `json:"date,omitempty"`
	Position int    `json:"position"`
}
