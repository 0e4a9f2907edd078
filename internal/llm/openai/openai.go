// Package openai implements llm.Provider on the OpenAI Chat Completions API.
// Ollama is served by the same client through its OpenAI-compatible endpoint.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jkaninda/astro/internal/llm"
)

const (
	defaultBaseURL   = "https://api.openai.com"
	completionsPath  = "/v1/chat/completions"
	modelsPath       = "/v1/models"
	defaultMaxTokens = 4096
	maxErrorBody     = 4096
)

// Client implements llm.Provider for OpenAI-compatible chat APIs.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	name       string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithName overrides the provider name (e.g. "ollama").
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// NewClient creates an OpenAI-compatible provider. model is the default for
// requests that do not set llm.Request.Model.
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		name:       "openai",
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// Model returns the default model.
func (c *Client) Model() string { return c.model }

// APIError is a non-200 answer from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// SendMessage sends the conversation and returns the first choice.
func (c *Client) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	payload := c.encodeRequest(req)

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+completionsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, decodeError(httpResp.StatusCode, respBody)
	}

	var decoded apiResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	resp := decodeResponse(&decoded)
	if resp.Model == "" {
		resp.Model = payload.Model
	}

	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", c.name),
		slog.String("model", resp.Model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)
	return resp, nil
}

// Ping lists the models, which checks the endpoint and the key without
// spending tokens.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+modelsPath, nil)
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, body)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := ""
	if json.Unmarshal(body, &envelope) == nil {
		msg = envelope.Error.Message
	}
	if msg == "" {
		msg = string(body)
		if len(msg) > maxErrorBody {
			msg = msg[:maxErrorBody]
		}
	}
	return &APIError{StatusCode: status, Message: msg}
}

func (c *Client) encodeRequest(req *llm.Request) apiRequest {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	out := apiRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}
	if req.SystemPrompt != "" {
		out.Messages = append(out.Messages, apiMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, encodeMessage(m)...)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, apiTool{
			Type: "function",
			Function: apiFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}
	return out
}

// encodeMessage maps one llm.Message onto API messages. Assistant tool calls
// stay in one message; each tool result becomes its own "tool" message placed
// after any user text.
func encodeMessage(m llm.Message) []apiMessage {
	if len(m.ContentBlocks) == 0 {
		return []apiMessage{{Role: string(m.Role), Content: m.Content}}
	}

	var text strings.Builder
	var calls []apiToolCall
	var results []apiMessage
	for _, b := range m.ContentBlocks {
		switch b.Type {
		case llm.BlockText:
			text.WriteString(b.Text)
		case llm.BlockToolUse:
			args, _ := json.Marshal(b.Input)
			calls = append(calls, apiToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: apiToolCallFunction{Name: b.Name, Arguments: string(args)},
			})
		case llm.BlockToolResult:
			results = append(results, apiMessage{Role: "tool", Content: b.Text, ToolCallID: b.ToolUseID})
		}
	}

	if m.Role == llm.RoleAssistant {
		return []apiMessage{{Role: "assistant", Content: text.String(), ToolCalls: calls}}
	}
	if text.Len() > 0 {
		return append([]apiMessage{{Role: "user", Content: text.String()}}, results...)
	}
	return results
}

func decodeResponse(r *apiResponse) *llm.Response {
	resp := &llm.Response{
		Model: r.Model,
		Usage: llm.Usage{
			InputTokens:  r.Usage.PromptTokens,
			OutputTokens: r.Usage.CompletionTokens,
		},
	}
	if len(r.Choices) == 0 {
		return resp
	}

	choice := r.Choices[0]
	if choice.Message.Content != "" {
		resp.Content = choice.Message.Content
		resp.ContentBlocks = append(resp.ContentBlocks, llm.TextBlock(choice.Message.Content))
	}
	for _, tc := range choice.Message.ToolCalls {
		var input map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil || input == nil {
			input = map[string]any{}
		}
		resp.ContentBlocks = append(resp.ContentBlocks, llm.ToolUseBlock(tc.ID, tc.Function.Name, input))
	}
	resp.StopReason = normalizeFinishReason(choice.FinishReason)
	return resp
}

func normalizeFinishReason(reason string) string {
	switch reason {
	case "stop":
		return llm.StopEndTurn
	case "tool_calls", "function_call":
		return llm.StopToolUse
	case "length":
		return llm.StopMaxTokens
	default:
		return reason
	}
}

// Wire types.

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature *float64     `json:"temperature,omitempty"`
	Tools       []apiTool    `json:"tools,omitempty"`
}

type apiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type apiTool struct {
	Type     string      `json:"type"`
	Function apiFunction `json:"function"`
}

type apiFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type apiToolCall struct {
	ID       string              `json:"id"`
	Type     string              `json:"type"`
	Function apiToolCallFunction `json:"function"`
}

type apiToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type apiResponse struct {
	Model   string      `json:"model"`
	Choices []apiChoice `json:"choices"`
	Usage   apiUsage    `json:"usage"`
}

type apiChoice struct {
	Message      apiChoiceMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

type apiChoiceMessage struct {
	Role      string        `json:"role"`
	Content   string        `json:"content"`
	ToolCalls []apiToolCall `json:"tool_calls,omitempty"`
}

type apiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}
