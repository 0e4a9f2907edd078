// Package llm defines the provider-agnostic chat interface the crew runs on.
package llm

import (
	"context"
	"strings"
)

// Provider is the abstraction over a chat completion backend.
type Provider interface {
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	Name() string
}

// Pinger is implemented by providers that can check their backend is
// reachable without spending tokens.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks p when it implements Pinger. Other providers report healthy.
func Ping(ctx context.Context, p Provider) error {
	if pp, ok := p.(Pinger); ok {
		return pp.Ping(ctx)
	}
	return nil
}

// Request is one conversation turn sent to the model.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Tools        []ToolDefinition // nil = no tool use

	// Model overrides the provider's configured model for this call (the crew
	// manager runs on a different model than the agents). Empty = provider default.
	Model string
	// Temperature is sent only when set.
	Temperature *float64
}

// Float returns a pointer to v, for optional request fields.
func Float(v float64) *float64 { return &v }

// ToolDefinition describes a tool the model can call.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Block types.
const (
	BlockText       = "text"
	BlockToolUse    = "tool_use"
	BlockToolResult = "tool_result"
)

// Message is a single turn. Either Content or ContentBlocks is set.
type Message struct {
	Role          Role
	Content       string
	ContentBlocks []ContentBlock
}

// TextContent returns the text of the message, joining text blocks.
func (m *Message) TextContent() string {
	if len(m.ContentBlocks) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, b := range m.ContentBlocks {
		if b.Type == BlockText {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ContentBlock is a tagged union; Type selects which fields are meaningful.
type ContentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	ToolUseID string `json:"tool_use_id,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock creates a tool call block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock creates a tool result block answering the call toolUseID.
func ToolResultBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ToolUseID: toolUseID, Text: content, IsError: isError}
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Stop reasons, normalized across providers.
const (
	StopEndTurn   = "end_turn"
	StopToolUse   = "tool_use"
	StopMaxTokens = "max_tokens"
)

// Response is the model's answer.
type Response struct {
	Content       string
	ContentBlocks []ContentBlock
	Usage         Usage
	StopReason    string
	Model         string
}

// HasToolUse reports whether the model is asking for tool execution.
func (r *Response) HasToolUse() bool {
	return r.StopReason == StopToolUse
}

// ToolUseBlocks returns the tool call blocks of the response.
func (r *Response) ToolUseBlocks() []ContentBlock {
	var blocks []ContentBlock
	for _, b := range r.ContentBlocks {
		if b.Type == BlockToolUse {
			blocks = append(blocks, b)
		}
	}
	return blocks
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}
