package mcpserver

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jkaninda/astro/internal/mission"
	"github.com/jkaninda/astro/internal/storage"
)

type stubAsker struct {
	calls []mission.AskRequest
	err   error
}

func (s *stubAsker) Ask(_ context.Context, req mission.AskRequest) (*storage.Run, error) {
	s.calls = append(s.calls, req)
	if req.Query == "" {
		return nil, mission.ErrEmptyQuery
	}
	run := &storage.Run{ID: uuid.New(), Query: req.Query}
	if s.err != nil {
		return run, s.err
	}
	run.Result = "Answer: " + req.Query
	return run, nil
}

func callAsk(t *testing.T, asker *stubAsker, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	s := New(asker, "test", nil)
	tool := s.GetTool(ToolName)
	if tool == nil {
		t.Fatalf("tool %s not registered", ToolName)
	}
	var req mcp.CallToolRequest
	req.Params.Name = ToolName
	req.Params.Arguments = args
	res, err := tool.Handler(context.Background(), req)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return res
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) != 1 {
		t.Fatalf("content = %d items, want 1", len(res.Content))
	}
	text, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("content is %T, want text", res.Content[0])
	}
	return text.Text
}

func TestAskReturnsCrewResult(t *testing.T) {
	asker := &stubAsker{}
	res := callAsk(t, asker, map[string]any{"query": "Next Mars launch?"})

	if res.IsError {
		t.Fatalf("unexpected error result: %s", resultText(t, res))
	}
	if got := resultText(t, res); got != "Answer: Next Mars launch?" {
		t.Errorf("text = %q", got)
	}
	if len(asker.calls) != 1 || asker.calls[0].Source != storage.SourceMCP {
		t.Errorf("calls = %+v", asker.calls)
	}
}

func TestAskMissingQuery(t *testing.T) {
	asker := &stubAsker{}
	res := callAsk(t, asker, map[string]any{})
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if len(asker.calls) != 0 {
		t.Error("crew must not run without a query")
	}
}

func TestAskEmptyQuery(t *testing.T) {
	res := callAsk(t, &stubAsker{}, map[string]any{"query": ""})
	if !res.IsError || resultText(t, res) != mission.EmptyQueryMessage {
		t.Errorf("result = %+v", res)
	}
}

func TestAskCrewFailure(t *testing.T) {
	res := callAsk(t, &stubAsker{err: errors.New("rate limited upstream")}, map[string]any{"query": "q"})
	if !res.IsError {
		t.Fatal("expected error result")
	}
	if got := resultText(t, res); !strings.Contains(got, "rate limited upstream") {
		t.Errorf("text = %q", got)
	}
}
