package crew

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/jkaninda/astro/internal/llm"
	"github.com/jkaninda/astro/internal/tools"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProvider answers with respond and records every request.
type scriptedProvider struct {
	mu       sync.Mutex
	requests []*llm.Request
	respond  func(req *llm.Request, call int) (*llm.Response, error)
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) SendMessage(_ context.Context, req *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	call := len(p.requests)
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	return p.respond(req, call)
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func textResponse(s string) *llm.Response {
	return &llm.Response{
		Content:       s,
		ContentBlocks: []llm.ContentBlock{llm.TextBlock(s)},
		StopReason:    llm.StopEndTurn,
		Usage:         llm.Usage{InputTokens: 10, OutputTokens: 5},
	}
}

func toolResponse(id, name string, input map[string]any) *llm.Response {
	return &llm.Response{
		ContentBlocks: []llm.ContentBlock{llm.ToolUseBlock(id, name, input)},
		StopReason:    llm.StopToolUse,
		Usage:         llm.Usage{InputTokens: 7, OutputTokens: 3},
	}
}

// roleOf extracts the agent role from a system prompt.
func roleOf(req *llm.Request) string {
	s := strings.TrimPrefix(req.SystemPrompt, "You are ")
	if i := strings.Index(s, ". "); i >= 0 {
		return s[:i]
	}
	return s
}

func lastToolResult(req *llm.Request) (llm.ContentBlock, bool) {
	if len(req.Messages) == 0 {
		return llm.ContentBlock{}, false
	}
	for _, b := range req.Messages[len(req.Messages)-1].ContentBlocks {
		if b.Type == llm.BlockToolResult {
			return b, true
		}
	}
	return llm.ContentBlock{}, false
}

func hasTool(req *llm.Request, name string) bool {
	for _, d := range req.Tools {
		if d.Name == name {
			return true
		}
	}
	return false
}

type recordingTool struct {
	name   string
	output string
	err    error
	mu     sync.Mutex
	params []map[string]any
}

func (t *recordingTool) Name() string                { return t.name }
func (t *recordingTool) Description() string         { return "test tool " + t.name }
func (t *recordingTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (t *recordingTool) Validate(map[string]any) error {
	return nil
}
func (t *recordingTool) Execute(_ context.Context, params map[string]any) (*tools.Result, error) {
	t.mu.Lock()
	t.params = append(t.params, params)
	t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	return &tools.Result{Output: t.output, Success: true}, nil
}

func spaceRegistry() *tools.Registry {
	return tools.NewRegistry(
		&recordingTool{name: ToolSearchInternet, output: "search results"},
		&recordingTool{name: ToolScrapeWebsite, output: "page text"},
	)
}

// --- definition ---

func TestSpaceCrewTasksReferenceAgentsInOrder(t *testing.T) {
	c := SpaceCrew()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	wantOrder := []string{RoleMissionPlanner, RoleOperationsExpert, RoleDataAnalyst, RoleQAExpert}
	if len(c.Agents) != 4 || len(c.Tasks) != 4 {
		t.Fatalf("agents = %d, tasks = %d, want 4 and 4", len(c.Agents), len(c.Tasks))
	}
	for i, role := range wantOrder {
		if c.Agents[i].Role != role {
			t.Errorf("agent %d = %q, want %q", i, c.Agents[i].Role, role)
		}
		if c.Tasks[i].Agent != c.Agents[i].Role {
			t.Errorf("task %d agent = %q, want %q", i, c.Tasks[i].Agent, c.Agents[i].Role)
		}
		if !c.Agents[i].AllowDelegation {
			t.Errorf("agent %q should allow delegation", role)
		}
	}
	if c.Process != ProcessSequential {
		t.Errorf("process = %q", c.Process)
	}

	ops, _ := c.Agent(RoleOperationsExpert)
	if fmt.Sprint(ops.Tools) != "[search_internet scrape_website]" {
		t.Errorf("operations tools = %v", ops.Tools)
	}
	qa, _ := c.Agent(RoleQAExpert)
	if fmt.Sprint(qa.Tools) != "[search_internet]" {
		t.Errorf("qa tools = %v", qa.Tools)
	}
	planner, _ := c.Agent(RoleMissionPlanner)
	analyst, _ := c.Agent(RoleDataAnalyst)
	if len(planner.Tools) != 0 || len(analyst.Tools) != 0 {
		t.Error("planner and analyst have no tools")
	}
	if planner.Goal != "Provide high-level, strategic advice for space mission planning based on the user's query." {
		t.Errorf("planner goal = %q", planner.Goal)
	}
	if c.Tasks[2].ExpectedOutput != "An optimized and correct SQL query." {
		t.Errorf("analyst expected output = %q", c.Tasks[2].ExpectedOutput)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Crew)
		is     error
	}{
		{"unknown agent", func(c *Crew) { c.Tasks[1].Agent = "Flight Director" }, ErrUnknownAgent},
		{"no agents", func(c *Crew) { c.Agents = nil }, ErrInvalidCrew},
		{"no tasks", func(c *Crew) { c.Tasks = nil }, ErrInvalidCrew},
		{"duplicate role", func(c *Crew) { c.Agents[1].Role = c.Agents[0].Role }, ErrInvalidCrew},
		{"empty description", func(c *Crew) { c.Tasks[0].Description = " " }, ErrInvalidCrew},
		{"context references later task", func(c *Crew) { c.Tasks[0].Context = []string{"quality_assurance"} }, ErrInvalidCrew},
		{"hierarchical without manager", func(c *Crew) { c.Process = ProcessHierarchical }, ErrInvalidCrew},
		{"unknown process", func(c *Crew) { c.Process = "parallel" }, ErrInvalidCrew},
		{"temperature out of range", func(c *Crew) { c.Agents[0].Temperature = llm.Float(2.5) }, ErrInvalidCrew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := SpaceCrew()
			tt.mutate(c)
			err := c.Validate()
			if !errors.Is(err, tt.is) {
				t.Fatalf("Validate() = %v, want %v", err, tt.is)
			}
		})
	}
}

func TestNewRejectsUnknownTool(t *testing.T) {
	provider := &scriptedProvider{respond: func(*llm.Request, int) (*llm.Response, error) { return textResponse("x"), nil }}
	_, err := New(SpaceCrew(), provider, tools.NewRegistry())
	if err == nil || !strings.Contains(err.Error(), "search_internet") {
		t.Fatalf("New() = %v, want unknown tool error", err)
	}
}

// --- sequential kickoff ---

func TestKickoffSequential(t *testing.T) {
	provider := &scriptedProvider{respond: func(req *llm.Request, call int) (*llm.Response, error) {
		return textResponse(fmt.Sprintf("answer from %s", roleOf(req))), nil
	}}

	var (
		mu     sync.Mutex
		events []Event
	)
	runner, err := New(SpaceCrew(), provider, spaceRegistry(), WithLogger(discardLogger()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := WithObserver(context.Background(), ObserverFunc(func(_ context.Context, ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}))

	out, err := runner.Kickoff(ctx, map[string]string{"query": "How do we plan a Mars sample return?"})
	if err != nil {
		t.Fatalf("Kickoff: %v", err)
	}

	if provider.calls() != 4 {
		t.Fatalf("provider calls = %d, want 4", provider.calls())
	}
	wantRoles := []string{RoleMissionPlanner, RoleOperationsExpert, RoleDataAnalyst, RoleQAExpert}
	for i, req := range provider.requests {
		if got := roleOf(req); got != wantRoles[i] {
			t.Errorf("call %d role = %q, want %q", i, got, wantRoles[i])
		}
		prompt := req.Messages[0].Content
		if !strings.Contains(prompt, "query: How do we plan a Mars sample return?") {
			t.Errorf("call %d prompt missing query:\n%s", i, prompt)
		}
		for _, prev := range wantRoles[:i] {
			if !strings.Contains(prompt, "answer from "+prev) {
				t.Errorf("call %d prompt missing output of %s", i, prev)
			}
		}
	}

	if out.Raw != "answer from "+RoleQAExpert {
		t.Errorf("Raw = %q", out.Raw)
	}
	if len(out.TasksOutput) != 4 || out.TasksOutput[0].Task != "mission_planning" {
		t.Errorf("tasks output = %+v", out.TasksOutput)
	}
	if out.Usage.Total() != 60 {
		t.Errorf("usage total = %d, want 60", out.Usage.Total())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 9 {
		t.Fatalf("events = %d, want 9 (4 started, 4 completed, 1 crew)", len(events))
	}
	if events[0].Type != EventTaskStarted || events[0].Agent != RoleMissionPlanner {
		t.Errorf("first event = %+v", events[0])
	}
	if last := events[len(events)-1]; last.Type != EventCrewCompleted || last.Content != out.Raw {
		t.Errorf("last event = %+v", last)
	}
}

func TestKickoffInterpolatesPlaceholders(t *testing.T) {
	def := &Crew{
		Name:   "briefing",
		Agents: []Agent{{Role: "Analyst", Goal: "Answer about {mission}", Backstory: "Expert"}},
		Tasks:  []Task{{Description: "Summarize {mission} for {audience}", ExpectedOutput: "A {mission} summary", Agent: "Analyst"}},
	}
	provider := &scriptedProvider{respond: func(*llm.Request, int) (*llm.Response, error) { return textResponse("ok"), nil }}
	runner, err := New(def, provider, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := runner.Kickoff(context.Background(), map[string]string{"mission": "Europa Clipper"}); err != nil {
		t.Fatalf("Kickoff: %v", err)
	}
	req := provider.requests[0]
	if !strings.Contains(req.SystemPrompt, "Answer about Europa Clipper") {
		t.Errorf("system prompt = %q", req.SystemPrompt)
	}
	prompt := req.Messages[0].Content
	if !strings.Contains(prompt, "Summarize Europa Clipper for {audience}") {
		t.Errorf("prompt = %q", prompt)
	}
	if !strings.Contains(prompt, "A Europa Clipper summary") {
		t.Errorf("expected output not interpolated: %q", prompt)
	}
	if runner.Definition().Tasks[0].Description != "Summarize {mission} for {audience}" {
		t.Error("kickoff must not modify the runner's definition")
	}
}

func TestKickoffTaskContextSelection(t *testing.T) {
	def := &Crew{
		Name:   "ctx",
		Agents: []Agent{{Role: "A", Goal: "g", Backstory: "b"}},
		Tasks: []Task{
			{Name: "first", Description: "one", Agent: "A"},
			{Name: "second", Description: "two", Agent: "A"},
			{Name: "third", Description: "three", Agent: "A", Context: []string{"first"}},
		},
	}
	provider := &scriptedProvider{respond: func(_ *llm.Request, call int) (*llm.Response, error) {
		return textResponse(fmt.Sprintf("output-%d", call+1)), nil
	}}
	runner, err := New(def, provider, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := runner.Kickoff(context.Background(), nil); err != nil {
		t.Fatalf("Kickoff: %v", err)
	}
	prompt := provider.requests[2].Messages[0].Content
	if !strings.Contains(prompt, "output-1") || strings.Contains(prompt, "output-2") {
		t.Errorf("third task should only see the first output:\n%s", prompt)
	}
}

func TestKickoffProviderErrorPropagates(t *testing.T) {
	provider := &scriptedProvider{respond: func(_ *llm.Request, call int) (*llm.Response, error) {
		if call == 1 {
			return nil, errors.New("rate limited")
		}
		return textResponse("ok"), nil
	}}
	runner, err := New(SpaceCrew(), provider, spaceRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var failed bool
	ctx := WithObserver(context.Background(), ObserverFunc(func(_ context.Context, ev Event) {
		if ev.Type == EventCrewFailed {
			failed = true
		}
	}))
	_, err = runner.Kickoff(ctx, map[string]string{"query": "q"})
	if err == nil || !strings.Contains(err.Error(), "rate limited") || !strings.Contains(err.Error(), "space_operations") {
		t.Fatalf("Kickoff() = %v", err)
	}
	if provider.calls() != 2 {
		t.Errorf("provider calls = %d, want 2 (stop after failure)", provider.calls())
	}
	if !failed {
		t.Error("crew_failed event not emitted")
	}
}

// --- tool loop ---

func TestAgentToolLoop(t *testing.T) {
	search := &recordingTool{name: ToolSearchInternet, output: "Artemis II launches in 2026"}
	def := &Crew{
		Name:   "tools",
		Agents: []Agent{{Role: "Ops", Goal: "g", Backstory: "b", Tools: []string{ToolSearchInternet}}},
		Tasks:  []Task{{Description: "Find the launch date", Agent: "Ops"}},
	}
	provider := &scriptedProvider{respond: func(req *llm.Request, call int) (*llm.Response, error) {
		if call == 0 {
			return toolResponse("call_1", ToolSearchInternet, map[string]any{"search_query": "Artemis II"}), nil
		}
		return textResponse("It launches in 2026."), nil
	}}
	runner, err := New(def, provider, tools.NewRegistry(search))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var toolEvents []Event
	ctx := WithObserver(context.Background(), ObserverFunc(func(_ context.Context, ev Event) {
		if ev.Type == EventToolCall {
			toolEvents = append(toolEvents, ev)
		}
	}))
	out, err := runner.Kickoff(ctx, nil)
	if err != nil {
		t.Fatalf("Kickoff: %v", err)
	}
	if out.Raw != "It launches in 2026." {
		t.Errorf("Raw = %q", out.Raw)
	}
	if len(search.params) != 1 || search.params[0]["search_query"] != "Artemis II" {
		t.Errorf("tool params = %v", search.params)
	}
	if !hasTool(provider.requests[0], ToolSearchInternet) {
		t.Error("tool definition not sent to the model")
	}
	res, ok := lastToolResult(provider.requests[1])
	if !ok || res.ToolUseID != "call_1" || res.Text != "Artemis II launches in 2026" || res.IsError {
		t.Errorf("tool result = %+v", res)
	}
	if len(toolEvents) != 1 || toolEvents[0].Tool != ToolSearchInternet {
		t.Errorf("tool events = %+v", toolEvents)
	}
	if out.Usage.Total() != 25 {
		t.Errorf("usage = %d, want 25", out.Usage.Total())
	}
}

func TestAgentToolErrorsReturnToModel(t *testing.T) {
	failing := &recordingTool{name: ToolSearchInternet, err: errors.New("quota exceeded")}
	def := &Crew{
		Name:   "tools",
		Agents: []Agent{{Role: "Ops", Goal: "g", Backstory: "b", Tools: []string{ToolSearchInternet}}},
		Tasks:  []Task{{Description: "d", Agent: "Ops"}},
	}
	provider := &scriptedProvider{respond: func(req *llm.Request, call int) (*llm.Response, error) {
		switch call {
		case 0:
			return toolResponse("c1", ToolSearchInternet, map[string]any{"search_query": "x"}), nil
		case 1:
			return toolResponse("c2", "launch_rocket", nil), nil
		default:
			return textResponse("done without tools"), nil
		}
	}}
	runner, err := New(def, provider, tools.NewRegistry(failing))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := runner.Kickoff(context.Background(), nil); err != nil {
		t.Fatalf("Kickoff: %v", err)
	}

	res, _ := lastToolResult(provider.requests[1])
	if !res.IsError || !strings.Contains(res.Text, "quota exceeded") {
		t.Errorf("tool error result = %+v", res)
	}
	res, _ = lastToolResult(provider.requests[2])
	if !res.IsError || !strings.Contains(res.Text, `unknown tool "launch_rocket"`) {
		t.Errorf("unknown tool result = %+v", res)
	}
}

func TestAgentMaxIterations(t *testing.T) {
	def := &Crew{
		Name:   "loop",
		Agents: []Agent{{Role: "Ops", Goal: "g", Backstory: "b", Tools: []string{ToolSearchInternet}, MaxIterations: 3}},
		Tasks:  []Task{{Description: "d", Agent: "Ops"}},
	}
	provider := &scriptedProvider{respond: func(_ *llm.Request, call int) (*llm.Response, error) {
		return toolResponse(fmt.Sprintf("c%d", call), ToolSearchInternet, map[string]any{"search_query": "again"}), nil
	}}
	runner, err := New(def, provider, tools.NewRegistry(&recordingTool{name: ToolSearchInternet, output: "r"}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := runner.Kickoff(context.Background(), nil)
	if err != nil {
		t.Fatalf("Kickoff: %v", err)
	}
	if out.Raw != MaxIterationsMessage {
		t.Errorf("Raw = %q", out.Raw)
	}
	if provider.calls() != 3 {
		t.Errorf("provider calls = %d, want 3", provider.calls())
	}
}

// --- delegation ---

func TestDelegationRunsCoworkerWithoutDelegationTools(t *testing.T) {
	provider := &scriptedProvider{respond: func(req *llm.Request, call int) (*llm.Response, error) {
		switch roleOf(req) {
		case RoleMissionPlanner:
			if _, ok := lastToolResult(req); ok {
				return textResponse("plan including the analyst's query"), nil
			}
			return toolResponse("d1", ToolDelegateWork, map[string]any{
				"task":     "Write a query for missions launched after 2020",
				"context":  "missions(id, name, launched_at)",
				"coworker": "space data analyst",
			}), nil
		default:
			return textResponse("SELECT name FROM missions WHERE launched_at > '2020-01-01'"), nil
		}
	}}
	def := SpaceCrew()
	def.Tasks = def.Tasks[:1]
	runner, err := New(def, provider, spaceRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := runner.Kickoff(context.Background(), map[string]string{"query": "q"})
	if err != nil {
		t.Fatalf("Kickoff: %v", err)
	}
	if out.Raw != "plan including the analyst's query" {
		t.Errorf("Raw = %q", out.Raw)
	}
	if provider.calls() != 3 {
		t.Fatalf("provider calls = %d, want 3", provider.calls())
	}

	planner := provider.requests[0]
	if !hasTool(planner, ToolDelegateWork) || !hasTool(planner, ToolAskQuestion) {
		t.Error("planner should receive delegation tools")
	}
	analyst := provider.requests[1]
	if roleOf(analyst) != RoleDataAnalyst {
		t.Fatalf("delegated to %q", roleOf(analyst))
	}
	if hasTool(analyst, ToolDelegateWork) || hasTool(analyst, ToolAskQuestion) {
		t.Error("delegated coworker must not receive delegation tools")
	}
	if !strings.Contains(analyst.Messages[0].Content, "missions(id, name, launched_at)") {
		t.Errorf("shared context missing from coworker prompt:\n%s", analyst.Messages[0].Content)
	}
	res, _ := lastToolResult(provider.requests[2])
	if res.IsError || !strings.HasPrefix(res.Text, "SELECT name FROM missions") {
		t.Errorf("delegation result = %+v", res)
	}
	// Delegated work counts toward the task's usage.
	if out.TasksOutput[0].Usage.Total() != 40 {
		t.Errorf("task usage = %d, want 40", out.TasksOutput[0].Usage.Total())
	}
}

func TestDelegationUnknownCoworker(t *testing.T) {
	provider := &scriptedProvider{respond: func(req *llm.Request, call int) (*llm.Response, error) {
		if call == 0 {
			return toolResponse("d1", ToolAskQuestion, map[string]any{"question": "?", "coworker": "Flight Director"}), nil
		}
		return textResponse("ok"), nil
	}}
	def := SpaceCrew()
	def.Tasks = def.Tasks[:1]
	runner, err := New(def, provider, spaceRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := runner.Kickoff(context.Background(), nil); err != nil {
		t.Fatalf("Kickoff: %v", err)
	}
	res, _ := lastToolResult(provider.requests[1])
	if !res.IsError {
		t.Error("unknown coworker should be an error result")
	}
	for _, role := range []string{RoleOperationsExpert, RoleDataAnalyst, RoleQAExpert} {
		if !strings.Contains(res.Text, role) {
			t.Errorf("error result should list %q:\n%s", role, res.Text)
		}
	}
	if strings.Contains(res.Text, "- "+RoleMissionPlanner) {
		t.Error("an agent is not its own coworker")
	}
}

// --- hierarchical ---

func TestKickoffHierarchical(t *testing.T) {
	provider := &scriptedProvider{respond: func(req *llm.Request, call int) (*llm.Response, error) {
		if roleOf(req) == managerRole {
			if res, ok := lastToolResult(req); ok {
				return textResponse("reviewed: " + res.Text), nil
			}
			return toolResponse("m1", ToolDelegateWork, map[string]any{"task": "do it", "coworker": RoleMissionPlanner}), nil
		}
		return textResponse("worker answer"), nil
	}}
	def := SpaceCrew()
	def.Process = ProcessHierarchical
	def.ManagerModel = DefaultManagerModel
	def.Tasks = def.Tasks[:1]

	runner, err := New(def, provider, spaceRegistry())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := runner.Kickoff(context.Background(), map[string]string{"query": "q"})
	if err != nil {
		t.Fatalf("Kickoff: %v", err)
	}
	if out.Raw != "reviewed: worker answer" {
		t.Errorf("Raw = %q", out.Raw)
	}
	manager := provider.requests[0]
	if manager.Model != "gpt-4" {
		t.Errorf("manager model = %q, want gpt-4", manager.Model)
	}
	if manager.Temperature == nil || *manager.Temperature != 0.7 {
		t.Errorf("manager temperature = %v, want 0.7", manager.Temperature)
	}
	if !hasTool(manager, ToolDelegateWork) {
		t.Error("manager needs delegation tools")
	}
	worker := provider.requests[1]
	if roleOf(worker) != RoleMissionPlanner || hasTool(worker, ToolDelegateWork) {
		t.Errorf("worker request: role %q, delegation %v", roleOf(worker), hasTool(worker, ToolDelegateWork))
	}
}

// --- helpers ---

func TestInterpolate(t *testing.T) {
	inputs := map[string]string{"query": "Mars", "n": "3"}
	tests := []struct{ in, want string }{
		{"plain", "plain"},
		{"about {query}", "about Mars"},
		{"{n} steps for {query}", "3 steps for Mars"},
		{"{unknown} stays", "{unknown} stays"},
		{"json {\"a\": 1}", "json {\"a\": 1}"},
	}
	for _, tt := range tests {
		if got := interpolate(tt.in, inputs); got != tt.want {
			t.Errorf("interpolate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
name: lunar
process: hierarchical
agents:
  - role: Planner
    goal: Plan {query}
    backstory: Veteran
    allow_delegation: true
  - role: Analyst
    goal: Query data
    backstory: SQL expert
    temperature: 0.2
tasks:
  - name: plan
    description: Plan the landing
    expected_output: A plan
    agent: Planner
  - description: Write SQL
    expected_output: A query
    agent: Analyst
    context: [plan]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if c.Process != ProcessHierarchical || c.ManagerModel != DefaultManagerModel {
		t.Errorf("process = %q manager = %q", c.Process, c.ManagerModel)
	}
	if c.TaskName(1) != "task_2" {
		t.Errorf("default task name = %q", c.TaskName(1))
	}
	if a, _ := c.Agent("Analyst"); a.Temperature == nil || *a.Temperature != 0.2 {
		t.Error("temperature not parsed")
	}

	if _, err := Parse([]byte("agents:\n  - role: A\n    goal: g\n    backstory: b\n    tool: [x]\ntasks: []\n")); err == nil {
		t.Error("unknown field should be rejected")
	}
	_, err = Parse([]byte("agents:\n  - role: A\n    goal: g\n    backstory: b\ntasks:\n  - description: d\n    agent: B\n"))
	if !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("Parse() = %v, want ErrUnknownAgent", err)
	}
}

func TestSummarizeInputKeepsCharactersWhole(t *testing.T) {
	got := summarizeInput(map[string]any{
		"search_query": strings.Repeat("é", 150),
		"n_results":    5,
	})
	if !utf8.ValidString(got) {
		t.Fatalf("summary is not valid UTF-8: %q", got)
	}
	if !strings.HasPrefix(got, "n_results=5 search_query=é") || !strings.HasSuffix(got, "é...") {
		t.Errorf("summary = %q", got)
	}
	if len(got) > len("n_results=5 search_query=")+maxInputSummary+len("...") {
		t.Errorf("summary too long: %d bytes", len(got))
	}
}
