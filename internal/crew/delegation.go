package crew

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jkaninda/astro/internal/tools"
)

// Delegation tool names.
const (
	ToolDelegateWork = "delegate_work"
	ToolAskQuestion  = "ask_question"
)

// delegationTool lets an agent hand work or a question to a coworker.
// The coworker runs with its own tools only, so delegation never recurses.
type delegationTool struct {
	runner *Runner
	from   string
	kind   string // ToolDelegateWork or ToolAskQuestion
}

func (r *Runner) addDelegationTools(reg *tools.Registry, from string) error {
	for _, kind := range []string{ToolDelegateWork, ToolAskQuestion} {
		if err := reg.Register(&delegationTool{runner: r, from: from, kind: kind}); err != nil {
			return err
		}
	}
	return nil
}

// coworkers returns every role except the delegating one.
func (t *delegationTool) coworkers() []string {
	var out []string
	for _, a := range t.runner.def.Agents {
		if a.Role != t.from {
			out = append(out, a.Role)
		}
	}
	return out
}

func (t *delegationTool) Name() string { return t.kind }

func (t *delegationTool) Description() string {
	coworkers := strings.Join(t.coworkers(), ", ")
	if t.kind == ToolAskQuestion {
		return fmt.Sprintf("Ask a specific question to one of the following coworkers: %s. "+
			"The coworker knows nothing about your work, so share all the context you have.", coworkers)
	}
	return fmt.Sprintf("Delegate a specific task to one of the following coworkers: %s. "+
		"The coworker knows nothing about the task, so explain everything they need to know.", coworkers)
}

func (t *delegationTool) field() string {
	if t.kind == ToolAskQuestion {
		return "question"
	}
	return "task"
}

func (t *delegationTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			t.field():  map[string]any{"type": "string", "description": fmt.Sprintf("The %s for the coworker", t.field())},
			"context":  map[string]any{"type": "string", "description": "All the context the coworker needs"},
			"coworker": map[string]any{"type": "string", "description": "The role of the coworker", "enum": t.coworkers()},
		},
		"required": []string{t.field(), "coworker"},
	}
}

func (t *delegationTool) Validate(params map[string]any) error {
	if _, err := tools.RequireString(params, t.field()); err != nil {
		return err
	}
	_, err := tools.RequireString(params, "coworker")
	return err
}

func (t *delegationTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	work, err := tools.RequireString(params, t.field())
	if err != nil {
		return nil, err
	}
	name, err := tools.RequireString(params, "coworker")
	if err != nil {
		return nil, err
	}
	shared, _ := params["context"].(string)

	crew := t.runner.def
	if st := stateFrom(ctx); st != nil {
		crew = st.crew
	}
	coworker := t.findCoworker(crew, name)
	if coworker == nil {
		var sb strings.Builder
		fmt.Fprintf(&sb, "Error: coworker %q not found. It must be one of the following options:\n", name)
		for _, role := range t.coworkers() {
			fmt.Fprintf(&sb, "- %s\n", role)
		}
		return &tools.Result{Output: sb.String(), Success: false}, nil
	}

	kind := "delegate"
	if t.kind == ToolAskQuestion {
		kind = "question"
	}
	if m := t.runner.metrics; m != nil {
		m.DelegationsTotal.WithLabelValues(t.from, coworker.Role, kind).Inc()
	}

	answer, err := t.runner.runAgent(ctx, coworker, t.runner.baseTools[coworker.Role],
		fmt.Sprintf("%s (%s from %s)", coworker.Role, kind, t.from),
		delegatedPrompt(work, shared))
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", coworker.Role, err)
	}
	return &tools.Result{
		Output:   answer,
		Success:  true,
		Metadata: map[string]any{"coworker": coworker.Role},
	}, nil
}

// findCoworker matches roles case-insensitively, ignoring surrounding
// whitespace and quotes the model sometimes adds.
func (t *delegationTool) findCoworker(crew *Crew, name string) *Agent {
	want := strings.ToLower(strings.Trim(strings.TrimSpace(name), `"'`))
	for i := range crew.Agents {
		a := &crew.Agents[i]
		if a.Role == t.from {
			continue
		}
		if strings.ToLower(a.Role) == want {
			return a
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
