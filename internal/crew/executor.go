package crew

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/astro/internal/llm"
	"github.com/jkaninda/astro/internal/tools"
)

// runAgent drives one agent through the tool-use loop: when the model asks
// for tools they are executed and the results fed back, until it answers
// in text or the iteration cap is reached.
func (r *Runner) runAgent(ctx context.Context, agent *Agent, registry *tools.Registry, taskName, prompt string) (string, error) {
	var span trace.Span
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, "agent.execute",
			trace.WithAttributes(
				attribute.String("agent.role", agent.Role),
				attribute.String("task.name", taskName),
			))
		defer span.End()
	}

	if registry == nil {
		registry = tools.NewRegistry()
	}
	toolDefs := registry.Definitions()
	system := systemPrompt(agent, registry.Names())

	maxIter := agent.MaxIterations
	if maxIter <= 0 {
		maxIter = r.maxIter
	}

	history := []llm.Message{{Role: llm.RoleUser, Content: prompt}}

	for iter := 0; iter < maxIter; iter++ {
		resp, err := r.provider.SendMessage(ctx, &llm.Request{
			SystemPrompt: system,
			Messages:     history,
			Tools:        toolDefs,
			Model:        agent.Model,
			Temperature:  agent.Temperature,
		})
		if err != nil {
			if span != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return "", fmt.Errorf("llm request failed: %w", err)
		}
		recordUsage(ctx, resp.Usage)

		assistant := llm.Message{Role: llm.RoleAssistant, ContentBlocks: resp.ContentBlocks}
		if len(resp.ContentBlocks) == 0 {
			assistant.Content = resp.Content
		}
		history = append(history, assistant)

		if !resp.HasToolUse() {
			return strings.TrimSpace(resp.Content), nil
		}

		calls := resp.ToolUseBlocks()
		r.logger.DebugContext(ctx, "executing tool calls",
			slog.String("agent", agent.Role),
			slog.String("task", taskName),
			slog.Int("iteration", iter+1),
			slog.Int("tool_calls", len(calls)),
		)

		results := make([]llm.ContentBlock, 0, len(calls))
		for _, call := range calls {
			results = append(results, r.executeTool(ctx, agent, registry, taskName, call))
		}
		history = append(history, llm.Message{Role: llm.RoleUser, ContentBlocks: results})
	}

	r.logger.WarnContext(ctx, "max tool-use iterations reached",
		slog.String("agent", agent.Role),
		slog.String("task", taskName),
		slog.Int("max_iterations", maxIter),
	)
	return MaxIterationsMessage, nil
}

// executeTool runs one tool call. Failures are returned to the model as
// error results rather than aborting the task.
func (r *Runner) executeTool(ctx context.Context, agent *Agent, registry *tools.Registry, taskName string, call llm.ContentBlock) llm.ContentBlock {
	r.emit(ctx, Event{
		Type:    EventToolCall,
		Task:    taskName,
		Agent:   agent.Role,
		Tool:    call.Name,
		Content: summarizeInput(call.Input),
	})

	tool := registry.Get(call.Name)
	if tool == nil {
		return llm.ToolResultBlock(call.ID,
			fmt.Sprintf("Error: unknown tool %q. Available tools: %s", call.Name, strings.Join(registry.Names(), ", ")), true)
	}
	if err := tool.Validate(call.Input); err != nil {
		return llm.ToolResultBlock(call.ID, fmt.Sprintf("Error: %s", err.Error()), true)
	}

	res, err := tool.Execute(ctx, call.Input)
	if err != nil {
		r.logger.WarnContext(ctx, "tool failed",
			slog.String("agent", agent.Role),
			slog.String("tool", call.Name),
			slog.String("error", err.Error()),
		)
		return llm.ToolResultBlock(call.ID, fmt.Sprintf("Error: %s", err.Error()), true)
	}
	return llm.ToolResultBlock(call.ID, tools.TruncateOutput(res.Output, tools.MaxOutputBytes), !res.Success)
}

const maxInputSummary = 200

func summarizeInput(input map[string]any) string {
	if len(input) == 0 {
		return ""
	}
	parts := make([]string, 0, len(input))
	for _, k := range sortedKeys(input) {
		v := fmt.Sprint(input[k])
		if len(v) > maxInputSummary {
			v = tools.CutUTF8(v, maxInputSummary) + "..."
		}
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}
