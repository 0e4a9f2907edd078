package crew

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/astro/internal/llm"
	"github.com/jkaninda/astro/internal/observability"
	"github.com/jkaninda/astro/internal/tools"
)

// DefaultMaxIterations caps an agent's tool-use loop when neither the agent
// nor the runner sets a limit.
const DefaultMaxIterations = 25

// DefaultManagerModel is the hierarchical manager's model when none is set.
const DefaultManagerModel = "gpt-4"

// DefaultManagerTemperature is used by the hierarchical manager when the
// crew does not set one.
const DefaultManagerTemperature = 0.7

// Runner executes a validated crew. It is safe for concurrent kickoffs.
type Runner struct {
	def      *Crew
	provider llm.Provider
	logger   *slog.Logger
	observer Observer
	metrics  *observability.MetricsCollector
	tracer   trace.Tracer
	maxIter  int

	// Tools per role without delegation; delegated coworkers use these.
	baseTools map[string]*tools.Registry
	// Tools per role as seen when the agent owns a task.
	taskTools map[string]*tools.Registry
	// Delegation tools for the hierarchical manager.
	managerTools *tools.Registry
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithEventObserver reports every kickoff's events to obs.
func WithEventObserver(obs Observer) Option {
	return func(r *Runner) { r.observer = obs }
}

// WithObservability records crew metrics and spans.
func WithObservability(obs *observability.Observability) Option {
	return func(r *Runner) {
		r.metrics = obs.MetricsOrNil()
		r.tracer = obs.SpanTracer()
	}
}

// WithMaxIterations sets the default tool-use cap for agents that do not set one.
func WithMaxIterations(n int) Option {
	return func(r *Runner) { r.maxIter = n }
}

// New validates def and resolves every agent's tools against registry.
// An agent naming a tool the registry does not hold is an error.
func New(def *Crew, provider llm.Provider, registry *tools.Registry, opts ...Option) (*Runner, error) {
	if def == nil {
		return nil, fmt.Errorf("%w: nil definition", ErrInvalidCrew)
	}
	if provider == nil {
		return nil, fmt.Errorf("crew %q: an LLM provider is required", def.Name)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = tools.NewRegistry()
	}

	r := &Runner{
		def:       def.clone(),
		provider:  provider,
		maxIter:   DefaultMaxIterations,
		baseTools: make(map[string]*tools.Registry, len(def.Agents)),
		taskTools: make(map[string]*tools.Registry, len(def.Agents)),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.maxIter <= 0 {
		r.maxIter = DefaultMaxIterations
	}

	for _, a := range r.def.Agents {
		base, err := registry.Subset(a.Tools)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", a.Role, err)
		}
		r.baseTools[a.Role] = base

		own := base
		if a.AllowDelegation && len(r.def.Agents) > 1 && r.def.process() == ProcessSequential {
			own, err = registry.Subset(a.Tools)
			if err != nil {
				return nil, err
			}
			if err := r.addDelegationTools(own, a.Role); err != nil {
				return nil, fmt.Errorf("agent %q: %w", a.Role, err)
			}
		}
		r.taskTools[a.Role] = own
	}

	if r.def.process() == ProcessHierarchical {
		r.managerTools = tools.NewRegistry()
		if err := r.addDelegationTools(r.managerTools, managerRole); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Definition returns a copy of the crew definition the runner executes.
func (r *Runner) Definition() *Crew {
	return r.def.clone()
}

// kickoffState is the per-kickoff view shared with delegation tools.
type kickoffState struct {
	crew   *Crew
	inputs map[string]string
}

type kickoffKey struct{}

func stateFrom(ctx context.Context) *kickoffState {
	st, _ := ctx.Value(kickoffKey{}).(*kickoffState)
	return st
}

// usageTally accumulates token usage of a task, including delegated work.
type usageTally struct {
	mu    sync.Mutex
	usage llm.Usage
}

func (u *usageTally) add(o llm.Usage) {
	u.mu.Lock()
	u.usage.Add(o)
	u.mu.Unlock()
}

func (u *usageTally) total() llm.Usage {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.usage
}

type tallyKey struct{}

func recordUsage(ctx context.Context, usage llm.Usage) {
	if t, ok := ctx.Value(tallyKey{}).(*usageTally); ok {
		t.add(usage)
	}
}

// Kickoff runs the crew with inputs. {key} placeholders in agent goals and
// backstories and in task descriptions and expected outputs are replaced by
// inputs[key], and every task prompt lists the inputs.
func (r *Runner) Kickoff(ctx context.Context, inputs map[string]string) (*CrewOutput, error) {
	process := r.def.process()
	start := time.Now()

	var span trace.Span
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, "crew.kickoff",
			trace.WithAttributes(
				attribute.String("crew.name", r.def.Name),
				attribute.String("crew.process", string(process)),
				attribute.Int("crew.tasks", len(r.def.Tasks)),
			))
		defer span.End()
	}

	crew := interpolateCrew(r.def, inputs)
	ctx = context.WithValue(ctx, kickoffKey{}, &kickoffState{crew: crew, inputs: inputs})

	r.logger.InfoContext(ctx, "crew kickoff",
		slog.String("crew", crew.Name),
		slog.String("process", string(process)),
		slog.Int("tasks", len(crew.Tasks)),
	)

	out, err := r.runTasks(ctx, crew, inputs)

	status := "success"
	if err != nil {
		status = "error"
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		r.emit(ctx, Event{Type: EventCrewFailed, Content: err.Error()})
		r.logger.ErrorContext(ctx, "crew kickoff failed",
			slog.String("crew", crew.Name),
			slog.String("error", err.Error()),
		)
	} else {
		usage := out.Usage
		r.emit(ctx, Event{Type: EventCrewCompleted, Content: out.Raw, Usage: &usage})
		r.logger.InfoContext(ctx, "crew kickoff completed",
			slog.String("crew", crew.Name),
			slog.Duration("duration", time.Since(start)),
			slog.Int("tokens", out.Usage.Total()),
		)
	}
	if r.metrics != nil {
		r.metrics.CrewKickoffsTotal.WithLabelValues(crew.Name, string(process), status).Inc()
		r.metrics.CrewKickoffDuration.WithLabelValues(crew.Name, string(process)).Observe(time.Since(start).Seconds())
	}
	return out, err
}

func (r *Runner) runTasks(ctx context.Context, crew *Crew, inputs map[string]string) (*CrewOutput, error) {
	out := &CrewOutput{TasksOutput: make([]TaskOutput, 0, len(crew.Tasks))}
	byName := make(map[string]TaskOutput, len(crew.Tasks))

	for i, task := range crew.Tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := crew.TaskName(i)

		var prior string
		if len(task.Context) > 0 {
			selected := make([]TaskOutput, 0, len(task.Context))
			for _, ref := range task.Context {
				selected = append(selected, byName[ref])
			}
			prior = formatContext(selected)
		} else {
			prior = formatContext(out.TasksOutput)
		}

		to, err := r.runTask(ctx, crew, name, task, prior, inputs)
		if err != nil {
			return nil, fmt.Errorf("task %q (%s): %w", name, task.Agent, err)
		}
		out.TasksOutput = append(out.TasksOutput, *to)
		out.Usage.Add(to.Usage)
		byName[name] = *to
	}

	out.Raw = out.TasksOutput[len(out.TasksOutput)-1].Raw
	return out, nil
}

func (r *Runner) runTask(ctx context.Context, crew *Crew, name string, task Task, prior string, inputs map[string]string) (*TaskOutput, error) {
	agent, _ := crew.Agent(task.Agent)
	start := time.Now()

	var span trace.Span
	if r.tracer != nil {
		ctx, span = r.tracer.Start(ctx, "crew.task",
			trace.WithAttributes(
				attribute.String("task.name", name),
				attribute.String("task.agent", task.Agent),
			))
		defer span.End()
	}

	tally := &usageTally{}
	ctx = context.WithValue(ctx, tallyKey{}, tally)

	r.emit(ctx, Event{Type: EventTaskStarted, Task: name, Agent: task.Agent, Content: task.Description})

	var (
		raw string
		err error
	)
	if crew.process() == ProcessHierarchical {
		manager := r.manager(crew)
		raw, err = r.runAgent(ctx, manager, r.managerTools, name,
			managerTaskPrompt(task, prior, inputs, crew.Roles()))
	} else {
		raw, err = r.runAgent(ctx, agent, r.taskTools[agent.Role], name,
			taskPrompt(task.Description, task.ExpectedOutput, prior, inputs))
	}
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}

	to := &TaskOutput{
		Task:        name,
		Description: task.Description,
		Agent:       task.Agent,
		Raw:         raw,
		Duration:    time.Since(start),
		Usage:       tally.total(),
	}

	level := slog.LevelDebug
	if crew.Verbose || agent.Verbose {
		level = slog.LevelInfo
	}
	r.logger.Log(ctx, level, "task completed",
		slog.String("task", name),
		slog.String("agent", task.Agent),
		slog.Duration("duration", to.Duration),
		slog.Int("tokens", to.Usage.Total()),
	)
	if r.metrics != nil {
		r.metrics.TaskDuration.WithLabelValues(task.Agent).Observe(to.Duration.Seconds())
	}
	usage := to.Usage
	r.emit(ctx, Event{Type: EventTaskCompleted, Task: name, Agent: task.Agent, Content: raw, Usage: &usage})
	return to, nil
}

func (r *Runner) manager(crew *Crew) *Agent {
	temp := crew.ManagerTemperature
	if temp == nil {
		temp = llm.Float(DefaultManagerTemperature)
	}
	return &Agent{
		Role:          managerRole,
		Goal:          managerGoal,
		Backstory:     managerBackstory,
		Model:         crew.ManagerModel,
		Temperature:   temp,
		MaxIterations: r.maxIter,
		Verbose:       crew.Verbose,
	}
}
