// Package crew runs a team of role-playing LLM agents over an ordered list
// of tasks. Each agent is a role, a goal and a backstory with an optional
// set of tools; each task is assigned to one agent. Tasks run one after
// the other (sequential) or through a manager agent that delegates them
// to workers (hierarchical).
package crew

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jkaninda/astro/internal/llm"
)

// Process selects how tasks are executed.
type Process string

const (
	ProcessSequential   Process = "sequential"
	ProcessHierarchical Process = "hierarchical"
)

var (
	// ErrUnknownAgent is returned when a task references an undeclared agent.
	ErrUnknownAgent = errors.New("task references an undeclared agent")
	// ErrInvalidCrew wraps every other definition error.
	ErrInvalidCrew = errors.New("invalid crew definition")
)

// Agent is a named role configuration.
type Agent struct {
	Role            string   `json:"role" yaml:"role"`
	Goal            string   `json:"goal" yaml:"goal"`
	Backstory       string   `json:"backstory" yaml:"backstory"`
	Tools           []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	AllowDelegation bool     `json:"allow_delegation" yaml:"allow_delegation"`
	Verbose         bool     `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	// MaxIterations caps the tool-use loop. 0 = runner default.
	MaxIterations int `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	// Model overrides the provider model for this agent.
	Model       string   `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
}

// Task is a unit of work bound to one agent by role.
type Task struct {
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	Description    string `json:"description" yaml:"description"`
	ExpectedOutput string `json:"expected_output" yaml:"expected_output"`
	Agent          string `json:"agent" yaml:"agent"`
	// Context names earlier tasks whose output this task receives.
	// Empty means every earlier task.
	Context []string `json:"context,omitempty" yaml:"context,omitempty"`
}

// Crew is an ordered collection of agents and tasks executed as one pipeline.
type Crew struct {
	Name               string   `json:"name" yaml:"name"`
	Agents             []Agent  `json:"agents" yaml:"agents"`
	Tasks              []Task   `json:"tasks" yaml:"tasks"`
	Process            Process  `json:"process" yaml:"process"`
	ManagerModel       string   `json:"manager_model,omitempty" yaml:"manager_model,omitempty"`
	ManagerTemperature *float64 `json:"manager_temperature,omitempty" yaml:"manager_temperature,omitempty"`
	Verbose            bool     `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

// TaskName returns the name of task i, defaulting to "task_<n>".
func (c *Crew) TaskName(i int) string {
	if name := strings.TrimSpace(c.Tasks[i].Name); name != "" {
		return name
	}
	return fmt.Sprintf("task_%d", i+1)
}

// Agent returns the agent declared with role.
func (c *Crew) Agent(role string) (*Agent, bool) {
	for i := range c.Agents {
		if c.Agents[i].Role == role {
			return &c.Agents[i], true
		}
	}
	return nil, false
}

// Roles returns the agent roles in declaration order.
func (c *Crew) Roles() []string {
	roles := make([]string, len(c.Agents))
	for i, a := range c.Agents {
		roles[i] = a.Role
	}
	return roles
}

// AddTools appends tool names to the agent with role. Unknown roles are ignored.
func (c *Crew) AddTools(role string, names ...string) {
	if a, ok := c.Agent(role); ok {
		a.Tools = append(a.Tools, names...)
	}
}

// Validate checks the definition's structural invariants.
func (c *Crew) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("%w: at least one agent is required", ErrInvalidCrew)
	}
	if len(c.Tasks) == 0 {
		return fmt.Errorf("%w: at least one task is required", ErrInvalidCrew)
	}

	roles := make(map[string]bool, len(c.Agents))
	for i, a := range c.Agents {
		if strings.TrimSpace(a.Role) == "" {
			return fmt.Errorf("%w: agent %d has no role", ErrInvalidCrew, i+1)
		}
		if roles[a.Role] {
			return fmt.Errorf("%w: duplicate agent role %q", ErrInvalidCrew, a.Role)
		}
		if a.Temperature != nil && (*a.Temperature < 0 || *a.Temperature > 2) {
			return fmt.Errorf("%w: agent %q temperature must be between 0 and 2", ErrInvalidCrew, a.Role)
		}
		roles[a.Role] = true
	}

	seen := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		name := c.TaskName(i)
		if strings.TrimSpace(t.Description) == "" {
			return fmt.Errorf("%w: task %q has no description", ErrInvalidCrew, name)
		}
		if !roles[t.Agent] {
			return fmt.Errorf("task %q: %w: %q", name, ErrUnknownAgent, t.Agent)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate task name %q", ErrInvalidCrew, name)
		}
		for _, ref := range t.Context {
			if !seen[ref] {
				return fmt.Errorf("%w: task %q context %q must name an earlier task", ErrInvalidCrew, name, ref)
			}
		}
		seen[name] = true
	}

	switch c.process() {
	case ProcessSequential:
	case ProcessHierarchical:
		if c.ManagerModel == "" {
			return fmt.Errorf("%w: hierarchical process requires a manager model", ErrInvalidCrew)
		}
	default:
		return fmt.Errorf("%w: unknown process %q", ErrInvalidCrew, c.Process)
	}
	return nil
}

func (c *Crew) process() Process {
	if c.Process == "" {
		return ProcessSequential
	}
	return c.Process
}

// clone returns a deep enough copy for per-kickoff interpolation.
func (c *Crew) clone() *Crew {
	cp := *c
	cp.Agents = make([]Agent, len(c.Agents))
	for i, a := range c.Agents {
		a.Tools = append([]string(nil), a.Tools...)
		cp.Agents[i] = a
	}
	cp.Tasks = make([]Task, len(c.Tasks))
	for i, t := range c.Tasks {
		t.Context = append([]string(nil), t.Context...)
		cp.Tasks[i] = t
	}
	return &cp
}

// TaskOutput is the result of one task.
type TaskOutput struct {
	Task        string        `json:"task"`
	Description string        `json:"description"`
	Agent       string        `json:"agent"`
	Raw         string        `json:"raw"`
	Duration    time.Duration `json:"duration"`
	Usage       llm.Usage     `json:"usage"`
}

// CrewOutput is the result of a kickoff. Raw is the final task's output.
type CrewOutput struct {
	Raw         string       `json:"raw"`
	TasksOutput []TaskOutput `json:"tasks_output"`
	Usage       llm.Usage    `json:"usage"`
}

func (o *CrewOutput) String() string { return o.Raw }
