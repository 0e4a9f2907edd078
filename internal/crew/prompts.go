package crew

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// MaxIterationsMessage is the answer of an agent that hit its tool-use cap.
const MaxIterationsMessage = "Agent stopped: maximum tool-use iterations reached before a final answer was produced."

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// interpolate replaces {key} with inputs[key]. Unknown keys are left as is.
func interpolate(s string, inputs map[string]string) string {
	if len(inputs) == 0 || !strings.Contains(s, "{") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		if v, ok := inputs[m[1:len(m)-1]]; ok {
			return v
		}
		return m
	})
}

// interpolateCrew applies inputs to agent goals and backstories and to task
// descriptions and expected outputs.
func interpolateCrew(c *Crew, inputs map[string]string) *Crew {
	cp := c.clone()
	for i := range cp.Agents {
		a := &cp.Agents[i]
		a.Goal = interpolate(a.Goal, inputs)
		a.Backstory = interpolate(a.Backstory, inputs)
	}
	for i := range cp.Tasks {
		t := &cp.Tasks[i]
		t.Description = interpolate(t.Description, inputs)
		t.ExpectedOutput = interpolate(t.ExpectedOutput, inputs)
	}
	return cp
}

func systemPrompt(a *Agent, toolNames []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s. %s\n", a.Role, a.Backstory)
	fmt.Fprintf(&sb, "Your personal goal is: %s\n", a.Goal)
	if len(toolNames) > 0 {
		fmt.Fprintf(&sb, "\nYou can use these tools when they help: %s.\n", strings.Join(toolNames, ", "))
		sb.WriteString("Call a tool only when you need information you do not already have. ")
		sb.WriteString("When you have enough information, stop calling tools and answer.\n")
	}
	sb.WriteString("\nYour final answer must be the complete content requested, not a summary of it.")
	return sb.String()
}

// taskPrompt is the user turn that starts a task. Inputs are always listed
// so that tasks without placeholders still see the user's request.
func taskPrompt(description, expected, context string, inputs map[string]string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current task: %s\n", description)
	if expected != "" {
		fmt.Fprintf(&sb, "\nExpected output: %s\n", expected)
	}
	if len(inputs) > 0 {
		sb.WriteString("\nInputs:\n")
		keys := make([]string, 0, len(inputs))
		for k := range inputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, inputs[k])
		}
	}
	if context != "" {
		fmt.Fprintf(&sb, "\nContext from previous work:\n%s\n", context)
	}
	sb.WriteString("\nBegin. Give your best final answer.")
	return sb.String()
}

// formatContext renders earlier task outputs for a later task.
func formatContext(outputs []TaskOutput) string {
	parts := make([]string, 0, len(outputs))
	for _, o := range outputs {
		parts = append(parts, fmt.Sprintf("## %s (%s)\n%s", o.Task, o.Agent, strings.TrimSpace(o.Raw)))
	}
	return strings.Join(parts, "\n\n")
}

const (
	managerRole      = "Crew Manager"
	managerGoal      = "Manage the team to complete the task in the best way possible."
	managerBackstory = "You are a seasoned manager with a knack for getting the best out of your team. You decide which coworker handles each piece of work, review their answers and make sure the result meets the expected output."
)

func managerTaskPrompt(task Task, context string, inputs map[string]string, coworkers []string) string {
	var sb strings.Builder
	sb.WriteString(taskPrompt(task.Description, task.ExpectedOutput, context, inputs))
	fmt.Fprintf(&sb, "\n\nYou do not do the work yourself. Delegate it to one of your coworkers (%s) with delegate_work, ", strings.Join(coworkers, ", "))
	sb.WriteString("or ask them questions with ask_question, then return the final answer.")
	if task.Agent != "" {
		fmt.Fprintf(&sb, " The best-suited coworker for this task is %s.", task.Agent)
	}
	return sb.String()
}

func delegatedPrompt(work, context string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current task: %s\n", work)
	sb.WriteString("\nExpected output: Your best answer to your coworker asking you this, accounting for the context shared.\n")
	if context != "" {
		fmt.Fprintf(&sb, "\nContext shared by your coworker:\n%s\n", context)
	}
	sb.WriteString("\nBegin. Give your best final answer.")
	return sb.String()
}
