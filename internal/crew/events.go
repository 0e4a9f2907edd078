package crew

import (
	"context"
	"time"

	"github.com/jkaninda/astro/internal/llm"
)

// EventType identifies a kickoff progress event.
type EventType string

const (
	EventTaskStarted   EventType = "task_started"
	EventToolCall      EventType = "tool_call"
	EventTaskCompleted EventType = "task_completed"
	EventCrewCompleted EventType = "crew_completed"
	EventCrewFailed    EventType = "crew_failed"
)

// Event is emitted while a crew runs.
type Event struct {
	Type    EventType  `json:"type"`
	Crew    string     `json:"crew,omitempty"`
	Task    string     `json:"task,omitempty"`
	Agent   string     `json:"agent,omitempty"`
	Tool    string     `json:"tool,omitempty"`
	Content string     `json:"content,omitempty"`
	Usage   *llm.Usage `json:"usage,omitempty"`
	Time    time.Time  `json:"time"`
}

// Observer receives kickoff events. Implementations must not block for long:
// events are delivered synchronously on the kickoff goroutine.
type Observer interface {
	OnEvent(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) OnEvent(ctx context.Context, ev Event) { f(ctx, ev) }

type observerKey struct{}

// WithObserver returns a context whose kickoffs report to obs, in addition
// to any observer configured on the runner.
func WithObserver(ctx context.Context, obs Observer) context.Context {
	return context.WithValue(ctx, observerKey{}, obs)
}

func observerFrom(ctx context.Context) Observer {
	obs, _ := ctx.Value(observerKey{}).(Observer)
	return obs
}

func (r *Runner) emit(ctx context.Context, ev Event) {
	ev.Crew = r.def.Name
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if r.observer != nil {
		r.observer.OnEvent(ctx, ev)
	}
	if obs := observerFrom(ctx); obs != nil {
		obs.OnEvent(ctx, ev)
	}
}
