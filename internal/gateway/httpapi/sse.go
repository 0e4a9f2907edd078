package httpapi

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jkaninda/astro/internal/crew"
	"github.com/jkaninda/astro/internal/mission"
	"github.com/jkaninda/astro/internal/storage"
	"github.com/jkaninda/okapi"
)

// SSEEvent is the data of one server-sent event. The event name is the
// crew event type, or "done" / "error" at the end of the stream.
type SSEEvent struct {
	Task    string `json:"task,omitempty"`
	Agent   string `json:"agent,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Content string `json:"content,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Tokens  int    `json:"tokens,omitempty"`
}

// handleQueryStream handles POST /v1/query/stream. Crew events are sent as
// they happen; the final answer follows as a "done" event.
func (g *Gateway) handleQueryStream(c *okapi.Context) error {
	userID := c.GetString("userID")

	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return c.AbortBadRequest("query is required")
	}
	if req.Query == "" {
		return c.AbortBadRequest("query is required")
	}
	if err := g.allow(userID); err != nil {
		return c.AbortTooManyRequests("rate limit exceeded")
	}

	// Events arrive synchronously on this goroutine, so writing to c is safe.
	ctx := crew.WithObserver(c.Context(), crew.ObserverFunc(func(_ context.Context, ev crew.Event) {
		if ev.Type == crew.EventCrewCompleted || ev.Type == crew.EventCrewFailed {
			return
		}
		data := SSEEvent{Task: ev.Task, Agent: ev.Agent, Tool: ev.Tool, Content: ev.Content}
		if ev.Usage != nil {
			data.Tokens = ev.Usage.Total()
		}
		c.SSEvent(string(ev.Type), data)
	}))

	run, err := g.missions.Ask(ctx, mission.AskRequest{
		Query:  req.Query,
		Source: storage.SourceAPI,
		UserID: userID,
	})
	if err != nil {
		if errors.Is(err, mission.ErrEmptyQuery) {
			return c.AbortBadRequest("query is required")
		}
		g.logger.Error("streamed crew run failed", slog.String("error", err.Error()))
		data := SSEEvent{Content: "crew run failed"}
		if run != nil {
			data.RunID = run.ID.String()
		}
		c.SSEvent("error", data)
		return nil
	}

	c.SSEvent("done", SSEEvent{
		Content: run.Result,
		RunID:   run.ID.String(),
		Tokens:  run.InputTokens + run.OutputTokens,
	})
	return nil
}
