// Package mission turns a user's question into a crew run: it validates the
// query, kicks off the crew once and records the run history.
package mission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/astro/internal/crew"
	"github.com/jkaninda/astro/internal/storage"
)

// EmptyQueryMessage is shown when a submission has no query text.
const EmptyQueryMessage = "Please enter a query."

// InputKey is the crew input that carries the user's query.
const InputKey = "query"

// ErrEmptyQuery is returned for blank queries. The crew is not invoked.
var ErrEmptyQuery = errors.New("query is required")

// Kicker runs a crew. *crew.Runner implements it.
type Kicker interface {
	Kickoff(ctx context.Context, inputs map[string]string) (*crew.CrewOutput, error)
}

// AskRequest is one user submission.
type AskRequest struct {
	Query  string `json:"query"`
	Source string `json:"source,omitempty"`
	UserID string `json:"user_id,omitempty"`
}

// Service runs queries through the crew and keeps their history.
type Service struct {
	kicker   Kicker
	runs     storage.RunStore
	crewName string
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithCrewName labels stored runs. Default: "crew".
func WithCrewName(name string) Option {
	return func(s *Service) { s.crewName = name }
}

// WithTimeout bounds each kickoff. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) { s.timeout = d }
}

// NewService creates a Service. runs may be nil, in which case nothing is
// persisted and the history methods return empty results.
func NewService(kicker Kicker, runs storage.RunStore, opts ...Option) *Service {
	s := &Service{kicker: kicker, runs: runs, crewName: "crew"}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	return s
}

// Ask runs the crew for req.Query, passed through unchanged. An empty query
// returns ErrEmptyQuery without invoking the crew. On kickoff failure the failed run is recorded
// and returned together with the error.
func (s *Service) Ask(ctx context.Context, req AskRequest) (*storage.Run, error) {
	query := req.Query
	if query == "" {
		return nil, ErrEmptyQuery
	}
	source := req.Source
	if source == "" {
		source = storage.SourceAPI
	}

	run := &storage.Run{
		ID:        uuid.New(),
		Crew:      s.crewName,
		Query:     query,
		Source:    source,
		UserID:    req.UserID,
		Status:    storage.RunStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	if s.runs != nil {
		if err := s.runs.CreateRun(ctx, run); err != nil {
			return nil, fmt.Errorf("recording run: %w", err)
		}
	}

	logger := s.logger.With(
		slog.String("run_id", run.ID.String()),
		slog.String("source", source),
	)
	logger.InfoContext(ctx, "running crew", slog.Int("query_len", len(query)))

	kickCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		kickCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	out, kickErr := s.kicker.Kickoff(kickCtx, map[string]string{InputKey: query})
	run.DurationMS = time.Since(start).Milliseconds()
	completed := time.Now().UTC()
	run.CompletedAt = &completed

	if kickErr != nil {
		run.Status = storage.RunStatusFailed
		run.Error = kickErr.Error()
	} else {
		run.Status = storage.RunStatusCompleted
		run.Result = out.Raw
		run.InputTokens = out.Usage.InputTokens
		run.OutputTokens = out.Usage.OutputTokens
		run.Tasks = taskRuns(out)
	}

	if s.runs != nil {
		// Record the outcome even when the caller went away mid-run.
		if err := s.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
			logger.WarnContext(ctx, "failed to record run result", slog.String("error", err.Error()))
		}
	}

	if kickErr != nil {
		logger.ErrorContext(ctx, "crew run failed", slog.String("error", kickErr.Error()))
		return run, fmt.Errorf("running crew: %w", kickErr)
	}
	logger.InfoContext(ctx, "crew run completed",
		slog.Int64("duration_ms", run.DurationMS),
		slog.Int("tokens", run.InputTokens+run.OutputTokens),
	)
	return run, nil
}

// Runs returns the most recent runs, newest first.
func (s *Service) Runs(ctx context.Context, limit int) ([]storage.Run, error) {
	if s.runs == nil {
		return nil, nil
	}
	return s.runs.ListRuns(ctx, storage.RunFilter{Limit: limit})
}

// Run returns one run with its task outputs.
func (s *Service) Run(ctx context.Context, id uuid.UUID) (*storage.Run, error) {
	if s.runs == nil {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	return s.runs.GetRun(ctx, id)
}

func taskRuns(out *crew.CrewOutput) []storage.TaskRun {
	tasks := make([]storage.TaskRun, len(out.TasksOutput))
	for i, t := range out.TasksOutput {
		tasks[i] = storage.TaskRun{
			ID:           uuid.New(),
			Position:     i,
			Name:         t.Task,
			Agent:        t.Agent,
			Output:       t.Raw,
			InputTokens:  t.Usage.InputTokens,
			OutputTokens: t.Usage.OutputTokens,
			DurationMS:   t.Duration.Milliseconds(),
		}
	}
	return tasks
}
