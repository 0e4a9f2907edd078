// Package scheduler runs recurring mission briefings. Each configured job
// submits its query to the crew on a cron schedule and the run is stored
// with source "scheduler" like any other run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jkaninda/astro/internal/config"
	"github.com/jkaninda/astro/internal/mission"
	"github.com/jkaninda/astro/internal/storage"
)

// Asker submits a query to the crew. *mission.Service implements it.
type Asker interface {
	Ask(ctx context.Context, req mission.AskRequest) (*storage.Run, error)
}

// Scheduler fires configured jobs. Runs beyond MaxConcurrent are skipped,
// not queued.
type Scheduler struct {
	asker   Asker
	cfg     *config.SchedulerConfig
	metrics *Metrics
	logger  *slog.Logger

	cron *cron.Cron
	sem  chan struct{}
	wg   sync.WaitGroup
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// New creates a Scheduler and registers every job in cfg. An invalid
// schedule is returned as an error.
func New(asker Asker, cfg *config.SchedulerConfig, metrics *Metrics, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Scheduler{
		asker:   asker,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		cron:    cron.New(cron.WithParser(parser)),
		sem:     make(chan struct{}, cfg.MaxConcurrent()),
	}
	if cfg == nil {
		return s, nil
	}
	for _, job := range cfg.Jobs {
		if _, err := s.cron.AddFunc(job.Schedule, func() { s.Fire(context.Background(), job) }); err != nil {
			return nil, fmt.Errorf("job %q: invalid schedule %q: %w", job.Name, job.Schedule, err)
		}
	}
	return s, nil
}

// Start begins firing jobs. Returns a stop function that waits for
// in-flight runs.
func (s *Scheduler) Start(ctx context.Context) func() {
	s.logger.InfoContext(ctx, "mission scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.Int("max_concurrent", cap(s.sem)),
	)
	if s.cfg != nil {
		now := time.Now()
		for _, job := range s.cfg.Jobs {
			if next, err := NextRun(job.Schedule, now); err == nil {
				s.logger.InfoContext(ctx, "scheduled job",
					slog.String("job", job.Name),
					slog.String("schedule", job.Schedule),
					slog.Time("next_run", next),
				)
			}
		}
	}
	s.cron.Start()
	return func() {
		<-s.cron.Stop().Done()
		s.wg.Wait()
		s.logger.Info("mission scheduler stopped")
	}
}

// Fire runs a single job now. It returns false when the concurrency limit
// was reached and the job was skipped.
func (s *Scheduler) Fire(ctx context.Context, job config.ScheduledJobConfig) bool {
	select {
	case s.sem <- struct{}{}:
	default:
		s.logger.WarnContext(ctx, "scheduled job skipped, too many runs in flight",
			slog.String("job", job.Name),
		)
		if s.metrics != nil {
			s.metrics.JobsSkipped.Inc()
		}
		return false
	}
	s.wg.Add(1)
	defer func() {
		<-s.sem
		s.wg.Done()
	}()

	start := time.Now()
	if s.metrics != nil {
		s.metrics.JobsFired.Inc()
	}
	s.logger.InfoContext(ctx, "firing scheduled job", slog.String("job", job.Name))

	run, err := s.asker.Ask(ctx, mission.AskRequest{
		Query:  job.Query,
		Source: storage.SourceScheduler,
		UserID: "scheduler:" + job.Name,
	})
	if s.metrics != nil {
		s.metrics.RunDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		attrs := []any{slog.String("job", job.Name), slog.String("error", err.Error())}
		if run != nil {
			attrs = append(attrs, slog.String("run_id", run.ID.String()))
		}
		s.logger.ErrorContext(ctx, "scheduled job failed", attrs...)
		if s.metrics != nil {
			s.metrics.JobsFailed.Inc()
		}
		return true
	}

	s.logger.InfoContext(ctx, "scheduled job completed",
		slog.String("job", job.Name),
		slog.String("run_id", run.ID.String()),
		slog.Duration("duration", time.Since(start)),
	)
	if s.metrics != nil {
		s.metrics.JobsSucceeded.Inc()
	}
	return true
}

// NextRun returns the next time expr fires after from.
func NextRun(expr string, from time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched.Next(from), nil
}

// ErrNoJobs is returned by Validate when the scheduler is enabled without jobs.
var ErrNoJobs = errors.New("scheduler enabled without jobs")

// Validate checks every job schedule without starting anything.
func Validate(cfg *config.SchedulerConfig) error {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	if len(cfg.Jobs) == 0 {
		return ErrNoJobs
	}
	for _, job := range cfg.Jobs {
		if _, err := parser.Parse(job.Schedule); err != nil {
			return fmt.Errorf("job %q: %w", job.Name, err)
		}
	}
	return nil
}
