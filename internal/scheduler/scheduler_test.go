package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/astro/internal/config"
	"github.com/jkaninda/astro/internal/mission"
	"github.com/jkaninda/astro/internal/storage"
)

type fakeAsker struct {
	mu      sync.Mutex
	reqs    []mission.AskRequest
	err     error
	release chan struct{}
	started chan struct{}
}

func (f *fakeAsker) Ask(ctx context.Context, req mission.AskRequest) (*storage.Run, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	run := &storage.Run{ID: uuid.New(), Query: req.Query, Source: req.Source}
	if f.err != nil {
		return run, f.err
	}
	return run, nil
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			var total float64
			for _, m := range f.GetMetric() {
				total += m.GetCounter().GetValue()
			}
			return total
		}
	}
	return 0
}

func TestFireSubmitsQueryWithSchedulerSource(t *testing.T) {
	asker := &fakeAsker{}
	reg := prometheus.NewRegistry()
	job := config.ScheduledJobConfig{Name: "daily", Schedule: "@daily", Query: "Upcoming launches this week"}

	s, err := New(asker, &config.SchedulerConfig{Enabled: true, Jobs: []config.ScheduledJobConfig{job}}, NewMetrics(reg), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !s.Fire(context.Background(), job) {
		t.Fatal("job should run")
	}

	if len(asker.reqs) != 1 {
		t.Fatalf("asks = %d, want 1", len(asker.reqs))
	}
	req := asker.reqs[0]
	if req.Query != job.Query || req.Source != storage.SourceScheduler || req.UserID != "scheduler:daily" {
		t.Errorf("request = %+v", req)
	}
	if got := counterValue(t, reg, "astro_scheduler_jobs_succeeded_total"); got != 1 {
		t.Errorf("succeeded = %v, want 1", got)
	}
}

func TestFireRecordsFailure(t *testing.T) {
	asker := &fakeAsker{err: errors.New("llm down")}
	reg := prometheus.NewRegistry()
	s, err := New(asker, &config.SchedulerConfig{}, NewMetrics(reg), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Fire(context.Background(), config.ScheduledJobConfig{Name: "x", Query: "q"})

	if got := counterValue(t, reg, "astro_scheduler_jobs_failed_total"); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
}

func TestFireSkipsAtConcurrencyLimit(t *testing.T) {
	asker := &fakeAsker{release: make(chan struct{}), started: make(chan struct{}, 1)}
	reg := prometheus.NewRegistry()
	s, err := New(asker, &config.SchedulerConfig{MaxConcurrentRun: 1}, NewMetrics(reg), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	job := config.ScheduledJobConfig{Name: "slow", Query: "q"}

	done := make(chan bool)
	go func() { done <- s.Fire(context.Background(), job) }()
	<-asker.started

	if s.Fire(context.Background(), job) {
		t.Error("second run should be skipped while the first is in flight")
	}
	close(asker.release)
	if !<-done {
		t.Error("first run should have run")
	}
	if got := counterValue(t, reg, "astro_scheduler_jobs_skipped_total"); got != 1 {
		t.Errorf("skipped = %v, want 1", got)
	}
}

func TestNewRejectsInvalidSchedule(t *testing.T) {
	cfg := &config.SchedulerConfig{Jobs: []config.ScheduledJobConfig{{Name: "bad", Schedule: "every tuesday", Query: "q"}}}
	if _, err := New(&fakeAsker{}, cfg, nil, nil); err == nil {
		t.Fatal("expected schedule error")
	}
	if err := Validate(&config.SchedulerConfig{Enabled: true, Jobs: cfg.Jobs}); err == nil {
		t.Fatal("Validate should reject the schedule")
	}
	if err := Validate(&config.SchedulerConfig{Enabled: true}); !errors.Is(err, ErrNoJobs) {
		t.Errorf("Validate without jobs = %v, want ErrNoJobs", err)
	}
}

func TestNextRun(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	next, err := NextRun("0 12 * * *", from)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	if want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC); !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestStartStop(t *testing.T) {
	s, err := New(&fakeAsker{}, &config.SchedulerConfig{Jobs: []config.ScheduledJobConfig{{Name: "h", Schedule: "@hourly", Query: "q"}}}, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stop := s.Start(context.Background())
	stop()
}
