// Package storage defines the run history persistence interface.
// Two backends are provided: SQLite (default, zero-config) and PostgreSQL.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus is the lifecycle state of a crew run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run sources.
const (
	SourceWeb       = "web"
	SourceAPI       = "api"
	SourceWebSocket = "websocket"
	SourceCLI       = "cli"
	SourceScheduler = "scheduler"
	SourceMCP       = "mcp"
)

// Run is one crew kickoff for one query.
type Run struct {
	ID           uuid.UUID  `json:"id"`
	Crew         string     `json:"crew"`
	Query        string     `json:"query"`
	Source       string     `json:"source"`
	UserID       string     `json:"user_id,omitempty"`
	Status       RunStatus  `json:"status"`
	Result       string     `json:"result,omitempty"`
	Error        string     `json:"error,omitempty"`
	InputTokens  int        `json:"input_tokens"`
	OutputTokens int        `json:"output_tokens"`
	DurationMS   int64      `json:"duration_ms"`
	Tasks        []TaskRun  `json:"tasks,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// TaskRun is the output of one task within a run.
type TaskRun struct {
	ID           uuid.UUID `json:"id"`
	Position     int       `json:"position"`
	Name         string    `json:"name"`
	Agent        string    `json:"agent"`
	Output       string    `json:"output"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	DurationMS   int64     `json:"duration_ms"`
}

// RunFilter narrows ListRuns. Zero values match everything.
type RunFilter struct {
	Source string
	Status RunStatus
	Limit  int // Default: 50
}

// RunStore persists crew runs.
type RunStore interface {
	CreateRun(ctx context.Context, run *Run) error
	// FinishRun stores the final status, result and task outputs of a run.
	FinishRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
}

// Store is the persistence backend. Both SQLite and PostgreSQL implement it.
type Store interface {
	Runs() RunStore

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Driver returns the storage driver name ("sqlite" or "postgres").
	Driver() string
}

// DefaultListLimit caps ListRuns when the filter sets no limit.
const DefaultListLimit = 50

// DriverSQLite is the SQLite driver name.
const DriverSQLite = "sqlite"

// DriverPostgres is the PostgreSQL driver name.
const DriverPostgres = "postgres"
