package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jkaninda/astro/internal/storage"
)

// Compile-time interface check.
var _ storage.RunStore = (*RunRepository)(nil)

// RunRepository implements storage.RunStore with GORM. It is shared by the
// PostgreSQL and SQLite backends.
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository creates a RunRepository.
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// CreateRun persists a new run. A nil ID is replaced by a fresh UUID.
func (r *RunRepository) CreateRun(ctx context.Context, run *storage.Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = storage.RunStatusRunning
	}
	model := toRunModel(run)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

// FinishRun updates the run's final state and replaces its task outputs.
func (r *RunRepository) FinishRun(ctx context.Context, run *storage.Run) error {
	if run.CompletedAt == nil {
		now := time.Now().UTC()
		run.CompletedAt = &now
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&RunModel{}).
			Where("id = ?", run.ID).
			Updates(map[string]any{
				"status":        string(run.Status),
				"result":        run.Result,
				"error":         run.Error,
				"input_tokens":  run.InputTokens,
				"output_tokens": run.OutputTokens,
				"duration_ms":   run.DurationMS,
				"completed_at":  run.CompletedAt,
			})
		if result.Error != nil {
			return fmt.Errorf("updating run %s: %w", run.ID, result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("run %s: %w", run.ID, storage.ErrNotFound)
		}

		if err := tx.Where("run_id = ?", run.ID).Delete(&TaskRunModel{}).Error; err != nil {
			return fmt.Errorf("clearing task runs: %w", err)
		}
		if len(run.Tasks) == 0 {
			return nil
		}
		models := make([]TaskRunModel, len(run.Tasks))
		for i := range run.Tasks {
			t := &run.Tasks[i]
			if t.ID == uuid.Nil {
				t.ID = uuid.New()
			}
			models[i] = toTaskRunModel(run.ID, t)
		}
		if err := tx.Create(&models).Error; err != nil {
			return fmt.Errorf("storing task runs: %w", err)
		}
		return nil
	})
}

// GetRun retrieves a run with its task outputs in execution order.
func (r *RunRepository) GetRun(ctx context.Context, id uuid.UUID) (*storage.Run, error) {
	var model RunModel
	err := r.db.WithContext(ctx).
		Preload("Tasks", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("run %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting run %s: %w", id, err)
	}
	return toRunDomain(&model), nil
}

// ListRuns returns the most recent runs first, without task outputs.
func (r *RunRepository) ListRuns(ctx context.Context, filter storage.RunFilter) ([]storage.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if filter.Source != "" {
		q = q.Where("source = ?", filter.Source)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}

	var models []RunModel
	if err := q.Find(&models).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	runs := make([]storage.Run, len(models))
	for i := range models {
		runs[i] = *toRunDomain(&models[i])
	}
	return runs, nil
}
