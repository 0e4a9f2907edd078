package postgres

import (
	"github.com/google/uuid"

	"github.com/jkaninda/astro/internal/storage"
)

func toRunModel(r *storage.Run) RunModel {
	return RunModel{
		ID:           r.ID,
		Crew:         r.Crew,
		Query:        r.Query,
		Source:       r.Source,
		UserID:       r.UserID,
		Status:       string(r.Status),
		Result:       r.Result,
		Error:        r.Error,
		InputTokens:  r.InputTokens,
		OutputTokens: r.OutputTokens,
		DurationMS:   r.DurationMS,
		CreatedAt:    r.CreatedAt,
		CompletedAt:  r.CompletedAt,
	}
}

func toRunDomain(m *RunModel) *storage.Run {
	r := &storage.Run{
		ID:           m.ID,
		Crew:         m.Crew,
		Query:        m.Query,
		Source:       m.Source,
		UserID:       m.UserID,
		Status:       storage.RunStatus(m.Status),
		Result:       m.Result,
		Error:        m.Error,
		InputTokens:  m.InputTokens,
		OutputTokens: m.OutputTokens,
		DurationMS:   m.DurationMS,
		CreatedAt:    m.CreatedAt,
		CompletedAt:  m.CompletedAt,
	}
	if len(m.Tasks) > 0 {
		r.Tasks = make([]storage.TaskRun, len(m.Tasks))
		for i := range m.Tasks {
			r.Tasks[i] = toTaskRunDomain(&m.Tasks[i])
		}
	}
	return r
}

func toTaskRunModel(runID uuid.UUID, t *storage.TaskRun) TaskRunModel {
	return TaskRunModel{
		ID:           t.ID,
		RunID:        runID,
		Position:     t.Position,
		Name:         t.Name,
		Agent:        t.Agent,
		Output:       t.Output,
		InputTokens:  t.InputTokens,
		OutputTokens: t.OutputTokens,
		DurationMS:   t.DurationMS,
	}
}

func toTaskRunDomain(m *TaskRunModel) storage.TaskRun {
	return storage.TaskRun{
		ID:           m.ID,
		Position:     m.Position,
		Name:         m.Name,
		Agent:        m.Agent,
		Output:       m.Output,
		InputTokens:  m.InputTokens,
		OutputTokens: m.OutputTokens,
		DurationMS:   m.DurationMS,
	}
}
