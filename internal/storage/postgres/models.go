package postgres

import (
	"time"

	"github.com/google/uuid"
)

// RunModel maps to the "runs" table.
type RunModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Crew         string    `gorm:"not null;index"`
	Query        string    `gorm:"type:text;not null"`
	Source       string    `gorm:"not null;index"`
	UserID       string
	Status       string `gorm:"not null;index"`
	Result       string `gorm:"type:text"`
	Error        string `gorm:"type:text"`
	InputTokens  int    `gorm:"not null;default:0"`
	OutputTokens int    `gorm:"not null;default:0"`
	DurationMS   int64  `gorm:"not null;default:0"`
	CreatedAt    time.Time `gorm:"index"`
	CompletedAt  *time.Time

	Tasks []TaskRunModel `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

func (RunModel) TableName() string { return "runs" }

// TaskRunModel maps to the "task_runs" table.
type TaskRunModel struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	RunID        uuid.UUID `gorm:"type:uuid;not null;index"`
	Position     int       `gorm:"not null"`
	Name         string    `gorm:"not null"`
	Agent        string    `gorm:"not null"`
	Output       string    `gorm:"type:text"`
	InputTokens  int       `gorm:"not null;default:0"`
	OutputTokens int       `gorm:"not null;default:0"`
	DurationMS   int64     `gorm:"not null;default:0"`
	CreatedAt    time.Time
}

func (TaskRunModel) TableName() string { return "task_runs" }

// Models lists every table in FK-dependency order.
func Models() []any {
	return []any{&RunModel{}, &TaskRunModel{}}
}
