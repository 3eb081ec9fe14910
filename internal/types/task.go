package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Task struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Title       string    `gorm:"column:title;not null" json:"title"`
	Description string    `gorm:"column:description" json:"description"`
	CreatorID   string    `gorm:"column:creator_id;index" json:"creator_id"`
	TaskType    string    `gorm:"column:task_type;not null" json:"task_type"`
	Status      string    `gorm:"column:status;not null;index" json:"status"` // pending|processing|completed|failed|partial_success|cancelled
	Progress    int       `gorm:"column:progress;not null;default:0" json:"progress"`
	CurrentStage string   `gorm:"column:current_stage;index" json:"current_stage"`

	WorkspaceDir  string `gorm:"column:workspace_dir" json:"workspace_dir"`
	SourceFile    string `gorm:"column:source_file" json:"source_file"`
	Mode          string `gorm:"column:mode" json:"mode"`
	ScriptStyle   string `gorm:"column:script_style" json:"script_style"`
	PersonaID     *uuid.UUID `gorm:"type:uuid;column:persona_id" json:"persona_id,omitempty"`
	SubVideoCount int    `gorm:"column:sub_video_count;not null;default:1" json:"sub_video_count"`

	MultiVideoResults   datatypes.JSON `gorm:"type:jsonb;column:multi_video_results" json:"multi_video_results"`
	CompletedVideoCount int            `gorm:"column:completed_video_count;not null;default:0" json:"completed_video_count"`

	ErrorMessage string     `gorm:"column:error_message" json:"error_message"`
	StartedAt    *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt  *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null;default:now();index" json:"updated_at"`
}

func (Task) TableName() string { return "tasks" }
