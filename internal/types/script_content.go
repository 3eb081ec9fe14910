package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ScriptContent struct {
	ID        uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TaskID    uuid.UUID  `gorm:"type:uuid;column:task_id;not null;index" json:"task_id"`
	SubTaskID string     `gorm:"column:sub_task_id;index" json:"sub_task_id"`
	PersonaID *uuid.UUID `gorm:"type:uuid;column:persona_id" json:"persona_id,omitempty"`

	ScriptStyle      string `gorm:"column:script_style" json:"script_style"`
	GenerationStatus string `gorm:"column:generation_status;not null;index" json:"generation_status"`

	Titles          datatypes.JSON `gorm:"type:jsonb;column:titles" json:"titles"`
	Description     string         `gorm:"column:description" json:"description"`
	Narration       string         `gorm:"column:narration" json:"narration"`
	Scenes          datatypes.JSON `gorm:"type:jsonb;column:scenes" json:"scenes"`
	MaterialMapping datatypes.JSON `gorm:"type:jsonb;column:material_mapping" json:"material_mapping"`
	Tags            datatypes.JSON `gorm:"type:jsonb;column:tags" json:"tags"`

	EstimatedDuration float64 `gorm:"column:estimated_duration" json:"estimated_duration"`
	WordCount         int     `gorm:"column:word_count" json:"word_count"`
	SceneCount        int     `gorm:"column:scene_count" json:"scene_count"`
	MaterialCount     int     `gorm:"column:material_count" json:"material_count"`

	// Raw LLM exchange kept for audit.
	GenerationPrompt string `gorm:"column:generation_prompt" json:"generation_prompt"`
	AIResponse       string `gorm:"column:ai_response" json:"ai_response"`

	ErrorMessage string     `gorm:"column:error_message" json:"error_message"`
	GeneratedAt  *time.Time `gorm:"column:generated_at" json:"generated_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (ScriptContent) TableName() string { return "script_contents" }
