package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SubVideoTask struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SubTaskID    string    `gorm:"column:sub_task_id;not null;uniqueIndex" json:"sub_task_id"`
	ParentTaskID uuid.UUID `gorm:"type:uuid;column:parent_task_id;not null;index" json:"parent_task_id"`
	VideoIndex   int       `gorm:"column:video_index;not null" json:"video_index"`
	ScriptStyle  string    `gorm:"column:script_style" json:"script_style"`
	Status       string    `gorm:"column:status;not null;index" json:"status"` // pending|processing|processing_subtitles|completed|failed
	Progress     int       `gorm:"column:progress;not null;default:0" json:"progress"`

	ScriptID   *uuid.UUID     `gorm:"type:uuid;column:script_id" json:"script_id,omitempty"`
	ScriptData datatypes.JSON `gorm:"type:jsonb;column:script_data" json:"script_data"`

	CourseMediaID string  `gorm:"column:course_media_id;index" json:"course_media_id"`
	VideoURL      string  `gorm:"column:video_url" json:"video_url"`
	ThumbnailURL  string  `gorm:"column:thumbnail_url" json:"thumbnail_url"`
	Duration      float64 `gorm:"column:duration" json:"duration"`

	ErrorMessage string     `gorm:"column:error_message" json:"error_message"`
	CompletedAt  *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null;default:now();index" json:"updated_at"`
}

func (SubVideoTask) TableName() string { return "sub_video_tasks" }

// SubTaskIDFor builds the natural identity of one sub video task.
// Index is 1-based.
func SubTaskIDFor(taskID uuid.UUID, index int) string {
	return fmt.Sprintf("%s_video_%d", taskID, index)
}
