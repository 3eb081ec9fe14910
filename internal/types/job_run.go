package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// JobRun backs the SQL job queue. Workers claim runnable rows with
// SKIP LOCKED and lease them via locked_at/heartbeat_at.
type JobRun struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	JobType  string    `gorm:"column:job_type;not null;index" json:"job_type"`
	Status   string    `gorm:"column:status;not null;index" json:"status"` // queued|running|succeeded|failed
	Stage    string    `gorm:"column:stage" json:"stage"`
	Attempts int       `gorm:"column:attempts;not null;default:0" json:"attempts"`

	// Optional entity the job acts on, used to avoid duplicate enqueues.
	EntityType string     `gorm:"column:entity_type;index" json:"entity_type"`
	EntityID   *uuid.UUID `gorm:"type:uuid;column:entity_id;index" json:"entity_id,omitempty"`

	Payload datatypes.JSON `gorm:"type:jsonb;column:payload" json:"payload"`
	Result  datatypes.JSON `gorm:"type:jsonb;column:result" json:"result"`

	Error       string     `gorm:"column:error" json:"error"`
	LastErrorAt *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`
	LockedAt    *time.Time `gorm:"column:locked_at;index" json:"locked_at,omitempty"`
	HeartbeatAt *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`

	CreatedAt time.Time `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now();index" json:"updated_at"`
}

func (JobRun) TableName() string { return "job_runs" }

// Job types dispatched through the queue.
const (
	JobTypeTextVideoPipeline  = "text_video_pipeline"
	JobTypeMergeReconcile     = "merge_reconcile"
	JobTypeSubtitlePostprocess = "subtitle_postprocess"
)

// Job run statuses.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)
