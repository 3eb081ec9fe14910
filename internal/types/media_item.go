package types

import (
	"time"

	"github.com/google/uuid"
)

type MediaItem struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TaskID uuid.UUID `gorm:"type:uuid;column:task_id;not null;index;uniqueIndex:idx_media_items_task_original_url" json:"task_id"`

	OriginalURL string `gorm:"column:original_url;not null;uniqueIndex:idx_media_items_task_original_url" json:"original_url"`
	CloudURL    string `gorm:"column:cloud_url" json:"cloud_url"`
	LocalPath   string `gorm:"column:local_path" json:"local_path"`
	Filename    string `gorm:"column:filename" json:"filename"`
	MimeType    string `gorm:"column:mime_type" json:"mime_type"`
	MediaType   string `gorm:"column:media_type;not null;index" json:"media_type"` // image|video|audio|markdown
	FileSize    int64  `gorm:"column:file_size" json:"file_size"`

	Resolution string  `gorm:"column:resolution" json:"resolution"` // "WxH"
	Duration   float64 `gorm:"column:duration" json:"duration"`     // seconds, video only

	// Sandwich context captured around the reference in the source document.
	ContextBefore        string `gorm:"column:context_before" json:"context_before"`
	Caption              string `gorm:"column:caption" json:"caption"`
	ContextAfter         string `gorm:"column:context_after" json:"context_after"`
	SurroundingParagraph string `gorm:"column:surrounding_paragraph" json:"surrounding_paragraph"`
	PositionInContent    int    `gorm:"column:position_in_content" json:"position_in_content"`

	ManualDescription string `gorm:"column:manual_description" json:"manual_description"`

	CreatedAt time.Time `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (MediaItem) TableName() string { return "media_items" }
