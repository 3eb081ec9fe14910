package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type MaterialAnalysis struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	TaskID      uuid.UUID  `gorm:"type:uuid;column:task_id;not null;index;uniqueIndex:idx_material_analyses_task_original_url" json:"task_id"`
	MediaItemID *uuid.UUID `gorm:"type:uuid;column:media_item_id;index" json:"media_item_id,omitempty"`

	OriginalURL string `gorm:"column:original_url;not null;uniqueIndex:idx_material_analyses_task_original_url" json:"original_url"`
	FileURL     string `gorm:"column:file_url" json:"file_url"`
	FileType    string `gorm:"column:file_type" json:"file_type"` // image|video
	Status      string `gorm:"column:status;not null;index" json:"status"`

	AIDescription         string         `gorm:"column:ai_description" json:"ai_description"`
	ContextualDescription string         `gorm:"column:contextual_description" json:"contextual_description"`
	ExtractedText         string         `gorm:"column:extracted_text" json:"extracted_text"`
	KeyObjects            datatypes.JSON `gorm:"type:jsonb;column:key_objects" json:"key_objects"`
	EmotionalTone         string         `gorm:"column:emotional_tone" json:"emotional_tone"`
	VisualStyle           string         `gorm:"column:visual_style" json:"visual_style"`
	QualityScore          float64        `gorm:"column:quality_score" json:"quality_score"`
	QualityLevel          string         `gorm:"column:quality_level" json:"quality_level"`
	UsageSuggestions      datatypes.JSON `gorm:"type:jsonb;column:usage_suggestions" json:"usage_suggestions"`

	// Video-only metadata.
	KeyFrames  datatypes.JSON `gorm:"type:jsonb;column:key_frames" json:"key_frames"`
	FPS        float64        `gorm:"column:fps" json:"fps"`
	Resolution string         `gorm:"column:resolution" json:"resolution"`
	Duration   float64        `gorm:"column:duration" json:"duration"`

	// Raw model output kept for audit.
	RawResponse  string `gorm:"column:raw_response" json:"raw_response"`
	ErrorMessage string `gorm:"column:error_message" json:"error_message"`

	AnalyzedAt *time.Time `gorm:"column:analyzed_at" json:"analyzed_at,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;default:now()" json:"updated_at"`
}

func (MaterialAnalysis) TableName() string { return "material_analyses" }
