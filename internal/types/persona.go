package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type Persona struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Name           string         `gorm:"column:name;not null" json:"name"`
	PersonaType    string         `gorm:"column:persona_type;not null" json:"persona_type"`
	Style          string         `gorm:"column:style" json:"style"`
	TargetAudience string         `gorm:"column:target_audience" json:"target_audience"`
	Characteristics string        `gorm:"column:characteristics" json:"characteristics"`
	Tone           string         `gorm:"column:tone" json:"tone"`
	Keywords       datatypes.JSON `gorm:"type:jsonb;column:keywords" json:"keywords"`
	CustomPrompts  datatypes.JSON `gorm:"type:jsonb;column:custom_prompts" json:"custom_prompts"`
	IsPreset       bool           `gorm:"column:is_preset;not null;default:false" json:"is_preset"`
	CreatedAt      time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (Persona) TableName() string { return "personas" }
