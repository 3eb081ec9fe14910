package types

import (
	"time"

	"github.com/google/uuid"
)

type PromptTemplate struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TemplateKey     string    `gorm:"column:template_key;not null;uniqueIndex" json:"template_key"`
	TemplateContent string    `gorm:"column:template_content;not null" json:"template_content"`
	Description     string    `gorm:"column:description" json:"description"`
	Category        string    `gorm:"column:category" json:"category"`
	TemplateType    string    `gorm:"column:template_type;index:idx_prompt_templates_type_style" json:"template_type"`
	TemplateStyle   string    `gorm:"column:template_style;index:idx_prompt_templates_type_style" json:"template_style"`
	CreatedAt       time.Time `gorm:"not null;default:now()" json:"created_at"`
}

func (PromptTemplate) TableName() string { return "prompt_templates" }
