package repos

import (
	"gorm.io/gorm"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/types"
)

type PromptTemplateRepo interface {
	GetByTypeAndStyle(dbc dbctx.Context, templateType, templateStyle string) ([]*types.PromptTemplate, error)
}

type promptTemplateRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPromptTemplateRepo(db *gorm.DB, baseLog *logger.Logger) PromptTemplateRepo {
	return &promptTemplateRepo{db: db, log: baseLog.With("repo", "PromptTemplateRepo")}
}

func (r *promptTemplateRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *promptTemplateRepo) GetByTypeAndStyle(dbc dbctx.Context, templateType, templateStyle string) ([]*types.PromptTemplate, error) {
	var out []*types.PromptTemplate
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("template_type = ? AND template_style = ?", templateType, templateStyle).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
