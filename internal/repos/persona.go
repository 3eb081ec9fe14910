package repos

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/types"
)

type PersonaRepo interface {
	Create(dbc dbctx.Context, persona *types.Persona) (*types.Persona, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Persona, error)
	ListPresets(dbc dbctx.Context) ([]*types.Persona, error)
}

type personaRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPersonaRepo(db *gorm.DB, baseLog *logger.Logger) PersonaRepo {
	return &personaRepo{db: db, log: baseLog.With("repo", "PersonaRepo")}
}

func (r *personaRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *personaRepo) Create(dbc dbctx.Context, persona *types.Persona) (*types.Persona, error) {
	if persona.ID == uuid.Nil {
		persona.ID = uuid.New()
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).Create(persona).Error; err != nil {
		return nil, err
	}
	return persona, nil
}

func (r *personaRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Persona, error) {
	var row types.Persona
	err := r.handle(dbc).WithContext(dbc.Ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *personaRepo) ListPresets(dbc dbctx.Context) ([]*types.Persona, error) {
	var out []*types.Persona
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("is_preset = ?", true).
		Order("name ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
