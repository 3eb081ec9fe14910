package repos

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/types"
)

type MaterialAnalysisRepo interface {
	// Upsert writes one analysis row keyed by (task_id, original_url).
	// Conflict rule: a stored completed status is never downgraded by a
	// re-upsert; every other field takes the incoming value.
	Upsert(dbc dbctx.Context, analysis *types.MaterialAnalysis) (*types.MaterialAnalysis, error)
	GetByTaskAndURL(dbc dbctx.Context, taskID uuid.UUID, originalURL string) (*types.MaterialAnalysis, error)
	GetByTask(dbc dbctx.Context, taskID uuid.UUID) ([]*types.MaterialAnalysis, error)
	GetCompletedByTask(dbc dbctx.Context, taskID uuid.UUID) ([]*types.MaterialAnalysis, error)
}

type materialAnalysisRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMaterialAnalysisRepo(db *gorm.DB, baseLog *logger.Logger) MaterialAnalysisRepo {
	return &materialAnalysisRepo{db: db, log: baseLog.With("repo", "MaterialAnalysisRepo")}
}

func (r *materialAnalysisRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *materialAnalysisRepo) Upsert(dbc dbctx.Context, analysis *types.MaterialAnalysis) (*types.MaterialAnalysis, error) {
	if analysis.ID == uuid.Nil {
		analysis.ID = uuid.New()
	}
	assignments := map[string]any{
		// Keep a completed status; otherwise take the new one.
		"status": gorm.Expr(
			"CASE WHEN material_analyses.status = ? THEN material_analyses.status ELSE excluded.status END",
			types.AnalysisStatusCompleted,
		),
		"media_item_id":          gorm.Expr("excluded.media_item_id"),
		"file_url":               gorm.Expr("excluded.file_url"),
		"file_type":              gorm.Expr("excluded.file_type"),
		"ai_description":         gorm.Expr("excluded.ai_description"),
		"contextual_description": gorm.Expr("excluded.contextual_description"),
		"extracted_text":         gorm.Expr("excluded.extracted_text"),
		"key_objects":            gorm.Expr("excluded.key_objects"),
		"emotional_tone":         gorm.Expr("excluded.emotional_tone"),
		"visual_style":           gorm.Expr("excluded.visual_style"),
		"quality_score":          gorm.Expr("excluded.quality_score"),
		"quality_level":          gorm.Expr("excluded.quality_level"),
		"usage_suggestions":      gorm.Expr("excluded.usage_suggestions"),
		"key_frames":             gorm.Expr("excluded.key_frames"),
		"fps":                    gorm.Expr("excluded.fps"),
		"resolution":             gorm.Expr("excluded.resolution"),
		"duration":               gorm.Expr("excluded.duration"),
		"raw_response":           gorm.Expr("excluded.raw_response"),
		"error_message":          gorm.Expr("excluded.error_message"),
		"analyzed_at":            gorm.Expr("excluded.analyzed_at"),
		"updated_at":             time.Now().UTC(),
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_id"}, {Name: "original_url"}},
			DoUpdates: clause.Assignments(assignments),
		}).
		Create(analysis).Error
	if err != nil {
		return nil, err
	}
	return r.GetByTaskAndURL(dbc, analysis.TaskID, analysis.OriginalURL)
}

func (r *materialAnalysisRepo) GetByTaskAndURL(dbc dbctx.Context, taskID uuid.UUID, originalURL string) (*types.MaterialAnalysis, error) {
	var row types.MaterialAnalysis
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("task_id = ? AND original_url = ?", taskID, originalURL).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *materialAnalysisRepo) GetByTask(dbc dbctx.Context, taskID uuid.UUID) ([]*types.MaterialAnalysis, error) {
	var out []*types.MaterialAnalysis
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("task_id = ?", taskID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *materialAnalysisRepo) GetCompletedByTask(dbc dbctx.Context, taskID uuid.UUID) ([]*types.MaterialAnalysis, error) {
	var out []*types.MaterialAnalysis
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("task_id = ? AND status = ?", taskID, types.AnalysisStatusCompleted).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
