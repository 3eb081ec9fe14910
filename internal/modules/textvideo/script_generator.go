package textvideo

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/solocore/textloom/internal/clients/openai"
	"github.com/solocore/textloom/internal/platform/dbctx"
	"github.com/solocore/textloom/internal/platform/logger"
	"github.com/solocore/textloom/internal/repos"
	"github.com/solocore/textloom/internal/types"
)

// Scene is one normalized script scene. MaterialID is nil when the scene
// needs no material.
type Scene struct {
	SceneID     int     `json:"scene_id"`
	Timing      string  `json:"timing"`
	Narration   string  `json:"narration"`
	MaterialID  *string `json:"material_id"`
	Description string  `json:"description"`
}

// ScriptResult is the normalized stage-4 output for one sub task.
type ScriptResult struct {
	ScriptID          uuid.UUID      `json:"script_id"`
	SubTaskID         string         `json:"sub_task_id"`
	Style             string         `json:"script_style"`
	Title             string         `json:"title"`
	Titles            []string       `json:"titles"`
	Description       string         `json:"description"`
	Narration         string         `json:"narration"`
	Scenes            []Scene        `json:"scenes"`
	MaterialMapping   map[string]any `json:"material_mapping"`
	Tags              []string       `json:"tags"`
	EstimatedDuration float64        `json:"estimated_duration"`
	WordCount         int            `json:"word_count"`
	SceneCount        int            `json:"scene_count"`
	MaterialCount     int            `json:"material_count"`
}

// ScriptGenerator runs stage 4: one LLM script per sub task, bounded
// fan-out, strict-but-tolerant JSON output parsing, and persistence of
// both the ScriptContent row and the condensed script_data blob on the
// sub task.
type ScriptGenerator struct {
	log          *logger.Logger
	cfg          Config
	ai           openai.Client
	scriptRepo   repos.ScriptContentRepo
	subTaskRepo  repos.SubVideoTaskRepo
	personaRepo  repos.PersonaRepo
	templateRepo repos.PromptTemplateRepo
}

func NewScriptGenerator(
	baseLog *logger.Logger,
	cfg Config,
	ai openai.Client,
	scriptRepo repos.ScriptContentRepo,
	subTaskRepo repos.SubVideoTaskRepo,
	personaRepo repos.PersonaRepo,
	templateRepo repos.PromptTemplateRepo,
) *ScriptGenerator {
	return &ScriptGenerator{
		log:          baseLog.With("component", "ScriptGenerator"),
		cfg:          cfg,
		ai:           ai,
		scriptRepo:   scriptRepo,
		subTaskRepo:  subTaskRepo,
		personaRepo:  personaRepo,
		templateRepo: templateRepo,
	}
}

// ScriptOutcome pairs a sub task with its generation result.
type ScriptOutcome struct {
	SubTaskID string
	Result    *ScriptResult
	Err       error
}

// GenerateScriptsParallel fans one script generation out per sub task
// with a bounded pool. A sub-task failure marks that row failed and never
// affects siblings; the caller decides what an empty success set means.
func (g *ScriptGenerator) GenerateScriptsParallel(
	ctx context.Context,
	taskID uuid.UUID,
	subTaskIDs []string,
	topic string,
	sourceContent string,
	materials []MaterialContextEntry,
	personaID *uuid.UUID,
) []ScriptOutcome {
	outcomes := make([]ScriptOutcome, len(subTaskIDs))
	var mu sync.Mutex

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.cfg.ScriptPoolSize)
	for i, subTaskID := range subTaskIDs {
		eg.Go(func() error {
			result, err := g.generateForSubTask(egctx, taskID, subTaskID, topic, sourceContent, materials, personaID)
			mu.Lock()
			outcomes[i] = ScriptOutcome{SubTaskID: subTaskID, Result: result, Err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return outcomes
}

func (g *ScriptGenerator) generateForSubTask(
	ctx context.Context,
	taskID uuid.UUID,
	subTaskID string,
	topic string,
	sourceContent string,
	materials []MaterialContextEntry,
	personaID *uuid.UUID,
) (*ScriptResult, error) {
	dbc := dbctx.Context{Ctx: ctx}

	sub, err := g.subTaskRepo.GetBySubTaskID(dbc, subTaskID)
	if err != nil {
		return nil, &ScriptError{SubTaskID: subTaskID, Err: err}
	}
	if sub == nil {
		return nil, &ScriptError{SubTaskID: subTaskID, Err: fmt.Errorf("sub task not found")}
	}
	style := sub.ScriptStyle
	if style == "" {
		style = types.ScriptStyleDefault
	}

	if _, err := g.subTaskRepo.UpdateFields(dbc, subTaskID, map[string]any{
		"status":   types.SubTaskStatusProcessing,
		"progress": 25,
	}); err != nil {
		return nil, &ScriptError{SubTaskID: subTaskID, Err: err}
	}

	result, genErr := g.GenerateScript(ctx, taskID, subTaskID, topic, sourceContent, materials, personaID, style)
	if genErr != nil {
		if _, updErr := g.subTaskRepo.UpdateFields(dbc, subTaskID, map[string]any{
			"status":        types.SubTaskStatusFailed,
			"error_message": genErr.Error(),
			"progress":      0,
		}); updErr != nil {
			g.log.Error("sub task failure write error", "sub_task_id", subTaskID, "error", updErr)
		}
		return nil, genErr
	}

	// Back-propagate the condensed script data onto the sub task.
	scriptData := map[string]any{
		"titles":             result.Titles,
		"narration":          result.Narration,
		"scenes":             result.Scenes,
		"material_mapping":   result.MaterialMapping,
		"description":        result.Description,
		"tags":               result.Tags,
		"estimated_duration": result.EstimatedDuration,
		"word_count":         result.WordCount,
		"scene_count":        result.SceneCount,
		"material_count":     result.MaterialCount,
	}
	if _, err := g.subTaskRepo.UpdateFields(dbc, subTaskID, map[string]any{
		"script_id":   result.ScriptID,
		"script_data": mustJSON(scriptData),
		"status":      types.SubTaskStatusProcessing,
		"progress":    50,
	}); err != nil {
		return nil, &ScriptError{SubTaskID: subTaskID, Err: err}
	}
	return result, nil
}

// GenerateScript produces one script: persona and template lookup, prompt
// assembly, LLM call, tolerant parse, normalization, persistence.
func (g *ScriptGenerator) GenerateScript(
	ctx context.Context,
	taskID uuid.UUID,
	subTaskID string,
	topic string,
	sourceContent string,
	materials []MaterialContextEntry,
	personaID *uuid.UUID,
	style string,
) (*ScriptResult, error) {
	dbc := dbctx.Context{Ctx: ctx}

	var persona *types.Persona
	if personaID != nil {
		persona, _ = g.personaRepo.GetByID(dbc, *personaID)
		if persona == nil {
			g.log.Warn("persona not found", "persona_id", personaID, "sub_task_id", subTaskID)
		}
	}

	// One ScriptContent row per sub task. A completed row from a prior
	// run short-circuits regeneration so re-delivered pipeline messages
	// are no-ops; a processing/failed row is reused, never duplicated.
	record, err := g.scriptRepo.GetBySubTaskID(dbc, subTaskID)
	if err != nil {
		return nil, &ScriptError{SubTaskID: subTaskID, Err: err}
	}
	if record != nil && record.GenerationStatus == types.GenerationStatusCompleted {
		g.log.Info("script already generated, skipping", "sub_task_id", subTaskID, "script_id", record.ID)
		return scriptResultFromRow(record), nil
	}
	if record == nil {
		// Script record first, so a crash mid-generation leaves an
		// auditable processing row instead of nothing.
		record, err = g.scriptRepo.Create(dbc, &types.ScriptContent{
			TaskID:           taskID,
			SubTaskID:        subTaskID,
			PersonaID:        personaID,
			ScriptStyle:      style,
			GenerationStatus: types.GenerationStatusProcessing,
		})
		if err != nil {
			return nil, &ScriptError{SubTaskID: subTaskID, Err: fmt.Errorf("create script record: %w", err)}
		}
	} else {
		if err := g.scriptRepo.UpdateFields(dbc, record.ID, map[string]any{
			"generation_status": types.GenerationStatusProcessing,
			"error_message":     "",
		}); err != nil {
			return nil, &ScriptError{SubTaskID: subTaskID, Err: err}
		}
	}

	systemTemplate, contentTemplate := g.lookupTemplates(dbc, style)
	prompt := BuildScriptPrompt(ScriptPromptInput{
		Topic:           topic,
		SourceContent:   sourceContent,
		Style:           style,
		Persona:         persona,
		Materials:       materials,
		SystemTemplate:  systemTemplate,
		ContentTemplate: contentTemplate,
	})

	raw, err := g.ai.GenerateScript(ctx, prompt, 8000, 0.7)
	if err != nil {
		g.markScriptFailed(dbc, record.ID, err)
		return nil, &ScriptError{SubTaskID: subTaskID, Err: err}
	}
	if raw == "" {
		err := fmt.Errorf("LLM returned empty content")
		g.markScriptFailed(dbc, record.ID, err)
		return nil, &ScriptError{SubTaskID: subTaskID, Err: err}
	}

	parsed, err := ParseModelJSON(raw)
	if err != nil {
		g.markScriptFailed(dbc, record.ID, err)
		return nil, &ScriptError{SubTaskID: subTaskID, Err: err}
	}

	result := normalizeScript(parsed, style)
	result.ScriptID = record.ID
	result.SubTaskID = subTaskID
	if result.Title == "" {
		result.Title = topic
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"titles":             mustJSON(result.Titles),
		"description":        result.Description,
		"narration":          result.Narration,
		"scenes":             mustJSON(result.Scenes),
		"material_mapping":   mustJSON(result.MaterialMapping),
		"tags":               mustJSON(result.Tags),
		"word_count":         result.WordCount,
		"scene_count":        result.SceneCount,
		"estimated_duration": result.EstimatedDuration,
		"material_count":     result.MaterialCount,
		"generation_prompt":  prompt,
		"ai_response":        raw,
		"generation_status":  types.GenerationStatusCompleted,
		"generated_at":       now,
	}
	if err := g.scriptRepo.UpdateFields(dbc, record.ID, updates); err != nil {
		// The in-memory result is still good; log and return it.
		g.log.Warn("script content update failed", "script_id", record.ID, "error", err)
	}

	g.log.Info("script generated",
		"sub_task_id", subTaskID,
		"style", style,
		"word_count", result.WordCount,
		"scene_count", result.SceneCount,
		"estimated_duration", result.EstimatedDuration,
	)
	return result, nil
}

func (g *ScriptGenerator) lookupTemplates(dbc dbctx.Context, style string) (system string, content string) {
	templateStyle := types.TemplateStyleDefault
	if rows, err := g.templateRepo.GetByTypeAndStyle(dbc, types.TemplateTypeSystem, templateStyle); err == nil && len(rows) > 0 {
		system = rows[0].TemplateContent
	}
	if rows, err := g.templateRepo.GetByTypeAndStyle(dbc, types.TemplateTypeScriptContent, templateStyle); err == nil && len(rows) > 0 {
		content = rows[0].TemplateContent
	}
	return system, content
}

func (g *ScriptGenerator) markScriptFailed(dbc dbctx.Context, scriptID uuid.UUID, cause error) {
	if err := g.scriptRepo.UpdateFields(dbc, scriptID, map[string]any{
		"generation_status": types.GenerationStatusFailed,
		"error_message":     cause.Error(),
	}); err != nil {
		g.log.Error("script failure write error", "script_id", scriptID, "error", err)
	}
}

// scriptResultFromRow rebuilds the normalized result from a previously
// committed ScriptContent row.
func scriptResultFromRow(row *types.ScriptContent) *ScriptResult {
	result := &ScriptResult{
		ScriptID:          row.ID,
		SubTaskID:         row.SubTaskID,
		Style:             row.ScriptStyle,
		Description:       row.Description,
		Narration:         row.Narration,
		MaterialMapping:   map[string]any{},
		EstimatedDuration: row.EstimatedDuration,
		WordCount:         row.WordCount,
		SceneCount:        row.SceneCount,
		MaterialCount:     row.MaterialCount,
	}
	_ = jsonUnmarshalLenient(row.Titles, &result.Titles)
	_ = jsonUnmarshalLenient(row.Scenes, &result.Scenes)
	_ = jsonUnmarshalLenient(row.MaterialMapping, &result.MaterialMapping)
	_ = jsonUnmarshalLenient(row.Tags, &result.Tags)
	if len(result.Titles) > 0 {
		result.Title = result.Titles[0]
	}
	return result
}

// normalizeScript maps the parsed model object onto the canonical result
// shape: scenes get ids, timing windows and descriptions back-filled, a
// missing narration gets a style-labelled placeholder, and a missing
// duration is estimated from the narration length.
func normalizeScript(data map[string]any, style string) *ScriptResult {
	result := &ScriptResult{
		Style:           style,
		Title:           stringField(data, "title"),
		Titles:          stringSliceField(data, "titles"),
		Description:     stringField(data, "description"),
		Narration:       stringField(data, "narration"),
		Tags:            stringSliceField(data, "tags"),
		MaterialMapping: map[string]any{},
	}
	if result.Narration == "" {
		result.Narration = stringField(data, "script")
	}
	if result.Title == "" && len(result.Titles) > 0 {
		result.Title = result.Titles[0]
	}
	if mm, ok := data["material_mapping"].(map[string]any); ok {
		result.MaterialMapping = mm
	}

	if rawScenes, ok := data["scenes"].([]any); ok {
		for _, rawScene := range rawScenes {
			sceneMap, ok := rawScene.(map[string]any)
			if !ok {
				continue
			}
			n := len(result.Scenes) + 1
			scene := Scene{
				SceneID:     n,
				Timing:      stringField(sceneMap, "timing"),
				Narration:   stringField(sceneMap, "narration"),
				Description: stringField(sceneMap, "description"),
			}
			if id := floatField(sceneMap, "scene_id"); id > 0 {
				scene.SceneID = int(id)
			}
			if scene.Timing == "" {
				scene.Timing = fmt.Sprintf("%d-%ds", (n-1)*5, n*5)
			}
			if scene.Description == "" {
				scene.Description = stringField(sceneMap, "material_description")
			}
			if mid := stringField(sceneMap, "material_id"); mid != "" {
				scene.MaterialID = &mid
			}
			result.Scenes = append(result.Scenes, scene)
		}
	}

	if result.Narration == "" {
		result.Narration = fmt.Sprintf("Placeholder narration in the %s style.", style)
	}

	result.WordCount = utf8.RuneCountInString(result.Narration)
	result.SceneCount = len(result.Scenes)
	result.MaterialCount = len(result.MaterialMapping)
	result.EstimatedDuration = floatField(data, "estimated_duration")
	if result.EstimatedDuration == 0 {
		result.EstimatedDuration = EstimateDuration(result.Narration)
	}
	return result
}

// EstimateDuration approximates narration length in seconds at ~200
// characters per minute, clamped to [15, 120].
func EstimateDuration(narration string) float64 {
	if narration == "" {
		return 0
	}
	chars := utf8.RuneCountInString(narration)
	duration := float64(chars) / 200.0 * 60.0
	if duration < 15 {
		duration = 15
	}
	if duration > 120 {
		duration = 120
	}
	// One decimal place.
	return float64(int(duration*10+0.5)) / 10
}
