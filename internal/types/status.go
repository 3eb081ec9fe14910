package types

// Task lifecycle statuses.
const (
	TaskStatusPending        = "pending"
	TaskStatusProcessing     = "processing"
	TaskStatusCompleted      = "completed"
	TaskStatusFailed         = "failed"
	TaskStatusPartialSuccess = "partial_success"
	TaskStatusCancelled      = "cancelled"
)

// Pipeline stages recorded on the task row, orthogonal to status.
const (
	StageMaterialProcessing = "material_processing"
	StageMaterialAnalysis   = "material_analysis"
	StageSubtaskCreation    = "subtask_creation"
	StageScriptGeneration   = "script_generation"
	StageVideoGeneration    = "video_generation"
	StageCompleted          = "completed"
	StageFailed             = "failed"
)

// Sub video task statuses.
const (
	SubTaskStatusPending             = "pending"
	SubTaskStatusProcessing          = "processing"
	SubTaskStatusProcessingSubtitles = "processing_subtitles"
	SubTaskStatusCompleted           = "completed"
	SubTaskStatusFailed              = "failed"
)

// Material analysis statuses.
const (
	AnalysisStatusPending    = "pending"
	AnalysisStatusProcessing = "processing"
	AnalysisStatusCompleted  = "completed"
	AnalysisStatusFailed     = "failed"
)

// Script generation statuses.
const (
	GenerationStatusPending    = "pending"
	GenerationStatusProcessing = "processing"
	GenerationStatusCompleted  = "completed"
	GenerationStatusFailed     = "failed"
)

// Media types.
const (
	MediaTypeImage    = "image"
	MediaTypeVideo    = "video"
	MediaTypeAudio    = "audio"
	MediaTypeMarkdown = "markdown"
)

// Script styles assigned to sub tasks by index.
const (
	ScriptStyleDefault     = "default"
	ScriptStyleProductGeek = "product_geek"
)

// Prompt template dimensions.
const (
	TemplateTypeSystem        = "system"
	TemplateTypeScriptContent = "script_content"

	TemplateStyleDefault = "default"
)

// IsTerminalSubTaskStatus reports whether no further transitions are allowed
// for a sub video task in this status.
func IsTerminalSubTaskStatus(status string) bool {
	return status == SubTaskStatusCompleted || status == SubTaskStatusFailed
}

// IsTerminalTaskStatus reports whether a parent task status is final.
func IsTerminalTaskStatus(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusPartialSuccess, TaskStatusCancelled:
		return true
	}
	return false
}
