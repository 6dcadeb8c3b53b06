package domain

import "time"

// Pipeline stage names, in the order the UI drives them. Ordering is a
// workflow concern; the data layer treats stages as independent.
const (
	StageScript     = "script"
	StageSpeech     = "speech"
	StageFirstFrame = "first_frame"
	StageLipSync    = "lip_sync"
)

// FinalStage is the stage whose completion materializes a finished asset.
const FinalStage = StageLipSync

// PipelineStages lists all stages a pipeline can carry.
var PipelineStages = []string{StageScript, StageSpeech, StageFirstFrame, StageLipSync}

// StageOutput is the result payload reported by the worker for one stage.
type StageOutput struct {
	URL             string  `json:"url,omitempty"`
	Text            string  `json:"text,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

// Pipeline groups the generation requests that together produce one talking
// head video. Stage completion flags and outputs are written only by the
// reconciler, one stage per callback.
type Pipeline struct {
	ID           string
	UserID       string
	ProjectID    string
	CurrentStage string
	StageDone    map[string]bool
	StageOutputs map[string]StageOutput
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FinishedAsset is the derived record created when a pipeline's final stage
// completes, the entry the file browser lists.
type FinishedAsset struct {
	ID              string
	UserID          string
	PipelineID      string
	URL             string
	DurationSeconds float64
	CreatedAt       time.Time
}
