package domain

import "time"

// Kind enumerates supported generation request types.
type Kind string

const (
	KindFirstFrame Kind = "first_frame"
	KindFrame      Kind = "frame"
	KindScript     Kind = "script"
	KindLipSync    Kind = "lip_sync"
	KindSpeech     Kind = "speech"
	KindBRoll      Kind = "broll"
	KindAnimate    Kind = "animate"
)

// Status enumerates generation request lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status allows no further transition.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// GenerationRequest is one unit of asynchronous generation work. The cost is
// fixed at dispatch time and never changes afterwards; refunds read it from
// here, not from any callback payload.
type GenerationRequest struct {
	ID            string
	UserID        string
	ProjectID     string
	FolderID      string
	PipelineID    string
	Stage         string
	Kind          Kind
	Status        Status
	Progress      int
	CostCredits   float64
	ResultJSON    []byte
	ErrorMessage  string
	OriginCountry string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
