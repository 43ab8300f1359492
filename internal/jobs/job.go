// Package jobs runs score conversion jobs: preprocessing, optical music
// recognition, optional transposition and PDF rendering, dispatched across a
// worker pool.
package jobs

import "github.com/google/uuid"

// Status enumerates job lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// TransposeSpec carries an optional transposition request. Semitones takes
// precedence when set; otherwise FromKey and ToKey must both be set.
type TransposeSpec struct {
	Semitones *int
	FromKey   string
	ToKey     string
}

// Requested reports whether any transposition was asked for. A zero-semitone
// request is no request at all.
func (t TransposeSpec) Requested() bool {
	if t.Semitones != nil {
		return *t.Semitones != 0
	}
	return t.FromKey != "" && t.ToKey != ""
}

// Job is a single conversion request.
type Job struct {
	ID               string
	OriginalFilename string
	UploadPath       string
	Transpose        TransposeSpec
}

// Result captures the outcome of a processed Job.
type Result struct {
	Job          Job
	Status       Status
	MusicXMLPath string
	PDFPath      string
	Error        error
}

// NewID returns a fresh job identifier.
func NewID() string {
	return uuid.NewString()
}
