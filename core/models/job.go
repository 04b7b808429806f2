package models

import "fmt"

// Job represents one merge request and its outcome
type Job struct {
	Status  JobStatus `json:"status"`
	Command string    `json:"command"` // display only, never executed
	Output  string    `json:"output"`  // artifact filename, assigned at creation
	Log     string    `json:"log"`     // combined stdout/stderr, empty while running
}

// JobStatus represents the current status of a job
type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusDone    JobStatus = "done"
	JobStatusError   JobStatus = "error"
)

// IsTerminal reports whether no further transitions can occur
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusDone || s == JobStatusError
}

// AllJobStatuses lists every status in lifecycle order
var AllJobStatuses = []JobStatus{JobStatusRunning, JobStatusDone, JobStatusError}

// MergeMode selects which merge tool handles a job
type MergeMode string

const (
	MergeModeRender       MergeMode = "render"
	MergeModeSameTemplate MergeMode = "same-template"
)

// DefaultMergeMode is used when a request does not name a mode
const DefaultMergeMode = MergeModeRender

// ParseMergeMode maps a request value onto the closed set of modes
func ParseMergeMode(s string) (MergeMode, error) {
	switch MergeMode(s) {
	case MergeModeRender, MergeModeSameTemplate:
		return MergeMode(s), nil
	default:
		return "", fmt.Errorf("invalid mode: %s", s)
	}
}
