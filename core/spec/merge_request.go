package spec

import (
	"encoding/json"
	"errors"
	"fmt"

	"kjandoc-demoware/core/models"
)

// ErrBadJSON is returned when a merge request body cannot be decoded
var ErrBadJSON = errors.New("bad json")

// MergeRequest represents the JSON body of a merge call
type MergeRequest struct {
	JobID string   `json:"job_id"`
	Files []string `json:"files"`
	Mode  *string  `json:"mode,omitempty"` // render | same-template; nil selects the default
}

// ParseMergeRequest decodes a merge request. An absent mode stays nil and
// an explicit one, even "", is kept for the executor to validate.
func ParseMergeRequest(data []byte) (*MergeRequest, error) {
	var req MergeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadJSON, err)
	}
	return &req, nil
}

// MergeMode returns the requested mode, or the default when none was sent
func (r MergeRequest) MergeMode() string {
	if r.Mode == nil {
		return string(models.DefaultMergeMode)
	}
	return *r.Mode
}
