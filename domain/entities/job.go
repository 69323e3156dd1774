package entities

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobKind is the kind of media a generation job produces
type JobKind string

const (
	JobKindImage JobKind = "image"
	JobKindVideo JobKind = "video"
)

// JobState is the state of a generation job
type JobState string

const (
	JobStateSubmitted JobState = "submitted"
	JobStatePolling   JobState = "polling"
	JobStateDone      JobState = "done"
	JobStateFailed    JobState = "failed"
)

// ErrJobTerminal is returned when a finished job is updated again
var ErrJobTerminal = errors.New("job is already in a terminal state")

// AspectRatios are the aspect ratios accepted for image jobs
var AspectRatios = []string{"1:1", "3:4", "4:3", "9:16", "16:9", "2:3", "3:2", "21:9"}

// ImageSizes are the resolution tiers accepted for image jobs
var ImageSizes = []string{"1K", "2K", "4K"}

const (
	DefaultAspectRatio     = "16:9"
	DefaultImageSize       = "1K"
	DefaultVideoResolution = "720p"
)

// MediaParams are the user inputs of a generation job
type MediaParams struct {
	Prompt      string      `json:"prompt" bson:"prompt"`
	AspectRatio string      `json:"aspect_ratio" bson:"aspect_ratio"`
	Resolution  string      `json:"resolution" bson:"resolution"`
	Reference   *Attachment `json:"-" bson:"-"`
}

// Normalize applies the defaults and restrictions of the given job kind.
// Video only supports landscape and portrait; anything else falls back to 16:9.
func (p MediaParams) Normalize(kind JobKind) MediaParams {
	switch kind {
	case JobKindVideo:
		if p.AspectRatio != "16:9" && p.AspectRatio != "9:16" {
			p.AspectRatio = DefaultAspectRatio
		}
		if p.Resolution == "" {
			p.Resolution = DefaultVideoResolution
		}
	case JobKindImage:
		if p.AspectRatio == "" {
			p.AspectRatio = "1:1"
		}
		if p.Resolution == "" {
			p.Resolution = DefaultImageSize
		}
	}
	return p
}

// Validate validates the parameters for the given job kind
func (p MediaParams) Validate(kind JobKind) error {
	if p.Prompt == "" {
		return errors.New("prompt is required")
	}
	switch kind {
	case JobKindImage:
		if !contains(AspectRatios, p.AspectRatio) {
			return fmt.Errorf("unsupported aspect ratio %q", p.AspectRatio)
		}
		if !contains(ImageSizes, p.Resolution) {
			return fmt.Errorf("unsupported image size %q", p.Resolution)
		}
	case JobKindVideo:
		if p.AspectRatio != "16:9" && p.AspectRatio != "9:16" {
			return fmt.Errorf("unsupported video aspect ratio %q", p.AspectRatio)
		}
	default:
		return fmt.Errorf("unknown job kind %q", kind)
	}
	return nil
}

// GenerationJob is a long-running media generation operation
type GenerationJob struct {
	ID        string      `json:"id" bson:"_id"`
	Handle    string      `json:"handle" bson:"handle"`
	Kind      JobKind     `json:"kind" bson:"kind"`
	State     JobState    `json:"state" bson:"state"`
	Params    MediaParams `json:"params" bson:"params"`
	ResultRef string      `json:"result_ref,omitempty" bson:"result_ref,omitempty"`
	Error     string      `json:"error,omitempty" bson:"error,omitempty"`
	Polls     int         `json:"polls" bson:"polls"`
	CreatedAt time.Time   `json:"created_at" bson:"created_at"`
	UpdatedAt time.Time   `json:"updated_at" bson:"updated_at"`
}

// NewGenerationJob creates a submitted job for an operation handle
func NewGenerationJob(kind JobKind, handle string, params MediaParams) *GenerationJob {
	now := time.Now()
	return &GenerationJob{
		ID:        uuid.NewString(),
		Handle:    handle,
		Kind:      kind,
		State:     JobStateSubmitted,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsTerminal reports whether the job is Done or Failed
func (j *GenerationJob) IsTerminal() bool {
	return j.State == JobStateDone || j.State == JobStateFailed
}

// MarkPolling records that the job is still running
func (j *GenerationJob) MarkPolling() error {
	if j.IsTerminal() {
		return ErrJobTerminal
	}
	j.State = JobStatePolling
	j.UpdatedAt = time.Now()
	return nil
}

// Complete finishes the job with a result reference
func (j *GenerationJob) Complete(resultRef string) error {
	if j.IsTerminal() {
		return ErrJobTerminal
	}
	j.State = JobStateDone
	j.ResultRef = resultRef
	j.UpdatedAt = time.Now()
	return nil
}

// Fail finishes the job with an error detail
func (j *GenerationJob) Fail(detail string) error {
	if j.IsTerminal() {
		return ErrJobTerminal
	}
	j.State = JobStateFailed
	j.Error = detail
	j.UpdatedAt = time.Now()
	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
