package entities

import (
	"errors"
	"testing"
	"time"
)

func TestGenerationJobTransitions(t *testing.T) {
	job := NewGenerationJob(JobKindVideo, "operations/123", MediaParams{Prompt: "a cat"})

	if job.State != JobStateSubmitted {
		t.Fatalf("Expected state %s, got %s", JobStateSubmitted, job.State)
	}
	if err := job.MarkPolling(); err != nil {
		t.Fatalf("MarkPolling failed: %v", err)
	}
	if err := job.Complete("file:///tmp/video.mp4"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if job.ResultRef != "file:///tmp/video.mp4" {
		t.Errorf("Expected result ref to be set, got %q", job.ResultRef)
	}

	if err := job.MarkPolling(); !errors.Is(err, ErrJobTerminal) {
		t.Errorf("Expected ErrJobTerminal after completion, got %v", err)
	}
	if err := job.Fail("late"); !errors.Is(err, ErrJobTerminal) {
		t.Errorf("Expected ErrJobTerminal after completion, got %v", err)
	}
	if job.State != JobStateDone {
		t.Errorf("Expected state to stay %s, got %s", JobStateDone, job.State)
	}
}

func TestGenerationJobFail(t *testing.T) {
	job := NewGenerationJob(JobKindImage, "h", MediaParams{Prompt: "p"})
	time.Sleep(time.Millisecond)

	if err := job.Fail("blocked by safety filter"); err != nil {
		t.Fatalf("Fail failed: %v", err)
	}
	if !job.IsTerminal() {
		t.Error("Failed job should be terminal")
	}
	if !job.UpdatedAt.After(job.CreatedAt) {
		t.Error("Expected UpdatedAt to move forward")
	}
}

func TestMediaParamsNormalize(t *testing.T) {
	tests := []struct {
		name       string
		kind       JobKind
		in         MediaParams
		wantAspect string
		wantRes    string
	}{
		{"video square falls back", JobKindVideo, MediaParams{AspectRatio: "1:1"}, "16:9", "720p"},
		{"video portrait kept", JobKindVideo, MediaParams{AspectRatio: "9:16"}, "9:16", "720p"},
		{"image defaults", JobKindImage, MediaParams{}, "1:1", "1K"},
		{"image kept", JobKindImage, MediaParams{AspectRatio: "21:9", Resolution: "4K"}, "21:9", "4K"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalize(tt.kind)
			if got.AspectRatio != tt.wantAspect {
				t.Errorf("AspectRatio = %s, want %s", got.AspectRatio, tt.wantAspect)
			}
			if got.Resolution != tt.wantRes {
				t.Errorf("Resolution = %s, want %s", got.Resolution, tt.wantRes)
			}
		})
	}
}

func TestMediaParamsValidate(t *testing.T) {
	tests := []struct {
		name    string
		kind    JobKind
		params  MediaParams
		wantErr bool
	}{
		{"valid image", JobKindImage, MediaParams{Prompt: "p", AspectRatio: "3:2", Resolution: "2K"}, false},
		{"missing prompt", JobKindImage, MediaParams{AspectRatio: "1:1", Resolution: "1K"}, true},
		{"bad image ratio", JobKindImage, MediaParams{Prompt: "p", AspectRatio: "5:4", Resolution: "1K"}, true},
		{"bad image size", JobKindImage, MediaParams{Prompt: "p", AspectRatio: "1:1", Resolution: "8K"}, true},
		{"valid video", JobKindVideo, MediaParams{Prompt: "p", AspectRatio: "9:16"}, false},
		{"bad video ratio", JobKindVideo, MediaParams{Prompt: "p", AspectRatio: "4:3"}, true},
		{"unknown kind", JobKind("audio"), MediaParams{Prompt: "p"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.params.Validate(tt.kind)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
