package repositories

import (
	"context"
	"iter"

	"github.com/satriahrh/nexus/domain/entities"
)

// ChatRequest is one chat turn sent to the text generator
type ChatRequest struct {
	Prompt            string
	History           []entities.ChatMessage
	SystemInstruction string
	Thinking          bool
	Tools             entities.Tools
	// Location is only used when it is explicitly provided.
	Location *entities.LatLng
}

// ChatChunk is one incremental unit of a streamed response
type ChatChunk struct {
	Text      string
	Citations []entities.Citation
}

// TextGenerator streams single-turn text generation
type TextGenerator interface {
	StreamChat(ctx context.Context, req ChatRequest) iter.Seq2[ChatChunk, error]
}

// VisionKind selects what is being analyzed
type VisionKind string

const (
	VisionKindImage VisionKind = "image"
	VisionKindVideo VisionKind = "video"
)

// VisionRequest asks for an analysis of an uploaded file
type VisionRequest struct {
	Media  entities.Attachment
	Kind   VisionKind
	Prompt string
}

// VisionAnalyzer streams the analysis of an image or video
type VisionAnalyzer interface {
	StreamAnalysis(ctx context.Context, req VisionRequest) iter.Seq2[ChatChunk, error]
}
