package usecase

import (
	"github.com/satriahrh/nexus/domain/entities"
)

// Presenter receives every outbound update of a console. Calls can come from
// several goroutines at once.
type Presenter interface {
	MessageUpdated(msg entities.ChatMessage)
	JobUpdated(job entities.GenerationJob)
	SessionUpdated(session entities.LiveSession)
	ModeChanged(from, to entities.Mode)
	Notify(notice entities.Notice)
}

// ConsoleState is a snapshot of everything a console holds
type ConsoleState struct {
	ID         string                   `json:"id"`
	Mode       entities.Mode            `json:"mode"`
	Chat       []entities.ChatMessage   `json:"chat"`
	Transcript []entities.ChatMessage   `json:"transcript"`
	Jobs       []entities.GenerationJob `json:"jobs"`
	Session    entities.LiveSession     `json:"session"`
}

// ChatTurn is one chat request from the user
type ChatTurn struct {
	Text     string           `json:"text"`
	Thinking bool             `json:"thinking"`
	Tools    entities.Tools   `json:"tools"`
	Location *entities.LatLng `json:"location,omitempty"`
	Preset   string           `json:"preset,omitempty"`
}

// VisionRequest is one analysis request from the user
type VisionRequest struct {
	Media    entities.Attachment `json:"media"`
	Kind     string              `json:"kind"`
	FileName string              `json:"file_name,omitempty"`
}
