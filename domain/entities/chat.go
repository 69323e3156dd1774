package entities

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// MessageRole represents the role of a message sender
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
)

// CitationKind tells where a grounding citation came from
type CitationKind string

const (
	CitationKindWeb CitationKind = "web"
	CitationKindMap CitationKind = "map"
)

// Citation is a link attached to generated text as supporting evidence.
// Within one message it is identified by URI.
type Citation struct {
	URI   string       `json:"uri" bson:"uri"`
	Title string       `json:"title" bson:"title"`
	Kind  CitationKind `json:"kind" bson:"kind"`
}

// ChatMessage is one turn of a conversation
type ChatMessage struct {
	ID        string      `json:"id" bson:"_id"`
	Role      MessageRole `json:"role" bson:"role"`
	Mode      Mode        `json:"mode" bson:"mode"`
	Content   string      `json:"content" bson:"content"`
	Citations []Citation  `json:"citations,omitempty" bson:"citations,omitempty"`
	Streaming bool        `json:"streaming" bson:"streaming"`
	Failed    bool        `json:"failed,omitempty" bson:"failed,omitempty"`
	CreatedAt time.Time   `json:"created_at" bson:"created_at"`
}

// NewUserMessage creates a finished user message
func NewUserMessage(mode Mode, content string) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      MessageRoleUser,
		Mode:      mode,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// NewAssistantMessage creates an empty assistant message that is still streaming
func NewAssistantMessage(mode Mode) ChatMessage {
	return ChatMessage{
		ID:        uuid.NewString(),
		Role:      MessageRoleAssistant,
		Mode:      mode,
		Streaming: true,
		CreatedAt: time.Now(),
	}
}

// Clone returns a copy that shares no slices with the receiver
func (m ChatMessage) Clone() ChatMessage {
	if m.Citations != nil {
		m.Citations = append([]Citation(nil), m.Citations...)
	}
	return m
}

// Validate validates the message data
func (m ChatMessage) Validate() error {
	if m.ID == "" {
		return errors.New("id is required")
	}
	if m.Role != MessageRoleUser && m.Role != MessageRoleAssistant {
		return errors.New("invalid message role")
	}
	return nil
}
