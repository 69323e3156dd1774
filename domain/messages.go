package domain

import (
	"time"

	"github.com/satriahrh/nexus/domain/entities"
)

// Outbound update types sent to the presentation layer
const (
	UpdateMessage = "message_update"
	UpdateJob     = "job_update"
	UpdateSession = "session_update"
	UpdateMode    = "mode_update"
	UpdateNotice  = "notice"
	UpdateState   = "console_state"
)

// Update is the envelope of every outbound update
type Update struct {
	Type      string    `json:"type"`
	ConsoleID string    `json:"console_id"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// MessageUpdatePayload carries a streaming or final chat message
type MessageUpdatePayload struct {
	Message entities.ChatMessage `json:"message"`
}

// JobUpdatePayload carries a generation job state transition
type JobUpdatePayload struct {
	Job entities.GenerationJob `json:"job"`
}

// SessionUpdatePayload carries a live session state transition
type SessionUpdatePayload struct {
	Session entities.LiveSession `json:"session"`
}

// ModeUpdatePayload carries a console mode change
type ModeUpdatePayload struct {
	From entities.Mode `json:"from"`
	To   entities.Mode `json:"to"`
}

// NoticePayload carries an error notification
type NoticePayload struct {
	Notice entities.Notice `json:"notice"`
}
