package entities

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionState is the lifecycle state of a live session
type SessionState string

const (
	SessionStateIdle       SessionState = "idle"
	SessionStateConnecting SessionState = "connecting"
	SessionStateOpen       SessionState = "open"
	SessionStateClosed     SessionState = "closed"
	SessionStateErrored    SessionState = "errored"
)

// ErrInvalidTransition is returned when a session is moved to a state it cannot reach
var ErrInvalidTransition = errors.New("invalid session state transition")

// Modality is the response medium requested from the live peer
type Modality string

const (
	ModalityAudio Modality = "audio"
	ModalityText  Modality = "text"
	ModalityBoth  Modality = "both"
)

// LiveConfig configures one live session
type LiveConfig struct {
	Voice             string   `json:"voice"`
	SystemInstruction string   `json:"system_instruction"`
	Modality          Modality `json:"modality"`
}

// Validate validates the live configuration
func (c LiveConfig) Validate() error {
	switch c.Modality {
	case ModalityAudio, ModalityText, ModalityBoth:
	default:
		return fmt.Errorf("invalid modality %q", c.Modality)
	}
	if c.Modality != ModalityText && c.Voice == "" {
		return errors.New("voice is required for audio responses")
	}
	return nil
}

// LiveSession is one live duplex connection with the remote peer
type LiveSession struct {
	ID        string       `json:"id"`
	State     SessionState `json:"state"`
	Config    LiveConfig   `json:"config"`
	Error     string       `json:"error,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	OpenedAt  *time.Time   `json:"opened_at,omitempty"`
	EndedAt   *time.Time   `json:"ended_at,omitempty"`
}

// NewLiveSession creates an idle session
func NewLiveSession(config LiveConfig) *LiveSession {
	return &LiveSession{
		ID:        uuid.NewString(),
		State:     SessionStateIdle,
		Config:    config,
		CreatedAt: time.Now(),
	}
}

// Connect moves Idle to Connecting
func (s *LiveSession) Connect() error {
	return s.transition(SessionStateIdle, SessionStateConnecting)
}

// Open moves Connecting to Open once the peer acknowledged the session
func (s *LiveSession) Open() error {
	if err := s.transition(SessionStateConnecting, SessionStateOpen); err != nil {
		return err
	}
	now := time.Now()
	s.OpenedAt = &now
	return nil
}

// Close ends the session on an explicit stop. A session that never opened
// can also be closed.
func (s *LiveSession) Close() error {
	if s.State != SessionStateOpen && s.State != SessionStateConnecting {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, SessionStateClosed)
	}
	s.end(SessionStateClosed)
	return nil
}

// Fail ends the session because of a transport failure
func (s *LiveSession) Fail(cause error) error {
	if s.State != SessionStateOpen && s.State != SessionStateConnecting {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, SessionStateErrored)
	}
	if cause != nil {
		s.Error = cause.Error()
	}
	s.end(SessionStateErrored)
	return nil
}

// IsTerminal reports whether no further transition can occur
func (s *LiveSession) IsTerminal() bool {
	return s.State == SessionStateClosed || s.State == SessionStateErrored
}

// IsActive reports whether the session holds, or is acquiring, peer resources
func (s *LiveSession) IsActive() bool {
	return s.State == SessionStateConnecting || s.State == SessionStateOpen
}

// Validate validates the session data
func (s *LiveSession) Validate() error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	switch s.State {
	case SessionStateIdle, SessionStateConnecting, SessionStateOpen, SessionStateClosed, SessionStateErrored:
	default:
		return errors.New("invalid session state")
	}
	return s.Config.Validate()
}

func (s *LiveSession) transition(from, to SessionState) error {
	if s.State != from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	return nil
}

func (s *LiveSession) end(state SessionState) {
	now := time.Now()
	s.State = state
	s.EndedAt = &now
}
