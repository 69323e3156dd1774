package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/satriahrh/nexus/domain"
	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/usecase"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Inbound commands
const (
	MessageTypeSwitchMode    MessageType = "switch_mode"
	MessageTypeLiveStart     MessageType = "live_start"
	MessageTypeLiveStop      MessageType = "live_stop"
	MessageTypeChatSend      MessageType = "chat_send"
	MessageTypeMediaSubmit   MessageType = "media_submit"
	MessageTypeVisionAnalyze MessageType = "vision_analyze"
	MessageTypeSpeak         MessageType = "speak"
	MessageTypeState         MessageType = "state"
	MessageTypePing          MessageType = "ping"
)

// Replies to a command
const (
	MessageTypeAck   MessageType = "ack"
	MessageTypePong  MessageType = "pong"
	MessageTypeError MessageType = "error"
)

// BaseMessage defines the common structure for all WebSocket messages
type BaseMessage struct {
	Type      MessageType `json:"type"`
	RequestID string      `json:"request_id,omitempty"`
}

// SwitchModeMessage moves the console to another mode
type SwitchModeMessage struct {
	BaseMessage
	Mode entities.Mode `json:"mode"`
}

// LiveStartMessage opens a live voice session
type LiveStartMessage struct {
	BaseMessage
	Config entities.LiveConfig `json:"config"`
}

// ChatSendMessage runs one chat turn
type ChatSendMessage struct {
	BaseMessage
	Turn usecase.ChatTurn `json:"turn"`
}

// MediaSubmitMessage starts an image or video generation job
type MediaSubmitMessage struct {
	BaseMessage
	Kind        entities.JobKind     `json:"kind"`
	Prompt      string               `json:"prompt"`
	AspectRatio string               `json:"aspect_ratio,omitempty"`
	Resolution  string               `json:"resolution,omitempty"`
	Reference   *entities.Attachment `json:"reference,omitempty"`
}

// Params returns the job parameters of the message
func (m *MediaSubmitMessage) Params() entities.MediaParams {
	return entities.MediaParams{
		Prompt:      m.Prompt,
		AspectRatio: m.AspectRatio,
		Resolution:  m.Resolution,
		Reference:   m.Reference,
	}
}

// VisionAnalyzeMessage asks for the analysis of an uploaded file
type VisionAnalyzeMessage struct {
	BaseMessage
	Request usecase.VisionRequest `json:"request"`
}

// SpeakMessage synthesizes and plays text
type SpeakMessage struct {
	BaseMessage
	Text string `json:"text"`
}

// AckMessage reports that a command completed
type AckMessage struct {
	BaseMessage
	Command   MessageType `json:"command"`
	Result    any         `json:"result,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ErrorMessage reports that a command failed
type ErrorMessage struct {
	BaseMessage
	Command   MessageType      `json:"command,omitempty"`
	Code      domain.ErrorKind `json:"error_code"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}

// errInvalidMessage marks inbound frames that could not be parsed
var errInvalidMessage = errors.New("invalid message")

// MessageValidator parses and validates inbound commands
type MessageValidator struct{}

// NewMessageValidator creates a new message validator
func NewMessageValidator() *MessageValidator {
	return &MessageValidator{}
}

// ValidateMessage parses one inbound frame into its typed command
func (v *MessageValidator) ValidateMessage(messageBytes []byte) (any, error) {
	var base BaseMessage
	if err := json.Unmarshal(messageBytes, &base); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format: %v", errInvalidMessage, err)
	}

	var msg any
	switch base.Type {
	case MessageTypeSwitchMode:
		msg = &SwitchModeMessage{}
	case MessageTypeLiveStart:
		msg = &LiveStartMessage{}
	case MessageTypeLiveStop, MessageTypeState, MessageTypePing:
		msg = &base
	case MessageTypeChatSend:
		msg = &ChatSendMessage{}
	case MessageTypeMediaSubmit:
		msg = &MediaSubmitMessage{}
	case MessageTypeVisionAnalyze:
		msg = &VisionAnalyzeMessage{}
	case MessageTypeSpeak:
		msg = &SpeakMessage{}
	case "":
		return nil, fmt.Errorf("%w: message missing type field", errInvalidMessage)
	default:
		return nil, fmt.Errorf("%w: unsupported message type: %s", errInvalidMessage, base.Type)
	}

	if msg != &base {
		if err := json.Unmarshal(messageBytes, msg); err != nil {
			return nil, fmt.Errorf("%w: invalid %s message: %v", errInvalidMessage, base.Type, err)
		}
	}
	if err := v.validate(msg); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidMessage, err)
	}
	return msg, nil
}

func (v *MessageValidator) validate(msg any) error {
	switch m := msg.(type) {
	case *SwitchModeMessage:
		if _, err := entities.ParseMode(string(m.Mode)); err != nil {
			return err
		}
	case *ChatSendMessage:
		if m.Turn.Text == "" {
			return errors.New("turn.text is required")
		}
	case *MediaSubmitMessage:
		if m.Kind != entities.JobKindImage && m.Kind != entities.JobKindVideo {
			return fmt.Errorf("kind must be one of: image, video")
		}
		if m.Prompt == "" {
			return errors.New("prompt is required")
		}
	case *VisionAnalyzeMessage:
		if len(m.Request.Media.Data) == 0 {
			return errors.New("request.media.data is required")
		}
	case *SpeakMessage:
		if m.Text == "" {
			return errors.New("text is required")
		}
	}
	return nil
}

// CreateAckMessage creates the reply to a completed command
func CreateAckMessage(requestID string, command MessageType, result any) *AckMessage {
	return &AckMessage{
		BaseMessage: BaseMessage{Type: MessageTypeAck, RequestID: requestID},
		Command:     command,
		Result:      result,
		Timestamp:   time.Now(),
	}
}

// CreateErrorMessage creates the reply to a failed command
func CreateErrorMessage(requestID string, command MessageType, err error) *ErrorMessage {
	code := domain.KindOf(err)
	if code == "" {
		code = domain.KindTransport
		if errors.Is(err, errInvalidMessage) {
			code = domain.KindInvalid
		}
	}
	return &ErrorMessage{
		BaseMessage: BaseMessage{Type: MessageTypeError, RequestID: requestID},
		Command:     command,
		Code:        code,
		Message:     domain.UserMessage(err),
		Timestamp:   time.Now(),
	}
}
