package api

import (
	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/internal/websocket"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ConsolesResponse lists the connected consoles
type ConsolesResponse struct {
	Consoles []websocket.ConsoleInfo `json:"consoles"`
}

// PresetResponse is one agent preset with its key
type PresetResponse struct {
	Key string `json:"key"`
	entities.AgentPreset
}

// HistoryResponse is the persisted history of one console
type HistoryResponse struct {
	ConsoleID string                   `json:"console_id"`
	Messages  []entities.ChatMessage   `json:"messages"`
	Jobs      []entities.GenerationJob `json:"jobs"`
}
