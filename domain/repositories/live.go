package repositories

import (
	"context"

	"github.com/satriahrh/nexus/domain/entities"
)

// PeerEventKind tells what an inbound live event carries
type PeerEventKind int

const (
	PeerEventAudio PeerEventKind = iota + 1
	PeerEventText
	PeerEventInterrupted
	PeerEventTurnComplete
)

func (k PeerEventKind) String() string {
	switch k {
	case PeerEventAudio:
		return "audio"
	case PeerEventText:
		return "text"
	case PeerEventInterrupted:
		return "interrupted"
	case PeerEventTurnComplete:
		return "turn_complete"
	}
	return "unknown"
}

// PeerEvent is one inbound event of a live session.
// Audio holds base64 transport text exactly as received.
type PeerEvent struct {
	Kind  PeerEventKind
	Audio string
	Text  string
}

// LivePeer opens live duplex sessions with the remote model
type LivePeer interface {
	// Connect returns once the peer acknowledged the session setup.
	Connect(ctx context.Context, config entities.LiveConfig) (LiveConnection, error)
}

// LiveConnection is an open live session.
// Receive returns io.EOF once the peer closed the session normally.
type LiveConnection interface {
	SendAudio(ctx context.Context, frame entities.AudioFrame) error
	Receive(ctx context.Context) (PeerEvent, error)
	Close() error
}
