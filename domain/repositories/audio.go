package repositories

import (
	"context"
	"time"

	"github.com/satriahrh/nexus/domain/entities"
)

// AudioSource is one scheduled chunk on an output device
type AudioSource interface {
	Stop()
}

// AudioOutput is an open playback device with its own clock.
// onEnded is invoked once, from a device goroutine, when a source plays to
// completion. It is never invoked from within Start and never for a source
// that was stopped.
type AudioOutput interface {
	CurrentTime() time.Duration
	Start(chunk *entities.AudioChunk, at time.Duration, onEnded func()) (AudioSource, error)
	Close() error
}

// AudioOutputFactory acquires playback devices
type AudioOutputFactory interface {
	OpenOutput(ctx context.Context, format entities.AudioFormat) (AudioOutput, error)
}

// MicStream is an acquired microphone
type MicStream interface {
	// ReadFrame blocks until one full frame of normalized mono samples is available.
	ReadFrame() ([]float32, error)
	Close() error
}

// Microphone acquires capture devices
type Microphone interface {
	Open(ctx context.Context, sampleRate, frameSize int) (MicStream, error)
}
