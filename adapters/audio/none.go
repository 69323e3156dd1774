package audio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
)

// NullOutputs opens outputs that keep real-time clocks but discard audio.
// It is used on hosts without a sound device.
type NullOutputs struct {
	logger *zap.Logger
}

var _ repositories.AudioOutputFactory = (*NullOutputs)(nil)

// NewNullOutputs creates the factory
func NewNullOutputs(logger *zap.Logger) *NullOutputs {
	return &NullOutputs{logger: logger}
}

// OpenOutput implements repositories.AudioOutputFactory
func (n *NullOutputs) OpenOutput(_ context.Context, format entities.AudioFormat) (repositories.AudioOutput, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return newOutput(format, io.Discard, nil, n.logger).start(), nil
}

// SilentMicrophone produces frames of silence at the capture rate
type SilentMicrophone struct{}

var _ repositories.Microphone = SilentMicrophone{}

// Open implements repositories.Microphone
func (SilentMicrophone) Open(_ context.Context, sampleRate, frameSize int) (repositories.MicStream, error) {
	if sampleRate <= 0 || frameSize <= 0 {
		return nil, fmt.Errorf("invalid capture format: rate %d, frame size %d", sampleRate, frameSize)
	}
	period := time.Duration(frameSize) * time.Second / time.Duration(sampleRate)
	return &silentStream{
		frameSize: frameSize,
		ticker:    time.NewTicker(period),
		done:      make(chan struct{}),
	}, nil
}

type silentStream struct {
	frameSize int
	ticker    *time.Ticker
	done      chan struct{}
	once      sync.Once
}

// ReadFrame implements repositories.MicStream
func (s *silentStream) ReadFrame() ([]float32, error) {
	select {
	case <-s.done:
		return nil, io.EOF
	case <-s.ticker.C:
		return make([]float32, s.frameSize), nil
	}
}

// Close implements repositories.MicStream
func (s *silentStream) Close() error {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.done)
	})
	return nil
}
