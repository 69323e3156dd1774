// Package capture reads microphone frames and forwards them to a live session
// as 16-bit PCM transport frames.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain"
	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
	"github.com/satriahrh/nexus/internal/metrics"
	"github.com/satriahrh/nexus/internal/pcm"
)

// ErrAlreadyCapturing is returned when Start is called on a running pipeline
var ErrAlreadyCapturing = errors.New("already capturing audio")

const (
	DefaultSampleRate = 16000
	DefaultFrameSize  = 4096
)

// FrameSink receives captured frames in capture order
type FrameSink interface {
	SendAudio(ctx context.Context, frame entities.AudioFrame) error
}

// Config holds configuration for the capture pipeline
type Config struct {
	SampleRate int
	FrameSize  int
}

// Pipeline owns at most one acquired microphone stream
type Pipeline struct {
	mu        sync.Mutex
	mic       repositories.Microphone
	config    Config
	logger    *zap.Logger
	capturing bool
	stream    repositories.MicStream
	done      chan struct{}
	unwatch   func() bool
}

// NewPipeline creates a capture pipeline
func NewPipeline(mic repositories.Microphone, config Config, logger *zap.Logger) *Pipeline {
	if config.SampleRate <= 0 {
		config.SampleRate = DefaultSampleRate
	}
	if config.FrameSize <= 0 {
		config.FrameSize = DefaultFrameSize
	}
	return &Pipeline{
		mic:    mic,
		config: config,
		logger: logger,
	}
}

// Format returns the format of the frames the pipeline produces
func (p *Pipeline) Format() entities.AudioFormat {
	return entities.AudioFormat{SampleRate: p.config.SampleRate, Channels: 1}
}

// Start acquires the microphone and forwards every frame to sink as soon as
// it is read. onError is called at most once, after the device was released,
// if capture ends for any reason other than Stop.
func (p *Pipeline) Start(ctx context.Context, sink FrameSink, onError func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.capturing {
		return ErrAlreadyCapturing
	}

	stream, err := p.mic.Open(ctx, p.config.SampleRate, p.config.FrameSize)
	if err != nil {
		return domain.E(domain.KindCapture, "capture.Start", "Microphone is unavailable or permission was denied", err)
	}

	p.capturing = true
	p.stream = stream
	p.done = make(chan struct{})
	p.unwatch = context.AfterFunc(ctx, func() { _ = p.Stop() })

	go func(done chan struct{}) {
		err := p.run(ctx, stream, sink)
		close(done)
		if err != nil && onError != nil {
			onError(err)
		}
	}(p.done)

	p.logger.Info("Capture started",
		zap.Int("sampleRate", p.config.SampleRate),
		zap.Int("frameSize", p.config.FrameSize))
	return nil
}

// Stop releases the microphone and waits for the capture goroutine to exit.
// Calling Stop on a stopped pipeline is a no-op.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.capturing {
		p.mu.Unlock()
		return nil
	}
	stream, done := p.release()
	p.mu.Unlock()

	err := stream.Close()
	<-done

	p.logger.Info("Capture stopped")
	if err != nil {
		return fmt.Errorf("failed to release microphone: %w", err)
	}
	return nil
}

// IsCapturing reports whether a microphone is currently held
func (p *Pipeline) IsCapturing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capturing
}

func (p *Pipeline) run(ctx context.Context, stream repositories.MicStream, sink FrameSink) error {
	mimeType := p.Format().MIMEType()
	var seq int64

	for {
		samples, err := stream.ReadFrame()
		if err != nil {
			if !p.releaseFromLoop(stream) || ctx.Err() != nil {
				return nil
			}
			return domain.E(domain.KindCapture, "capture.ReadFrame", "Microphone stopped delivering audio", err)
		}

		seq++
		frame := entities.AudioFrame{
			Seq:      seq,
			MIMEType: mimeType,
			Data:     pcm.Encode(pcm.QuantizeFrame(samples)),
		}
		if err := sink.SendAudio(ctx, frame); err != nil {
			if !p.releaseFromLoop(stream) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to forward audio frame %d: %w", seq, err)
		}
		metrics.FramesCaptured.Inc()
	}
}

// release marks the pipeline stopped. Callers hold p.mu.
func (p *Pipeline) release() (repositories.MicStream, chan struct{}) {
	p.capturing = false
	if p.unwatch != nil {
		p.unwatch()
		p.unwatch = nil
	}
	stream, done := p.stream, p.done
	p.stream, p.done = nil, nil
	return stream, done
}

// releaseFromLoop closes the device after a failure inside the capture loop.
// It returns false when Stop already owns the shutdown.
func (p *Pipeline) releaseFromLoop(stream repositories.MicStream) bool {
	p.mu.Lock()
	if !p.capturing || p.stream != stream {
		p.mu.Unlock()
		return false
	}
	p.release()
	p.mu.Unlock()

	if err := stream.Close(); err != nil {
		p.logger.Warn("Failed to release microphone after capture error", zap.Error(err))
	}
	return true
}
