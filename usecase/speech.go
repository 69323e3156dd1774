package usecase

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain"
	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/internal/pcm"
	"github.com/satriahrh/nexus/internal/playback"
)

// ErrSpeechInterrupted is returned by Speak when the console released the
// speech output, e.g. for a live session, before the utterance was scheduled
var ErrSpeechInterrupted = errors.New("speech was interrupted")

// speechPlayer plays synthesized speech on a console-owned output device
type speechPlayer struct {
	scheduler *playback.Scheduler
	format    entities.AudioFormat
	logger    *zap.Logger
	current   atomic.Uint64
}

func (c *Console) openSpeech(ctx context.Context) (*speechPlayer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrConsoleClosed
	}
	if c.speech != nil {
		return c.speech, nil
	}

	out, err := c.deps.Outputs.OpenOutput(ctx, c.config.SpeechFormat)
	if err != nil {
		return nil, domain.E(domain.KindCapture, "console.Speak", "Audio output device is unavailable", err)
	}
	c.speech = &speechPlayer{
		scheduler: playback.NewScheduler(out, c.logger),
		format:    c.config.SpeechFormat,
		logger:    c.logger,
	}
	return c.speech, nil
}

func (c *Console) stopSpeech() {
	c.mu.Lock()
	player := c.speech
	c.speech = nil
	c.mu.Unlock()

	if player != nil {
		if err := player.scheduler.Reset(); err != nil {
			c.logger.Warn("Failed to release speech output", zap.Error(err))
		}
	}
}

// play interrupts whatever is playing and schedules chunks as they arrive.
// Chunk boundaries from the synthesizer need not align with sample frames.
func (p *speechPlayer) play(ctx context.Context, chunks <-chan []byte) error {
	utterance := p.current.Add(1)
	p.scheduler.Interrupt()

	frameBytes := 2 * p.format.Channels
	var carry []byte
	var playErr error

	for {
		var data []byte
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok = <-chunks:
		}
		if !ok {
			break
		}
		// A newer utterance took over; keep draining so the producer can finish.
		if p.current.Load() != utterance || playErr != nil {
			continue
		}

		buf := append(carry, data...)
		n := len(buf) - len(buf)%frameBytes
		carry = append([]byte(nil), buf[n:]...)
		if n == 0 {
			continue
		}

		chunk, err := pcm.DecodePCM16(buf[:n], p.format)
		if err != nil {
			p.logger.Warn("Dropping malformed speech chunk", zap.Error(err))
			continue
		}
		if _, err := p.scheduler.ScheduleChunk(chunk); err != nil {
			if errors.Is(err, playback.ErrSchedulerClosed) {
				playErr = ErrSpeechInterrupted
				continue
			}
			p.logger.Warn("Failed to schedule speech chunk", zap.Error(err))
		}
	}

	return playErr
}
