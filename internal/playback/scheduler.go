// Package playback schedules decoded audio chunks back to back on an output
// device so that they neither overlap nor leave gaps.
package playback

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
	"github.com/satriahrh/nexus/internal/metrics"
)

// ErrSchedulerClosed is returned when scheduling after Reset
var ErrSchedulerClosed = errors.New("playback scheduler is closed")

// Scheduler owns the playback cursor and the set of in-flight sources of one
// output device. It is the only writer of both.
type Scheduler struct {
	mu     sync.Mutex
	out    repositories.AudioOutput
	cursor time.Duration
	active map[uint64]repositories.AudioSource
	seq    uint64
	closed bool
	logger *zap.Logger
}

// NewScheduler creates a scheduler on an already open output device
func NewScheduler(out repositories.AudioOutput, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		out:    out,
		cursor: out.CurrentTime(),
		active: make(map[uint64]repositories.AudioSource),
		logger: logger,
	}
}

// ScheduleChunk queues chunk to start when the previous one ends, or now if
// playback has drained. It returns the start time on the device clock.
func (s *Scheduler) ScheduleChunk(chunk *entities.AudioChunk) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSchedulerClosed
	}

	startAt := max(s.cursor, s.out.CurrentTime())

	s.seq++
	id := s.seq
	src, err := s.out.Start(chunk, startAt, func() { s.finished(id) })
	if err != nil {
		return 0, fmt.Errorf("failed to start audio source: %w", err)
	}

	s.active[id] = src
	s.cursor = startAt + chunk.Duration()
	metrics.ChunksScheduled.Inc()

	return startAt, nil
}

// Interrupt stops every in-flight source and moves the cursor back to now.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interruptLocked()
}

// Reset interrupts playback and releases the output device. It is safe to
// call more than once.
func (s *Scheduler) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.interruptLocked()
	s.closed = true

	if err := s.out.Close(); err != nil {
		s.logger.Warn("Failed to release audio output", zap.Error(err))
		return fmt.Errorf("failed to release audio output: %w", err)
	}
	return nil
}

// Cursor returns the earliest time the next chunk may start
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// ActiveSources returns the number of scheduled sources that have not finished
func (s *Scheduler) ActiveSources() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Scheduler) interruptLocked() {
	stopped := len(s.active)
	for id, src := range s.active {
		src.Stop()
		delete(s.active, id)
	}
	s.cursor = s.out.CurrentTime()

	if stopped > 0 {
		metrics.PlaybackInterrupts.Inc()
		s.logger.Debug("Playback interrupted", zap.Int("stoppedSources", stopped))
	}
}

func (s *Scheduler) finished(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}
