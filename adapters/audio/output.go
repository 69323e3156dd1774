// Package audio provides the host audio devices: a software mixer feeding
// ffplay (or nothing) for playback and ffmpeg for microphone capture.
package audio

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
	"github.com/satriahrh/nexus/internal/pcm"
)

// mixTick is how often the mixer renders audio to the sink
const mixTick = 20 * time.Millisecond

// ErrOutputClosed is returned when starting a source on a closed output
var ErrOutputClosed = errors.New("audio output is closed")

// Output is a timeline mixer over a raw PCM16 sink. Its clock is the number
// of frames rendered so far, so it advances at the pace the sink consumes.
type Output struct {
	format entities.AudioFormat
	sink   io.Writer
	closer func() error
	logger *zap.Logger

	mu       sync.Mutex
	rendered int64 // frames
	sources  map[*source]struct{}
	err      error
	closed   bool

	stop    chan struct{}
	done    chan struct{}
	running bool
	once    sync.Once
}

var _ repositories.AudioOutput = (*Output)(nil)

type source struct {
	out     *Output
	chunk   *entities.AudioChunk
	start   int64 // frame on the output timeline
	onEnded func()
}

// Stop implements repositories.AudioSource
func (s *source) Stop() {
	s.out.mu.Lock()
	delete(s.out.sources, s)
	s.out.mu.Unlock()
}

// newOutput creates an output without starting its render loop
func newOutput(format entities.AudioFormat, sink io.Writer, closer func() error, logger *zap.Logger) *Output {
	return &Output{
		format:  format,
		sink:    sink,
		closer:  closer,
		logger:  logger,
		sources: make(map[*source]struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// start launches the real-time render loop
func (o *Output) start() *Output {
	o.running = true
	go o.run()
	return o
}

func (o *Output) run() {
	defer close(o.done)

	ticker := time.NewTicker(mixTick)
	defer ticker.Stop()
	began := time.Now()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			target := int64(time.Since(began)) * int64(o.format.SampleRate) / int64(time.Second)
			if err := o.renderTo(target); err != nil {
				o.logger.Error("Audio output failed", zap.Error(err))
				return
			}
		}
	}
}

// CurrentTime implements repositories.AudioOutput
func (o *Output) CurrentTime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.timeOf(o.rendered)
}

func (o *Output) timeOf(frame int64) time.Duration {
	return time.Duration(frame) * time.Second / time.Duration(o.format.SampleRate)
}

// frameAt rounds to the nearest frame; durations of whole chunks are
// truncated to the nanosecond and must map back to the frame they end on.
func (o *Output) frameAt(at time.Duration) int64 {
	return (int64(at)*int64(o.format.SampleRate) + int64(time.Second)/2) / int64(time.Second)
}

// Start implements repositories.AudioOutput. A start time in the past plays
// from the current position.
func (o *Output) Start(chunk *entities.AudioChunk, at time.Duration, onEnded func()) (repositories.AudioSource, error) {
	if err := chunk.Validate(); err != nil {
		return nil, err
	}
	if chunk.Format != o.format {
		return nil, fmt.Errorf("chunk format %+v does not match output format %+v", chunk.Format, o.format)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, ErrOutputClosed
	}
	if o.err != nil {
		return nil, o.err
	}

	src := &source{out: o, chunk: chunk, start: max(o.frameAt(at), o.rendered), onEnded: onEnded}
	o.sources[src] = struct{}{}
	return src, nil
}

// renderTo mixes and writes every frame up to target, then reports the
// sources that finished.
func (o *Output) renderTo(target int64) error {
	o.mu.Lock()
	if o.closed || o.err != nil || target <= o.rendered {
		err := o.err
		o.mu.Unlock()
		return err
	}

	from := o.rendered
	n := int(target - from)
	channels := o.format.Channels
	mix := make([]float32, n*channels)

	var ended []func()
	for src := range o.sources {
		frames := int64(src.chunk.Frames())
		lo := max(src.start, from)
		hi := min(src.start+frames, target)
		for f := lo; f < hi; f++ {
			i := int(f - src.start)
			j := int(f-from) * channels
			for ch := 0; ch < channels; ch++ {
				mix[j+ch] += src.chunk.Samples[ch][i]
			}
		}
		if src.start+frames <= target {
			delete(o.sources, src)
			if src.onEnded != nil {
				ended = append(ended, src.onEnded)
			}
		}
	}
	o.rendered = target
	o.mu.Unlock()

	if _, err := o.sink.Write(pcm.QuantizeFrame(mix)); err != nil {
		o.mu.Lock()
		o.err = fmt.Errorf("failed to write audio: %w", err)
		err = o.err
		o.mu.Unlock()
		return err
	}

	for _, fn := range ended {
		fn()
	}
	return nil
}

// Close stops rendering and releases the sink. It is safe to call more than once.
func (o *Output) Close() error {
	var err error
	o.once.Do(func() {
		o.mu.Lock()
		o.closed = true
		o.sources = make(map[*source]struct{})
		o.mu.Unlock()

		close(o.stop)
		if o.running {
			<-o.done
		}
		if o.closer != nil {
			err = o.closer()
		}
	})
	return err
}
