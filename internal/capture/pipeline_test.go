package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain"
	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
	"github.com/satriahrh/nexus/internal/pcm"
)

type fakeStream struct {
	frames    chan []float32
	closed    chan struct{}
	closeOnce sync.Once
	closes    int
	mu        sync.Mutex
}

func newFakeStream() *fakeStream {
	return &fakeStream{frames: make(chan []float32), closed: make(chan struct{})}
}

func (s *fakeStream) ReadFrame() ([]float32, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return nil, errors.New("device unplugged")
		}
		return f, nil
	case <-s.closed:
		return nil, errors.New("stream closed")
	}
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeMic struct {
	stream *fakeStream
	err    error
	rate   int
	size   int
	opened int
}

func (m *fakeMic) Open(_ context.Context, sampleRate, frameSize int) (repositories.MicStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.rate, m.size = sampleRate, frameSize
	m.opened++
	return m.stream, nil
}

type recordingSink struct {
	mu     sync.Mutex
	frames []entities.AudioFrame
	got    chan struct{}
	err    error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan struct{}, 16)}
}

func (s *recordingSink) SendAudio(_ context.Context, frame entities.AudioFrame) error {
	s.mu.Lock()
	s.frames = append(s.frames, frame)
	err := s.err
	s.mu.Unlock()
	s.got <- struct{}{}
	return err
}

func (s *recordingSink) snapshot() []entities.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entities.AudioFrame(nil), s.frames...)
}

func TestPipelineForwardsFramesInOrder(t *testing.T) {
	mic := &fakeMic{stream: newFakeStream()}
	p := NewPipeline(mic, Config{}, zap.NewNop())
	sink := newRecordingSink()

	require.NoError(t, p.Start(context.Background(), sink, nil))
	assert.Equal(t, DefaultSampleRate, mic.rate)
	assert.Equal(t, DefaultFrameSize, mic.size)

	mic.stream.frames <- []float32{0, 1}
	<-sink.got
	mic.stream.frames <- []float32{-1, 2}
	<-sink.got

	require.NoError(t, p.Stop())

	frames := sink.snapshot()
	require.Len(t, frames, 2)
	assert.Equal(t, int64(1), frames[0].Seq)
	assert.Equal(t, int64(2), frames[1].Seq)
	assert.Equal(t, "audio/pcm;rate=16000", frames[0].MIMEType)

	raw, err := pcm.Decode(frames[1].Data)
	require.NoError(t, err)
	assert.Equal(t, pcm.QuantizeFrame([]float32{-1, 1}), raw)
}

func TestPipelineSilentFrame(t *testing.T) {
	mic := &fakeMic{stream: newFakeStream()}
	p := NewPipeline(mic, Config{}, zap.NewNop())
	sink := newRecordingSink()
	require.NoError(t, p.Start(context.Background(), sink, nil))

	mic.stream.frames <- make([]float32, DefaultFrameSize)
	<-sink.got
	require.NoError(t, p.Stop())

	raw, err := pcm.Decode(sink.snapshot()[0].Data)
	require.NoError(t, err)
	require.Len(t, raw, DefaultFrameSize*2)
	for _, b := range raw {
		require.Zero(t, b)
	}
}

func TestPipelineStopIsIdempotentAndReleasesDevice(t *testing.T) {
	mic := &fakeMic{stream: newFakeStream()}
	p := NewPipeline(mic, Config{}, zap.NewNop())

	require.NoError(t, p.Start(context.Background(), newRecordingSink(), nil))
	assert.True(t, p.IsCapturing())

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	assert.False(t, p.IsCapturing())
	assert.Equal(t, 1, mic.stream.closeCount())
}

func TestPipelineStartTwice(t *testing.T) {
	mic := &fakeMic{stream: newFakeStream()}
	p := NewPipeline(mic, Config{}, zap.NewNop())

	require.NoError(t, p.Start(context.Background(), newRecordingSink(), nil))
	defer p.Stop()

	assert.ErrorIs(t, p.Start(context.Background(), newRecordingSink(), nil), ErrAlreadyCapturing)
	assert.Equal(t, 1, mic.opened)
}

func TestPipelineOpenFailureIsCaptureError(t *testing.T) {
	mic := &fakeMic{err: errors.New("permission denied")}
	p := NewPipeline(mic, Config{}, zap.NewNop())

	err := p.Start(context.Background(), newRecordingSink(), nil)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindCapture))
	assert.False(t, p.IsCapturing())
}

func TestPipelineDeviceFailureReleasesAndReports(t *testing.T) {
	mic := &fakeMic{stream: newFakeStream()}
	p := NewPipeline(mic, Config{}, zap.NewNop())
	errCh := make(chan error, 1)

	require.NoError(t, p.Start(context.Background(), newRecordingSink(), func(err error) { errCh <- err }))
	close(mic.stream.frames)

	select {
	case err := <-errCh:
		assert.True(t, domain.IsKind(err, domain.KindCapture))
	case <-time.After(time.Second):
		t.Fatal("expected capture error")
	}
	assert.False(t, p.IsCapturing())
	assert.Equal(t, 1, mic.stream.closeCount())
	assert.NoError(t, p.Stop())
}

func TestPipelineStopsWithContext(t *testing.T) {
	mic := &fakeMic{stream: newFakeStream()}
	p := NewPipeline(mic, Config{}, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, p.Start(ctx, newRecordingSink(), func(err error) { t.Errorf("unexpected error: %v", err) }))
	cancel()

	require.Eventually(t, func() bool { return !p.IsCapturing() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, mic.stream.closeCount())
}

func TestPipelineSinkFailureStopsCapture(t *testing.T) {
	mic := &fakeMic{stream: newFakeStream()}
	p := NewPipeline(mic, Config{}, zap.NewNop())
	sink := newRecordingSink()
	sink.err = errors.New("session dropped")
	errCh := make(chan error, 1)

	require.NoError(t, p.Start(context.Background(), sink, func(err error) { errCh <- err }))
	mic.stream.frames <- []float32{0.1}

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, sink.err)
	case <-time.After(time.Second):
		t.Fatal("expected forwarding error")
	}
	assert.False(t, p.IsCapturing())
}
