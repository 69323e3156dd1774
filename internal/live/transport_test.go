package live

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain"
	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
	"github.com/satriahrh/nexus/internal/capture"
	"github.com/satriahrh/nexus/internal/pcm"
)

var liveConfig = entities.LiveConfig{Voice: "Zephyr", SystemInstruction: "be brief", Modality: entities.ModalityAudio}

type peerMessage struct {
	ev  repositories.PeerEvent
	err error
}

type fakeConn struct {
	inbound chan peerMessage
	closed  chan struct{}
	once    sync.Once
	// blocking makes SendAudio hang until its context is done.
	blocking chan struct{}

	mu     sync.Mutex
	frames []entities.AudioFrame
	closes int
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan peerMessage), closed: make(chan struct{})}
}

func (c *fakeConn) SendAudio(ctx context.Context, frame entities.AudioFrame) error {
	if c.blocking != nil {
		select {
		case c.blocking <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) (repositories.PeerEvent, error) {
	select {
	case m := <-c.inbound:
		return m.ev, m.err
	case <-c.closed:
		return repositories.PeerEvent{}, errors.New("use of closed connection")
	case <-ctx.Done():
		return repositories.PeerEvent{}, ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentFrames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type fakePeer struct {
	conn *fakeConn
	err  error
}

func (p *fakePeer) Connect(context.Context, entities.LiveConfig) (repositories.LiveConnection, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.conn, nil
}

type fakeSource struct {
	startAt time.Duration
	frames  int
	stopped bool
}

func (s *fakeSource) Stop() { s.stopped = true }

type fakeOutput struct {
	mu      sync.Mutex
	now     time.Duration
	sources []*fakeSource
	closed  bool
}

func (o *fakeOutput) CurrentTime() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.now
}

func (o *fakeOutput) Start(chunk *entities.AudioChunk, at time.Duration, _ func()) (repositories.AudioSource, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	src := &fakeSource{startAt: at, frames: chunk.Frames()}
	o.sources = append(o.sources, src)
	return src, nil
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	return nil
}

func (o *fakeOutput) snapshot() ([]fakeSource, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]fakeSource, len(o.sources))
	for i, s := range o.sources {
		out[i] = *s
	}
	return out, o.closed
}

type fakeOutputs struct {
	out *fakeOutput
	err error
}

func (f *fakeOutputs) OpenOutput(context.Context, entities.AudioFormat) (repositories.AudioOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.out, nil
}

type fakeStream struct {
	frames chan []float32
	closed chan struct{}
	once   sync.Once
}

func (s *fakeStream) ReadFrame() ([]float32, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case <-s.closed:
		return nil, io.EOF
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeMic struct {
	stream *fakeStream
	err    error
}

func (m *fakeMic) Open(context.Context, int, int) (repositories.MicStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type recorder struct {
	mu       sync.Mutex
	states   []entities.SessionState
	texts    []TextDelta
	failures []error
}

func (r *recorder) SessionChanged(s entities.LiveSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s.State)
}

func (r *recorder) TextReceived(_ string, d TextDelta) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, d)
}

func (r *recorder) SessionFailed(_ entities.LiveSession, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *recorder) snapshot() ([]entities.SessionState, []TextDelta, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]entities.SessionState(nil), r.states...), append([]TextDelta(nil), r.texts...), append([]error(nil), r.failures...)
}

type harness struct {
	transport *Transport
	conn      *fakeConn
	out       *fakeOutput
	mic       *fakeMic
	pipeline  *capture.Pipeline
	observer  *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		conn:     newFakeConn(),
		out:      &fakeOutput{},
		mic:      &fakeMic{stream: &fakeStream{frames: make(chan []float32), closed: make(chan struct{})}},
		observer: &recorder{},
	}
	h.pipeline = capture.NewPipeline(h.mic, capture.Config{}, zap.NewNop())
	h.transport = NewTransport(&fakePeer{conn: h.conn}, &fakeOutputs{out: h.out}, h.pipeline, Config{}, h.observer, zap.NewNop())
	t.Cleanup(func() { _ = h.transport.Close() })
	return h
}

func audioEvent(frames int) peerMessage {
	return peerMessage{ev: repositories.PeerEvent{Kind: repositories.PeerEventAudio, Audio: pcm.Encode(make([]byte, frames*2))}}
}

func (h *harness) sourceCount() int {
	sources, _ := h.out.snapshot()
	return len(sources)
}

func TestTransportStartOpensAndCaptures(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.transport.Start(context.Background(), liveConfig))

	session, ok := h.transport.Session()
	require.True(t, ok)
	assert.Equal(t, entities.SessionStateOpen, session.State)
	assert.True(t, h.pipeline.IsCapturing())

	h.mic.stream.frames <- make([]float32, 4)
	require.Eventually(t, func() bool { return h.conn.sentFrames() == 1 }, time.Second, 5*time.Millisecond)

	states, _, _ := h.observer.snapshot()
	assert.Equal(t, []entities.SessionState{entities.SessionStateConnecting, entities.SessionStateOpen}, states)
}

func TestTransportStartTwice(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.transport.Start(context.Background(), liveConfig))
	assert.ErrorIs(t, h.transport.Start(context.Background(), liveConfig), ErrSessionActive)
}

func TestTransportRejectsInvalidConfig(t *testing.T) {
	h := newHarness(t)
	err := h.transport.Start(context.Background(), entities.LiveConfig{Modality: "smell"})
	assert.True(t, domain.IsKind(err, domain.KindInvalid))
	_, ok := h.transport.Session()
	assert.False(t, ok)
}

func TestTransportSchedulesAudioInArrivalOrder(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.transport.Start(context.Background(), liveConfig))

	h.conn.inbound <- audioEvent(24000)
	h.conn.inbound <- audioEvent(12000)
	require.Eventually(t, func() bool { return h.sourceCount() == 2 }, time.Second, 5*time.Millisecond)

	sources, _ := h.out.snapshot()
	assert.Equal(t, time.Duration(0), sources[0].startAt)
	assert.Equal(t, time.Second, sources[1].startAt)
	assert.Equal(t, 12000, sources[1].frames)
}

func TestTransportInterruptStopsPlayback(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.transport.Start(context.Background(), liveConfig))

	h.conn.inbound <- audioEvent(24000)
	h.conn.inbound <- audioEvent(24000)
	h.out.mu.Lock()
	h.out.now = 300 * time.Millisecond
	h.out.mu.Unlock()
	h.conn.inbound <- peerMessage{ev: repositories.PeerEvent{Kind: repositories.PeerEventInterrupted}}
	h.conn.inbound <- audioEvent(2400)

	require.Eventually(t, func() bool { return h.sourceCount() == 3 }, time.Second, 5*time.Millisecond)

	sources, _ := h.out.snapshot()
	assert.True(t, sources[0].stopped)
	assert.True(t, sources[1].stopped)
	assert.False(t, sources[2].stopped)
	assert.Equal(t, 300*time.Millisecond, sources[2].startAt)
}

func TestTransportDropsMalformedAudio(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.transport.Start(context.Background(), liveConfig))

	h.conn.inbound <- peerMessage{ev: repositories.PeerEvent{Kind: repositories.PeerEventAudio, Audio: "%%%"}}
	h.conn.inbound <- peerMessage{ev: repositories.PeerEvent{Kind: repositories.PeerEventAudio, Audio: pcm.Encode([]byte{1, 2, 3})}}
	h.conn.inbound <- audioEvent(240)

	require.Eventually(t, func() bool { return h.sourceCount() == 1 }, time.Second, 5*time.Millisecond)
	session, _ := h.transport.Session()
	assert.Equal(t, entities.SessionStateOpen, session.State)
}

func TestTransportRelaysText(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.transport.Start(context.Background(), liveConfig))

	h.conn.inbound <- peerMessage{ev: repositories.PeerEvent{Kind: repositories.PeerEventText, Text: "Hel"}}
	h.conn.inbound <- peerMessage{ev: repositories.PeerEvent{Kind: repositories.PeerEventText, Text: "lo"}}
	h.conn.inbound <- peerMessage{ev: repositories.PeerEvent{Kind: repositories.PeerEventTurnComplete}}

	require.Eventually(t, func() bool {
		_, texts, _ := h.observer.snapshot()
		return len(texts) == 3
	}, time.Second, 5*time.Millisecond)

	_, texts, _ := h.observer.snapshot()
	assert.Equal(t, "Hel", texts[0].Text)
	assert.Equal(t, "lo", texts[1].Text)
	assert.True(t, texts[2].TurnComplete)
}

func TestTransportCloseIsIdempotentAndSynchronous(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.transport.Start(context.Background(), liveConfig))
	h.conn.inbound <- audioEvent(24000)
	require.Eventually(t, func() bool { return h.sourceCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.transport.Close())

	assert.False(t, h.pipeline.IsCapturing())
	sources, outputClosed := h.out.snapshot()
	assert.True(t, outputClosed)
	assert.True(t, sources[0].stopped)

	session, _ := h.transport.Session()
	assert.Equal(t, entities.SessionStateClosed, session.State)

	require.NoError(t, h.transport.Close())
	states, _, _ := h.observer.snapshot()
	assert.Equal(t, entities.SessionStateClosed, states[len(states)-1])
	assert.Len(t, states, 3)
}

func TestTransportFailureMovesToErrored(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.transport.Start(context.Background(), liveConfig))

	h.conn.inbound <- peerMessage{err: errors.New("connection reset by peer")}

	require.Eventually(t, func() bool {
		s, _ := h.transport.Session()
		return s.State == entities.SessionStateErrored
	}, time.Second, 5*time.Millisecond)

	assert.False(t, h.pipeline.IsCapturing())
	_, outputClosed := h.out.snapshot()
	assert.True(t, outputClosed)

	require.Eventually(t, func() bool {
		_, _, failures := h.observer.snapshot()
		return len(failures) == 1
	}, time.Second, 5*time.Millisecond)
	_, _, failures := h.observer.snapshot()
	assert.True(t, domain.IsKind(failures[0], domain.KindTransport))

	// a new attempt starts cleanly
	h.conn = newFakeConn()
	h.transport.peer = &fakePeer{conn: h.conn}
	h.mic.stream = &fakeStream{frames: make(chan []float32), closed: make(chan struct{})}
	require.NoError(t, h.transport.Start(context.Background(), liveConfig))
}

func TestTransportPeerCloseEndsSession(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.transport.Start(context.Background(), liveConfig))

	h.conn.inbound <- peerMessage{err: io.EOF}

	require.Eventually(t, func() bool {
		s, _ := h.transport.Session()
		return s.State == entities.SessionStateClosed
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.pipeline.IsCapturing())
	_, _, failures := h.observer.snapshot()
	assert.Empty(t, failures)
}

func TestTransportPeerCloseRelaysAllText(t *testing.T) {
	for i := 0; i < 50; i++ {
		h := newHarness(t)
		require.NoError(t, h.transport.Start(context.Background(), liveConfig))

		for _, text := range []string{"a", "b", "c", "d", "e"} {
			h.conn.inbound <- peerMessage{ev: repositories.PeerEvent{Kind: repositories.PeerEventText, Text: text}}
		}
		h.conn.inbound <- peerMessage{ev: repositories.PeerEvent{Kind: repositories.PeerEventTurnComplete}}
		h.conn.inbound <- peerMessage{err: io.EOF}

		require.Eventually(t, func() bool {
			states, _, _ := h.observer.snapshot()
			return states[len(states)-1] == entities.SessionStateClosed
		}, time.Second, time.Millisecond)

		// Closed is only reported once the text consumer drained
		_, texts, _ := h.observer.snapshot()
		require.Len(t, texts, 6, "run %d", i)
		assert.Equal(t, "e", texts[4].Text)
		assert.True(t, texts[5].TurnComplete)
	}
}

func TestTransportCloseAbortsBlockedFrameWrite(t *testing.T) {
	h := newHarness(t)
	h.conn.blocking = make(chan struct{}, 1)
	require.NoError(t, h.transport.Start(context.Background(), liveConfig))

	h.mic.stream.frames <- make([]float32, 4)
	select {
	case <-h.conn.blocking:
	case <-time.After(time.Second):
		t.Fatal("capture never forwarded the frame")
	}

	closed := make(chan error, 1)
	go func() { closed <- h.transport.Close() }()
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close waited on the blocked frame write")
	}
	assert.False(t, h.pipeline.IsCapturing())
}

func TestTransportConnectFailure(t *testing.T) {
	h := newHarness(t)
	h.transport.peer = &fakePeer{err: errors.New("401 unauthorized")}

	err := h.transport.Start(context.Background(), liveConfig)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindTransport))

	session, _ := h.transport.Session()
	assert.Equal(t, entities.SessionStateErrored, session.State)
	_, outputClosed := h.out.snapshot()
	assert.True(t, outputClosed)
	assert.False(t, h.pipeline.IsCapturing())
}

func TestTransportCaptureFailure(t *testing.T) {
	h := newHarness(t)
	h.mic.err = errors.New("permission denied")

	err := h.transport.Start(context.Background(), liveConfig)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindCapture))

	session, _ := h.transport.Session()
	assert.Equal(t, entities.SessionStateErrored, session.State)
	_, outputClosed := h.out.snapshot()
	assert.True(t, outputClosed)
	h.conn.mu.Lock()
	assert.Equal(t, 1, h.conn.closes)
	h.conn.mu.Unlock()
}

func TestAudioEventHelperIsPCM16(t *testing.T) {
	raw, err := pcm.Decode(audioEvent(3).ev.Audio)
	require.NoError(t, err)
	assert.Len(t, raw, 6)
	assert.Equal(t, uint16(0), binary.LittleEndian.Uint16(raw))
}
