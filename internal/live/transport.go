// Package live runs one live duplex session at a time: it connects to the
// peer, feeds microphone frames out, and fans inbound events out to playback
// and text consumers.
package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain"
	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
	"github.com/satriahrh/nexus/internal/capture"
	"github.com/satriahrh/nexus/internal/metrics"
	"github.com/satriahrh/nexus/internal/pcm"
	"github.com/satriahrh/nexus/internal/playback"
)

var (
	// ErrSessionActive is returned when Start is called while a session is connecting or open
	ErrSessionActive = errors.New("a live session is already active")
	// ErrClosedWhileConnecting is returned by Start when Close won the race against the peer handshake
	ErrClosedWhileConnecting = errors.New("live session was closed while connecting")
)

const textBufferSize = 64

// TextDelta is a piece of text received during a live session
type TextDelta struct {
	Text         string
	TurnComplete bool
}

// Observer receives session transitions and inbound text. Calls may come
// from any goroutine; snapshots of one session never move backwards in the
// lifecycle but can be delivered out of order.
type Observer interface {
	SessionChanged(session entities.LiveSession)
	TextReceived(sessionID string, delta TextDelta)
	SessionFailed(session entities.LiveSession, err error)
}

// Config holds configuration for the transport
type Config struct {
	OutputFormat entities.AudioFormat
}

// Transport owns the lifecycle of the live session of one console
type Transport struct {
	peer     repositories.LivePeer
	outputs  repositories.AudioOutputFactory
	capture  *capture.Pipeline
	config   Config
	observer Observer
	logger   *zap.Logger

	mu      sync.Mutex
	session *entities.LiveSession
	res     resources
}

// resources are what one open session holds. relayDone closes once every
// text delta of the session reached the observer.
type resources struct {
	conn      repositories.LiveConnection
	scheduler *playback.Scheduler
	cancel    context.CancelFunc
	relayDone chan struct{}
}

// audioPayload is base64 transport text of one inbound audio chunk
type audioPayload struct {
	data string
}

type controlSignal int

const signalInterrupted controlSignal = iota

// NewTransport creates a transport. The capture pipeline is owned by the
// transport from now on.
func NewTransport(peer repositories.LivePeer, outputs repositories.AudioOutputFactory, pipeline *capture.Pipeline, config Config, observer Observer, logger *zap.Logger) *Transport {
	if config.OutputFormat.SampleRate == 0 {
		logger.Info("Using default live output format", zap.Int("sampleRate", 24000))
		config.OutputFormat = entities.AudioFormat{SampleRate: 24000, Channels: 1}
	}
	return &Transport{
		peer:     peer,
		outputs:  outputs,
		capture:  pipeline,
		config:   config,
		observer: observer,
		logger:   logger,
	}
}

// Session returns a snapshot of the current or last session
func (t *Transport) Session() (entities.LiveSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return entities.LiveSession{State: entities.SessionStateIdle}, false
	}
	return *t.session, true
}

// Start opens a new session. It returns once the session is Open and capture
// is running, or with the error that moved it to Errored.
func (t *Transport) Start(ctx context.Context, config entities.LiveConfig) error {
	if err := config.Validate(); err != nil {
		return domain.E(domain.KindInvalid, "live.Start", "Invalid live session configuration", err)
	}

	t.mu.Lock()
	if t.session != nil && t.session.IsActive() {
		t.mu.Unlock()
		return ErrSessionActive
	}
	session := entities.NewLiveSession(config)
	_ = session.Connect()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.session = session
	t.res = resources{cancel: cancel}
	snapshot := *session
	t.mu.Unlock()

	t.observer.SessionChanged(snapshot)
	t.logger.Info("Live session connecting", zap.String("sessionID", session.ID), zap.String("voice", config.Voice))

	stopWatch := context.AfterFunc(ctx, cancel)
	defer stopWatch()

	out, err := t.outputs.OpenOutput(runCtx, t.config.OutputFormat)
	if err != nil {
		err = domain.E(domain.KindCapture, "live.Start", "Audio output device is unavailable", err)
		t.fail(session, err)
		return err
	}
	scheduler := playback.NewScheduler(out, t.logger)

	conn, err := t.peer.Connect(runCtx, config)
	if err != nil {
		_ = scheduler.Reset()
		if !t.connecting(session) {
			return ErrClosedWhileConnecting
		}
		err = domain.E(domain.KindTransport, "live.Start", "Could not connect to the live service", err)
		t.fail(session, err)
		return err
	}

	t.mu.Lock()
	if t.session != session || session.State != entities.SessionStateConnecting {
		t.mu.Unlock()
		_ = scheduler.Reset()
		_ = conn.Close()
		return ErrClosedWhileConnecting
	}
	_ = session.Open()
	relayDone := make(chan struct{})
	t.res = resources{conn: conn, scheduler: scheduler, cancel: cancel, relayDone: relayDone}

	audioCh := make(chan audioPayload)
	controlCh := make(chan controlSignal)
	textCh := make(chan TextDelta, textBufferSize)
	go t.dispatch(runCtx, session, conn, audioCh, controlCh, textCh)
	go t.play(runCtx, scheduler, audioCh, controlCh)
	go t.relayText(session.ID, textCh, relayDone)

	// Capture only starts once the peer acknowledged the session.
	captureErr := t.capture.Start(runCtx, connSink{conn}, func(err error) { t.fail(session, err) })
	snapshot = *session
	t.mu.Unlock()

	if captureErr != nil {
		t.fail(session, captureErr)
		return captureErr
	}

	t.observer.SessionChanged(snapshot)
	t.logger.Info("Live session open", zap.String("sessionID", session.ID))
	return nil
}

func (t *Transport) connecting(session *entities.LiveSession) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session == session && session.State == entities.SessionStateConnecting
}

// Close ends the active session. Before it returns, capture is stopped,
// playback is silenced and text already received has been relayed. Events
// the peer has not delivered yet are discarded. Closing an already closed
// session is a no-op.
func (t *Transport) Close() error {
	t.mu.Lock()
	session := t.session
	if session == nil || !session.IsActive() {
		t.mu.Unlock()
		return nil
	}
	_ = session.Close()
	res := t.detach()
	snapshot := *session
	t.mu.Unlock()

	err := t.teardown(res)
	metrics.LiveSessions.WithLabelValues(string(entities.SessionStateClosed)).Inc()
	t.observer.SessionChanged(snapshot)
	t.logger.Info("Live session closed", zap.String("sessionID", session.ID))
	return err
}

// fail moves session to Errored after a transport, capture or device failure
func (t *Transport) fail(session *entities.LiveSession, cause error) {
	t.mu.Lock()
	if t.session != session || !session.IsActive() {
		t.mu.Unlock()
		return
	}
	_ = session.Fail(cause)
	res := t.detach()
	snapshot := *session
	t.mu.Unlock()

	if err := t.teardown(res); err != nil {
		t.logger.Warn("Teardown after session failure was incomplete", zap.Error(err))
	}
	metrics.LiveSessions.WithLabelValues(string(entities.SessionStateErrored)).Inc()
	t.logger.Error("Live session failed", zap.String("sessionID", session.ID), zap.Error(cause))
	t.observer.SessionChanged(snapshot)
	t.observer.SessionFailed(snapshot, cause)
}

// finish moves session to Closed after the peer ended it. The text channel
// is already closed, so every delta is relayed before Closed is reported.
func (t *Transport) finish(session *entities.LiveSession) {
	t.mu.Lock()
	if t.session != session || !session.IsActive() {
		t.mu.Unlock()
		return
	}
	_ = session.Close()
	res := t.detach()
	snapshot := *session
	t.mu.Unlock()

	if err := t.teardown(res); err != nil {
		t.logger.Warn("Teardown after peer close was incomplete", zap.Error(err))
	}
	metrics.LiveSessions.WithLabelValues(string(entities.SessionStateClosed)).Inc()
	t.logger.Info("Live session ended by peer", zap.String("sessionID", session.ID))
	t.observer.SessionChanged(snapshot)
}

// detach takes the session resources. Callers hold t.mu.
func (t *Transport) detach() resources {
	res := t.res
	t.res = resources{}
	return res
}

// teardown cancels the session context first, which also aborts a frame
// write the capture goroutine is blocked in.
func (t *Transport) teardown(res resources) error {
	var errs []error
	if res.cancel != nil {
		res.cancel()
	}
	if err := t.capture.Stop(); err != nil {
		errs = append(errs, err)
	}
	if res.scheduler != nil {
		if err := res.scheduler.Reset(); err != nil {
			errs = append(errs, err)
		}
	}
	if res.conn != nil {
		if err := res.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close peer connection: %w", err))
		}
	}
	if res.relayDone != nil {
		<-res.relayDone
	}
	return errors.Join(errs...)
}

// dispatch owns textCh and closes it before any teardown it triggers, so
// the relay drains every delta the peer sent.
func (t *Transport) dispatch(ctx context.Context, session *entities.LiveSession, conn repositories.LiveConnection, audioCh chan<- audioPayload, controlCh chan<- controlSignal, textCh chan<- TextDelta) {
	err := t.route(ctx, conn, audioCh, controlCh, textCh)
	close(textCh)

	switch {
	case err == nil || ctx.Err() != nil:
	case errors.Is(err, io.EOF):
		t.finish(session)
	default:
		t.fail(session, domain.E(domain.KindTransport, "live.Receive", "The live session was interrupted", err))
	}
}

// route sends every inbound event to exactly one typed channel. It returns
// the receive error that ended the session, or nil once ctx is done.
func (t *Transport) route(ctx context.Context, conn repositories.LiveConnection, audioCh chan<- audioPayload, controlCh chan<- controlSignal, textCh chan<- TextDelta) error {
	for {
		ev, err := conn.Receive(ctx)
		if err != nil {
			return err
		}

		switch ev.Kind {
		case repositories.PeerEventAudio:
			select {
			case audioCh <- audioPayload{data: ev.Audio}:
			case <-ctx.Done():
				return nil
			}
		case repositories.PeerEventInterrupted:
			select {
			case controlCh <- signalInterrupted:
			case <-ctx.Done():
				return nil
			}
		case repositories.PeerEventText:
			select {
			case textCh <- TextDelta{Text: ev.Text}:
			case <-ctx.Done():
				return nil
			}
		case repositories.PeerEventTurnComplete:
			select {
			case textCh <- TextDelta{TurnComplete: true}:
			case <-ctx.Done():
				return nil
			}
		default:
			t.logger.Warn("Ignoring unknown live event", zap.Int("kind", int(ev.Kind)))
		}
	}
}

// play is the single consumer of audio and control signals, so an
// interruption is applied exactly between the chunks it arrived between.
func (t *Transport) play(ctx context.Context, scheduler *playback.Scheduler, audioCh <-chan audioPayload, controlCh <-chan controlSignal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-controlCh:
			if sig == signalInterrupted {
				scheduler.Interrupt()
			}
		case payload := <-audioCh:
			raw, err := pcm.Decode(payload.data)
			if err != nil {
				metrics.DroppedUnits.WithLabelValues("audio").Inc()
				t.logger.Warn("Dropping undecodable audio chunk", zap.Error(err))
				continue
			}
			chunk, err := pcm.DecodePCM16(raw, t.config.OutputFormat)
			if err != nil {
				metrics.DroppedUnits.WithLabelValues("audio").Inc()
				t.logger.Warn("Dropping malformed audio chunk", zap.Int("bytes", len(raw)), zap.Error(err))
				continue
			}
			if _, err := scheduler.ScheduleChunk(chunk); err != nil {
				if errors.Is(err, playback.ErrSchedulerClosed) {
					return
				}
				t.logger.Warn("Failed to schedule audio chunk", zap.Error(err))
			}
		}
	}
}

func (t *Transport) relayText(sessionID string, textCh <-chan TextDelta, done chan<- struct{}) {
	defer close(done)
	for delta := range textCh {
		t.observer.TextReceived(sessionID, delta)
	}
}

// connSink forwards captured frames to one peer connection
type connSink struct {
	conn repositories.LiveConnection
}

func (s connSink) SendAudio(ctx context.Context, frame entities.AudioFrame) error {
	return s.conn.SendAudio(ctx, frame)
}
