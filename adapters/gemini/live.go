package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
	"github.com/satriahrh/nexus/internal/metrics"
)

const (
	defaultLiveURL          = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	defaultLiveModel        = "gemini-2.5-flash-native-audio-preview-09-2025"
	defaultHandshakeTimeout = 10 * time.Second
)

// LiveConfig holds configuration for the live peer
type LiveConfig struct {
	APIKey string
	Model  string
	// URL of the bidirectional endpoint, without the key parameter.
	URL              string
	HandshakeTimeout time.Duration
}

// LivePeer opens live sessions over the BidiGenerateContent websocket
type LivePeer struct {
	config LiveConfig
	dialer *websocket.Dialer
	logger *zap.Logger
}

var _ repositories.LivePeer = (*LivePeer)(nil)

// NewLivePeer creates a live peer
func NewLivePeer(config LiveConfig, logger *zap.Logger) (*LivePeer, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}
	if config.Model == "" {
		config.Model = defaultLiveModel
		logger.Info("Using default live model", zap.String("model", config.Model))
	}
	if config.URL == "" {
		config.URL = defaultLiveURL
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &LivePeer{
		config: config,
		dialer: &websocket.Dialer{HandshakeTimeout: config.HandshakeTimeout},
		logger: logger,
	}, nil
}

// Connect dials the endpoint, sends the session setup and waits for the
// peer to acknowledge it.
func (p *LivePeer) Connect(ctx context.Context, config entities.LiveConfig) (repositories.LiveConnection, error) {
	u, err := url.Parse(p.config.URL)
	if err != nil {
		return nil, fmt.Errorf("parse websocket URL: %w", err)
	}
	q := u.Query()
	q.Set("key", p.config.APIKey)
	u.RawQuery = q.Encode()

	conn, resp, err := p.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			if len(body) > 0 {
				return nil, fmt.Errorf("websocket connect (status %d): %s", resp.StatusCode, string(body))
			}
			return nil, fmt.Errorf("websocket connect: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket connect: %w", err)
	}

	lc := &liveConnection{conn: conn, logger: p.logger}
	if err := lc.setup(ctx, setupFor(p.config.Model, config), p.config.HandshakeTimeout); err != nil {
		_ = conn.Close()
		return nil, err
	}

	p.logger.Info("Live peer session established",
		zap.String("model", p.config.Model),
		zap.String("voice", config.Voice),
		zap.String("modality", string(config.Modality)))
	return lc, nil
}

func setupFor(model string, config entities.LiveConfig) setupMessage {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	s := liveSetup{Model: model}

	switch config.Modality {
	case entities.ModalityText:
		s.GenerationConfig.ResponseModalities = []string{"TEXT"}
	default:
		s.GenerationConfig.ResponseModalities = []string{"AUDIO"}
		s.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoice{VoiceName: config.Voice}},
		}
	}
	if config.Modality == entities.ModalityBoth {
		s.OutputAudioTranscription = &struct{}{}
	}
	if config.SystemInstruction != "" {
		s.SystemInstruction = &content{Parts: []part{{Text: config.SystemInstruction}}}
	}
	return setupMessage{Setup: s}
}

// liveConnection is one open session. Receive is called from a single
// goroutine; SendAudio and Close may be called from any.
type liveConnection struct {
	conn    *websocket.Conn
	logger  *zap.Logger
	writeMu sync.Mutex
	pending []repositories.PeerEvent

	closeOnce sync.Once
	closed    chan struct{}
}

func (c *liveConnection) setup(ctx context.Context, msg setupMessage, timeout time.Duration) error {
	c.closed = make(chan struct{})
	if err := c.writeJSON(ctx, msg); err != nil {
		return fmt.Errorf("failed to send session setup: %w", err)
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetReadDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		var reply serverMessage
		if err := c.readMessage(&reply); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("session setup was not acknowledged: %w", err)
		}
		if reply.SetupComplete != nil {
			return c.conn.SetReadDeadline(time.Time{})
		}
	}
}

// SendAudio sends one captured frame as realtime input
func (c *liveConnection) SendAudio(ctx context.Context, frame entities.AudioFrame) error {
	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{Audio: &blob{MIMEType: frame.MIMEType, Data: frame.Data}},
	}
	if err := c.writeJSON(ctx, msg); err != nil {
		return fmt.Errorf("failed to send audio frame %d: %w", frame.Seq, err)
	}
	return nil
}

// Receive returns the next inbound event. It returns io.EOF once the peer or
// Close ended the session.
func (c *liveConnection) Receive(ctx context.Context) (repositories.PeerEvent, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	for len(c.pending) == 0 {
		var msg serverMessage
		if err := c.readMessage(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.logger.Warn("Ignoring malformed live message", zap.Error(err))
				metrics.DroppedUnits.WithLabelValues("message").Inc()
				continue
			}
			return repositories.PeerEvent{}, c.receiveError(ctx, err)
		}
		if msg.GoAway != nil {
			c.logger.Warn("Live peer is going away", zap.String("timeLeft", msg.GoAway.TimeLeft))
		}
		c.pending = append(c.pending, events(msg)...)
	}

	ev := c.pending[0]
	c.pending = c.pending[1:]
	return ev, nil
}

func (c *liveConnection) receiveError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	select {
	case <-c.closed:
		return io.EOF
	default:
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	return err
}

// Close ends the session. It is safe to call more than once.
func (c *liveConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *liveConnection) writeJSON(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultHandshakeTimeout)
	}
	_ = c.conn.SetWriteDeadline(deadline)

	// The websocket deadline only applies to the next write; the net.Conn
	// deadline also cuts one that is already blocked.
	stop := context.AfterFunc(ctx, func() { _ = c.conn.NetConn().SetWriteDeadline(time.Now()) })
	defer stop()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// readMessage reads one frame; the peer sends JSON in text and binary frames alike
func (c *liveConnection) readMessage(v *serverMessage) error {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// events flattens one server message into peer events, in wire order
func events(msg serverMessage) []repositories.PeerEvent {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}

	var out []repositories.PeerEvent
	if sc.Interrupted {
		out = append(out, repositories.PeerEvent{Kind: repositories.PeerEventInterrupted})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			switch {
			case p.InlineData != nil && strings.HasPrefix(p.InlineData.MIMEType, "audio/"):
				out = append(out, repositories.PeerEvent{Kind: repositories.PeerEventAudio, Audio: p.InlineData.Data})
			case p.Text != "" && !p.Thought:
				out = append(out, repositories.PeerEvent{Kind: repositories.PeerEventText, Text: p.Text})
			}
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out = append(out, repositories.PeerEvent{Kind: repositories.PeerEventText, Text: sc.OutputTranscription.Text})
	}
	if sc.TurnComplete {
		out = append(out, repositories.PeerEvent{Kind: repositories.PeerEventTurnComplete})
	}
	return out
}

type setupMessage struct {
	Setup liveSetup `json:"setup"`
}

type liveSetup struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoice `json:"prebuiltVoiceConfig"`
}

type prebuiltVoice struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	Thought    bool   `json:"thought,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	Audio *blob `json:"audio,omitempty"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}
