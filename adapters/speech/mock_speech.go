// Package speech provides keyless stand-ins for the speech ports.
package speech

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
	"github.com/satriahrh/nexus/internal/pcm"
)

const (
	toneSampleRate = 24000
	toneChunkBytes = 4800
	msPerCharacter = 60
	maxToneLength  = 5 * time.Second
)

// sineTone renders a mono PCM16 tone at 24kHz
func sineTone(freq float64, d time.Duration) []byte {
	n := int(int64(d) * toneSampleRate / int64(time.Second))
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(0.2 * math.Sin(2*math.Pi*freq*float64(i)/toneSampleRate))
	}
	return pcm.QuantizeFrame(samples)
}

// MockTextToSpeech plays a tone whose length follows the text
type MockTextToSpeech struct {
	logger *zap.Logger
}

var _ repositories.TextToSpeech = (*MockTextToSpeech)(nil)

// NewMockTextToSpeech creates a new mock text-to-speech service
func NewMockTextToSpeech(logger *zap.Logger) *MockTextToSpeech {
	return &MockTextToSpeech{
		logger: logger,
	}
}

// ConvertTextToSpeech implements repositories.TextToSpeech
func (t *MockTextToSpeech) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	t.logger.Info("Processing text-to-speech", zap.String("text", text))

	d := min(time.Duration(len(text)*msPerCharacter)*time.Millisecond, maxToneLength)
	audio := sineTone(440, d)

	audioChan := make(chan []byte, 10)
	go func() {
		defer close(audioChan)
		for len(audio) > 0 {
			n := min(toneChunkBytes, len(audio))
			select {
			case audioChan <- audio[:n]:
			case <-ctx.Done():
				return
			}
			audio = audio[n:]
		}
	}()
	return audioChan, nil
}

// MockLivePeer answers live sessions locally: it greets on connect and
// replies after every ReplyEvery captured frames.
type MockLivePeer struct {
	replyEvery int
	logger     *zap.Logger
}

var _ repositories.LivePeer = (*MockLivePeer)(nil)

// NewMockLivePeer creates a mock live peer
func NewMockLivePeer(replyEvery int, logger *zap.Logger) *MockLivePeer {
	if replyEvery <= 0 {
		replyEvery = 16
	}
	return &MockLivePeer{replyEvery: replyEvery, logger: logger}
}

// Connect implements repositories.LivePeer
func (p *MockLivePeer) Connect(ctx context.Context, config entities.LiveConfig) (repositories.LiveConnection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &mockLiveConnection{
		config:     config,
		replyEvery: p.replyEvery,
		events:     make(chan repositories.PeerEvent, 64),
		closed:     make(chan struct{}),
		logger:     p.logger,
	}
	c.reply("Hello! The line is open.")
	p.logger.Info("Mock live session opened", zap.String("voice", config.Voice))
	return c, nil
}

type mockLiveConnection struct {
	config     entities.LiveConfig
	replyEvery int
	events     chan repositories.PeerEvent
	closed     chan struct{}
	closeOnce  sync.Once
	logger     *zap.Logger

	mu     sync.Mutex
	frames int
	heard  int
}

func (c *mockLiveConnection) SendAudio(_ context.Context, frame entities.AudioFrame) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}

	c.mu.Lock()
	c.frames++
	c.heard += len(frame.Data)
	due := c.frames%c.replyEvery == 0
	heard := c.heard
	c.mu.Unlock()

	if due {
		c.reply(replyFor(heard))
	}
	return nil
}

// replyFor picks a canned answer by how much audio was heard so far
func replyFor(heard int) string {
	switch {
	case heard > 1000000:
		return "Thanks for the long chat. Anything else on your mind?"
	case heard > 200000:
		return "I am still listening."
	default:
		return "I hear you."
	}
}

func (c *mockLiveConnection) reply(text string) {
	var turn []repositories.PeerEvent
	if c.config.Modality != entities.ModalityText {
		turn = append(turn, repositories.PeerEvent{
			Kind:  repositories.PeerEventAudio,
			Audio: pcm.Encode(sineTone(330, 400*time.Millisecond)),
		})
	}
	if c.config.Modality != entities.ModalityAudio {
		turn = append(turn, repositories.PeerEvent{Kind: repositories.PeerEventText, Text: text})
	}
	turn = append(turn, repositories.PeerEvent{Kind: repositories.PeerEventTurnComplete})

	for _, ev := range turn {
		select {
		case c.events <- ev:
		default:
			c.logger.Warn("Mock live reply dropped", zap.String("kind", ev.Kind.String()))
		}
	}
}

func (c *mockLiveConnection) Receive(ctx context.Context) (repositories.PeerEvent, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.closed:
		return repositories.PeerEvent{}, io.EOF
	case <-ctx.Done():
		return repositories.PeerEvent{}, ctx.Err()
	}
}

func (c *mockLiveConnection) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
