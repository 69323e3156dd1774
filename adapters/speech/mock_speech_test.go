package speech

import (
	"context"
	"errors"
	"io"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
	"github.com/satriahrh/nexus/internal/pcm"
)

func TestMockTextToSpeech(t *testing.T) {
	tts := NewMockTextToSpeech(zaptest.NewLogger(t))

	if _, err := tts.ConvertTextToSpeech(context.Background(), "  "); err == nil {
		t.Error("Expected error for empty text")
	}

	chunks, err := tts.ConvertTextToSpeech(context.Background(), "hello")
	if err != nil {
		t.Fatalf("ConvertTextToSpeech failed: %v", err)
	}
	total := 0
	for chunk := range chunks {
		if len(chunk)%2 != 0 {
			t.Errorf("Chunk of %d bytes is not sample aligned", len(chunk))
		}
		total += len(chunk)
	}
	// 5 characters, 60ms each, 24kHz PCM16
	if want := 2 * 24000 * 300 / 1000; total != want {
		t.Errorf("Expected %d bytes, got %d", want, total)
	}
}

func TestMockLivePeerConversation(t *testing.T) {
	peer := NewMockLivePeer(2, zaptest.NewLogger(t))
	ctx := context.Background()

	conn, err := peer.Connect(ctx, entities.LiveConfig{Voice: "Zephyr", Modality: entities.ModalityBoth})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	greeting := receiveTurn(t, conn)
	if len(greeting) != 3 {
		t.Fatalf("Expected audio, text and turn complete, got %v", greeting)
	}
	if _, err := pcm.Decode(greeting[0].Audio); err != nil {
		t.Errorf("Greeting audio is not valid transport text: %v", err)
	}

	frame := entities.AudioFrame{Seq: 1, MIMEType: "audio/pcm;rate=16000", Data: "AAAA"}
	for i := 0; i < 2; i++ {
		if err := conn.SendAudio(ctx, frame); err != nil {
			t.Fatalf("SendAudio failed: %v", err)
		}
	}
	reply := receiveTurn(t, conn)
	if reply[1].Text != "I hear you." {
		t.Errorf("Unexpected reply %q", reply[1].Text)
	}

	conn.Close()
	if _, err := conn.Receive(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Expected io.EOF after close, got %v", err)
	}
	if err := conn.SendAudio(ctx, frame); err == nil {
		t.Error("Expected error sending after close")
	}
}

func receiveTurn(t *testing.T, conn repositories.LiveConnection) []repositories.PeerEvent {
	t.Helper()
	var turn []repositories.PeerEvent
	for {
		ev, err := conn.Receive(context.Background())
		if err != nil {
			t.Fatalf("Receive failed: %v", err)
		}
		turn = append(turn, ev)
		if ev.Kind == repositories.PeerEventTurnComplete {
			return turn
		}
	}
}
