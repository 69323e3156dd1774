package entities

import (
	"testing"
	"time"
)

func TestAudioChunkDuration(t *testing.T) {
	chunk := &AudioChunk{
		Format:  AudioFormat{SampleRate: 24000, Channels: 1},
		Samples: [][]float32{make([]float32, 12000)},
	}

	if chunk.Frames() != 12000 {
		t.Errorf("Expected 12000 frames, got %d", chunk.Frames())
	}
	if chunk.Duration() != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", chunk.Duration())
	}
	if err := chunk.Validate(); err != nil {
		t.Errorf("Expected valid chunk, got %v", err)
	}
}

func TestAudioChunkValidate(t *testing.T) {
	chunk := &AudioChunk{
		Format:  AudioFormat{SampleRate: 24000, Channels: 2},
		Samples: [][]float32{make([]float32, 10), make([]float32, 9)},
	}
	if err := chunk.Validate(); err == nil {
		t.Error("Expected error for uneven channels")
	}

	var nilChunk *AudioChunk
	if nilChunk.Duration() != 0 {
		t.Error("Expected zero duration for nil chunk")
	}
}

func TestAudioFormatMIMEType(t *testing.T) {
	if got := (AudioFormat{SampleRate: 16000, Channels: 1}).MIMEType(); got != "audio/pcm;rate=16000" {
		t.Errorf("Unexpected MIME type %q", got)
	}
}
