package entities

import (
	"errors"
	"fmt"
	"time"
)

// AudioFormat declares how raw PCM bytes are laid out. It is configured,
// never inferred from the stream.
type AudioFormat struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// Validate validates the audio format
func (f AudioFormat) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("invalid channel count %d", f.Channels)
	}
	return nil
}

// MIMEType returns the descriptor used on the wire for 16-bit PCM in this format.
func (f AudioFormat) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// AudioChunk is an immutable unit of decoded audio.
// Samples holds one slice per channel, all of equal length.
type AudioChunk struct {
	ID      string
	Format  AudioFormat
	Samples [][]float32
}

// Frames returns the number of sample frames in the chunk
func (c *AudioChunk) Frames() int {
	if c == nil || len(c.Samples) == 0 {
		return 0
	}
	return len(c.Samples[0])
}

// Duration returns the playback length of the chunk.
func (c *AudioChunk) Duration() time.Duration {
	if c == nil || c.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.Format.SampleRate)
}

// Validate validates the chunk layout
func (c *AudioChunk) Validate() error {
	if c == nil {
		return errors.New("audio chunk is nil")
	}
	if err := c.Format.Validate(); err != nil {
		return err
	}
	if len(c.Samples) != c.Format.Channels {
		return fmt.Errorf("expected %d channels, got %d", c.Format.Channels, len(c.Samples))
	}
	for i := 1; i < len(c.Samples); i++ {
		if len(c.Samples[i]) != len(c.Samples[0]) {
			return fmt.Errorf("channel %d has %d frames, expected %d", i, len(c.Samples[i]), len(c.Samples[0]))
		}
	}
	return nil
}

// AudioFrame is one captured microphone frame in transport form.
type AudioFrame struct {
	Seq      int64  `json:"seq"`
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64 encoded PCM16
}
