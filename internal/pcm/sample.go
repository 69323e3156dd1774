package pcm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/satriahrh/nexus/domain"
	"github.com/satriahrh/nexus/domain/entities"
)

// MalformedAudioError is returned when a byte buffer cannot be split into
// whole 16-bit frames for the declared channel count.
type MalformedAudioError struct {
	Length   int
	Channels int
}

func (e *MalformedAudioError) Error() string {
	return fmt.Sprintf("pcm length %d is not a multiple of %d", e.Length, 2*e.Channels)
}

func (e *MalformedAudioError) Unwrap() error {
	return domain.E(domain.KindDecode, "pcm.DecodePCM16", "malformed audio payload", nil)
}

// DecodePCM16 turns signed 16-bit little-endian interleaved samples into a
// chunk of normalized float samples in the declared format.
func DecodePCM16(data []byte, format entities.AudioFormat) (*entities.AudioChunk, error) {
	if err := format.Validate(); err != nil {
		return nil, fmt.Errorf("failed to decode pcm: %w", err)
	}
	if len(data)%(2*format.Channels) != 0 {
		return nil, &MalformedAudioError{Length: len(data), Channels: format.Channels}
	}

	frames := len(data) / 2 / format.Channels
	samples := make([][]float32, format.Channels)
	for ch := range samples {
		samples[ch] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for ch := 0; ch < format.Channels; ch++ {
			off := (i*format.Channels + ch) * 2
			v := int16(binary.LittleEndian.Uint16(data[off:]))
			samples[ch][i] = float32(v) / 32768.0
		}
	}

	return &entities.AudioChunk{
		ID:      uuid.NewString(),
		Format:  format,
		Samples: samples,
	}, nil
}

// Quantize converts one normalized sample to int16 using round(s*32767),
// clamped so loud input never wraps around.
func Quantize(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	v := math.Round(float64(s) * 32767)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// QuantizeFrame packs mono float samples as 16-bit little-endian PCM
func QuantizeFrame(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(Quantize(s)))
	}
	return out
}

// EncodePCM16 interleaves the frames [from, to) of a chunk as 16-bit
// little-endian PCM.
func EncodePCM16(chunk *entities.AudioChunk, from, to int) []byte {
	channels := len(chunk.Samples)
	if from < 0 {
		from = 0
	}
	if to > chunk.Frames() {
		to = chunk.Frames()
	}
	if to <= from || channels == 0 {
		return nil
	}
	out := make([]byte, (to-from)*channels*2)
	off := 0
	for i := from; i < to; i++ {
		for ch := 0; ch < channels; ch++ {
			binary.LittleEndian.PutUint16(out[off:], uint16(Quantize(chunk.Samples[ch][i])))
			off += 2
		}
	}
	return out
}
