package repositories

import "context"

// TextToSpeech synthesizes speech as a stream of raw PCM16 chunks
type TextToSpeech interface {
	ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error)
}
