package gemini

import (
	"context"
	"fmt"
	"strings"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// speechChunkSize is 100ms of 24kHz mono PCM16
const speechChunkSize = 4800

// ConvertTextToSpeech synthesizes text with the prebuilt TTS voice and
// streams the raw 24kHz PCM16 result in chunks.
func (c *Client) ConvertTextToSpeech(ctx context.Context, text string) (<-chan []byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: c.config.TTSVoice},
			},
		},
	}
	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	var response *genai.GenerateContentResponse
	attempt := 0
	err := retry.Do(ctx, c.speechBackoff(), func(ctx context.Context) error {
		attempt++
		resp, err := c.genai.Models.GenerateContent(ctx, c.config.TTSModel, contents, config)
		if err != nil {
			c.logger.Warn("Failed to synthesize speech, retrying",
				zap.Int("attempt", attempt),
				zap.Error(err))
			return retry.RetryableError(err)
		}
		response = resp
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize speech: %w", err)
	}

	blob := firstInline(response)
	if blob == nil {
		return nil, fmt.Errorf("speech response contained no audio")
	}

	c.logger.Info("Speech synthesized",
		zap.String("voice", c.config.TTSVoice),
		zap.String("mimeType", blob.MIMEType),
		zap.Int("bytes", len(blob.Data)))

	audioChan := make(chan []byte, 10)
	go func() {
		defer close(audioChan)
		data := blob.Data
		for len(data) > 0 {
			n := min(speechChunkSize, len(data))
			select {
			case audioChan <- data[:n]:
			case <-ctx.Done():
				return
			}
			data = data[n:]
		}
	}()
	return audioChan, nil
}
