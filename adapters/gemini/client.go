// Package gemini implements the generation ports on top of the Gemini API.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/nexus/domain/repositories"
)

const (
	defaultChatModel      = "gemini-3-flash-preview"
	defaultThinkingModel  = "gemini-3-pro-preview"
	defaultThinkingBudget = 32768
	defaultVisionModel    = "gemini-3-pro-preview"
	defaultImageModel     = "gemini-3-pro-image-preview"
	defaultImageEditModel = "gemini-2.5-flash-image"
	defaultVideoModel     = "veo-3.1-fast-generate-preview"
	defaultTTSModel       = "gemini-2.5-flash-preview-tts"
	defaultTTSVoice       = "Kore"
	defaultImageTimeout   = 5 * time.Minute
)

// Config holds configuration for the Gemini client
type Config struct {
	APIKey         string
	ChatModel      string
	ThinkingModel  string
	ThinkingBudget int
	VisionModel    string
	ImageModel     string
	ImageEditModel string
	VideoModel     string
	TTSModel       string
	TTSVoice       string
	// ImageTimeout bounds one image generation request.
	ImageTimeout time.Duration
	// BaseURL overrides the API endpoint, e.g. for a proxy.
	BaseURL string
}

// ValidateConfig validates the Config
func ValidateConfig(config Config) error {
	if config.APIKey == "" {
		return fmt.Errorf("Gemini API key is required")
	}
	if config.ThinkingBudget < 0 {
		return fmt.Errorf("thinking budget must be positive, got %d", config.ThinkingBudget)
	}
	if config.ImageTimeout < 0 {
		return fmt.Errorf("image timeout must be positive, got %s", config.ImageTimeout)
	}
	return nil
}

// Client implements text, vision, media and speech generation with one
// shared Gemini API client.
type Client struct {
	genai      *genai.Client
	config     Config
	artifacts  repositories.ArtifactStore
	httpClient *http.Client
	logger     *zap.Logger
	// speechBackoff is the retry policy of one speech synthesis.
	speechBackoff func() retry.Backoff

	mu     sync.Mutex
	images map[string]*imageOperation
}

var (
	_ repositories.TextGenerator  = (*Client)(nil)
	_ repositories.VisionAnalyzer = (*Client)(nil)
	_ repositories.MediaGenerator = (*Client)(nil)
	_ repositories.TextToSpeech   = (*Client)(nil)
)

// NewClient creates a Gemini client. Generated media is written to artifacts.
func NewClient(ctx context.Context, config Config, artifacts repositories.ArtifactStore, logger *zap.Logger) (*Client, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	config = applyDefaults(config, logger)

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      config.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: config.BaseURL},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		genai:         client,
		config:        config,
		artifacts:     artifacts,
		httpClient:    &http.Client{Timeout: 5 * time.Minute},
		logger:        logger,
		speechBackoff: defaultSpeechBackoff,
		images:        make(map[string]*imageOperation),
	}, nil
}

// defaultSpeechBackoff makes three attempts, one and two seconds apart
func defaultSpeechBackoff() retry.Backoff {
	return retry.WithMaxRetries(2, retry.NewLinear(time.Second))
}

func applyDefaults(config Config, logger *zap.Logger) Config {
	str := func(field *string, value, name string) {
		if *field == "" {
			*field = value
			logger.Info("Using default "+name, zap.String(name, value))
		}
	}
	str(&config.ChatModel, defaultChatModel, "chatModel")
	str(&config.ThinkingModel, defaultThinkingModel, "thinkingModel")
	str(&config.VisionModel, defaultVisionModel, "visionModel")
	str(&config.ImageModel, defaultImageModel, "imageModel")
	str(&config.ImageEditModel, defaultImageEditModel, "imageEditModel")
	str(&config.VideoModel, defaultVideoModel, "videoModel")
	str(&config.TTSModel, defaultTTSModel, "ttsModel")
	str(&config.TTSVoice, defaultTTSVoice, "ttsVoice")

	if config.ThinkingBudget == 0 {
		config.ThinkingBudget = defaultThinkingBudget
		logger.Info("Using default thinking budget", zap.Int("thinkingBudget", config.ThinkingBudget))
	}
	if config.ImageTimeout == 0 {
		config.ImageTimeout = defaultImageTimeout
	}
	return config
}
