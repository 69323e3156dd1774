// Package config reads the server configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

const (
	DefaultPort              = "8080"
	DefaultLiveModel         = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultChatModel         = "gemini-3-flash-preview"
	DefaultThinkingModel     = "gemini-3-pro-preview"
	DefaultThinkingBudget    = 32768
	DefaultImageModel        = "gemini-3-pro-image-preview"
	DefaultImageEditModel    = "gemini-2.5-flash-image"
	DefaultVideoModel        = "veo-3.1-fast-generate-preview"
	DefaultVisionModel       = "gemini-3-pro-preview"
	DefaultTTSModel          = "gemini-2.5-flash-preview-tts"
	DefaultLiveVoice         = "Zephyr"
	DefaultSystemInstruction = "You are a concise, friendly voice assistant."
	DefaultMongoDatabase     = "nexus"
	DefaultArtifactDir       = "artifacts"
	DefaultHistoryRetention  = 7 * 24 * time.Hour
)

// Audio backends
const (
	AudioBackendFFmpeg = "ffmpeg"
	AudioBackendNone   = "none"
)

// TTS providers
const (
	TTSProviderGemini     = "gemini"
	TTSProviderElevenLabs = "elevenlabs"
	TTSProviderMock       = "mock"
)

// GeminiConfig selects the models used for every generation concern
type GeminiConfig struct {
	APIKey         string
	LiveModel      string
	ChatModel      string
	ThinkingModel  string
	ThinkingBudget int
	ImageModel     string
	ImageEditModel string
	VideoModel     string
	VisionModel    string
	TTSModel       string
}

// AudioConfig configures capture and playback
type AudioConfig struct {
	Backend            string
	CaptureSampleRate  int
	CaptureFrameSize   int
	PlaybackSampleRate int
}

// PollConfig configures media job polling
type PollConfig struct {
	Interval time.Duration
	MaxPolls int
	Retries  uint64
}

// Config is the whole server configuration
type Config struct {
	Port                  string
	LogLevel              zapcore.Level
	MockModels            bool
	Gemini                GeminiConfig
	LiveVoice             string
	LiveSystemInstruction string
	Audio                 AudioConfig
	Poll                  PollConfig
	TTSProvider           string
	MongoURI              string
	MongoDatabase         string
	HistoryRetention      time.Duration
	ArtifactDir           string
	GCSBucket             string
	GCSCredentialsFile    string
	GCSEndpoint           string
}

// Load reads .env, if present, and then the process environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from the process environment only
func FromEnv() (*Config, error) {
	var p parser

	cfg := &Config{
		Port:       getEnv("PORT", DefaultPort),
		MockModels: p.bool("MOCK_MODELS", false),
		Gemini: GeminiConfig{
			APIKey:         os.Getenv("GEMINI_API_KEY"),
			LiveModel:      getEnv("GEMINI_LIVE_MODEL", DefaultLiveModel),
			ChatModel:      getEnv("GEMINI_CHAT_MODEL", DefaultChatModel),
			ThinkingModel:  getEnv("GEMINI_THINKING_MODEL", DefaultThinkingModel),
			ThinkingBudget: p.int("GEMINI_THINKING_BUDGET", DefaultThinkingBudget),
			ImageModel:     getEnv("GEMINI_IMAGE_MODEL", DefaultImageModel),
			ImageEditModel: getEnv("GEMINI_IMAGE_EDIT_MODEL", DefaultImageEditModel),
			VideoModel:     getEnv("GEMINI_VIDEO_MODEL", DefaultVideoModel),
			VisionModel:    getEnv("GEMINI_VISION_MODEL", DefaultVisionModel),
			TTSModel:       getEnv("GEMINI_TTS_MODEL", DefaultTTSModel),
		},
		LiveVoice:             getEnv("LIVE_VOICE", DefaultLiveVoice),
		LiveSystemInstruction: getEnv("LIVE_SYSTEM_INSTRUCTION", DefaultSystemInstruction),
		Audio: AudioConfig{
			Backend:            getEnv("AUDIO_BACKEND", AudioBackendFFmpeg),
			CaptureSampleRate:  p.int("CAPTURE_SAMPLE_RATE", 16000),
			CaptureFrameSize:   p.int("CAPTURE_FRAME_SIZE", 4096),
			PlaybackSampleRate: p.int("PLAYBACK_SAMPLE_RATE", 24000),
		},
		Poll: PollConfig{
			Interval: p.duration("POLL_INTERVAL", 10*time.Second),
			MaxPolls: p.int("POLL_MAX", 60),
			Retries:  uint64(p.int("POLL_RETRIES", 3)),
		},
		TTSProvider:        getEnv("TTS_PROVIDER", TTSProviderGemini),
		MongoURI:           os.Getenv("MONGODB_URI"),
		MongoDatabase:      getEnv("MONGODB_DATABASE", DefaultMongoDatabase),
		HistoryRetention:   p.duration("HISTORY_RETENTION", DefaultHistoryRetention),
		ArtifactDir:        getEnv("ARTIFACT_DIR", DefaultArtifactDir),
		GCSBucket:          os.Getenv("GCS_BUCKET"),
		GCSCredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
		GCSEndpoint:        os.Getenv("GCS_ENDPOINT"),
	}

	level, err := zapcore.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	cfg.LogLevel = level

	if err := errors.Join(p.errs...); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.MockModels && c.Gemini.APIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY environment variable is required unless MOCK_MODELS is set")
	}
	if c.Gemini.ThinkingBudget < 0 {
		return fmt.Errorf("thinking budget must not be negative, got %d", c.Gemini.ThinkingBudget)
	}

	switch c.Audio.Backend {
	case AudioBackendFFmpeg, AudioBackendNone:
	default:
		return fmt.Errorf("unknown audio backend %q", c.Audio.Backend)
	}
	if c.Audio.CaptureSampleRate <= 0 || c.Audio.PlaybackSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive")
	}
	if c.Audio.CaptureFrameSize <= 0 {
		return fmt.Errorf("capture frame size must be positive, got %d", c.Audio.CaptureFrameSize)
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.MaxPolls <= 0 {
		return fmt.Errorf("max polls must be positive, got %d", c.Poll.MaxPolls)
	}

	switch c.TTSProvider {
	case TTSProviderGemini, TTSProviderElevenLabs, TTSProviderMock:
	default:
		return fmt.Errorf("unknown TTS provider %q", c.TTSProvider)
	}
	if c.HistoryRetention < 0 {
		return fmt.Errorf("history retention must not be negative, got %s", c.HistoryRetention)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parser collects every malformed variable instead of stopping at the first
type parser struct {
	errs []error
}

func (p *parser) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return n
}

func (p *parser) bool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %w", key, err))
		return fallback
	}
	return d
}
