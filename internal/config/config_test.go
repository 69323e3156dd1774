package config

import (
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("PORT", "")
	t.Setenv("POLL_INTERVAL", "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Port != DefaultPort {
		t.Errorf("Expected port %s, got %s", DefaultPort, cfg.Port)
	}
	if cfg.Gemini.ThinkingBudget != DefaultThinkingBudget {
		t.Errorf("Expected thinking budget %d, got %d", DefaultThinkingBudget, cfg.Gemini.ThinkingBudget)
	}
	if cfg.Poll.Interval != 10*time.Second {
		t.Errorf("Expected poll interval 10s, got %s", cfg.Poll.Interval)
	}
	if cfg.Audio.CaptureSampleRate != 16000 || cfg.Audio.CaptureFrameSize != 4096 {
		t.Errorf("Unexpected capture defaults: %+v", cfg.Audio)
	}
	if cfg.LogLevel != zapcore.InfoLevel {
		t.Errorf("Expected info level, got %s", cfg.LogLevel)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("POLL_MAX", "5")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("AUDIO_BACKEND", "none")
	t.Setenv("TTS_PROVIDER", "elevenlabs")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}

	if cfg.Poll.Interval != 250*time.Millisecond {
		t.Errorf("Expected 250ms, got %s", cfg.Poll.Interval)
	}
	if cfg.Poll.MaxPolls != 5 {
		t.Errorf("Expected 5 polls, got %d", cfg.Poll.MaxPolls)
	}
	if cfg.LogLevel != zapcore.DebugLevel {
		t.Errorf("Expected debug level, got %s", cfg.LogLevel)
	}
	if cfg.Audio.Backend != AudioBackendNone {
		t.Errorf("Expected none backend, got %s", cfg.Audio.Backend)
	}
	if cfg.TTSProvider != TTSProviderElevenLabs {
		t.Errorf("Expected elevenlabs, got %s", cfg.TTSProvider)
	}
}

func TestFromEnvErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing api key", map[string]string{"GEMINI_API_KEY": ""}},
		{"malformed int", map[string]string{"POLL_MAX": "many"}},
		{"malformed duration", map[string]string{"POLL_INTERVAL": "10"}},
		{"malformed bool", map[string]string{"MOCK_MODELS": "sometimes"}},
		{"unknown backend", map[string]string{"AUDIO_BACKEND": "alsa"}},
		{"unknown tts", map[string]string{"TTS_PROVIDER": "robot"}},
		{"zero polls", map[string]string{"POLL_MAX": "0"}},
		{"bad log level", map[string]string{"LOG_LEVEL": "loud"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GEMINI_API_KEY", "test-key")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := FromEnv(); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestMockModelsNeedNoKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("MOCK_MODELS", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if !cfg.MockModels {
		t.Error("Expected mock models")
	}
}
