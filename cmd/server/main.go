package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/satriahrh/nexus/adapters/audio"
	"github.com/satriahrh/nexus/adapters/gemini"
	"github.com/satriahrh/nexus/adapters/memory"
	"github.com/satriahrh/nexus/adapters/mongo"
	"github.com/satriahrh/nexus/adapters/speech"
	"github.com/satriahrh/nexus/adapters/storage"
	"github.com/satriahrh/nexus/adapters/tts"
	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
	"github.com/satriahrh/nexus/internal/api"
	"github.com/satriahrh/nexus/internal/capture"
	"github.com/satriahrh/nexus/internal/config"
	"github.com/satriahrh/nexus/internal/live"
	"github.com/satriahrh/nexus/internal/poller"
	"github.com/satriahrh/nexus/internal/websocket"
	"github.com/satriahrh/nexus/usecase"
)

const (
	shutdownTimeout = 10 * time.Second
	artifactPrefix  = "/artifacts"
	historyLimit    = 100
)

// models is everything the consoles generate with
type models interface {
	repositories.TextGenerator
	repositories.VisionAnalyzer
	repositories.MediaGenerator
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger, _ := zap.NewProduction()
		bootLogger.Fatal("Invalid configuration", zap.Error(err))
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	// Artifacts
	var artifacts repositories.ArtifactStore
	artifactDir := ""
	if cfg.GCSBucket != "" {
		store, err := storage.NewGCSStore(ctx, storage.GCSConfig{
			Bucket:          cfg.GCSBucket,
			CredentialsFile: cfg.GCSCredentialsFile,
			Endpoint:        cfg.GCSEndpoint,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create GCS artifact store", zap.Error(err))
		}
		artifacts = store
	} else {
		store, err := storage.NewLocalStore(cfg.ArtifactDir, artifactPrefix, logger)
		if err != nil {
			logger.Fatal("Failed to create local artifact store", zap.Error(err))
		}
		artifacts = store
		artifactDir = store.Dir()
	}

	// Models and live peer
	var (
		gen   models
		peer  repositories.LivePeer
		synth repositories.TextToSpeech
	)
	speechFormat := entities.AudioFormat{SampleRate: 24000, Channels: 1}
	if cfg.MockModels {
		logger.Warn("Using mock models")
		gen = gemini.NewMockClient(artifacts, logger)
		peer = speech.NewMockLivePeer(8, logger)
		synth = speech.NewMockTextToSpeech(logger)
	} else {
		client, err := gemini.NewClient(ctx, gemini.Config{
			APIKey:         cfg.Gemini.APIKey,
			ChatModel:      cfg.Gemini.ChatModel,
			ThinkingModel:  cfg.Gemini.ThinkingModel,
			ThinkingBudget: cfg.Gemini.ThinkingBudget,
			VisionModel:    cfg.Gemini.VisionModel,
			ImageModel:     cfg.Gemini.ImageModel,
			ImageEditModel: cfg.Gemini.ImageEditModel,
			VideoModel:     cfg.Gemini.VideoModel,
			TTSModel:       cfg.Gemini.TTSModel,
		}, artifacts, logger)
		if err != nil {
			logger.Fatal("Failed to create Gemini client", zap.Error(err))
		}
		gen = client
		synth = client

		livePeer, err := gemini.NewLivePeer(gemini.LiveConfig{
			APIKey: cfg.Gemini.APIKey,
			Model:  cfg.Gemini.LiveModel,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create live peer", zap.Error(err))
		}
		peer = livePeer
	}

	switch cfg.TTSProvider {
	case config.TTSProviderElevenLabs:
		ttsConfig := tts.NewElevenLabsConfigFromEnv()
		ttsConfig.SampleRate = cfg.Audio.PlaybackSampleRate
		elevenLabs, err := tts.NewElevenLabsTTS(ttsConfig, logger)
		if err != nil {
			logger.Fatal("Failed to create Eleven Labs TTS", zap.Error(err))
		}
		synth = elevenLabs
		speechFormat.SampleRate = cfg.Audio.PlaybackSampleRate
	case config.TTSProviderMock:
		synth = speech.NewMockTextToSpeech(logger)
	}

	// Audio devices
	var (
		outputs repositories.AudioOutputFactory
		mic     repositories.Microphone
	)
	switch cfg.Audio.Backend {
	case config.AudioBackendFFmpeg:
		outputs = audio.NewFFplayOutputs("", logger)
		mic = audio.NewFFmpegMicrophone("", logger)
	default:
		outputs = audio.NewNullOutputs(logger)
		mic = audio.SilentMicrophone{}
	}

	// History
	var history repositories.HistoryRepository
	if cfg.MongoURI != "" {
		client, err := mongo.NewClient(ctx, cfg.MongoURI, cfg.MongoDatabase, logger)
		if err != nil {
			logger.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer client.Close(context.Background())
		history = mongo.NewHistoryRepository(client.Database, logger)
	} else {
		history = memory.NewHistoryRepository()
	}

	var retention *usecase.RetentionService
	if cfg.HistoryRetention > 0 {
		retention = usecase.NewRetentionService(history, cfg.HistoryRetention, logger)
		retention.Start()
	}

	jobPoller, err := poller.NewPoller(poller.Config{
		Interval: cfg.Poll.Interval,
		MaxPolls: cfg.Poll.MaxPolls,
		Backoff:  poller.ExponentialBackoff(time.Second, cfg.Poll.Retries),
	}, logger)
	if err != nil {
		logger.Fatal("Failed to create poller", zap.Error(err))
	}

	deps := usecase.ConsoleDeps{
		Chat:    gen,
		Vision:  gen,
		Media:   gen,
		Speech:  synth,
		Outputs: outputs,
		History: history,
		Poller:  jobPoller,
		Live: func(observer live.Observer) usecase.LiveSessions {
			pipeline := capture.NewPipeline(mic, capture.Config{
				SampleRate: cfg.Audio.CaptureSampleRate,
				FrameSize:  cfg.Audio.CaptureFrameSize,
			}, logger)
			return live.NewTransport(peer, outputs, pipeline, live.Config{
				OutputFormat: entities.AudioFormat{SampleRate: cfg.Audio.PlaybackSampleRate, Channels: 1},
			}, observer, logger)
		},
	}
	consoleConfig := usecase.ConsoleConfig{
		LiveDefaults: entities.LiveConfig{
			Voice:             cfg.LiveVoice,
			SystemInstruction: cfg.LiveSystemInstruction,
			Modality:          entities.ModalityAudio,
		},
		SpeechFormat: speechFormat,
		HistoryLimit: historyLimit,
	}

	hub := websocket.NewHub(func(id string, presenter usecase.Presenter) *usecase.Console {
		return usecase.NewConsole(id, deps, consoleConfig, presenter, logger.With(zap.String("consoleID", id)))
	}, logger)

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	api.InitRoutes(e, hub, api.Options{History: history, ArtifactDir: artifactDir}, logger)

	// Graceful shutdown
	go func() {
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("shutting down the server", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("port", cfg.Port),
		zap.Bool("mockModels", cfg.MockModels),
		zap.String("audioBackend", cfg.Audio.Backend),
		zap.String("ttsProvider", cfg.TTSProvider))

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Server is shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Error("Consoles did not close in time", zap.Error(err))
	}
	if retention != nil {
		retention.Stop()
	}
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
