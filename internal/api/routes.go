package api

import (
	"net/http"
	"sort"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
	"github.com/satriahrh/nexus/internal/websocket"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Options holds what the routes serve besides the hub
type Options struct {
	History repositories.HistoryRepository
	// ArtifactDir is served under /artifacts when set.
	ArtifactDir string
}

// InitRoutes initializes all API routes
func InitRoutes(e *echo.Echo, hub *websocket.Hub, opts Options, logger *zap.Logger) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "nexus-server",
		})
	})

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if opts.ArtifactDir != "" {
		e.Static("/artifacts", opts.ArtifactDir)
	}

	v1 := e.Group("/api/v1")

	v1.GET("/consoles", func(c echo.Context) error {
		return c.JSON(http.StatusOK, ConsolesResponse{Consoles: hub.Consoles()})
	})

	v1.GET("/presets", listPresets)

	v1.GET("/consoles/:id/history", func(c echo.Context) error {
		return getHistory(c, opts.History, logger)
	})

	e.GET("/ws", func(c echo.Context) error {
		return websocket.HandleWebSocket(hub, c)
	})
}

func listPresets(c echo.Context) error {
	presets := make([]PresetResponse, 0, len(entities.AgentPresets))
	for key, p := range entities.AgentPresets {
		presets = append(presets, PresetResponse{Key: key, AgentPreset: p})
	}
	sort.Slice(presets, func(i, j int) bool { return presets[i].Key < presets[j].Key })
	return c.JSON(http.StatusOK, presets)
}

func getHistory(c echo.Context, history repositories.HistoryRepository, logger *zap.Logger) error {
	if history == nil {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "history_disabled",
			Message: "History persistence is not configured",
		})
	}

	limit := defaultHistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_limit",
				Message: "limit must be between 1 and " + strconv.Itoa(maxHistoryLimit),
			})
		}
		limit = n
	}

	consoleID := c.Param("id")
	ctx := c.Request().Context()

	msgs, err := history.ListMessages(ctx, consoleID, limit)
	if err != nil {
		logger.Error("Failed to list messages", zap.String("consoleID", consoleID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load history",
		})
	}
	jobs, err := history.ListJobs(ctx, consoleID, limit)
	if err != nil {
		logger.Error("Failed to list jobs", zap.String("consoleID", consoleID), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "Failed to load history",
		})
	}

	if msgs == nil {
		msgs = []entities.ChatMessage{}
	}
	if jobs == nil {
		jobs = []entities.GenerationJob{}
	}
	return c.JSON(http.StatusOK, HistoryResponse{ConsoleID: consoleID, Messages: msgs, Jobs: jobs})
}
