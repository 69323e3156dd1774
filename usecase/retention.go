package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain/repositories"
)

// RetentionService prunes persisted console history in the background
type RetentionService struct {
	history   repositories.HistoryRepository
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	stopChan  chan struct{}
	now       func() time.Time
}

// NewRetentionService creates a service that deletes history older than retention
func NewRetentionService(history repositories.HistoryRepository, retention time.Duration, logger *zap.Logger) *RetentionService {
	return &RetentionService{
		history:   history,
		retention: retention,
		interval:  30 * time.Minute,
		logger:    logger,
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
}

// Start begins the background pruning
func (s *RetentionService) Start() {
	go s.loop()
	s.logger.Info("History retention service started", zap.Duration("retention", s.retention))
}

// Stop stops the background pruning
func (s *RetentionService) Stop() {
	close(s.stopChan)
	s.logger.Info("History retention service stopped")
}

func (s *RetentionService) loop() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First sweep shortly after startup
	initialTimer := time.NewTimer(time.Minute)
	defer initialTimer.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-initialTimer.C:
			s.RunOnce(context.Background())
		case <-ticker.C:
			s.RunOnce(context.Background())
		}
	}
}

// RunOnce prunes everything older than the retention window
func (s *RetentionService) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	cutoff := s.now().Add(-s.retention)
	removed, err := s.history.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Error("Failed to prune history", zap.Error(err))
		return
	}

	s.logger.Info("History pruned", zap.Time("cutoff", cutoff), zap.Int64("removed", removed))
}
