package repositories

import (
	"context"
	"io"
	"time"

	"github.com/satriahrh/nexus/domain/entities"
)

// HistoryRepository persists finished messages and jobs of a console
type HistoryRepository interface {
	SaveMessage(ctx context.Context, consoleID string, msg entities.ChatMessage) error
	SaveJob(ctx context.Context, consoleID string, job entities.GenerationJob) error
	ListMessages(ctx context.Context, consoleID string, limit int) ([]entities.ChatMessage, error)
	ListJobs(ctx context.Context, consoleID string, limit int) ([]entities.GenerationJob, error)
	// Prune deletes everything created before the cutoff and returns how many records were removed.
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// ArtifactStore keeps generated media and returns a reference to it
type ArtifactStore interface {
	Put(ctx context.Context, name, contentType string, r io.Reader) (string, error)
}
