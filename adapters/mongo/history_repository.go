package mongo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
)

const (
	messagesCollection = "messages"
	jobsCollection     = "jobs"
)

type messageDocument struct {
	ConsoleID            string `bson:"console_id"`
	entities.ChatMessage `bson:",inline"`
}

type jobDocument struct {
	ConsoleID              string `bson:"console_id"`
	entities.GenerationJob `bson:",inline"`
}

// HistoryRepository persists console messages and generation jobs
type HistoryRepository struct {
	messages *mongo.Collection
	jobs     *mongo.Collection
	logger   *zap.Logger
}

var _ repositories.HistoryRepository = (*HistoryRepository)(nil)

// NewHistoryRepository creates a new MongoDB history repository
func NewHistoryRepository(db *mongo.Database, logger *zap.Logger) *HistoryRepository {
	r := &HistoryRepository{
		messages: db.Collection(messagesCollection),
		jobs:     db.Collection(jobsCollection),
		logger:   logger,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.EnsureIndexes(ctx); err != nil {
			logger.Error("Failed to create history indexes", zap.Error(err))
		} else {
			logger.Info("History indexes created successfully")
		}
	}()

	return r
}

// EnsureIndexes creates the lookup and retention indexes of both collections
func (r *HistoryRepository) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "console_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "created_at", Value: 1}}},
	}
	for _, c := range []*mongo.Collection{r.messages, r.jobs} {
		if _, err := c.Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", c.Name(), err)
		}
	}
	return nil
}

// SaveMessage upserts a finished message
func (r *HistoryRepository) SaveMessage(ctx context.Context, consoleID string, msg entities.ChatMessage) error {
	if consoleID == "" {
		return errors.New("console ID cannot be empty")
	}
	if msg.ID == "" {
		return errors.New("message ID cannot be empty")
	}

	doc := messageDocument{ConsoleID: consoleID, ChatMessage: msg}
	_, err := r.messages.ReplaceOne(ctx, bson.M{"_id": msg.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		r.logger.Error("Failed to save message", zap.Error(err), zap.String("console_id", consoleID))
		return fmt.Errorf("failed to save message: %w", err)
	}
	return nil
}

// SaveJob upserts the current state of a generation job
func (r *HistoryRepository) SaveJob(ctx context.Context, consoleID string, job entities.GenerationJob) error {
	if consoleID == "" {
		return errors.New("console ID cannot be empty")
	}
	if job.ID == "" {
		return errors.New("job ID cannot be empty")
	}

	doc := jobDocument{ConsoleID: consoleID, GenerationJob: job}
	_, err := r.jobs.ReplaceOne(ctx, bson.M{"_id": job.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		r.logger.Error("Failed to save job", zap.Error(err), zap.String("console_id", consoleID))
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// ListMessages returns the latest limit messages of a console, oldest first
func (r *HistoryRepository) ListMessages(ctx context.Context, consoleID string, limit int) ([]entities.ChatMessage, error) {
	docs, err := latest[messageDocument](ctx, r.messages, consoleID, limit)
	if err != nil {
		r.logger.Error("Failed to list messages", zap.Error(err), zap.String("console_id", consoleID))
		return nil, err
	}
	msgs := make([]entities.ChatMessage, len(docs))
	for i, d := range docs {
		msgs[i] = d.ChatMessage
	}
	return msgs, nil
}

// ListJobs returns the latest limit jobs of a console, oldest first
func (r *HistoryRepository) ListJobs(ctx context.Context, consoleID string, limit int) ([]entities.GenerationJob, error) {
	docs, err := latest[jobDocument](ctx, r.jobs, consoleID, limit)
	if err != nil {
		r.logger.Error("Failed to list jobs", zap.Error(err), zap.String("console_id", consoleID))
		return nil, err
	}
	jobs := make([]entities.GenerationJob, len(docs))
	for i, d := range docs {
		jobs[i] = d.GenerationJob
	}
	return jobs, nil
}

// Prune implements repositories.HistoryRepository
func (r *HistoryRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	filter := bson.M{"created_at": bson.M{"$lt": before}}

	var removed int64
	for _, c := range []*mongo.Collection{r.messages, r.jobs} {
		result, err := c.DeleteMany(ctx, filter)
		if err != nil {
			return removed, fmt.Errorf("failed to prune %s: %w", c.Name(), err)
		}
		removed += result.DeletedCount
	}
	return removed, nil
}

// latest reads the newest documents of a console and returns them oldest first
func latest[T any](ctx context.Context, c *mongo.Collection, consoleID string, limit int) ([]T, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := c.Find(ctx, bson.M{"console_id": consoleID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.Name(), err)
	}
	defer cursor.Close(ctx)

	var docs []T
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", c.Name(), err)
	}
	slices.Reverse(docs)
	return docs, nil
}
