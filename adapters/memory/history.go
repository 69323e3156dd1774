// Package memory provides in-process implementations of the repositories.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
)

// HistoryRepository keeps console history in memory. It is lost on restart
// and is used when no MongoDB URI is configured.
type HistoryRepository struct {
	mu       sync.RWMutex
	messages map[string][]entities.ChatMessage   // console_id -> messages
	jobs     map[string][]entities.GenerationJob // console_id -> jobs
}

var _ repositories.HistoryRepository = (*HistoryRepository)(nil)

// NewHistoryRepository creates an empty history repository
func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{
		messages: make(map[string][]entities.ChatMessage),
		jobs:     make(map[string][]entities.GenerationJob),
	}
}

// SaveMessage inserts the message or replaces the one with the same ID
func (r *HistoryRepository) SaveMessage(_ context.Context, consoleID string, msg entities.ChatMessage) error {
	if consoleID == "" {
		return errors.New("console ID cannot be empty")
	}
	if msg.ID == "" {
		return errors.New("message ID cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.messages[consoleID]
	for i := range list {
		if list[i].ID == msg.ID {
			list[i] = msg.Clone()
			return nil
		}
	}
	r.messages[consoleID] = append(list, msg.Clone())
	return nil
}

// SaveJob inserts the job or replaces the one with the same ID
func (r *HistoryRepository) SaveJob(_ context.Context, consoleID string, job entities.GenerationJob) error {
	if consoleID == "" {
		return errors.New("console ID cannot be empty")
	}
	if job.ID == "" {
		return errors.New("job ID cannot be empty")
	}
	job.Params.Reference = nil

	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.jobs[consoleID]
	for i := range list {
		if list[i].ID == job.ID {
			list[i] = job
			return nil
		}
	}
	r.jobs[consoleID] = append(list, job)
	return nil
}

// ListMessages returns the latest limit messages, oldest first.
// A non-positive limit returns everything.
func (r *HistoryRepository) ListMessages(_ context.Context, consoleID string, limit int) ([]entities.ChatMessage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]entities.ChatMessage, 0, len(r.messages[consoleID]))
	for _, m := range r.messages[consoleID] {
		list = append(list, m.Clone())
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return tail(list, limit), nil
}

// ListJobs returns the latest limit jobs, oldest first
func (r *HistoryRepository) ListJobs(_ context.Context, consoleID string, limit int) ([]entities.GenerationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := append([]entities.GenerationJob(nil), r.jobs[consoleID]...)
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return tail(list, limit), nil
}

// Prune implements repositories.HistoryRepository
func (r *HistoryRepository) Prune(_ context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for id, list := range r.messages {
		kept := list[:0]
		for _, m := range list {
			if m.CreatedAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, m)
		}
		if len(kept) == 0 {
			delete(r.messages, id)
		} else {
			r.messages[id] = kept
		}
	}
	for id, list := range r.jobs {
		kept := list[:0]
		for _, j := range list {
			if j.CreatedAt.Before(before) {
				removed++
				continue
			}
			kept = append(kept, j)
		}
		if len(kept) == 0 {
			delete(r.jobs, id)
		} else {
			r.jobs[id] = kept
		}
	}
	return removed, nil
}

func tail[T any](list []T, limit int) []T {
	if limit > 0 && len(list) > limit {
		return list[len(list)-limit:]
	}
	return list
}
