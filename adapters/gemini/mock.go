package gemini

import (
	"context"
	"fmt"
	"html"
	"iter"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
)

// mockPollsToFinish is how many status checks a mock job takes
const mockPollsToFinish = 2

// MockClient is a deterministic stand-in for Client that needs no API key
type MockClient struct {
	artifacts repositories.ArtifactStore
	logger    *zap.Logger

	mu    sync.Mutex
	polls map[string]int
}

var (
	_ repositories.TextGenerator  = (*MockClient)(nil)
	_ repositories.VisionAnalyzer = (*MockClient)(nil)
	_ repositories.MediaGenerator = (*MockClient)(nil)
)

// NewMockClient creates a new mock Gemini client
func NewMockClient(artifacts repositories.ArtifactStore, logger *zap.Logger) *MockClient {
	return &MockClient{
		artifacts: artifacts,
		logger:    logger,
		polls:     make(map[string]int),
	}
}

// StreamChat implements repositories.TextGenerator
func (m *MockClient) StreamChat(ctx context.Context, req repositories.ChatRequest) iter.Seq2[repositories.ChatChunk, error] {
	var response string
	switch {
	case len(req.History) == 0:
		response = fmt.Sprintf("Hello! You asked: %q. This is a mock answer streamed word by word.", req.Prompt)
	default:
		response = fmt.Sprintf("Thanks, noted %q. We have exchanged %d messages so far.", req.Prompt, len(req.History))
	}
	if req.Thinking {
		response = "After careful thought: " + response
	}

	var cites []entities.Citation
	if req.Tools.Search {
		cites = append(cites, entities.Citation{URI: "https://example.com/search", Title: "Example search result", Kind: entities.CitationKindWeb})
	}
	if req.Tools.Maps {
		cites = append(cites, entities.Citation{URI: "https://maps.example.com/place", Title: "Example place", Kind: entities.CitationKindMap})
	}
	return words(ctx, response, cites)
}

// StreamAnalysis implements repositories.VisionAnalyzer
func (m *MockClient) StreamAnalysis(ctx context.Context, req repositories.VisionRequest) iter.Seq2[repositories.ChatChunk, error] {
	response := fmt.Sprintf("The %s is a %s file of %d bytes. A real model would describe it here.", req.Kind, req.Media.MIMEType, len(req.Media.Data))
	return words(ctx, response, nil)
}

// words streams text one word at a time, with citations on the last chunk
func words(ctx context.Context, text string, cites []entities.Citation) iter.Seq2[repositories.ChatChunk, error] {
	return func(yield func(repositories.ChatChunk, error) bool) {
		fields := strings.SplitAfter(text, " ")
		for i, w := range fields {
			if err := ctx.Err(); err != nil {
				yield(repositories.ChatChunk{}, err)
				return
			}
			chunk := repositories.ChatChunk{Text: w}
			if i == len(fields)-1 {
				chunk.Citations = cites
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}

// Submit implements repositories.MediaGenerator
func (m *MockClient) Submit(_ context.Context, kind entities.JobKind, params entities.MediaParams) (string, error) {
	handle := fmt.Sprintf("mock/%s/%s", kind, uuid.NewString())
	m.mu.Lock()
	m.polls[handle] = 0
	m.mu.Unlock()
	m.logger.Info("Mock generation job submitted", zap.String("handle", handle), zap.String("prompt", params.Prompt))
	return handle, nil
}

// Poll implements repositories.MediaGenerator
func (m *MockClient) Poll(ctx context.Context, kind entities.JobKind, handle string) (repositories.PollResult, error) {
	m.mu.Lock()
	n, ok := m.polls[handle]
	if ok {
		n++
		m.polls[handle] = n
	}
	m.mu.Unlock()

	if !ok {
		return repositories.PollResult{Failure: "unknown mock job"}, nil
	}
	if n < mockPollsToFinish {
		return repositories.PollResult{}, nil
	}

	m.mu.Lock()
	delete(m.polls, handle)
	m.mu.Unlock()

	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="320" height="180"><rect width="100%%" height="100%%" fill="#111"/><text x="16" y="96" fill="#eee">%s %s</text></svg>`,
		kind, html.EscapeString(handle))
	ref, err := m.artifacts.Put(ctx, strings.ReplaceAll(handle, "/", "-")+".svg", "image/svg+xml", strings.NewReader(svg))
	if err != nil {
		return repositories.PollResult{}, fmt.Errorf("failed to store mock artifact: %w", err)
	}
	return repositories.PollResult{Done: true, ResultRef: ref}, nil
}
