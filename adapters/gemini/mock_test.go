package gemini

import (
	"context"
	"io"
	"iter"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
)

type memoryArtifacts struct {
	mu    sync.Mutex
	files map[string]string
}

func (a *memoryArtifacts) Put(_ context.Context, name, _ string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.files == nil {
		a.files = make(map[string]string)
	}
	a.files[name] = string(data)
	return "mem://" + name, nil
}

func collect(t *testing.T, seq iter.Seq2[repositories.ChatChunk, error]) (string, []entities.Citation) {
	t.Helper()
	var text strings.Builder
	var cites []entities.Citation
	for chunk, err := range seq {
		if err != nil {
			t.Fatalf("Unexpected stream error: %v", err)
		}
		text.WriteString(chunk.Text)
		cites = append(cites, chunk.Citations...)
	}
	return text.String(), cites
}

func TestMockStreamChat(t *testing.T) {
	client := NewMockClient(&memoryArtifacts{}, zaptest.NewLogger(t))

	text, cites := collect(t, client.StreamChat(context.Background(), repositories.ChatRequest{
		Prompt: "hello",
		Tools:  entities.Tools{Search: true, Maps: true},
	}))
	if !strings.Contains(text, `"hello"`) {
		t.Errorf("Expected prompt echoed in %q", text)
	}
	if len(cites) != 2 || cites[0].Kind != entities.CitationKindWeb || cites[1].Kind != entities.CitationKindMap {
		t.Errorf("Unexpected citations %+v", cites)
	}

	text, cites = collect(t, client.StreamChat(context.Background(), repositories.ChatRequest{
		Prompt:   "again",
		History:  []entities.ChatMessage{entities.NewUserMessage(entities.ModeChat, "hello")},
		Thinking: true,
	}))
	if !strings.HasPrefix(text, "After careful thought: ") {
		t.Errorf("Expected thinking prefix in %q", text)
	}
	if len(cites) != 0 {
		t.Errorf("Expected no citations without tools, got %+v", cites)
	}
}

func TestMockStreamChatCancelled(t *testing.T) {
	client := NewMockClient(&memoryArtifacts{}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var gotErr error
	for _, err := range client.StreamChat(ctx, repositories.ChatRequest{Prompt: "hi"}) {
		gotErr = err
	}
	if gotErr != context.Canceled {
		t.Errorf("Expected context.Canceled, got %v", gotErr)
	}
}

func TestMockStreamAnalysis(t *testing.T) {
	client := NewMockClient(&memoryArtifacts{}, zaptest.NewLogger(t))

	text, _ := collect(t, client.StreamAnalysis(context.Background(), repositories.VisionRequest{
		Media: entities.Attachment{MIMEType: "image/png", Data: []byte{1, 2, 3}},
		Kind:  repositories.VisionKindImage,
	}))
	if !strings.Contains(text, "image/png file of 3 bytes") {
		t.Errorf("Unexpected analysis %q", text)
	}
}

func TestMockMediaJob(t *testing.T) {
	artifacts := &memoryArtifacts{}
	client := NewMockClient(artifacts, zaptest.NewLogger(t))
	ctx := context.Background()

	handle, err := client.Submit(ctx, entities.JobKindImage, entities.MediaParams{Prompt: "a cat"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !strings.HasPrefix(handle, "mock/image/") {
		t.Errorf("Unexpected handle %q", handle)
	}

	res, err := client.Poll(ctx, entities.JobKindImage, handle)
	if err != nil || res.Finished() {
		t.Fatalf("Expected first poll to be pending, got %+v, %v", res, err)
	}

	res, err = client.Poll(ctx, entities.JobKindImage, handle)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if !res.Done || !strings.HasPrefix(res.ResultRef, "mem://mock-image-") {
		t.Errorf("Unexpected result %+v", res)
	}
	if len(artifacts.files) != 1 {
		t.Errorf("Expected one stored artifact, got %d", len(artifacts.files))
	}

	res, err = client.Poll(ctx, entities.JobKindImage, handle)
	if err != nil || res.Failure == "" {
		t.Errorf("Expected finished handle to be unknown, got %+v, %v", res, err)
	}
}
