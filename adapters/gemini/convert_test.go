package gemini

import (
	"encoding/json"
	"strings"
	"testing"

	"google.golang.org/genai"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
)

func TestResponseChunk(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "planning...", Thought: true},
				{Text: "Jakarta is "},
				{Text: "the capital."},
			}},
			GroundingMetadata: &genai.GroundingMetadata{
				GroundingChunks: []*genai.GroundingChunk{
					{Web: &genai.GroundingChunkWeb{URI: "https://example.com/jakarta", Title: "Jakarta"}},
					{Web: &genai.GroundingChunkWeb{URI: "", Title: "no link"}},
					{Web: &genai.GroundingChunkWeb{URI: "::not a uri", Title: "broken"}},
					{Maps: &genai.GroundingChunkMaps{URI: "https://maps.google.com/?cid=1", Title: "Monas"}},
					{RetrievedContext: &genai.GroundingChunkRetrievedContext{URI: "https://example.com/doc"}},
					nil,
				},
			},
		}},
	}

	chunk := responseChunk(resp)
	if chunk.Text != "Jakarta is the capital." {
		t.Errorf("Unexpected text %q", chunk.Text)
	}
	want := []entities.Citation{
		{URI: "https://example.com/jakarta", Title: "Jakarta", Kind: entities.CitationKindWeb},
		{URI: "https://maps.google.com/?cid=1", Title: "Monas", Kind: entities.CitationKindMap},
	}
	if len(chunk.Citations) != len(want) {
		t.Fatalf("Expected %d citations, got %+v", len(want), chunk.Citations)
	}
	for i := range want {
		if chunk.Citations[i] != want[i] {
			t.Errorf("Citation %d: expected %+v, got %+v", i, want[i], chunk.Citations[i])
		}
	}
}

func TestResponseChunkEmpty(t *testing.T) {
	if chunk := responseChunk(nil); chunk.Text != "" || chunk.Citations != nil {
		t.Errorf("Expected empty chunk, got %+v", chunk)
	}
	if chunk := responseChunk(&genai.GenerateContentResponse{}); chunk.Text != "" {
		t.Errorf("Expected empty chunk, got %+v", chunk)
	}
}

func TestHistoryContents(t *testing.T) {
	history := []entities.ChatMessage{
		{Role: entities.MessageRoleUser, Content: "hi"},
		{Role: entities.MessageRoleAssistant, Content: "hello"},
		{Role: entities.MessageRoleAssistant, Content: ""},
	}
	contents := historyContents(history)
	if len(contents) != 2 {
		t.Fatalf("Expected 2 contents, got %d", len(contents))
	}
	if contents[0].Role != genai.RoleUser || contents[1].Role != genai.RoleModel {
		t.Errorf("Unexpected roles %q, %q", contents[0].Role, contents[1].Role)
	}
}

func TestGroundingTools(t *testing.T) {
	if tools := groundingTools(entities.Tools{}); len(tools) != 0 {
		t.Errorf("Expected no tools, got %d", len(tools))
	}
	tools := groundingTools(entities.Tools{Search: true, Maps: true})
	if len(tools) != 2 || tools[0].GoogleSearch == nil || tools[1].GoogleMaps == nil {
		t.Errorf("Unexpected tools %+v", tools)
	}

	cfg := locationConfig(&entities.LatLng{Latitude: -6.2, Longitude: 106.8})
	if *cfg.RetrievalConfig.LatLng.Latitude != -6.2 || *cfg.RetrievalConfig.LatLng.Longitude != 106.8 {
		t.Errorf("Unexpected location %+v", cfg.RetrievalConfig.LatLng)
	}
}

func TestSetupFor(t *testing.T) {
	tests := []struct {
		name           string
		modality       entities.Modality
		wantModality   string
		wantVoice      bool
		wantTranscript bool
	}{
		{"audio", entities.ModalityAudio, "AUDIO", true, false},
		{"text", entities.ModalityText, "TEXT", false, false},
		{"both", entities.ModalityBoth, "AUDIO", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := setupFor("gemini-live", entities.LiveConfig{Voice: "Zephyr", Modality: tt.modality, SystemInstruction: "be brief"})
			data, err := json.Marshal(msg)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			s := string(data)

			if !strings.Contains(s, `"model":"models/gemini-live"`) {
				t.Errorf("Model not prefixed: %s", s)
			}
			if !strings.Contains(s, `"responseModalities":["`+tt.wantModality+`"]`) {
				t.Errorf("Expected %s modality: %s", tt.wantModality, s)
			}
			if got := strings.Contains(s, `"voiceName":"Zephyr"`); got != tt.wantVoice {
				t.Errorf("Voice present = %v: %s", got, s)
			}
			if got := strings.Contains(s, `"outputAudioTranscription":{}`); got != tt.wantTranscript {
				t.Errorf("Transcription present = %v: %s", got, s)
			}
			if !strings.Contains(s, `"systemInstruction":{"parts":[{"text":"be brief"}]}`) {
				t.Errorf("Missing system instruction: %s", s)
			}
		})
	}
}

func TestEventsOrder(t *testing.T) {
	var msg serverMessage
	raw := `{"serverContent":{"interrupted":true,"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAA="}},{"text":"hi"},{"text":"hmm","thought":true}]},"outputTranscription":{"text":"hi there"},"turnComplete":true}}`
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	got := events(msg)
	want := []repositories.PeerEventKind{
		repositories.PeerEventInterrupted,
		repositories.PeerEventAudio,
		repositories.PeerEventText,
		repositories.PeerEventText,
		repositories.PeerEventTurnComplete,
	}
	if len(got) != len(want) {
		t.Fatalf("Expected %d events, got %+v", len(want), got)
	}
	for i := range want {
		if got[i].Kind != want[i] {
			t.Errorf("Event %d: expected %s, got %s", i, want[i], got[i].Kind)
		}
	}
	if got[1].Audio != "AAA=" {
		t.Errorf("Audio payload must pass through untouched, got %q", got[1].Audio)
	}
	if got[3].Text != "hi there" {
		t.Errorf("Expected transcription, got %q", got[3].Text)
	}
}

func TestValidCitationURI(t *testing.T) {
	tests := map[string]bool{
		"https://example.com/a": true,
		"http://example.com":    true,
		"":                      false,
		"example.com/a":         false,
		"ftp://example.com":     false,
		"https://":              false,
		"%zz":                   false,
	}
	for uri, want := range tests {
		if got := validCitationURI(uri); got != want {
			t.Errorf("validCitationURI(%q) = %v, want %v", uri, got, want)
		}
	}
}
