package gemini

import (
	"net/url"
	"strings"

	"google.golang.org/genai"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
)

// historyContents converts finished chat messages to Gemini contents
func historyContents(history []entities.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		if msg.Content == "" {
			continue
		}
		var role genai.Role = genai.RoleUser
		if msg.Role == entities.MessageRoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Content, role))
	}
	return contents
}

func groundingTools(tools entities.Tools) []*genai.Tool {
	var out []*genai.Tool
	if tools.Search {
		out = append(out, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if tools.Maps {
		out = append(out, &genai.Tool{GoogleMaps: &genai.GoogleMaps{}})
	}
	return out
}

func locationConfig(loc *entities.LatLng) *genai.ToolConfig {
	return &genai.ToolConfig{
		RetrievalConfig: &genai.RetrievalConfig{
			LatLng: &genai.LatLng{
				Latitude:  genai.Ptr(loc.Latitude),
				Longitude: genai.Ptr(loc.Longitude),
			},
		},
	}
}

// responseChunk extracts the text delta and grounding citations of one
// streamed response. Thought parts are not part of the answer.
func responseChunk(resp *genai.GenerateContentResponse) repositories.ChatChunk {
	var chunk repositories.ChatChunk
	if resp == nil || len(resp.Candidates) == 0 {
		return chunk
	}
	candidate := resp.Candidates[0]

	if candidate.Content != nil {
		var b strings.Builder
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			b.WriteString(part.Text)
		}
		chunk.Text = b.String()
	}

	if candidate.GroundingMetadata != nil {
		chunk.Citations = citations(candidate.GroundingMetadata.GroundingChunks)
	}
	return chunk
}

// citations converts grounding chunks, dropping any without a usable URI
func citations(chunks []*genai.GroundingChunk) []entities.Citation {
	var out []entities.Citation
	for _, gc := range chunks {
		if gc == nil {
			continue
		}
		switch {
		case gc.Web != nil && validCitationURI(gc.Web.URI):
			out = append(out, entities.Citation{URI: gc.Web.URI, Title: gc.Web.Title, Kind: entities.CitationKindWeb})
		case gc.Maps != nil && validCitationURI(gc.Maps.URI):
			out = append(out, entities.Citation{URI: gc.Maps.URI, Title: gc.Maps.Title, Kind: entities.CitationKindMap})
		}
	}
	return out
}

func validCitationURI(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// firstInline returns the first inline blob of a response
func firstInline(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData
			}
		}
	}
	return nil
}
