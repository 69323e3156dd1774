package gemini

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/nexus/domain/repositories"
)

const defaultAnalysisPrompt = "Analyze this %s and describe its key contents, context, and any specific details found."

// StreamChat streams one chat turn. Thinking turns use the thinking model
// with the configured budget.
func (c *Client) StreamChat(ctx context.Context, req repositories.ChatRequest) iter.Seq2[repositories.ChatChunk, error] {
	model := c.config.ChatModel
	config := &genai.GenerateContentConfig{
		Tools: groundingTools(req.Tools),
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if req.Thinking {
		model = c.config.ThinkingModel
		config.ThinkingConfig = &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(int32(c.config.ThinkingBudget)),
		}
	}
	if req.Location != nil && req.Tools.Maps {
		config.ToolConfig = locationConfig(req.Location)
	}

	contents := historyContents(req.History)
	contents = append(contents, genai.NewContentFromText(req.Prompt, genai.RoleUser))

	c.logger.Debug("Streaming chat turn",
		zap.String("model", model),
		zap.Int("history", len(req.History)),
		zap.Bool("search", req.Tools.Search),
		zap.Bool("maps", req.Tools.Maps))

	return c.stream(ctx, "chat", model, contents, config)
}

// StreamAnalysis streams the analysis of an uploaded image or video
func (c *Client) StreamAnalysis(ctx context.Context, req repositories.VisionRequest) iter.Seq2[repositories.ChatChunk, error] {
	prompt := req.Prompt
	if prompt == "" {
		prompt = fmt.Sprintf(defaultAnalysisPrompt, req.Kind)
	}
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(req.Media.Data, req.Media.MIMEType),
			genai.NewPartFromText(prompt),
		}, genai.RoleUser),
	}

	c.logger.Debug("Streaming vision analysis",
		zap.String("kind", string(req.Kind)),
		zap.String("mimeType", req.Media.MIMEType),
		zap.Int("bytes", len(req.Media.Data)))

	return c.stream(ctx, "vision", c.config.VisionModel, contents, &genai.GenerateContentConfig{})
}

func (c *Client) stream(ctx context.Context, label, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[repositories.ChatChunk, error] {
	return func(yield func(repositories.ChatChunk, error) bool) {
		for resp, err := range c.genai.Models.GenerateContentStream(ctx, model, contents, config) {
			if err != nil {
				c.logger.Warn("Response stream failed", zap.String("turn", label), zap.String("model", model), zap.Error(err))
				yield(repositories.ChatChunk{}, fmt.Errorf("failed to stream %s response: %w", label, err))
				return
			}
			chunk := responseChunk(resp)
			if chunk.Text == "" && len(chunk.Citations) == 0 {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}
	}
}
