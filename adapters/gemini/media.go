package gemini

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/satriahrh/nexus/domain/entities"
	"github.com/satriahrh/nexus/domain/repositories"
)

// imageOperation tracks one image request. Image generation is a single
// blocking call, so it runs in the background and is observed through Poll
// like a remote operation.
type imageOperation struct {
	done    bool
	ref     string
	failure string
}

// Submit starts a generation job and returns its handle
func (c *Client) Submit(ctx context.Context, kind entities.JobKind, params entities.MediaParams) (string, error) {
	switch kind {
	case entities.JobKindImage:
		return c.submitImage(ctx, params), nil
	case entities.JobKindVideo:
		return c.submitVideo(ctx, params)
	}
	return "", fmt.Errorf("unsupported job kind %q", kind)
}

// Poll checks a job once
func (c *Client) Poll(ctx context.Context, kind entities.JobKind, handle string) (repositories.PollResult, error) {
	switch kind {
	case entities.JobKindImage:
		return c.pollImage(handle), nil
	case entities.JobKindVideo:
		return c.pollVideo(ctx, handle)
	}
	return repositories.PollResult{}, fmt.Errorf("unsupported job kind %q", kind)
}

func (c *Client) submitImage(ctx context.Context, params entities.MediaParams) string {
	handle := "images/" + uuid.NewString()

	c.mu.Lock()
	c.images[handle] = &imageOperation{}
	c.mu.Unlock()

	go c.generateImage(context.WithoutCancel(ctx), handle, params)
	return handle
}

func (c *Client) generateImage(ctx context.Context, handle string, params entities.MediaParams) {
	ctx, cancel := context.WithTimeout(ctx, c.config.ImageTimeout)
	defer cancel()

	ref, err := c.renderImage(ctx, handle, params)

	c.mu.Lock()
	defer c.mu.Unlock()
	op, ok := c.images[handle]
	if !ok {
		return
	}
	op.done = true
	if err != nil {
		c.logger.Error("Image generation failed", zap.String("handle", handle), zap.Error(err))
		op.failure = err.Error()
		return
	}
	op.ref = ref
}

// renderImage generates a new image, or edits the reference image when one
// is given, and stores the result.
func (c *Client) renderImage(ctx context.Context, handle string, params entities.MediaParams) (string, error) {
	model := c.config.ImageModel
	var parts []*genai.Part
	config := &genai.GenerateContentConfig{}

	if params.Reference != nil {
		model = c.config.ImageEditModel
		parts = append(parts, genai.NewPartFromBytes(params.Reference.Data, params.Reference.MIMEType))
	} else {
		config.ImageConfig = &genai.ImageConfig{
			AspectRatio: params.AspectRatio,
			ImageSize:   params.Resolution,
		}
	}
	parts = append(parts, genai.NewPartFromText(params.Prompt))

	c.logger.Info("Generating image",
		zap.String("handle", handle),
		zap.String("model", model),
		zap.Bool("edit", params.Reference != nil))

	resp, err := c.genai.Models.GenerateContent(ctx, model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate image: %w", err)
	}

	blob := firstInline(resp)
	if blob == nil {
		if text := resp.Text(); text != "" {
			return "", fmt.Errorf("the model returned no image: %s", text)
		}
		return "", fmt.Errorf("the model returned no image")
	}

	mimeType := blob.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	name := handle + imageExtension(mimeType)
	ref, err := c.artifacts.Put(ctx, name, mimeType, bytes.NewReader(blob.Data))
	if err != nil {
		return "", fmt.Errorf("failed to store image: %w", err)
	}
	return ref, nil
}

func (c *Client) pollImage(handle string) repositories.PollResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	op, ok := c.images[handle]
	if !ok {
		// Image requests do not survive a restart.
		return repositories.PollResult{Failure: "image generation was interrupted"}
	}
	if !op.done {
		return repositories.PollResult{}
	}
	delete(c.images, handle)
	if op.failure != "" {
		return repositories.PollResult{Failure: op.failure}
	}
	return repositories.PollResult{Done: true, ResultRef: op.ref}
}

func (c *Client) submitVideo(ctx context.Context, params entities.MediaParams) (string, error) {
	var image *genai.Image
	if params.Reference != nil {
		image = &genai.Image{
			ImageBytes: params.Reference.Data,
			MIMEType:   params.Reference.MIMEType,
		}
	}

	op, err := c.genai.Models.GenerateVideos(ctx, c.config.VideoModel, params.Prompt, image, &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		Resolution:     params.Resolution,
		AspectRatio:    params.AspectRatio,
	})
	if err != nil {
		return "", fmt.Errorf("failed to start video generation: %w", err)
	}
	if op.Name == "" {
		return "", fmt.Errorf("video generation returned no operation name")
	}

	c.logger.Info("Video generation started", zap.String("operation", op.Name), zap.String("model", c.config.VideoModel))
	return op.Name, nil
}

func (c *Client) pollVideo(ctx context.Context, handle string) (repositories.PollResult, error) {
	op, err := c.genai.Operations.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: handle}, nil)
	if err != nil {
		return repositories.PollResult{}, fmt.Errorf("failed to get video operation: %w", err)
	}
	if !op.Done {
		return repositories.PollResult{}, nil
	}
	if op.Error != nil {
		return repositories.PollResult{Failure: operationError(op.Error)}, nil
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		failure := "no video was returned"
		if op.Response != nil && len(op.Response.RAIMediaFilteredReasons) > 0 {
			failure = strings.Join(op.Response.RAIMediaFilteredReasons, "; ")
		}
		return repositories.PollResult{Failure: failure}, nil
	}

	video := op.Response.GeneratedVideos[0].Video
	ref, err := c.storeVideo(ctx, handle, video)
	if err != nil {
		return repositories.PollResult{}, err
	}
	return repositories.PollResult{Done: true, ResultRef: ref}, nil
}

// storeVideo copies the finished video into the artifact store. The download
// link requires the API key.
func (c *Client) storeVideo(ctx context.Context, handle string, video *genai.Video) (string, error) {
	name := "videos/" + path.Base(handle) + ".mp4"
	mimeType := video.MIMEType
	if mimeType == "" {
		mimeType = "video/mp4"
	}

	if len(video.VideoBytes) > 0 {
		return c.putVideo(ctx, name, mimeType, bytes.NewReader(video.VideoBytes))
	}

	link, err := url.Parse(video.URI)
	if err != nil || video.URI == "" {
		return "", fmt.Errorf("invalid video link %q", video.URI)
	}
	q := link.Query()
	q.Set("key", c.config.APIKey)
	link.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link.String(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download video: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("video download returned %d: %s", resp.StatusCode, string(body))
	}
	return c.putVideo(ctx, name, mimeType, resp.Body)
}

func (c *Client) putVideo(ctx context.Context, name, mimeType string, r io.Reader) (string, error) {
	ref, err := c.artifacts.Put(ctx, name, mimeType, r)
	if err != nil {
		return "", fmt.Errorf("failed to store video: %w", err)
	}
	c.logger.Info("Video stored", zap.String("ref", ref))
	return ref, nil
}

func operationError(e map[string]any) string {
	if msg, ok := e["message"].(string); ok && msg != "" {
		return msg
	}
	return fmt.Sprint(e)
}

func imageExtension(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/png":
		return ".png"
	}
	return ".bin"
}
