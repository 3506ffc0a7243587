// Package gemini implements generation.Generator on the Gemini API. Every
// backend call goes through a circuit breaker.
package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/genflow-studio/engine/internal/generation"
	appErr "github.com/genflow-studio/engine/pkg/errors"
	"github.com/genflow-studio/engine/pkg/logger"
)

const (
	describePrompt = "Describe this image in detail. Focus on the subject, style, composition, colors, and lighting. " +
		"Formulate the description as a creative and vivid prompt for an AI image generator to recreate a similar image."

	enhanceTemplate = "As an expert prompt engineer for AI image generation, rewrite the following user prompt to be more " +
		"vivid, descriptive, and detailed. Your goal is to maximize the creative potential of the AI. Return ONLY the " +
		"rewritten prompt, without any introduction, preamble, or explanation.\n\nOriginal prompt: %q"

	mergePrompt = "Merge these images into a single, cohesive, professional-looking photograph. " +
		"Blend the elements, styles, and subjects naturally."

	defaultVideoPrompt = "Generate a video"
)

type contentAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
	GenerateVideos(ctx context.Context, model, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error)
}

type operationsAPI interface {
	GetVideosOperation(ctx context.Context, op *genai.GenerateVideosOperation, config *genai.GetOperationConfig) (*genai.GenerateVideosOperation, error)
}

type filesAPI interface {
	Download(ctx context.Context, uri genai.DownloadURI, config *genai.DownloadFileConfig) ([]byte, error)
}

type Config struct {
	APIKey       string
	TextModel    string
	PollInterval time.Duration
}

// Generator talks to Gemini for images, prompts and videos.
type Generator struct {
	models     contentAPI
	operations operationsAPI
	files      filesAPI
	breaker    *gobreaker.CircuitBreaker
	textModel  string
	poll       time.Duration
}

var _ generation.Generator = (*Generator)(nil)

// New builds a Generator backed by a Gemini API client.
func New(ctx context.Context, cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, appErr.New(appErr.CodeInvalid, "gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "failed to create gemini client")
	}
	return newGenerator(client.Models, client.Operations, client.Files, cfg), nil
}

func newGenerator(models contentAPI, ops operationsAPI, files filesAPI, cfg Config) *Generator {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Generator{
		models:     models,
		operations: ops,
		files:      files,
		breaker:    newBreaker("gemini"),
		textModel:  cfg.TextModel,
		poll:       poll,
	}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 2,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.L().Warn("circuit breaker state changed",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
		// quota and bad requests say nothing about backend health
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			msg := err.Error()
			return strings.Contains(msg, "RESOURCE_EXHAUSTED") || strings.Contains(msg, "quota") ||
				appErr.IsCode(err, appErr.CodeInvalid)
		},
	})
}

func (g *Generator) call(fn func() (any, error)) (any, error) {
	out, err := g.breaker.Execute(fn)
	switch err {
	case gobreaker.ErrOpenState, gobreaker.ErrTooManyRequests:
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "generation backend temporarily unavailable")
	}
	return out, err
}

func (g *Generator) GenerateImage(ctx context.Context, req generation.ImageRequest) (*generation.ImageResult, error) {
	if strings.Contains(req.Model, "imagen") {
		return g.generateImagen(ctx, req)
	}

	parts := make([]*genai.Part, 0, len(req.Images)+1)
	prompt := req.Prompt
	if len(req.Images) == 0 {
		if prompt == "" {
			return nil, appErr.New(appErr.CodeInvalid, "a text prompt is required for image generation")
		}
		if strings.Contains(req.Model, "flash") {
			prompt = fmt.Sprintf("%s, aspect ratio %s", prompt, req.AspectRatio)
		}
	} else {
		if len(req.Images) > 1 && prompt == "" {
			prompt = mergePrompt
		}
		for _, img := range req.Images {
			raw, err := base64.StdEncoding.DecodeString(img.Data)
			if err != nil {
				return nil, appErr.Wrap(err, appErr.CodeInvalid, "image payload is not valid base64")
			}
			parts = append(parts, genai.NewPartFromBytes(raw, img.MimeType))
		}
	}
	if prompt != "" {
		parts = append(parts, genai.NewPartFromText(prompt))
	}

	cfg := &genai.GenerateContentConfig{ResponseModalities: []string{string(genai.ModalityImage)}}
	if req.Seed != nil {
		cfg.Seed = genai.Ptr(int32(*req.Seed))
	}

	out, err := g.call(func() (any, error) {
		return g.models.GenerateContent(ctx, req.Model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	})
	if err != nil {
		return nil, err
	}
	resp := out.(*genai.GenerateContentResponse)
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				mime := p.InlineData.MIMEType
				if mime == "" {
					mime = "image/png"
				}
				return &generation.ImageResult{
					Data:     base64.StdEncoding.EncodeToString(p.InlineData.Data),
					MimeType: mime,
					Usage:    usageOf(resp),
				}, nil
			}
		}
	}
	return nil, appErr.New(appErr.CodeUnavailable, "image generation failed, no image data in response")
}

func (g *Generator) generateImagen(ctx context.Context, req generation.ImageRequest) (*generation.ImageResult, error) {
	if len(req.Images) > 0 {
		logger.L().Warn("imagen models ignore image inputs", zap.String("model", req.Model), zap.Int("images", len(req.Images)))
	}
	if req.Prompt == "" {
		return nil, appErr.New(appErr.CodeInvalid, "a text prompt is required for imagen generation")
	}
	out, err := g.call(func() (any, error) {
		return g.models.GenerateImages(ctx, req.Model, req.Prompt, &genai.GenerateImagesConfig{
			NumberOfImages: 1,
			OutputMIMEType: "image/jpeg",
			AspectRatio:    string(req.AspectRatio),
		})
	})
	if err != nil {
		return nil, err
	}
	resp := out.(*genai.GenerateImagesResponse)
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return nil, appErr.New(appErr.CodeUnavailable, "image generation failed, no image data in response")
	}
	return &generation.ImageResult{
		Data:     base64.StdEncoding.EncodeToString(resp.GeneratedImages[0].Image.ImageBytes),
		MimeType: "image/jpeg",
	}, nil
}

func (g *Generator) DescribeImage(ctx context.Context, img generation.Image) (*generation.TextResult, error) {
	if img.Data == "" || img.MimeType == "" {
		return nil, appErr.New(appErr.CodeInvalid, "image data is missing for prompt generation")
	}
	raw, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "image payload is not valid base64")
	}
	parts := []*genai.Part{genai.NewPartFromBytes(raw, img.MimeType), genai.NewPartFromText(describePrompt)}
	return g.text(ctx, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)})
}

func (g *Generator) EnhancePrompt(ctx context.Context, prompt string) (*generation.TextResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return &generation.TextResult{}, nil
	}
	return g.text(ctx, genai.Text(fmt.Sprintf(enhanceTemplate, prompt)))
}

func (g *Generator) text(ctx context.Context, contents []*genai.Content) (*generation.TextResult, error) {
	out, err := g.call(func() (any, error) {
		return g.models.GenerateContent(ctx, g.textModel, contents, nil)
	})
	if err != nil {
		return nil, err
	}
	resp := out.(*genai.GenerateContentResponse)
	return &generation.TextResult{Text: strings.TrimSpace(resp.Text()), Usage: usageOf(resp)}, nil
}

func (g *Generator) GenerateVideo(ctx context.Context, req generation.VideoRequest) (*generation.VideoResult, error) {
	if req.Prompt == "" && req.Image == nil {
		return nil, appErr.New(appErr.CodeInvalid, "a text prompt or an image is required for video generation")
	}
	prompt := req.Prompt
	if prompt == "" {
		prompt = defaultVideoPrompt
	}
	var image *genai.Image
	if req.Image != nil && req.Image.Data != "" && req.Image.MimeType != "" {
		raw, err := base64.StdEncoding.DecodeString(req.Image.Data)
		if err != nil {
			return nil, appErr.Wrap(err, appErr.CodeInvalid, "image payload is not valid base64")
		}
		image = &genai.Image{ImageBytes: raw, MIMEType: req.Image.MimeType}
	}
	cfg := &genai.GenerateVideosConfig{
		NumberOfVideos: 1,
		AspectRatio:    string(generation.VideoAspectRatio(req.AspectRatio)),
	}

	out, err := g.call(func() (any, error) {
		return g.models.GenerateVideos(ctx, req.Model, prompt, image, cfg)
	})
	if err != nil {
		return nil, err
	}
	op, err := g.waitVideo(ctx, out.(*genai.GenerateVideosOperation))
	if err != nil {
		return nil, err
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		return nil, appErr.New(appErr.CodeUnavailable, "no video returned")
	}

	generated := op.Response.GeneratedVideos[0]
	data := generated.Video.VideoBytes
	if len(data) == 0 {
		if generated.Video.URI == "" {
			return nil, appErr.New(appErr.CodeUnavailable, "no video URI returned")
		}
		data, err = g.files.Download(ctx, genai.NewDownloadURIFromGeneratedVideo(generated), nil)
		if err != nil {
			return nil, appErr.Wrap(err, appErr.CodeUnavailable, "failed to download video")
		}
	}
	mime := generated.Video.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}
	return &generation.VideoResult{Data: base64.StdEncoding.EncodeToString(data), MimeType: mime}, nil
}

// waitVideo polls op until it is done or ctx ends.
func (g *Generator) waitVideo(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
	ticker := time.NewTicker(g.poll)
	defer ticker.Stop()
	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, appErr.Wrap(ctx.Err(), appErr.CodeUnavailable, "video generation interrupted")
		case <-ticker.C:
		}
		next, err := g.operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return nil, err
		}
		op = next
		logger.L().Debug("polled video operation", zap.String("operation", op.Name), zap.Bool("done", op.Done))
	}
	if op.Error != nil {
		return nil, appErr.New(appErr.CodeUnavailable, fmt.Sprintf("video generation failed: %v", op.Error["message"]))
	}
	return op, nil
}

func usageOf(resp *genai.GenerateContentResponse) generation.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return generation.Usage{}
	}
	return generation.Usage{TotalTokenCount: int64(resp.UsageMetadata.TotalTokenCount)}
}
