// Package generation runs generation requests against a canvas: it resolves a
// target node's upstream inputs, calls the Generator and writes the result
// back, keeping the target's loading flag in step with the request.
package generation

import (
	"context"

	"github.com/genflow-studio/engine/internal/canvas"
)

// Kind selects what a request produces.
type Kind string

const (
	KindImageGenerate   Kind = "image-generate"
	KindPromptFromImage Kind = "prompt-from-image"
	KindEnhancePrompt   Kind = "enhance-prompt"
	KindVideoGenerate   Kind = "video-generate"
)

func (k Kind) Valid() bool {
	switch k {
	case KindImageGenerate, KindPromptFromImage, KindEnhancePrompt, KindVideoGenerate:
		return true
	}
	return false
}

// Options tune a request. Zero values select defaults.
type Options struct {
	AspectRatio canvas.AspectRatio `json:"aspectRatio,omitempty"`
	Seed        *int64             `json:"seed,omitempty"`
	Model       string             `json:"model,omitempty"`
}

type Request struct {
	TargetNodeID string  `json:"targetNodeId" validate:"required"`
	Kind         Kind    `json:"kind" validate:"required"`
	Options      Options `json:"options"`
}

// Image is a raw base64 payload with its media type.
type Image struct {
	Data     string
	MimeType string
}

// Usage reports tokens consumed by one backend call.
type Usage struct {
	TotalTokenCount int64
}

type ImageRequest struct {
	Images      []Image
	Prompt      string
	AspectRatio canvas.AspectRatio
	Seed        *int64
	Model       string
}

// ImageResult carries base64 bytes.
type ImageResult struct {
	Data     string
	MimeType string
	Usage    Usage
}

type VideoRequest struct {
	Prompt      string
	Image       *Image
	AspectRatio canvas.AspectRatio
	Model       string
}

type VideoResult struct {
	Data     string
	MimeType string
}

type TextResult struct {
	Text  string
	Usage Usage
}

// Generator is the generative backend. Implementations may block for as long
// as the backend takes; the orchestrator enforces no timeout of its own.
type Generator interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
	DescribeImage(ctx context.Context, img Image) (*TextResult, error)
	EnhancePrompt(ctx context.Context, prompt string) (*TextResult, error)
	GenerateVideo(ctx context.Context, req VideoRequest) (*VideoResult, error)
}

// Store is the graph the orchestrator reads from and commits to.
// *canvas.Model satisfies it.
type Store interface {
	Graph() canvas.Graph
	Update(fn func(g canvas.Graph) (canvas.Graph, error)) (canvas.Graph, error)
}
