package types

import (
	"github.com/genflow-studio/engine/internal/canvas"
	"github.com/genflow-studio/engine/internal/generation"
	"github.com/genflow-studio/engine/internal/keymap"
)

type CanvasCreateRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

type LockRequest struct {
	Locked *bool `json:"locked" validate:"required"`
}

type NodeCreateRequest struct {
	Type        string              `json:"type" validate:"required,oneof=imageNode textNode videoNode"`
	Position    canvas.Position     `json:"position"`
	Label       *string             `json:"label"`
	Content     *string             `json:"content"`
	MimeType    *string             `json:"mimeType"`
	AspectRatio *canvas.AspectRatio `json:"aspectRatio" validate:"omitempty,oneof=1:1 4:3 3:4 16:9 9:16"`
}

func (r NodeCreateRequest) Patch() canvas.NodePatch {
	return canvas.NodePatch{Label: r.Label, Content: r.Content, MimeType: r.MimeType, AspectRatio: r.AspectRatio}
}

type NodeUpdateRequest struct {
	Label       *string             `json:"label"`
	Content     *string             `json:"content"`
	MimeType    *string             `json:"mimeType"`
	AspectRatio *canvas.AspectRatio `json:"aspectRatio" validate:"omitempty,oneof=1:1 4:3 3:4 16:9 9:16"`
}

func (r NodeUpdateRequest) Patch() canvas.NodePatch {
	return canvas.NodePatch{Label: r.Label, Content: r.Content, MimeType: r.MimeType, AspectRatio: r.AspectRatio}
}

type MoveRequest struct {
	Position canvas.Position `json:"position"`
	Dragging bool            `json:"dragging"`
}

type DuplicateRequest struct {
	Position canvas.Position `json:"position"`
}

type EdgeCreateRequest struct {
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

type GroupCreateRequest struct {
	Members []string `json:"members" validate:"required,min=1,dive,required"`
	Label   string   `json:"label"`
}

type GenerateRequest = generation.Request

type ShortcutRequest = keymap.KeyEvent

type WorkflowSaveRequest struct {
	Source string `json:"source" validate:"omitempty,oneof=manual autosave"`
}
