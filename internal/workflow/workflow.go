// Package workflow converts canvas graphs to and from the portable workflow
// document. Export drops image and video payloads so only text content
// travels; Snapshot keeps them for the engine's own stored versions.
package workflow

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/genflow-studio/engine/internal/canvas"
	appErr "github.com/genflow-studio/engine/pkg/errors"
	"github.com/genflow-studio/engine/pkg/logger"
)

// Document is the exported workflow.
type Document struct {
	Nodes []DocumentNode `json:"nodes" validate:"required,dive"`
	Edges []DocumentEdge `json:"edges" validate:"required,dive"`
}

type DocumentNode struct {
	ID       string          `json:"id" validate:"required"`
	Type     string          `json:"type" validate:"required"`
	Position canvas.Position `json:"position"`
	Data     DocumentData    `json:"data"`
	ParentID string          `json:"parentId,omitempty"`
}

type DocumentData struct {
	Label       string             `json:"label"`
	AspectRatio canvas.AspectRatio `json:"aspectRatio,omitempty"`
	Content     *string            `json:"content,omitempty"`
	MimeType    string             `json:"mimeType,omitempty"`
}

type DocumentEdge struct {
	ID     string `json:"id" validate:"required"`
	Source string `json:"source" validate:"required"`
	Target string `json:"target" validate:"required"`
}

var validate = validator.New()

// Export builds the document for g.
func Export(g canvas.Graph) Document {
	doc := Document{
		Nodes: make([]DocumentNode, 0, len(g.Nodes)),
		Edges: make([]DocumentEdge, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		dn := DocumentNode{
			ID:       n.ID,
			Type:     string(n.Kind),
			Position: n.Position,
			ParentID: n.ParentID,
			Data:     DocumentData{Label: n.Data.Label, AspectRatio: n.Data.AspectRatio},
		}
		if n.Kind == canvas.KindText {
			content := n.Data.Content
			dn.Data.Content = &content
		}
		doc.Nodes = append(doc.Nodes, dn)
	}
	for _, e := range g.Edges {
		doc.Edges = append(doc.Edges, DocumentEdge{ID: e.ID, Source: e.Source, Target: e.Target})
	}
	return doc
}

// Marshal exports g as indented JSON.
func Marshal(g canvas.Graph) ([]byte, error) {
	b, err := json.MarshalIndent(Export(g), "", "  ")
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "failed to encode workflow")
	}
	return b, nil
}

// Snapshot builds the document the engine stores for itself. Unlike Export it
// keeps image and video payloads so a reloaded canvas is complete.
func Snapshot(g canvas.Graph) Document {
	doc := Export(g)
	for i, n := range g.Nodes {
		if n.Kind == canvas.KindText || n.Kind == canvas.KindGroup {
			continue
		}
		if n.Data.Content != "" {
			content := n.Data.Content
			doc.Nodes[i].Data.Content = &content
		}
		doc.Nodes[i].Data.MimeType = n.Data.MimeType
	}
	return doc
}

// MarshalSnapshot encodes Snapshot(g) as compact JSON.
func MarshalSnapshot(g canvas.Graph) ([]byte, error) {
	b, err := json.Marshal(Snapshot(g))
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "failed to encode workflow snapshot")
	}
	return b, nil
}

// Imported is the outcome of a successful import.
type Imported struct {
	Graph canvas.Graph
	// MaxSuffix is the largest numeric suffix among node ids and "e_" edge
	// ids in the document, or -1.
	MaxSuffix int
	Warnings  []string
}

// Parse decodes and validates a workflow document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid workflow structure")
	}
	if err := validate.Struct(doc); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid workflow structure")
	}
	return &doc, nil
}

// Import decodes data into a graph. Unknown node types and edges whose
// endpoints were not imported are dropped with a warning; anything else that
// is malformed rejects the whole document.
func Import(data []byte) (*Imported, error) {
	doc, err := Parse(data)
	if err != nil {
		return nil, err
	}
	return FromDocument(doc)
}

// FromDocument converts a validated document.
func FromDocument(doc *Document) (*Imported, error) {
	log := logger.L()
	out := &Imported{
		Graph:     canvas.Graph{Nodes: make([]canvas.Node, 0, len(doc.Nodes)), Edges: make([]canvas.Edge, 0, len(doc.Edges))},
		MaxSuffix: -1,
	}

	seen := make(map[string]bool, len(doc.Nodes))
	for _, dn := range doc.Nodes {
		if v, ok := canvas.NumericSuffix(dn.ID); ok && v > out.MaxSuffix {
			out.MaxSuffix = v
		}

		kind, legacy, ok := canvas.ParseKind(dn.Type)
		if !ok {
			msg := fmt.Sprintf("unsupported node type %q skipped", dn.Type)
			log.Warn("unsupported node type during import", zap.String("node_id", dn.ID), zap.String("type", dn.Type))
			out.Warnings = append(out.Warnings, msg)
			continue
		}
		if seen[dn.ID] {
			return nil, appErr.New(appErr.CodeInvalid, "duplicate node id in workflow").WithMeta("node_id", dn.ID)
		}
		if dn.Data.AspectRatio != "" && !dn.Data.AspectRatio.Valid() {
			return nil, appErr.New(appErr.CodeInvalid, "unsupported aspect ratio in workflow").WithMeta("node_id", dn.ID)
		}
		seen[dn.ID] = true

		n := canvas.Node{
			ID:       dn.ID,
			Kind:     kind,
			Position: dn.Position,
			ParentID: dn.ParentID,
			Data: canvas.NodeData{
				Label:       dn.Data.Label,
				AspectRatio: dn.Data.AspectRatio,
				MimeType:    dn.Data.MimeType,
			},
		}
		if dn.Data.Content != nil {
			n.Data.Content = *dn.Data.Content
		}
		if legacy {
			n.Data.Label = "Output"
		}
		out.Graph.Nodes = append(out.Graph.Nodes, n)
	}

	for i := range out.Graph.Nodes {
		if p := out.Graph.Nodes[i].ParentID; p != "" && !seen[p] {
			out.Graph.Nodes[i].ParentID = ""
		}
	}

	for _, de := range doc.Edges {
		if v, ok := canvas.NumericSuffix(strings.TrimPrefix(de.ID, "e_")); ok && v > out.MaxSuffix {
			out.MaxSuffix = v
		}
		if !seen[de.Source] || !seen[de.Target] {
			log.Warn("dropping edge with missing endpoint", zap.String("edge_id", de.ID),
				zap.String("source", de.Source), zap.String("target", de.Target))
			out.Warnings = append(out.Warnings, fmt.Sprintf("edge %q dropped: endpoint not imported", de.ID))
			continue
		}
		out.Graph.Edges = append(out.Graph.Edges, canvas.Edge{ID: de.ID, Source: de.Source, Target: de.Target})
	}
	return out, nil
}
