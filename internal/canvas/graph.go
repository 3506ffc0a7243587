// Package canvas holds the workflow graph: node and edge types, the Model that
// serializes every mutation and notifies observers, the id Allocator, and the
// upstream resolver that feeds generation requests.
package canvas

// NodeKind is the node type as it appears on the canvas and in exported workflows.
type NodeKind string

const (
	KindImage NodeKind = "imageNode"
	KindText  NodeKind = "textNode"
	KindVideo NodeKind = "videoNode"
	KindGroup NodeKind = "groupNode"

	// legacyOutputKind was replaced by KindImage; imports remap it.
	legacyOutputKind = "outputNode"
)

// ParseKind maps a serialized node type to a NodeKind. The legacy output type
// is reported as KindImage with legacy set.
func ParseKind(s string) (kind NodeKind, legacy bool, ok bool) {
	switch NodeKind(s) {
	case KindImage, KindText, KindVideo, KindGroup:
		return NodeKind(s), false, true
	}
	if s == legacyOutputKind {
		return KindImage, true, true
	}
	return "", false, false
}

// AspectRatio is one of the ratios supported by the generation backend.
type AspectRatio string

const (
	Ratio1x1  AspectRatio = "1:1"
	Ratio4x3  AspectRatio = "4:3"
	Ratio3x4  AspectRatio = "3:4"
	Ratio16x9 AspectRatio = "16:9"
	Ratio9x16 AspectRatio = "9:16"
)

// Valid reports whether r is a known ratio.
func (r AspectRatio) Valid() bool {
	switch r {
	case Ratio1x1, Ratio4x3, Ratio3x4, Ratio16x9, Ratio9x16:
		return true
	}
	return false
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// NodeData is the payload carried by a node. Content is a data URL for image
// and video nodes and free text for text nodes.
type NodeData struct {
	Label       string      `json:"label"`
	Content     string      `json:"content,omitempty"`
	MimeType    string      `json:"mimeType,omitempty"`
	AspectRatio AspectRatio `json:"aspectRatio,omitempty"`
	Loading     bool        `json:"loading"`
}

type Node struct {
	ID       string   `json:"id"`
	Kind     NodeKind `json:"type"`
	Position Position `json:"position"`
	ParentID string   `json:"parentId,omitempty"`
	Dragging bool     `json:"dragging,omitempty"`
	Data     NodeData `json:"data"`
}

// HasContent reports whether the node carries a non-empty payload.
func (n Node) HasContent() bool { return n.Data.Content != "" }

// Edge is directed: Source feeds into Target.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`
}

// Graph is the node and edge set at one point in time. Values are treated as
// immutable once committed; every change builds new slices.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Clone returns a copy that shares no slice storage with g.
func (g Graph) Clone() Graph {
	out := Graph{
		Nodes: make([]Node, len(g.Nodes)),
		Edges: make([]Edge, len(g.Edges)),
	}
	copy(out.Nodes, g.Nodes)
	copy(out.Edges, g.Edges)
	return out
}

// Node returns the node with the given id.
func (g Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// HasNode reports whether a node with id exists.
func (g Graph) HasNode(id string) bool {
	_, ok := g.Node(id)
	return ok
}

// AnyDragging reports whether some node is mid-drag.
func (g Graph) AnyDragging() bool {
	for _, n := range g.Nodes {
		if n.Dragging {
			return true
		}
	}
	return false
}

// Stable returns a copy of g with transient flags (loading, dragging) cleared.
// History snapshots and snapshot equality work on stable graphs.
func (g Graph) Stable() Graph {
	out := g.Clone()
	for i := range out.Nodes {
		out.Nodes[i].Dragging = false
		out.Nodes[i].Data.Loading = false
	}
	return out
}

// MapNode replaces the node matching id with fn(node). ok is false when no
// node matched, in which case g is returned unchanged.
func (g Graph) MapNode(id string, fn func(Node) Node) (Graph, bool) {
	out := g.Clone()
	for i, n := range out.Nodes {
		if n.ID == id {
			out.Nodes[i] = fn(n)
			return out, true
		}
	}
	return g, false
}

// ChildrenOf returns the nodes whose ParentID is id.
func (g Graph) ChildrenOf(id string) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.ParentID == id {
			out = append(out, n)
		}
	}
	return out
}

// IncidentEdges returns the edges with id as source or target.
func (g Graph) IncidentEdges(id string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.Source == id || e.Target == id {
			out = append(out, e)
		}
	}
	return out
}
