package canvas

import (
	"math"

	appErr "github.com/genflow-studio/engine/pkg/errors"
)

// NewNode builds a node of kind with the defaults the canvas uses on drop.
func NewNode(kind NodeKind, id string, pos Position) Node {
	n := Node{ID: id, Kind: kind, Position: pos}
	switch kind {
	case KindImage:
		n.Data = NodeData{Label: "Image", AspectRatio: Ratio1x1}
	case KindText:
		n.Data = NodeData{Label: "Text Prompt"}
	case KindVideo:
		n.Data = NodeData{Label: "Video", AspectRatio: Ratio16x9}
	case KindGroup:
		n.Data = NodeData{Label: "Group"}
	}
	return n
}

// NodePatch carries the fields of a data update; nil fields are left alone.
type NodePatch struct {
	Label       *string
	Content     *string
	MimeType    *string
	AspectRatio *AspectRatio
}

func errNodeNotFound(id string) error {
	return appErr.New(appErr.CodeNotFound, "node not found").WithMeta("node_id", id)
}

// AddNode appends n. Ids must be unique.
func AddNode(g Graph, n Node) (Graph, error) {
	if n.ID == "" {
		return g, appErr.New(appErr.CodeInvalid, "node id is required")
	}
	if g.HasNode(n.ID) {
		return g, appErr.New(appErr.CodeConflict, "node id already in use").WithMeta("node_id", n.ID)
	}
	if _, _, ok := ParseKind(string(n.Kind)); !ok {
		return g, appErr.New(appErr.CodeInvalid, "unsupported node type").WithMeta("type", string(n.Kind))
	}
	out := g.Clone()
	out.Nodes = append(out.Nodes, n)
	return out, nil
}

// UpdateNode applies patch to the data of node id.
func UpdateNode(g Graph, id string, patch NodePatch) (Graph, error) {
	if patch.AspectRatio != nil && *patch.AspectRatio != "" && !patch.AspectRatio.Valid() {
		return g, appErr.New(appErr.CodeInvalid, "unsupported aspect ratio").WithMeta("aspect_ratio", string(*patch.AspectRatio))
	}
	out, ok := g.MapNode(id, func(n Node) Node {
		if patch.Label != nil {
			n.Data.Label = *patch.Label
		}
		if patch.Content != nil {
			n.Data.Content = *patch.Content
		}
		if patch.MimeType != nil {
			n.Data.MimeType = *patch.MimeType
		}
		if patch.AspectRatio != nil {
			n.Data.AspectRatio = *patch.AspectRatio
		}
		return n
	})
	if !ok {
		return g, errNodeNotFound(id)
	}
	return out, nil
}

// SetLoading flips the loading flag of node id. Missing nodes are ignored.
func SetLoading(g Graph, id string, loading bool) Graph {
	out, _ := g.MapNode(id, func(n Node) Node {
		n.Data.Loading = loading
		return n
	})
	return out
}

// MoveNode sets the position of node id and its dragging flag.
func MoveNode(g Graph, id string, pos Position, dragging bool) (Graph, error) {
	out, ok := g.MapNode(id, func(n Node) Node {
		n.Position = pos
		n.Dragging = dragging
		return n
	})
	if !ok {
		return g, errNodeNotFound(id)
	}
	return out, nil
}

// RemoveNode deletes node id, the children of a group, and every edge
// touching a removed node.
func RemoveNode(g Graph, id string) (Graph, error) {
	target, ok := g.Node(id)
	if !ok {
		return g, errNodeNotFound(id)
	}
	removed := map[string]bool{id: true}
	if target.Kind == KindGroup {
		for _, c := range g.ChildrenOf(id) {
			removed[c.ID] = true
		}
	}

	out := Graph{Nodes: make([]Node, 0, len(g.Nodes)), Edges: make([]Edge, 0, len(g.Edges))}
	for _, n := range g.Nodes {
		if !removed[n.ID] {
			out.Nodes = append(out.Nodes, n)
		}
	}
	for _, e := range g.Edges {
		if !removed[e.Source] && !removed[e.Target] {
			out.Edges = append(out.Edges, e)
		}
	}
	return out, nil
}

// Connect adds an edge from source to target. A second edge between the same
// pair is rejected.
func Connect(g Graph, edgeID, source, target string) (Graph, error) {
	for _, id := range []string{source, target} {
		n, ok := g.Node(id)
		if !ok {
			return g, errNodeNotFound(id)
		}
		if n.Kind == KindGroup {
			return g, appErr.New(appErr.CodeInvalid, "group nodes cannot be connected").WithMeta("node_id", id)
		}
	}
	for _, e := range g.Edges {
		if e.Source == source && e.Target == target {
			return g, appErr.New(appErr.CodeConflict, "nodes are already connected").WithMeta("edge_id", e.ID)
		}
	}
	out := g.Clone()
	out.Edges = append(out.Edges, Edge{ID: edgeID, Source: source, Target: target})
	return out, nil
}

// Disconnect removes edge edgeID.
func Disconnect(g Graph, edgeID string) (Graph, error) {
	out := Graph{Nodes: g.Clone().Nodes, Edges: make([]Edge, 0, len(g.Edges))}
	found := false
	for _, e := range g.Edges {
		if e.ID == edgeID {
			found = true
			continue
		}
		out.Edges = append(out.Edges, e)
	}
	if !found {
		return g, appErr.New(appErr.CodeNotFound, "edge not found").WithMeta("edge_id", edgeID)
	}
	return out, nil
}

// Duplicate copies node id to pos under a new id and clones its incident
// edges, rewired to the copy.
func Duplicate(g Graph, alloc *Allocator, id string, pos Position) (Graph, string, error) {
	orig, ok := g.Node(id)
	if !ok {
		return g, "", errNodeNotFound(id)
	}
	if orig.Kind == KindGroup {
		return g, "", appErr.New(appErr.CodeInvalid, "groups cannot be duplicated").WithMeta("node_id", id)
	}

	cp := orig
	cp.ID = alloc.NextID()
	cp.Position = pos
	cp.Dragging = false
	cp.Data.Loading = false

	out := g.Clone()
	out.Nodes = append(out.Nodes, cp)
	for _, e := range g.IncidentEdges(id) {
		ne := Edge{ID: alloc.NextEdgeID(), Source: e.Source, Target: e.Target}
		if ne.Source == id {
			ne.Source = cp.ID
		}
		if ne.Target == id {
			ne.Target = cp.ID
		}
		out.Edges = append(out.Edges, ne)
	}
	return out, cp.ID, nil
}

// Group places members under a new group node positioned at their top-left
// corner. Member positions become relative to the group.
func Group(g Graph, groupID string, members []string, label string) (Graph, error) {
	if len(members) == 0 {
		return g, appErr.New(appErr.CodeInvalid, "a group needs at least one member")
	}
	inGroup := make(map[string]bool, len(members))
	corner := Position{X: math.Inf(1), Y: math.Inf(1)}
	for _, id := range members {
		n, ok := g.Node(id)
		if !ok {
			return g, errNodeNotFound(id)
		}
		if n.Kind == KindGroup || n.ParentID != "" {
			return g, appErr.New(appErr.CodeInvalid, "node is a group or already grouped").WithMeta("node_id", id)
		}
		inGroup[id] = true
		corner.X = math.Min(corner.X, n.Position.X)
		corner.Y = math.Min(corner.Y, n.Position.Y)
	}

	group := NewNode(KindGroup, groupID, corner)
	if label != "" {
		group.Data.Label = label
	}

	out := Graph{Nodes: make([]Node, 0, len(g.Nodes)+1), Edges: g.Clone().Edges}
	// parents precede their children
	out.Nodes = append(out.Nodes, group)
	for _, n := range g.Nodes {
		if inGroup[n.ID] {
			n.ParentID = groupID
			n.Position = Position{X: n.Position.X - corner.X, Y: n.Position.Y - corner.Y}
		}
		out.Nodes = append(out.Nodes, n)
	}
	return out, nil
}

// Ungroup releases the children of groupID at their absolute positions and
// removes the group node.
func Ungroup(g Graph, groupID string) (Graph, error) {
	group, ok := g.Node(groupID)
	if !ok {
		return g, errNodeNotFound(groupID)
	}
	if group.Kind != KindGroup {
		return g, appErr.New(appErr.CodeInvalid, "node is not a group").WithMeta("node_id", groupID)
	}

	out := Graph{Nodes: make([]Node, 0, len(g.Nodes)), Edges: make([]Edge, 0, len(g.Edges))}
	for _, n := range g.Nodes {
		if n.ID == groupID {
			continue
		}
		if n.ParentID == groupID {
			n.ParentID = ""
			n.Position = Position{X: n.Position.X + group.Position.X, Y: n.Position.Y + group.Position.Y}
		}
		out.Nodes = append(out.Nodes, n)
	}
	for _, e := range g.Edges {
		if e.Source != groupID && e.Target != groupID {
			out.Edges = append(out.Edges, e)
		}
	}
	return out, nil
}

// ImageNodes returns image nodes holding content, in graph order.
func ImageNodes(g Graph) []Node {
	var out []Node
	for _, n := range g.Nodes {
		if n.Kind == KindImage && n.HasContent() {
			out = append(out, n)
		}
	}
	return out
}
