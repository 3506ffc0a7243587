package canvas

import "strings"

// ImagePayload is an image ready for the generation backend. Data is the raw
// base64 payload without any data-URL header.
type ImagePayload struct {
	NodeID   string `json:"nodeId"`
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type TextPayload struct {
	NodeID string `json:"nodeId"`
	Text   string `json:"text"`
}

// Upstream lists the contributing inputs of a node in collection order.
type Upstream struct {
	Images []ImagePayload `json:"images"`
	Texts  []TextPayload  `json:"texts"`
}

// ResolveUpstream walks incoming edges breadth-first from start and collects
// every ancestor image and text node with content. Each node contributes at
// most once; nearer ancestors come first. With includeSelf, an image start
// node with content is emitted before its ancestors.
func ResolveUpstream(start string, g Graph, includeSelf bool) Upstream {
	nodes := make(map[string]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		nodes[n.ID] = n
	}
	incoming := make(map[string][]Edge)
	for _, e := range g.Edges {
		incoming[e.Target] = append(incoming[e.Target], e)
	}

	var out Upstream
	collected := map[string]bool{}
	visited := map[string]bool{}
	queue := []string{start}

	if includeSelf {
		if n, ok := nodes[start]; ok && n.Kind == KindImage && n.HasContent() {
			out.Images = append(out.Images, imagePayload(n))
			collected[n.ID] = true
		}
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if visited[current] {
			continue
		}
		visited[current] = true

		for _, e := range incoming[current] {
			src, ok := nodes[e.Source]
			if !ok {
				continue
			}
			if !collected[src.ID] && src.HasContent() {
				switch src.Kind {
				case KindImage:
					out.Images = append(out.Images, imagePayload(src))
					collected[src.ID] = true
				case KindText:
					out.Texts = append(out.Texts, TextPayload{NodeID: src.ID, Text: src.Data.Content})
					collected[src.ID] = true
				}
			}
			queue = append(queue, src.ID)
		}
	}
	return out
}

func imagePayload(n Node) ImagePayload {
	mime := n.Data.MimeType
	if mime == "" {
		mime = MimeFromDataURL(n.Data.Content)
	}
	return ImagePayload{NodeID: n.ID, Data: StripDataURL(n.Data.Content), MimeType: mime}
}

// StripDataURL returns the payload after the first comma of a data URL.
// Content without a comma, or with nothing after it, is returned unchanged.
func StripDataURL(content string) string {
	parts := strings.SplitN(content, ",", 3)
	if len(parts) < 2 || parts[1] == "" {
		return content
	}
	return parts[1]
}

// MimeFromDataURL extracts the media type from a "data:<mime>;base64," header.
func MimeFromDataURL(content string) string {
	rest, ok := strings.CutPrefix(content, "data:")
	if !ok {
		return ""
	}
	header, _, found := strings.Cut(rest, ",")
	if !found {
		return ""
	}
	mime, _, _ := strings.Cut(header, ";")
	return mime
}

// DataURL assembles a base64 data URL.
func DataURL(mimeType, base64Payload string) string {
	return "data:" + mimeType + ";base64," + base64Payload
}
