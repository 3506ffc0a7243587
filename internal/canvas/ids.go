package canvas

import (
	"strconv"
	"strings"
	"sync"
)

// NodeIDPrefix is prepended to every allocated id.
const NodeIDPrefix = "dnd-node_"

// Allocator hands out monotonically increasing node and edge ids. It is owned
// by the workspace and reseeded after an import.
type Allocator struct {
	mu   sync.Mutex
	next int
}

func NewAllocator() *Allocator {
	return &Allocator{}
}

// NextID returns a fresh node id.
func (a *Allocator) NextID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := NodeIDPrefix + strconv.Itoa(a.next)
	a.next++
	return id
}

// NextEdgeID returns a fresh edge id drawn from the same counter.
func (a *Allocator) NextEdgeID() string {
	return "e_" + a.NextID()
}

// Reseed resets the counter so the next id carries base as its suffix.
func (a *Allocator) Reseed(base int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if base < 0 {
		base = 0
	}
	a.next = base
}

// Peek returns the suffix the next id will carry.
func (a *Allocator) Peek() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.next
}

// ReseedAfter advances the counter past the largest numeric suffix among nodes.
func (a *Allocator) ReseedAfter(nodes []Node) {
	maxID := -1
	for _, n := range nodes {
		if v, ok := NumericSuffix(n.ID); ok && v > maxID {
			maxID = v
		}
	}
	a.Reseed(maxID + 1)
}

// NumericSuffix parses the leading digits that follow the first underscore in
// id, so "dnd-node_7" yields 7. Ids without such digits report ok=false.
func NumericSuffix(id string) (int, bool) {
	_, rest, found := strings.Cut(id, "_")
	if !found {
		return 0, false
	}
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return v, true
}
