package canvas

import "sync"

// Observer is notified after every committed change, in commit order. It runs
// inside the commit lane and must not call Update.
type Observer func(revision uint64, g Graph)

type subscription struct {
	id int
	fn Observer
}

// Model is the single shared graph. Updates are serialized through one commit
// lane so every observer sees whole, ordered snapshots.
type Model struct {
	commitMu sync.Mutex

	mu        sync.RWMutex
	graph     Graph
	revision  uint64
	observers []subscription
	nextSub   int
}

func NewModel() *Model {
	return &Model{graph: Graph{Nodes: []Node{}, Edges: []Edge{}}}
}

// Graph returns a copy of the current graph.
func (m *Model) Graph() Graph {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.graph.Clone()
}

// Revision is incremented on every commit.
func (m *Model) Revision() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision
}

// Snapshot returns the revision and a copy of the graph committed at it.
func (m *Model) Snapshot() (uint64, Graph) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.revision, m.graph.Clone()
}

// Subscribe registers o and returns a function that removes it.
func (m *Model) Subscribe(o Observer) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.observers = append(m.observers, subscription{id: id, fn: o})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.observers {
			if s.id == id {
				m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
				return
			}
		}
	}
}

// Update applies fn to a copy of the current graph and commits the result.
// When fn returns an error nothing is committed and no observer runs.
func (m *Model) Update(fn func(g Graph) (Graph, error)) (Graph, error) {
	m.commitMu.Lock()
	defer m.commitMu.Unlock()

	next, err := fn(m.Graph())
	if err != nil {
		return Graph{}, err
	}
	if next.Nodes == nil {
		next.Nodes = []Node{}
	}
	if next.Edges == nil {
		next.Edges = []Edge{}
	}

	m.mu.Lock()
	m.graph = next
	m.revision++
	rev := m.revision
	observers := make([]subscription, len(m.observers))
	copy(observers, m.observers)
	m.mu.Unlock()

	for _, s := range observers {
		s.fn(rev, next.Clone())
	}
	return next.Clone(), nil
}

// Replace commits g as the whole graph.
func (m *Model) Replace(g Graph) Graph {
	out, _ := m.Update(func(Graph) (Graph, error) { return g.Clone(), nil })
	return out
}
