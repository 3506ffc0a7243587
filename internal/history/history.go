// Package history keeps the undo/redo snapshot list of a canvas.
package history

import (
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/genflow-studio/engine/internal/canvas"
)

var (
	snapshotsRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genflow_history_snapshots_total",
		Help: "Snapshots appended to canvas histories",
	})

	futureDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "genflow_history_discarded_total",
		Help: "Redo snapshots discarded by a new edit",
	})

	restores = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "genflow_history_restores_total",
		Help: "Undo and redo operations applied",
	}, []string{"direction"})
)

// History is an ordered snapshot list with a current pointer. It never holds
// the model: Undo and Redo return the snapshot to commit, and the commit that
// follows is recognised through a one-shot restoring flag.
type History struct {
	mu        sync.Mutex
	snapshots []canvas.Graph
	index     int
	restoring bool
}

// New returns a history holding a single empty snapshot.
func New() *History {
	return &History{snapshots: []canvas.Graph{{Nodes: []canvas.Node{}, Edges: []canvas.Edge{}}}}
}

// Observe records g unless it is the commit of a restore, a node is being
// dragged, or it equals the current snapshot. It has the canvas.Observer shape.
func (h *History) Observe(_ uint64, g canvas.Graph) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.restoring {
		h.restoring = false
		return
	}
	if g.AnyDragging() {
		return
	}
	snap := g.Stable()
	if equal(snap, h.snapshots[h.index]) {
		return
	}

	if dropped := len(h.snapshots) - h.index - 1; dropped > 0 {
		futureDiscarded.Add(float64(dropped))
	}
	h.snapshots = append(h.snapshots[:h.index+1:h.index+1], snap)
	h.index = len(h.snapshots) - 1
	snapshotsRecorded.Inc()
}

// Reset discards every snapshot and starts over from g.
func (h *History) Reset(g canvas.Graph) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots = []canvas.Graph{g.Stable()}
	h.index = 0
	h.restoring = false
}

// Undo moves the pointer back and returns the snapshot to restore. The next
// observed commit is treated as that restore and not recorded.
func (h *History) Undo() (canvas.Graph, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index == 0 {
		return canvas.Graph{}, false
	}
	h.index--
	h.restoring = true
	restores.WithLabelValues("undo").Inc()
	return h.snapshots[h.index].Clone(), true
}

// Redo is the inverse of Undo.
func (h *History) Redo() (canvas.Graph, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.index >= len(h.snapshots)-1 {
		return canvas.Graph{}, false
	}
	h.index++
	h.restoring = true
	restores.WithLabelValues("redo").Inc()
	return h.snapshots[h.index].Clone(), true
}

func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index > 0
}

func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index < len(h.snapshots)-1
}

// Len is the number of snapshots, including the initial empty one.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.snapshots)
}

func (h *History) Index() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.index
}

// Current returns the snapshot at the pointer.
func (h *History) Current() canvas.Graph {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshots[h.index].Clone()
}

func equal(a, b canvas.Graph) bool {
	return cmp.Equal(a, b, cmpopts.EquateEmpty())
}
