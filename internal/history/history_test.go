package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/genflow-studio/engine/internal/canvas"
)

type fixture struct {
	model *canvas.Model
	hist  *History
	alloc *canvas.Allocator
}

func newFixture() *fixture {
	f := &fixture{model: canvas.NewModel(), hist: New(), alloc: canvas.NewAllocator()}
	f.model.Subscribe(f.hist.Observe)
	return f
}

func (f *fixture) add(t *testing.T) string {
	t.Helper()
	id := f.alloc.NextID()
	_, err := f.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		return canvas.AddNode(g, canvas.NewNode(canvas.KindText, id, canvas.Position{}))
	})
	require.NoError(t, err)
	return id
}

func (f *fixture) undo(t *testing.T) bool {
	t.Helper()
	var ok bool
	_, err := f.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		snap, found := f.hist.Undo()
		ok = found
		if !found {
			return g, nil
		}
		return snap, nil
	})
	require.NoError(t, err)
	return ok
}

func (f *fixture) redo(t *testing.T) bool {
	t.Helper()
	var ok bool
	_, err := f.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		snap, found := f.hist.Redo()
		ok = found
		if !found {
			return g, nil
		}
		return snap, nil
	})
	require.NoError(t, err)
	return ok
}

func TestInitialState(t *testing.T) {
	h := New()
	assert.Equal(t, 1, h.Len())
	assert.False(t, h.CanUndo())
	assert.False(t, h.CanRedo())
	_, ok := h.Undo()
	assert.False(t, ok)
	_, ok = h.Redo()
	assert.False(t, ok)
}

func TestUndoDoesNotAppend(t *testing.T) {
	f := newFixture()
	f.add(t)
	f.add(t)
	require.Equal(t, 3, f.hist.Len())

	require.True(t, f.undo(t))
	assert.Equal(t, 3, f.hist.Len())
	assert.Len(t, f.model.Graph().Nodes, 1)
	assert.True(t, f.hist.CanRedo())

	require.True(t, f.redo(t))
	assert.Equal(t, 3, f.hist.Len())
	assert.Len(t, f.model.Graph().Nodes, 2)
	assert.False(t, f.hist.CanRedo())
}

func TestNewEditTruncatesFuture(t *testing.T) {
	f := newFixture()
	f.add(t)
	f.add(t)
	f.add(t)
	require.True(t, f.undo(t))
	require.True(t, f.undo(t))
	assert.True(t, f.hist.CanRedo())

	f.add(t)
	assert.False(t, f.hist.CanRedo())
	assert.Equal(t, 3, f.hist.Len())
	assert.Equal(t, 2, f.hist.Index())
	assert.False(t, f.redo(t))
}

func TestDragDebounce(t *testing.T) {
	f := newFixture()
	id := f.add(t)
	before := f.hist.Len()

	for i := 0; i < 10; i++ {
		_, err := f.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
			return canvas.MoveNode(g, id, canvas.Position{X: float64(i), Y: float64(i)}, true)
		})
		require.NoError(t, err)
	}
	assert.Equal(t, before, f.hist.Len())

	_, err := f.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		return canvas.MoveNode(g, id, canvas.Position{X: 9, Y: 9}, false)
	})
	require.NoError(t, err)
	assert.Equal(t, before+1, f.hist.Len())

	n, _ := f.hist.Current().Node(id)
	assert.Equal(t, canvas.Position{X: 9, Y: 9}, n.Position)
	assert.False(t, n.Dragging)
}

func TestIdenticalCommitIsNotRecorded(t *testing.T) {
	f := newFixture()
	id := f.add(t)
	before := f.hist.Len()

	f.model.Replace(f.model.Graph())
	assert.Equal(t, before, f.hist.Len())

	_, err := f.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		return canvas.SetLoading(g, id, true), nil
	})
	require.NoError(t, err)
	assert.Equal(t, before, f.hist.Len())
}

func TestSnapshotsAreIsolatedFromLaterEdits(t *testing.T) {
	f := newFixture()
	id := f.add(t)
	content := "first"
	_, err := f.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		return canvas.UpdateNode(g, id, canvas.NodePatch{Content: &content})
	})
	require.NoError(t, err)

	content = "second"
	_, err = f.model.Update(func(g canvas.Graph) (canvas.Graph, error) {
		return canvas.UpdateNode(g, id, canvas.NodePatch{Content: &content})
	})
	require.NoError(t, err)

	require.True(t, f.undo(t))
	n, _ := f.model.Graph().Node(id)
	assert.Equal(t, "first", n.Data.Content)
}

func TestResetStartsFromGraph(t *testing.T) {
	f := newFixture()
	f.add(t)
	f.add(t)
	require.Equal(t, 3, f.hist.Len())

	g := f.model.Graph()
	g.Nodes[0].Data.Loading = true
	f.hist.Reset(g)

	assert.Equal(t, 1, f.hist.Len())
	assert.False(t, f.hist.CanUndo())
	assert.Len(t, f.hist.Current().Nodes, 2)
	assert.False(t, f.hist.Current().Nodes[0].Data.Loading)

	f.add(t)
	assert.Equal(t, 2, f.hist.Len())
	require.True(t, f.undo(t))
	assert.Len(t, f.model.Graph().Nodes, 2)
}
