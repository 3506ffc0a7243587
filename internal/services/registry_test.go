package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/genflow-studio/engine/internal/canvas"
	"github.com/genflow-studio/engine/internal/models"
	appErr "github.com/genflow-studio/engine/pkg/errors"
	"github.com/genflow-studio/engine/pkg/utils"
)

// memoryWorkflows keeps canvases and versions in maps.
type memoryWorkflows struct {
	mu       sync.Mutex
	canvases map[uuid.UUID]*models.Canvas
	versions map[uuid.UUID][]models.WorkflowVersion
}

func newMemoryWorkflows() *memoryWorkflows {
	return &memoryWorkflows{canvases: map[uuid.UUID]*models.Canvas{}, versions: map[uuid.UUID][]models.WorkflowVersion{}}
}

func (m *memoryWorkflows) CreateCanvas(_ context.Context, name string) (*models.Canvas, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := &models.Canvas{ID: uuid.New(), Name: name}
	m.canvases[c.ID] = c
	return c, nil
}

func (m *memoryWorkflows) ListCanvases(_ context.Context, _ int) ([]models.Canvas, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Canvas, 0, len(m.canvases))
	for _, c := range m.canvases {
		out = append(out, *c)
	}
	return out, nil
}

func (m *memoryWorkflows) GetCanvas(_ context.Context, id uuid.UUID) (*models.Canvas, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.canvases[id]
	if !ok {
		return nil, appErr.New(appErr.CodeNotFound, "canvas not found")
	}
	cp := *c
	return &cp, nil
}

func (m *memoryWorkflows) DeleteCanvas(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.canvases[id]; !ok {
		return appErr.New(appErr.CodeNotFound, "canvas not found")
	}
	delete(m.canvases, id)
	delete(m.versions, id)
	return nil
}

func (m *memoryWorkflows) SetLocked(_ context.Context, id uuid.UUID, locked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.canvases[id]
	if !ok {
		return appErr.New(appErr.CodeNotFound, "canvas not found")
	}
	c.Locked = locked
	return nil
}

func (m *memoryWorkflows) SaveWorkflow(_ context.Context, id uuid.UUID, document []byte, source string) (*models.WorkflowVersion, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sum := utils.ChecksumHex(document)
	list := m.versions[id]
	if n := len(list); n > 0 && list[n-1].Checksum == sum {
		v := list[n-1]
		return &v, false, nil
	}
	v := models.WorkflowVersion{CanvasID: id, Version: len(list) + 1, Document: datatypes.JSON(document), Checksum: sum, Source: source, IsCurrent: true}
	m.versions[id] = append(list, v)
	return &v, true, nil
}

func (m *memoryWorkflows) GetCurrentWorkflow(_ context.Context, id uuid.UUID) (*models.WorkflowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.versions[id]
	if len(list) == 0 {
		return nil, appErr.New(appErr.CodeNotFound, "workflow not found")
	}
	v := list[len(list)-1]
	return &v, nil
}

func (m *memoryWorkflows) GetWorkflow(_ context.Context, id uuid.UUID, version int) (*models.WorkflowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.versions[id] {
		if v.Version == version {
			return &v, nil
		}
	}
	return nil, appErr.New(appErr.CodeNotFound, "workflow version not found")
}

func (m *memoryWorkflows) ListWorkflows(_ context.Context, id uuid.UUID) ([]models.WorkflowVersion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.WorkflowVersion(nil), m.versions[id]...), nil
}

var _ WorkflowService = (*memoryWorkflows)(nil)

func TestRegistryInMemory(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(RegistryOptions{Generator: &stubGenerator{}})
	t.Cleanup(func() { _ = reg.Close(ctx) })

	w, err := reg.Create(ctx, "sketch")
	require.NoError(t, err)

	got, err := reg.Get(ctx, w.ID())
	require.NoError(t, err)
	assert.Same(t, w, got)

	_, err = reg.Get(ctx, uuid.New())
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Loaded)

	_, _, err = reg.SaveWorkflow(ctx, w.ID(), SourceManual)
	assert.ErrorIs(t, err, ErrPersistenceDisabled)

	// nothing is evicted without a store to save into
	assert.Equal(t, 0, reg.EvictIdle(ctx, time.Nanosecond))

	require.NoError(t, reg.Delete(ctx, w.ID()))
	assert.True(t, appErr.IsCode(reg.Delete(ctx, w.ID()), appErr.CodeNotFound))
}

func TestRegistryRehydratesSavedWorkflow(t *testing.T) {
	ctx := context.Background()
	store := newMemoryWorkflows()
	reg := NewRegistry(RegistryOptions{Generator: &stubGenerator{}, Workflows: store})

	w, err := reg.Create(ctx, "poster")
	require.NoError(t, err)
	n := textNode(t, w, "a mountain")
	_, err = reg.SetLocked(ctx, w.ID(), true)
	require.NoError(t, err)

	v, created, err := reg.SaveWorkflow(ctx, w.ID(), SourceManual)
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, 1, v.Version)

	_, created, err = reg.SaveWorkflow(ctx, w.ID(), SourceManual)
	require.NoError(t, err)
	assert.False(t, created)

	require.NoError(t, reg.Close(ctx))

	// a fresh registry loads from the store
	reg = NewRegistry(RegistryOptions{Generator: &stubGenerator{}, Workflows: store})
	t.Cleanup(func() { _ = reg.Close(ctx) })

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Loaded)

	loaded, err := reg.Get(ctx, w.ID())
	require.NoError(t, err)
	assert.True(t, loaded.Locked())
	st := loaded.State()
	require.Len(t, st.Graph.Nodes, 1)
	assert.Equal(t, "a mountain", st.Graph.Nodes[0].Data.Content)
	assert.False(t, st.CanUndo, "loaded state is the first history entry")

	next := textNode(t, loaded, "b")
	assert.NotEqual(t, n.ID, next.ID)
}

func TestRegistryLoadWorkflowVersion(t *testing.T) {
	ctx := context.Background()
	store := newMemoryWorkflows()
	reg := NewRegistry(RegistryOptions{Generator: &stubGenerator{}, Workflows: store})
	t.Cleanup(func() { _ = reg.Close(ctx) })

	w, err := reg.Create(ctx, "versions")
	require.NoError(t, err)
	textNode(t, w, "first")
	_, _, err = reg.SaveWorkflow(ctx, w.ID(), SourceManual)
	require.NoError(t, err)

	textNode(t, w, "second")
	_, _, err = reg.SaveWorkflow(ctx, w.ID(), SourceManual)
	require.NoError(t, err)

	versions, err := reg.ListWorkflows(ctx, w.ID())
	require.NoError(t, err)
	require.Len(t, versions, 2)

	imported, err := reg.LoadWorkflow(ctx, w.ID(), 1)
	require.NoError(t, err)
	assert.Len(t, imported.Graph.Nodes, 1)
	assert.Len(t, w.Graph().Nodes, 1)

	// loading is an ordinary edit and can be undone
	applied, err := w.Undo()
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Len(t, w.Graph().Nodes, 2)

	_, err = reg.LoadWorkflow(ctx, w.ID(), 9)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}

func TestRegistryEvictIdle(t *testing.T) {
	ctx := context.Background()
	store := newMemoryWorkflows()
	reg := NewRegistry(RegistryOptions{Generator: &stubGenerator{}, Workflows: store})
	t.Cleanup(func() { _ = reg.Close(ctx) })

	idle, err := reg.Create(ctx, "idle")
	require.NoError(t, err)
	img, err := idle.AddNode(NodeInput{Kind: canvas.KindImage, Patch: canvas.NodePatch{
		Content:  ptr("data:image/png;base64,AAAA"),
		MimeType: ptr("image/png"),
	}})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	active, err := reg.Create(ctx, "active")
	require.NoError(t, err)

	assert.Equal(t, 1, reg.EvictIdle(ctx, 10*time.Millisecond))

	versions, err := store.ListWorkflows(ctx, idle.ID())
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, SourceAutosave, versions[0].Source)

	got, err := reg.Get(ctx, active.ID())
	require.NoError(t, err)
	assert.Same(t, active, got)

	// the evicted canvas comes back from the store
	back, err := reg.Get(ctx, idle.ID())
	require.NoError(t, err)
	assert.NotSame(t, idle, back)
	require.Len(t, back.Graph().Nodes, 1)
	n, _ := back.Graph().Node(img.ID)
	assert.Equal(t, "data:image/png;base64,AAAA", n.Data.Content)
	assert.Equal(t, "image/png", n.Data.MimeType)
}

func TestRegistrySavedVersionKeepsMedia(t *testing.T) {
	ctx := context.Background()
	store := newMemoryWorkflows()
	reg := NewRegistry(RegistryOptions{Generator: &stubGenerator{}, Workflows: store})
	t.Cleanup(func() { _ = reg.Close(ctx) })

	w, err := reg.Create(ctx, "video")
	require.NoError(t, err)
	clip, err := w.AddNode(NodeInput{Kind: canvas.KindVideo, Patch: canvas.NodePatch{
		Content:  ptr("data:video/mp4;base64,AAAA"),
		MimeType: ptr("video/mp4"),
	}})
	require.NoError(t, err)

	v, created, err := reg.SaveWorkflow(ctx, w.ID(), SourceManual)
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, w.DeleteNode(clip.ID))
	_, err = reg.LoadWorkflow(ctx, w.ID(), v.Version)
	require.NoError(t, err)
	n, ok := w.Graph().Node(clip.ID)
	require.True(t, ok)
	assert.Equal(t, "data:video/mp4;base64,AAAA", n.Data.Content)
	assert.Equal(t, "video/mp4", n.Data.MimeType)

	// the user-facing export stays text only
	exported, err := w.Export()
	require.NoError(t, err)
	assert.NotContains(t, string(exported), "base64,AAAA")
}

func TestRegistryDeleteRemovesStoredCanvas(t *testing.T) {
	ctx := context.Background()
	store := newMemoryWorkflows()
	reg := NewRegistry(RegistryOptions{Generator: &stubGenerator{}, Workflows: store})
	t.Cleanup(func() { _ = reg.Close(ctx) })

	w, err := reg.Create(ctx, "gone")
	require.NoError(t, err)
	require.NoError(t, reg.Delete(ctx, w.ID()))

	_, err = reg.Get(ctx, w.ID())
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
}
