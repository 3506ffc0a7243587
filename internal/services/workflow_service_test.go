package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/genflow-studio/engine/internal/models"
	appErr "github.com/genflow-studio/engine/pkg/errors"
	"github.com/genflow-studio/engine/pkg/utils"
)

type mockCanvasRepo struct {
	mock.Mock
}

func (m *mockCanvasRepo) Create(ctx context.Context, obj *models.Canvas) error {
	args := m.Called(ctx, obj)
	if obj.ID == uuid.Nil {
		obj.ID = uuid.New()
	}
	return args.Error(0)
}

func (m *mockCanvasRepo) GetByID(ctx context.Context, id any, dest *models.Canvas) error {
	args := m.Called(ctx, id, dest)
	if v, ok := args.Get(0).(*models.Canvas); ok && v != nil {
		*dest = *v
	}
	return args.Error(1)
}

func (m *mockCanvasRepo) Update(ctx context.Context, obj *models.Canvas) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockCanvasRepo) Delete(ctx context.Context, id any) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockCanvasRepo) List(ctx context.Context, limit int) ([]models.Canvas, error) {
	args := m.Called(ctx, limit)
	if v := args.Get(0); v != nil {
		return v.([]models.Canvas), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockCanvasRepo) SetLocked(ctx context.Context, id uuid.UUID, locked bool) error {
	return m.Called(ctx, id, locked).Error(0)
}

type mockWorkflowRepo struct {
	mock.Mock
}

func (m *mockWorkflowRepo) Create(ctx context.Context, obj *models.WorkflowVersion) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockWorkflowRepo) GetByID(ctx context.Context, id any, dest *models.WorkflowVersion) error {
	return m.Called(ctx, id, dest).Error(0)
}

func (m *mockWorkflowRepo) Update(ctx context.Context, obj *models.WorkflowVersion) error {
	return m.Called(ctx, obj).Error(0)
}

func (m *mockWorkflowRepo) Delete(ctx context.Context, id any) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockWorkflowRepo) GetCurrent(ctx context.Context, canvasID uuid.UUID, dest *models.WorkflowVersion) error {
	args := m.Called(ctx, canvasID, dest)
	if v, ok := args.Get(0).(*models.WorkflowVersion); ok && v != nil {
		*dest = *v
	}
	return args.Error(1)
}

func (m *mockWorkflowRepo) GetByVersion(ctx context.Context, canvasID uuid.UUID, version int, dest *models.WorkflowVersion) error {
	args := m.Called(ctx, canvasID, version, dest)
	if v, ok := args.Get(0).(*models.WorkflowVersion); ok && v != nil {
		*dest = *v
	}
	return args.Error(1)
}

func (m *mockWorkflowRepo) ListByCanvas(ctx context.Context, canvasID uuid.UUID) ([]models.WorkflowVersion, error) {
	args := m.Called(ctx, canvasID)
	if v := args.Get(0); v != nil {
		return v.([]models.WorkflowVersion), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockWorkflowRepo) Append(ctx context.Context, v *models.WorkflowVersion) error {
	args := m.Called(ctx, v)
	v.Version = 2
	return args.Error(0)
}

func (m *mockWorkflowRepo) SetCurrent(ctx context.Context, canvasID uuid.UUID, version int) error {
	return m.Called(ctx, canvasID, version).Error(0)
}

const savedDoc = `{"nodes":[{"id":"dnd-node_0","type":"textNode","position":{"x":0,"y":0},"data":{"label":"Text","content":"hi"}}],"edges":[]}`

func TestSaveWorkflowAppendsNewVersion(t *testing.T) {
	canvases := new(mockCanvasRepo)
	workflows := new(mockWorkflowRepo)
	svc := NewWorkflowService(canvases, workflows)
	id := uuid.New()

	prev := &models.WorkflowVersion{Version: 1, Checksum: "older"}
	workflows.On("GetCurrent", mock.Anything, id, mock.Anything).Return(prev, nil)
	workflows.On("Append", mock.Anything, mock.MatchedBy(func(v *models.WorkflowVersion) bool {
		return v.CanvasID == id && v.NodeCount == 1 && v.EdgeCount == 0 &&
			v.Source == SourceManual && v.Checksum == utils.ChecksumHex([]byte(savedDoc))
	})).Return(nil)

	v, created, err := svc.SaveWorkflow(context.Background(), id, []byte(savedDoc), "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, v.Version)
	workflows.AssertExpectations(t)
}

func TestSaveWorkflowSkipsUnchangedDocument(t *testing.T) {
	canvases := new(mockCanvasRepo)
	workflows := new(mockWorkflowRepo)
	svc := NewWorkflowService(canvases, workflows)
	id := uuid.New()

	prev := &models.WorkflowVersion{Version: 4, Checksum: utils.ChecksumHex([]byte(savedDoc))}
	workflows.On("GetCurrent", mock.Anything, id, mock.Anything).Return(prev, nil)

	v, created, err := svc.SaveWorkflow(context.Background(), id, []byte(savedDoc), SourceAutosave)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 4, v.Version)
	workflows.AssertNotCalled(t, "Append", mock.Anything, mock.Anything)
}

func TestSaveWorkflowFirstVersion(t *testing.T) {
	workflows := new(mockWorkflowRepo)
	svc := NewWorkflowService(new(mockCanvasRepo), workflows)
	id := uuid.New()

	workflows.On("GetCurrent", mock.Anything, id, mock.Anything).Return(nil, appErr.New(appErr.CodeNotFound, "workflow not found"))
	workflows.On("Append", mock.Anything, mock.Anything).Return(nil)

	_, created, err := svc.SaveWorkflow(context.Background(), id, []byte(savedDoc), SourceAutosave)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestSaveWorkflowRejectsInvalidDocument(t *testing.T) {
	workflows := new(mockWorkflowRepo)
	svc := NewWorkflowService(new(mockCanvasRepo), workflows)

	_, _, err := svc.SaveWorkflow(context.Background(), uuid.New(), []byte(`{"nodes":[{"type":"textNode"}],"edges":[]}`), "")
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
	workflows.AssertNotCalled(t, "GetCurrent", mock.Anything, mock.Anything, mock.Anything)
}

func TestSaveWorkflowPropagatesStoreErrors(t *testing.T) {
	workflows := new(mockWorkflowRepo)
	svc := NewWorkflowService(new(mockCanvasRepo), workflows)
	id := uuid.New()

	workflows.On("GetCurrent", mock.Anything, id, mock.Anything).Return(nil, appErr.New(appErr.CodeInternal, "get workflow failed"))

	_, _, err := svc.SaveWorkflow(context.Background(), id, []byte(savedDoc), "")
	assert.True(t, appErr.IsCode(err, appErr.CodeInternal))
}

func TestCreateAndLockCanvas(t *testing.T) {
	canvases := new(mockCanvasRepo)
	svc := NewWorkflowService(canvases, new(mockWorkflowRepo))

	canvases.On("Create", mock.Anything, mock.AnythingOfType("*models.Canvas")).Return(nil)
	c, err := svc.CreateCanvas(context.Background(), "poster")
	require.NoError(t, err)
	assert.Equal(t, "poster", c.Name)
	assert.NotEqual(t, uuid.Nil, c.ID)

	canvases.On("SetLocked", mock.Anything, c.ID, true).Return(nil)
	require.NoError(t, svc.SetLocked(context.Background(), c.ID, true))
	canvases.AssertExpectations(t)
}
