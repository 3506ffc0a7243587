package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/genflow-studio/engine/internal/models"
	"github.com/genflow-studio/engine/internal/repository"
	"github.com/genflow-studio/engine/internal/workflow"
	appErr "github.com/genflow-studio/engine/pkg/errors"
	"github.com/genflow-studio/engine/pkg/logger"
	"github.com/genflow-studio/engine/pkg/utils"
)

const (
	SourceManual   = "manual"
	SourceAutosave = "autosave"
)

// WorkflowService persists canvases and their saved workflow documents.
type WorkflowService interface {
	CreateCanvas(ctx context.Context, name string) (*models.Canvas, error)
	ListCanvases(ctx context.Context, limit int) ([]models.Canvas, error)
	GetCanvas(ctx context.Context, canvasID uuid.UUID) (*models.Canvas, error)
	DeleteCanvas(ctx context.Context, canvasID uuid.UUID) error
	SetLocked(ctx context.Context, canvasID uuid.UUID, locked bool) error

	// SaveWorkflow stores document as the next version. When it matches the
	// current version byte for byte, the current version is returned and
	// created is false.
	SaveWorkflow(ctx context.Context, canvasID uuid.UUID, document []byte, source string) (v *models.WorkflowVersion, created bool, err error)
	GetCurrentWorkflow(ctx context.Context, canvasID uuid.UUID) (*models.WorkflowVersion, error)
	GetWorkflow(ctx context.Context, canvasID uuid.UUID, version int) (*models.WorkflowVersion, error)
	ListWorkflows(ctx context.Context, canvasID uuid.UUID) ([]models.WorkflowVersion, error)
}

type workflowService struct {
	canvasRepo   repository.CanvasRepository
	workflowRepo repository.WorkflowRepository
}

func NewWorkflowService(canvasRepo repository.CanvasRepository, workflowRepo repository.WorkflowRepository) WorkflowService {
	return &workflowService{canvasRepo: canvasRepo, workflowRepo: workflowRepo}
}

var _ WorkflowService = (*workflowService)(nil)

func (s *workflowService) CreateCanvas(ctx context.Context, name string) (*models.Canvas, error) {
	c := &models.Canvas{Name: name}
	if err := s.canvasRepo.Create(ctx, c); err != nil {
		return nil, err
	}
	logger.L().Info("canvas created", zap.String("canvas_id", c.ID.String()), zap.String("name", name))
	return c, nil
}

func (s *workflowService) ListCanvases(ctx context.Context, limit int) ([]models.Canvas, error) {
	return s.canvasRepo.List(ctx, limit)
}

func (s *workflowService) GetCanvas(ctx context.Context, canvasID uuid.UUID) (*models.Canvas, error) {
	var c models.Canvas
	if err := s.canvasRepo.GetByID(ctx, canvasID, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *workflowService) DeleteCanvas(ctx context.Context, canvasID uuid.UUID) error {
	if err := s.canvasRepo.Delete(ctx, canvasID); err != nil {
		return err
	}
	logger.L().Info("canvas deleted", zap.String("canvas_id", canvasID.String()))
	return nil
}

func (s *workflowService) SetLocked(ctx context.Context, canvasID uuid.UUID, locked bool) error {
	return s.canvasRepo.SetLocked(ctx, canvasID, locked)
}

func (s *workflowService) SaveWorkflow(ctx context.Context, canvasID uuid.UUID, document []byte, source string) (*models.WorkflowVersion, bool, error) {
	doc, err := workflow.Parse(document)
	if err != nil {
		return nil, false, err
	}
	if source == "" {
		source = SourceManual
	}
	sum := utils.ChecksumHex(document)

	var current models.WorkflowVersion
	err = s.workflowRepo.GetCurrent(ctx, canvasID, &current)
	switch {
	case err == nil && current.Checksum == sum:
		logger.L().Debug("workflow unchanged, skipping save", zap.String("canvas_id", canvasID.String()), zap.Int("version", current.Version))
		return &current, false, nil
	case err != nil && !appErr.IsCode(err, appErr.CodeNotFound):
		return nil, false, err
	}

	// keep stored documents compact regardless of how they were sent
	compact, err := json.Marshal(doc)
	if err != nil {
		return nil, false, appErr.Wrap(err, appErr.CodeInternal, "failed to encode workflow")
	}
	v := &models.WorkflowVersion{
		CanvasID:  canvasID,
		Document:  datatypes.JSON(compact),
		Checksum:  sum,
		NodeCount: len(doc.Nodes),
		EdgeCount: len(doc.Edges),
		Source:    source,
	}
	if err := s.workflowRepo.Append(ctx, v); err != nil {
		return nil, false, err
	}

	logger.L().Info("workflow saved",
		zap.String("canvas_id", canvasID.String()),
		zap.Int("version", v.Version),
		zap.String("source", source),
		zap.Int("nodes", v.NodeCount),
		zap.Int("edges", v.EdgeCount))
	return v, true, nil
}

func (s *workflowService) GetCurrentWorkflow(ctx context.Context, canvasID uuid.UUID) (*models.WorkflowVersion, error) {
	var v models.WorkflowVersion
	if err := s.workflowRepo.GetCurrent(ctx, canvasID, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *workflowService) GetWorkflow(ctx context.Context, canvasID uuid.UUID, version int) (*models.WorkflowVersion, error) {
	var v models.WorkflowVersion
	if err := s.workflowRepo.GetByVersion(ctx, canvasID, version, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *workflowService) ListWorkflows(ctx context.Context, canvasID uuid.UUID) ([]models.WorkflowVersion, error) {
	return s.workflowRepo.ListByCanvas(ctx, canvasID)
}
