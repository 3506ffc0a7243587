package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/genflow-studio/engine/internal/services"
	appErr "github.com/genflow-studio/engine/pkg/errors"
	"github.com/genflow-studio/engine/pkg/logger"
)

const (
	TypeWorkflowAutosave = "workflow:autosave"
	QueueAutosave        = "autosave"
)

// AutosavePayload is the task payload of TypeWorkflowAutosave.
type AutosavePayload struct {
	CanvasID string          `json:"canvas_id"`
	Document json.RawMessage `json:"document"`
}

// Enqueuer is the part of *asynq.Client the autosave client uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AutosaveClient enqueues autosave tasks. It implements services.AutosaveEnqueuer.
type AutosaveClient struct {
	client Enqueuer
}

func NewAutosaveClient(client Enqueuer) *AutosaveClient {
	return &AutosaveClient{client: client}
}

var _ services.AutosaveEnqueuer = (*AutosaveClient)(nil)

func NewAutosaveTask(canvasID uuid.UUID, document []byte) (*asynq.Task, error) {
	pb, err := json.Marshal(AutosavePayload{CanvasID: canvasID.String(), Document: document})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "encode autosave payload failed")
	}
	return asynq.NewTask(TypeWorkflowAutosave, pb), nil
}

// AutosaveTaskID names the task of one workspace flush. A revisited document
// gets a new id because the revision only moves forward.
func AutosaveTaskID(req services.AutosaveRequest) string {
	return fmt.Sprintf("%s:%s:%d", req.CanvasID, req.Session, req.Revision)
}

func (c *AutosaveClient) EnqueueAutosave(ctx context.Context, req services.AutosaveRequest) error {
	task, err := NewAutosaveTask(req.CanvasID, req.Document)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueAutosave),
		asynq.TaskID(AutosaveTaskID(req)),
		asynq.MaxRetry(3),
		asynq.Timeout(30*time.Second),
		asynq.Retention(time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		// the same flush was retried after the first enqueue went through
		logger.L().Debug("autosave already queued",
			zap.String("canvas_id", req.CanvasID.String()),
			zap.Uint64("revision", req.Revision))
		return nil
	}
	if err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "enqueue autosave task failed")
	}
	return nil
}

// AutosaveTaskHandler persists autosaved workflows.
type AutosaveTaskHandler struct {
	workflows services.WorkflowService
}

func NewAutosaveTaskHandler(workflows services.WorkflowService) *AutosaveTaskHandler {
	return &AutosaveTaskHandler{workflows: workflows}
}

func (h *AutosaveTaskHandler) HandleAutosave(ctx context.Context, t *asynq.Task) error {
	var p AutosavePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid autosave task payload", zap.Error(err))
		return fmt.Errorf("decode autosave payload: %v: %w", err, asynq.SkipRetry)
	}
	id, err := uuid.Parse(p.CanvasID)
	if err != nil {
		logger.L().Error("invalid canvas id in task", zap.Error(err))
		return fmt.Errorf("parse canvas id: %v: %w", err, asynq.SkipRetry)
	}

	v, created, err := h.workflows.SaveWorkflow(ctx, id, p.Document, services.SourceAutosave)
	switch {
	case appErr.IsCode(err, appErr.CodeInvalid), appErr.IsCode(err, appErr.CodeNotFound):
		// bad documents and deleted canvases are not retried
		logger.L().Warn("autosave dropped", zap.String("canvas_id", id.String()), zap.Error(err))
		return fmt.Errorf("autosave: %v: %w", err, asynq.SkipRetry)
	case err != nil:
		logger.L().Error("autosave failed", zap.String("canvas_id", id.String()), zap.Error(err))
		return err
	}

	logger.L().Info("handled autosave task",
		zap.String("canvas_id", id.String()),
		zap.Int("version", v.Version),
		zap.Bool("created", created))
	return nil
}
