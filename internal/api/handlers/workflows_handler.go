package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/genflow-studio/engine/internal/api/types"
	"github.com/genflow-studio/engine/internal/services"
	appErr "github.com/genflow-studio/engine/pkg/errors"
)

// WorkflowsHandler serves saved workflow versions of a canvas.
type WorkflowsHandler struct {
	registry *services.Registry
}

func NewWorkflowsHandler(registry *services.Registry) *WorkflowsHandler {
	return &WorkflowsHandler{registry: registry}
}

func (h *WorkflowsHandler) Save(w http.ResponseWriter, r *http.Request) {
	id, err := canvasID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.WorkflowSaveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, created, err := h.registry.SaveWorkflow(r.Context(), id, req.Source)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeData(w, status, v)
}

func (h *WorkflowsHandler) List(w http.ResponseWriter, r *http.Request) {
	id, err := canvasID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	versions, err := h.registry.ListWorkflows(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: versions, Meta: &types.Meta{Total: int64(len(versions))}})
}

func (h *WorkflowsHandler) Load(w http.ResponseWriter, r *http.Request) {
	id, err := canvasID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || version < 1 {
		writeError(w, r, appErr.New(appErr.CodeInvalid, "invalid workflow version"))
		return
	}
	imported, err := h.registry.LoadWorkflow(r.Context(), id, version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ws, err := h.registry.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{
		Success: true,
		Data:    ws.State(),
		Meta:    &types.Meta{Warnings: imported.Warnings},
	})
}
