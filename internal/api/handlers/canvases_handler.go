package handlers

import (
	"io"
	"net/http"

	"github.com/genflow-studio/engine/internal/api/types"
	"github.com/genflow-studio/engine/internal/services"
	appErr "github.com/genflow-studio/engine/pkg/errors"
)

type CanvasesHandler struct {
	registry *services.Registry
}

func NewCanvasesHandler(registry *services.Registry) *CanvasesHandler {
	return &CanvasesHandler{registry: registry}
}

func (h *CanvasesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.CanvasCreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ws, err := h.registry.Create(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, ws.State())
}

func (h *CanvasesHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.registry.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}

func (h *CanvasesHandler) Get(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ws.State())
}

func (h *CanvasesHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := canvasID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.registry.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CanvasesHandler) Lock(w http.ResponseWriter, r *http.Request) {
	id, err := canvasID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.LockRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ws, err := h.registry.SetLocked(r.Context(), id, *req.Locked)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"locked": ws.Locked()})
}

// Export returns the workflow document itself, not wrapped in an APIResponse.
func (h *CanvasesHandler) Export(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := ws.Export()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="workflow.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

func (h *CanvasesHandler) Import(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, appErr.Wrap(err, appErr.CodeInvalid, "failed to read workflow"))
		return
	}
	imported, err := ws.Import(body)
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

func (h *CanvasesHandler) Gallery(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := ws.Gallery()
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items, Meta: &types.Meta{Total: int64(len(items))}})
}
