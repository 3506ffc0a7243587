package handlers

import (
	"net/http"

	"github.com/genflow-studio/engine/internal/api/types"
	"github.com/genflow-studio/engine/internal/keymap"
	"github.com/genflow-studio/engine/internal/services"
)

type HistoryHandler struct {
	registry *services.Registry
}

func NewHistoryHandler(registry *services.Registry) *HistoryHandler {
	return &HistoryHandler{registry: registry}
}

type historyResult struct {
	Action  keymap.Action           `json:"action,omitempty"`
	Applied bool                    `json:"applied"`
	State   services.WorkspaceState `json:"state"`
}

func (h *HistoryHandler) Undo(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, (*services.Workspace).Undo)
}

func (h *HistoryHandler) Redo(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, (*services.Workspace).Redo)
}

// step answers 200 whether or not a snapshot was restored; applied tells.
func (h *HistoryHandler) step(w http.ResponseWriter, r *http.Request, fn func(*services.Workspace) (bool, error)) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applied, err := fn(ws)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, historyResult{Applied: applied, State: ws.State()})
}

func (h *HistoryHandler) Shortcut(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.ShortcutRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	action, applied, err := ws.Shortcut(req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, historyResult{Action: action, Applied: applied, State: ws.State()})
}
