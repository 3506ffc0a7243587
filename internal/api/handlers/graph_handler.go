package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/genflow-studio/engine/internal/api/types"
	"github.com/genflow-studio/engine/internal/canvas"
	"github.com/genflow-studio/engine/internal/services"
)

// GraphHandler serves node, edge and group edits.
type GraphHandler struct {
	registry *services.Registry
}

func NewGraphHandler(registry *services.Registry) *GraphHandler {
	return &GraphHandler{registry: registry}
}

func (h *GraphHandler) CreateNode(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.NodeCreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := ws.AddNode(services.NodeInput{Kind: canvas.NodeKind(req.Type), Position: req.Position, Patch: req.Patch()})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, n)
}

func (h *GraphHandler) UpdateNode(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.NodeUpdateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := ws.UpdateNode(chi.URLParam(r, "nodeID"), req.Patch())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, n)
}

func (h *GraphHandler) MoveNode(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.MoveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := ws.MoveNode(chi.URLParam(r, "nodeID"), req.Position, req.Dragging); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GraphHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := ws.DeleteNode(chi.URLParam(r, "nodeID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GraphHandler) DuplicateNode(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.DuplicateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := ws.Duplicate(chi.URLParam(r, "nodeID"), req.Position)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, n)
}

func (h *GraphHandler) CreateEdge(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.EdgeCreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	e, err := ws.Connect(req.Source, req.Target)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, e)
}

func (h *GraphHandler) DeleteEdge(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := ws.Disconnect(chi.URLParam(r, "edgeID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *GraphHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.GroupCreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	n, err := ws.Group(req.Members, req.Label)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, n)
}

func (h *GraphHandler) Ungroup(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := ws.Ungroup(chi.URLParam(r, "groupID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, ws.State().Graph)
}
