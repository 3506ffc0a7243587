package handlers

import (
	"context"
	"net/http"

	"github.com/genflow-studio/engine/internal/api/types"
	"github.com/genflow-studio/engine/internal/services"
)

type GenerationHandler struct {
	registry *services.Registry
}

func NewGenerationHandler(registry *services.Registry) *GenerationHandler {
	return &GenerationHandler{registry: registry}
}

// Generate accepts a request and returns once the target is loading. The
// outcome arrives on the stream and in later state reads.
func (h *GenerationHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req types.GenerateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	// the request outlives the HTTP exchange
	if err := ws.Generate(context.WithoutCancel(r.Context()), req); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusAccepted, ws.State().Generation)
}

func (h *GenerationHandler) DismissError(w http.ResponseWriter, r *http.Request) {
	ws, err := workspace(h.registry, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ws.DismissError()
	w.WriteHeader(http.StatusNoContent)
}
