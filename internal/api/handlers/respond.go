package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/genflow-studio/engine/internal/api/middleware"
	"github.com/genflow-studio/engine/internal/api/types"
	"github.com/genflow-studio/engine/internal/services"
	appErr "github.com/genflow-studio/engine/pkg/errors"
	"github.com/genflow-studio/engine/pkg/logger"
)

// maxBodyBytes bounds request bodies; image content arrives as data URLs.
const maxBodyBytes = 32 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

func writeJSON(w http.ResponseWriter, status int, v any) {
	types.WriteJSON(w, status, v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, types.APIResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := types.StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.L().Error("request failed", zap.String("id", middleware.GetRequestID(r.Context())), zap.Error(err))
	}
	writeJSON(w, status, types.APIResponse{
		Success: false,
		Error:   types.FromAppError(err),
		Meta:    &types.Meta{RequestID: middleware.GetRequestID(r.Context())},
	})
}

// decode reads a JSON body into dst and validates it. An empty body leaves dst
// at its zero value.
func decode(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err != nil && err != io.EOF {
		return appErr.Wrap(err, appErr.CodeInvalid, "invalid json")
	}
	if err := validate.Struct(dst); err != nil {
		return appErr.Wrap(err, appErr.CodeInvalid, err.Error())
	}
	return nil
}

func canvasID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, appErr.New(appErr.CodeInvalid, "invalid canvas id")
	}
	return id, nil
}

// workspace resolves the {id} route parameter.
func workspace(reg *services.Registry, r *http.Request) (*services.Workspace, error) {
	id, err := canvasID(r)
	if err != nil {
		return nil, err
	}
	return reg.Get(r.Context(), id)
}
