// Package api implements the JSON HTTP handlers for labels, recognition,
// the model lifecycle and plugins.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/embed"
	"github.com/ayusman/mudra/internal/knn"
	"github.com/ayusman/mudra/internal/model"
	"github.com/ayusman/mudra/internal/plugin"
	"github.com/ayusman/mudra/internal/store"
)

// maxBodySize limits uploaded images and datasets.
const maxBodySize = 32 << 20

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeErr writes err with the status it maps to.
func writeErr(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, model.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, model.ErrEmptyLabel),
		errors.Is(err, knn.ErrDimensionMismatch),
		errors.Is(err, knn.ErrCorruptDataset):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnknownLabel),
		errors.Is(err, plugin.ErrPluginNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrDuplicateLabel),
		errors.Is(err, model.ErrSaveInProgress),
		errors.Is(err, model.ErrAlreadyLoaded),
		errors.Is(err, knn.ErrEmptyModel):
		return http.StatusConflict
	case errors.Is(err, embed.ErrEmbeddingUnavailable),
		errors.Is(err, store.ErrStorageUnavailable),
		errors.Is(err, model.ErrSaveFailed),
		errors.Is(err, model.ErrModelLoadFailed),
		errors.Is(err, app.ErrNoCamera):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
