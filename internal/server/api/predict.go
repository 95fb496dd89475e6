package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/ayusman/mudra/internal/app"
)

// PredictHandler handles POST /api/predict.
type PredictHandler struct {
	app *app.App
}

// NewPredictHandler creates a PredictHandler.
func NewPredictHandler(a *app.App) *PredictHandler {
	return &PredictHandler{app: a}
}

// ServeHTTP recognizes the image in the request body.
func (h *PredictHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	image, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(image) == 0 {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}

	det, err := h.app.Recognize(r.Context(), image)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, det)
}

// SentenceHandler handles /api/sentence.
type SentenceHandler struct {
	app *app.App
}

// NewSentenceHandler creates a SentenceHandler.
func NewSentenceHandler(a *app.App) *SentenceHandler {
	return &SentenceHandler{app: a}
}

// ServeHTTP returns or clears the word history.
func (h *SentenceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.app.Sentence())
	case http.MethodDelete:
		h.app.ResetSentence()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// PipelineHandler handles /api/pipeline, the live recognition toggle.
type PipelineHandler struct {
	app *app.App
}

// NewPipelineHandler creates a PipelineHandler.
func NewPipelineHandler(a *app.App) *PipelineHandler {
	return &PipelineHandler{app: a}
}

type pipelineState struct {
	Enabled   bool    `json:"enabled"`
	Running   bool    `json:"running"`
	Threshold float64 `json:"threshold"`
}

type setPipelineRequest struct {
	Enabled *bool `json:"enabled"`
}

// ServeHTTP reports or changes whether live recognition is enabled.
func (h *PipelineHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.state())
	case http.MethodPut:
		var req setPipelineRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		h.app.SetEnabled(*req.Enabled)
		writeJSON(w, http.StatusOK, h.state())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *PipelineHandler) state() pipelineState {
	return pipelineState{
		Enabled:   h.app.IsEnabled(),
		Running:   h.app.IsRunning(),
		Threshold: h.app.Threshold(),
	}
}
