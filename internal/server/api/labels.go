package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/ayusman/mudra/internal/app"
)

// LabelHandler handles HTTP requests for labels and their examples.
type LabelHandler struct {
	app           *app.App
	burstFrames   int
	burstInterval time.Duration
}

// NewLabelHandler creates a LabelHandler. Zero burst settings fall back to
// the app defaults.
func NewLabelHandler(a *app.App, burstFrames int, burstInterval time.Duration) *LabelHandler {
	return &LabelHandler{app: a, burstFrames: burstFrames, burstInterval: burstInterval}
}

// ServeHTTP routes requests to the appropriate methods.
//
// Paths:
//
//	/api/labels
//	/api/labels/{label}
//	/api/labels/{label}/examples
//	/api/labels/{label}/burst
func (h *LabelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/labels")
	path = strings.TrimPrefix(path, "/")

	if path == "" {
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	label, sub, _ := strings.Cut(path, "/")
	switch sub {
	case "":
		switch r.Method {
		case http.MethodGet:
			h.get(w, r, label)
		case http.MethodDelete:
			h.delete(w, r, label)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "examples":
		switch r.Method {
		case http.MethodPost:
			h.addExample(w, r, label)
		case http.MethodDelete:
			h.clearExamples(w, r, label)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	case "burst":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.burst(w, r, label)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

type createLabelRequest struct {
	Label string `json:"label"`
}

type labelResponse struct {
	Label    string `json:"label"`
	Examples int    `json:"examples"`
}

type listLabelsResponse struct {
	Labels []labelResponse `json:"labels"`
}

type addExampleRequest struct {
	Vector []float32 `json:"vector"`
}

// Upper bounds for a single burst request.
const (
	maxBurstFrames   = 500
	maxBurstInterval = 2 * time.Second
)

type burstRequest struct {
	Frames     int `json:"frames"`
	IntervalMs int `json:"interval_ms"`
}

type burstResponse struct {
	Label    string `json:"label"`
	Stored   int    `json:"stored"`
	Examples int    `json:"examples"`
	Error    string `json:"error,omitempty"`
}

func (h *LabelHandler) labelResponse(label string) labelResponse {
	return labelResponse{Label: label, Examples: h.app.Model().CountFor(label)}
}

// list handles GET /api/labels and returns every label in sorted order.
func (h *LabelHandler) list(w http.ResponseWriter, r *http.Request) {
	labels := h.app.Model().Labels()
	response := listLabelsResponse{
		Labels: make([]labelResponse, 0, len(labels)),
	}
	for _, label := range labels {
		response.Labels = append(response.Labels, h.labelResponse(label))
	}
	writeJSON(w, http.StatusOK, response)
}

// create handles POST /api/labels.
func (h *LabelHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createLabelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	label, err := h.app.Model().AddLabel(req.Label)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.labelResponse(label))
}

// get handles GET /api/labels/{label}.
func (h *LabelHandler) get(w http.ResponseWriter, r *http.Request, label string) {
	if !h.app.Model().HasLabel(label) {
		writeError(w, http.StatusNotFound, "Label not found")
		return
	}
	writeJSON(w, http.StatusOK, h.labelResponse(label))
}

// delete handles DELETE /api/labels/{label}.
func (h *LabelHandler) delete(w http.ResponseWriter, r *http.Request, label string) {
	if err := h.app.Model().RemoveLabel(label); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// addExample handles POST /api/labels/{label}/examples. A JSON body carries a
// precomputed vector; any other body is an image to embed.
func (h *LabelHandler) addExample(w http.ResponseWriter, r *http.Request, label string) {
	ctrl := h.app.Model()
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	if isJSON(r) {
		var req addExampleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if len(req.Vector) == 0 {
			writeError(w, http.StatusBadRequest, "vector is required")
			return
		}
		if err := ctrl.AddVector(label, req.Vector); err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, h.labelResponse(label))
		return
	}

	image, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(image) == 0 {
		writeError(w, http.StatusBadRequest, "image is required")
		return
	}
	if err := ctrl.Capture(r.Context(), label, image); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.labelResponse(label))
}

// clearExamples handles DELETE /api/labels/{label}/examples. The label stays
// registered with zero examples.
func (h *LabelHandler) clearExamples(w http.ResponseWriter, r *http.Request, label string) {
	if err := h.app.Model().ClearLabel(label); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.labelResponse(label))
}

// burst handles POST /api/labels/{label}/burst, capturing frames from the
// camera. The label is created if needed. Frames stored before a failure are
// kept and reported alongside the error.
func (h *LabelHandler) burst(w http.ResponseWriter, r *http.Request, label string) {
	var req burstRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	frames := h.burstFrames
	if req.Frames > 0 {
		frames = req.Frames
	}
	interval := h.burstInterval
	if req.IntervalMs > 0 {
		interval = time.Duration(req.IntervalMs) * time.Millisecond
	}
	if frames > maxBurstFrames {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("frames must be at most %d", maxBurstFrames))
		return
	}
	if interval > maxBurstInterval {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("interval_ms must be at most %d", maxBurstInterval.Milliseconds()))
		return
	}

	stored, err := h.app.CaptureBurst(r.Context(), label, frames, interval, nil)
	label = strings.TrimSpace(label)
	if err != nil && stored == 0 {
		writeErr(w, err)
		return
	}

	resp := burstResponse{
		Label:    label,
		Stored:   stored,
		Examples: h.app.Model().CountFor(label),
	}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = statusFor(err)
	}
	writeJSON(w, status, resp)
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}
