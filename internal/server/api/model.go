package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ayusman/mudra/internal/knn"
	"github.com/ayusman/mudra/internal/model"
	"github.com/ayusman/mudra/internal/store"
)

// RevisionLister is implemented by backends that keep a save history.
type RevisionLister interface {
	Revisions(ctx context.Context, key string) ([]*store.Revision, error)
}

// ModelHandler handles the model lifecycle under /api/model.
type ModelHandler struct {
	model     *model.Controller
	key       string
	revisions RevisionLister
}

// NewModelHandler creates a ModelHandler. revisions may be nil when the
// backend keeps no history.
func NewModelHandler(ctrl *model.Controller, key string, revisions RevisionLister) *ModelHandler {
	return &ModelHandler{model: ctrl, key: key, revisions: revisions}
}

type listRevisionsResponse struct {
	Revisions []*store.Revision `json:"revisions"`
}

// ServeHTTP routes requests to the appropriate methods.
func (h *ModelHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/model")
	path = strings.TrimPrefix(path, "/")

	switch path {
	case "":
		h.only(w, r, http.MethodGet, h.status)
	case "save":
		h.only(w, r, http.MethodPost, h.save)
	case "load":
		h.only(w, r, http.MethodPost, h.load)
	case "reset":
		h.only(w, r, http.MethodPost, h.reset)
	case "export":
		h.only(w, r, http.MethodGet, h.export)
	case "import":
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.importDataset(w, r)
	case "revisions":
		h.only(w, r, http.MethodGet, h.listRevisions)
	default:
		writeError(w, http.StatusNotFound, "Not found")
	}
}

func (h *ModelHandler) only(w http.ResponseWriter, r *http.Request, method string, fn http.HandlerFunc) {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	fn(w, r)
}

// status handles GET /api/model.
func (h *ModelHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.model.Status())
}

// save handles POST /api/model/save.
func (h *ModelHandler) save(w http.ResponseWriter, r *http.Request) {
	if err := h.model.Save(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.model.Status())
}

// load handles POST /api/model/load.
func (h *ModelHandler) load(w http.ResponseWriter, r *http.Request) {
	if err := h.model.Load(r.Context()); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.model.Status())
}

// reset handles POST /api/model/reset.
func (h *ModelHandler) reset(w http.ResponseWriter, r *http.Request) {
	if err := h.model.Reset(); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.model.Status())
}

// export handles GET /api/model/export?format=json|msgpack.
func (h *ModelHandler) export(w http.ResponseWriter, r *http.Request) {
	format, err := knn.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	blob, err := h.model.Export(format)
	if err != nil {
		writeErr(w, err)
		return
	}

	contentType, ext := "application/json", "json"
	if format == knn.FormatMsgpack {
		contentType, ext = "application/msgpack", "msgpack"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.key+"."+ext))
	w.WriteHeader(http.StatusOK)
	w.Write(blob)
}

// importDataset handles PUT /api/model/import. A body that cannot be decoded
// leaves the model unchanged.
func (h *ModelHandler) importDataset(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := h.model.Import(blob); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.model.Status())
}

// listRevisions handles GET /api/model/revisions, newest first.
func (h *ModelHandler) listRevisions(w http.ResponseWriter, r *http.Request) {
	if h.revisions == nil {
		writeError(w, http.StatusNotFound, "Storage backend keeps no revision history")
		return
	}

	revs, err := h.revisions.Revisions(r.Context(), h.key)
	if err != nil {
		writeErr(w, err)
		return
	}
	if revs == nil {
		revs = []*store.Revision{}
	}
	writeJSON(w, http.StatusOK, listRevisionsResponse{Revisions: revs})
}
