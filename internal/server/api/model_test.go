package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/knn"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/model"
	"github.com/ayusman/mudra/internal/store"
)

func decodeStatus(t *testing.T, rec *httptest.ResponseRecorder) model.Status {
	t.Helper()

	var st model.Status
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	return st
}

func TestModelHandler_Status(t *testing.T) {
	a, _, _ := newTestApp(t)
	train(t, a, "Hello", []float32{0, 0}, 2)
	handler := NewModelHandler(a.Model(), "model", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/model", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	st := decodeStatus(t, rec)
	if st.State != model.StateReady {
		t.Errorf("got state %s, want %s", st.State, model.StateReady)
	}
	if !st.Dirty {
		t.Error("expected dirty model")
	}
	if st.Examples != 2 || st.Dimension != 2 {
		t.Errorf("got %d examples of dimension %d, want 2 of 2", st.Examples, st.Dimension)
	}
}

func TestModelHandler_SaveAndLoad(t *testing.T) {
	a, _, backend := newTestApp(t)
	train(t, a, "Hello", []float32{0, 0}, 2)
	handler := NewModelHandler(a.Model(), "model", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/model/save", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("save: expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if st := decodeStatus(t, rec); st.Dirty || st.LastRevision == "" {
		t.Errorf("after save got dirty=%v revision=%q", st.Dirty, st.LastRevision)
	}
	if backend.Writes() != 1 {
		t.Errorf("expected 1 backend write, got %d", backend.Writes())
	}

	// A second controller over the same backend sees the saved dataset
	ctrl := model.New(model.Config{Backend: backend, Logger: logging.Discard()})
	other := NewModelHandler(ctrl, "model", nil)
	rec = httptest.NewRecorder()
	other.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/model/load", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("load: expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if got := ctrl.CountFor("Hello"); got != 2 {
		t.Errorf("loaded %d examples, want 2", got)
	}

	rec = httptest.NewRecorder()
	other.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/model/load", nil))
	if rec.Code != http.StatusConflict {
		t.Errorf("second load: expected status %d, got %d", http.StatusConflict, rec.Code)
	}
}

func TestModelHandler_SaveFailure(t *testing.T) {
	a, _, backend := newTestApp(t)
	train(t, a, "Hello", []float32{0, 0}, 1)
	backend.SetWriteError(errors.New("disk full"))
	handler := NewModelHandler(a.Model(), "model", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/model/save", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}
	if !a.Model().Dirty() {
		t.Error("failed save should leave the model dirty")
	}
}

func TestModelHandler_LoadFailure(t *testing.T) {
	backend := store.NewMemory()
	backend.SetReadError(errors.New("connection refused"))
	ctrl := model.New(model.Config{Backend: backend, Logger: logging.Discard()})
	handler := NewModelHandler(ctrl, "model", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/model/load", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
	}

	// Training stays blocked until a reset
	a := app.New(app.Config{Model: ctrl, Logger: logging.Discard()})
	labels := NewLabelHandler(a, 0, 0)
	rec = httptest.NewRecorder()
	labels.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/labels", bytes.NewBufferString(`{"label":"Hello"}`)))
	if rec.Code != http.StatusConflict {
		t.Errorf("expected status %d while load failed, got %d", http.StatusConflict, rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/model/reset", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: expected status %d, got %d", http.StatusOK, rec.Code)
	}
	if st := decodeStatus(t, rec); st.State != model.StateReady || st.LoadFailed {
		t.Errorf("after reset got state %s load_failed=%v", st.State, st.LoadFailed)
	}
}

func TestModelHandler_ExportImport(t *testing.T) {
	for _, format := range []knn.Format{knn.FormatJSON, knn.FormatMsgpack} {
		t.Run(string(format), func(t *testing.T) {
			a, _, _ := newTestApp(t)
			train(t, a, "Hello", []float32{0, 0}, 2)
			train(t, a, "World", []float32{10, 10}, 1)
			handler := NewModelHandler(a.Model(), "model", nil)

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/model/export?format="+string(format), nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("export: expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
			}
			wantType := "application/json"
			if format == knn.FormatMsgpack {
				wantType = "application/msgpack"
			}
			if ct := rec.Header().Get("Content-Type"); ct != wantType {
				t.Errorf("expected Content-Type %s, got %s", wantType, ct)
			}
			blob := rec.Body.Bytes()

			b, _, _ := newTestApp(t)
			target := NewModelHandler(b.Model(), "model", nil)
			rec = httptest.NewRecorder()
			target.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/model/import", bytes.NewReader(blob)))
			if rec.Code != http.StatusOK {
				t.Fatalf("import: expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
			}
			if b.Model().CountFor("Hello") != 2 || b.Model().CountFor("World") != 1 {
				t.Errorf("imported counts Hello=%d World=%d, want 2 and 1",
					b.Model().CountFor("Hello"), b.Model().CountFor("World"))
			}
		})
	}
}

func TestModelHandler_ImportCorrupt(t *testing.T) {
	a, _, _ := newTestApp(t)
	train(t, a, "Hello", []float32{0, 0}, 2)
	handler := NewModelHandler(a.Model(), "model", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/model/import", bytes.NewBufferString(`{"version":1,"dimensionality":3,"labels":{"X":[[1]]}}`)))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
	if a.Model().CountFor("Hello") != 2 || a.Model().HasLabel("X") {
		t.Error("corrupt import changed the model")
	}
}

func TestModelHandler_ExportUnknownFormat(t *testing.T) {
	a, _, _ := newTestApp(t)
	handler := NewModelHandler(a.Model(), "model", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/model/export?format=xml", nil))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, rec.Code)
	}
}

func TestModelHandler_Revisions(t *testing.T) {
	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "mudra.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctrl := model.New(model.Config{Backend: db, Key: "signs", Logger: logging.Discard()})
	if err := ctrl.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, err := ctrl.AddLabel("Hello"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := ctrl.AddVector("Hello", []float32{float32(i), 0}); err != nil {
			t.Fatal(err)
		}
		if err := ctrl.Save(context.Background()); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	handler := NewModelHandler(ctrl, "signs", db.Datasets())
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/model/revisions", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var response listRevisionsResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(response.Revisions) != 2 {
		t.Fatalf("expected 2 revisions, got %d", len(response.Revisions))
	}
	for _, rev := range response.Revisions {
		if rev.Key != "signs" || rev.Revision == "" || rev.Size == 0 {
			t.Errorf("unexpected revision %+v", rev)
		}
	}
}

func TestModelHandler_RevisionsUnsupported(t *testing.T) {
	a, _, _ := newTestApp(t)
	handler := NewModelHandler(a.Model(), "model", nil)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/model/revisions", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestModelHandler_Routing(t *testing.T) {
	a, _, _ := newTestApp(t)
	handler := NewModelHandler(a.Model(), "model", nil)

	tests := []struct {
		method string
		path   string
		status int
	}{
		{http.MethodPost, "/api/model", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/model/save", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/api/model/import", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/model/unknown", http.StatusNotFound},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
		if rec.Code != tt.status {
			t.Errorf("%s %s: expected status %d, got %d", tt.method, tt.path, tt.status, rec.Code)
		}
	}
}
