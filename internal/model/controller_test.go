package model

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ayusman/mudra/internal/embed"
	"github.com/ayusman/mudra/internal/knn"
	"github.com/ayusman/mudra/internal/store"
)

// newTestController creates a loaded controller over a memory backend.
func newTestController(t *testing.T) (*Controller, *embed.MockSource, *store.Memory) {
	t.Helper()

	src := embed.NewMockSource([]float32{0, 0})
	backend := store.NewMemory()
	c := New(Config{Embedder: src, Backend: backend})

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return c, src, backend
}

// blockingBackend holds writes until released.
type blockingBackend struct {
	*store.Memory
	started chan struct{}
	release chan struct{}
}

func newBlockingBackend() *blockingBackend {
	return &blockingBackend{
		Memory:  store.NewMemory(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (b *blockingBackend) Write(ctx context.Context, key string, blob []byte) error {
	b.started <- struct{}{}
	<-b.release
	return b.Memory.Write(ctx, key, blob)
}

func TestController_LoadAbsentDataset(t *testing.T) {
	c, _, _ := newTestController(t)

	if c.State() != StateReady {
		t.Errorf("got state %s, want %s", c.State(), StateReady)
	}
	if c.Dirty() {
		t.Error("freshly loaded model should be clean")
	}
	if len(c.Labels()) != 0 {
		t.Errorf("expected no labels, got %v", c.Labels())
	}
}

func TestController_OperationsBeforeLoad(t *testing.T) {
	c := New(Config{Embedder: embed.NewMockSource([]float32{1}), Backend: store.NewMemory()})

	if _, err := c.AddLabel("hello"); !errors.Is(err, ErrNotReady) {
		t.Errorf("AddLabel() expected ErrNotReady, got %v", err)
	}
	if _, err := c.PredictVector([]float32{1}); !errors.Is(err, ErrNotReady) {
		t.Errorf("PredictVector() expected ErrNotReady, got %v", err)
	}
	if err := c.Save(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Errorf("Save() expected ErrNotReady, got %v", err)
	}
}

func TestController_LoadTwice(t *testing.T) {
	c, _, _ := newTestController(t)

	if err := c.Load(context.Background()); !errors.Is(err, ErrAlreadyLoaded) {
		t.Errorf("expected ErrAlreadyLoaded, got %v", err)
	}
}

func TestController_LoadFailureBlocksUntilReset(t *testing.T) {
	tests := []struct {
		name  string
		setup func(b *store.Memory)
	}{
		{
			name: "corrupt blob",
			setup: func(b *store.Memory) {
				b.Write(context.Background(), "model", []byte("{not json"))
			},
		},
		{
			name: "backend unavailable",
			setup: func(b *store.Memory) {
				b.SetReadError(errors.New("network down"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := store.NewMemory()
			tt.setup(backend)
			c := New(Config{Embedder: embed.NewMockSource([]float32{1}), Backend: backend})

			err := c.Load(context.Background())
			if !errors.Is(err, ErrModelLoadFailed) {
				t.Fatalf("expected ErrModelLoadFailed, got %v", err)
			}
			if c.State() != StateUninitialized {
				t.Errorf("got state %s, want %s", c.State(), StateUninitialized)
			}
			if !c.Status().LoadFailed {
				t.Error("status should report the failed load")
			}

			// Training and prediction are blocked
			if _, err := c.AddLabel("hello"); !errors.Is(err, ErrNotReady) {
				t.Errorf("AddLabel() expected ErrNotReady, got %v", err)
			}
			if _, err := c.PredictVector([]float32{1}); !errors.Is(err, ErrNotReady) {
				t.Errorf("PredictVector() expected ErrNotReady, got %v", err)
			}

			// Reset starts an empty dirty model
			if err := c.Reset(); err != nil {
				t.Fatalf("Reset() error = %v", err)
			}
			if c.State() != StateReady || !c.Dirty() {
				t.Errorf("after reset got state %s dirty %v, want ready and dirty", c.State(), c.Dirty())
			}
			if _, err := c.AddLabel("hello"); err != nil {
				t.Errorf("AddLabel() after reset error = %v", err)
			}
		})
	}
}

// blockingReadBackend holds reads until released.
type blockingReadBackend struct {
	*store.Memory
	started chan struct{}
	release chan struct{}
}

func (b *blockingReadBackend) Read(ctx context.Context, key string) ([]byte, error) {
	b.started <- struct{}{}
	<-b.release
	return b.Memory.Read(ctx, key)
}

func TestController_ResetRejectedDuringLoad(t *testing.T) {
	backend := &blockingReadBackend{
		Memory:  store.NewMemory(),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := New(Config{Embedder: embed.NewMockSource([]float32{1}), Backend: backend})

	done := make(chan error, 1)
	go func() { done <- c.Load(context.Background()) }()
	<-backend.started

	if err := c.Reset(); !errors.Is(err, ErrNotReady) {
		t.Errorf("Reset() during load expected ErrNotReady, got %v", err)
	}

	close(backend.release)
	if err := <-done; err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if c.State() != StateReady || c.Dirty() {
		t.Errorf("after load got state %s dirty %v, want ready and clean", c.State(), c.Dirty())
	}

	// Once loaded, reset works and marks the model dirty
	if err := c.Reset(); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if !c.Dirty() {
		t.Error("expected dirty model after reset")
	}
}

func TestController_LoadRetrySucceeds(t *testing.T) {
	backend := store.NewMemory()
	backend.SetReadError(errors.New("timeout"))
	c := New(Config{Backend: backend})

	if err := c.Load(context.Background()); !errors.Is(err, ErrModelLoadFailed) {
		t.Fatalf("expected ErrModelLoadFailed, got %v", err)
	}

	backend.SetReadError(nil)
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load() retry error = %v", err)
	}
	if c.State() != StateReady || c.Status().LoadFailed {
		t.Errorf("expected ready model after successful retry, got %+v", c.Status())
	}
}

func TestController_AddLabel(t *testing.T) {
	c, _, _ := newTestController(t)

	got, err := c.AddLabel("  thank you  ")
	if err != nil {
		t.Fatalf("AddLabel() error = %v", err)
	}
	if got != "thank you" {
		t.Errorf("got label %q, want %q", got, "thank you")
	}
	if !c.Dirty() {
		t.Error("adding a label should mark the model dirty")
	}
	if c.CountFor("thank you") != 0 {
		t.Errorf("new label should have zero examples")
	}

	if _, err := c.AddLabel("thank you"); !errors.Is(err, ErrDuplicateLabel) {
		t.Errorf("expected ErrDuplicateLabel, got %v", err)
	}
	if _, err := c.AddLabel("   "); !errors.Is(err, ErrEmptyLabel) {
		t.Errorf("expected ErrEmptyLabel, got %v", err)
	}

	// Labels are case-sensitive
	if _, err := c.AddLabel("Thank You"); err != nil {
		t.Errorf("AddLabel() with different case error = %v", err)
	}
}

func TestController_Capture(t *testing.T) {
	c, src, _ := newTestController(t)
	ctx := context.Background()

	if err := c.Capture(ctx, "hello", []byte("img")); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("expected ErrUnknownLabel, got %v", err)
	}
	if src.Calls() != 0 {
		t.Error("unknown label should not reach the embedder")
	}

	c.AddLabel("hello")
	for i := 0; i < 3; i++ {
		if err := c.Capture(ctx, "hello", []byte("img")); err != nil {
			t.Fatalf("Capture() error = %v", err)
		}
	}
	if c.CountFor("hello") != 3 {
		t.Errorf("got %d examples, want 3", c.CountFor("hello"))
	}
}

func TestController_CaptureEmbeddingFailureLeavesStateUntouched(t *testing.T) {
	c, src, backend := newTestController(t)
	ctx := context.Background()

	c.AddLabel("hello")
	c.Save(ctx)
	before := backend.Writes()

	src.SetError(errors.New("camera covered"))
	err := c.Capture(ctx, "hello", []byte("img"))
	if !errors.Is(err, embed.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}

	if c.CountFor("hello") != 0 {
		t.Errorf("failed capture should not add an example")
	}
	if c.Dirty() {
		t.Error("failed capture should not mark the model dirty")
	}
	if backend.Writes() != before {
		t.Error("failed capture should not write")
	}
}

func TestController_DimensionMismatch(t *testing.T) {
	c, _, _ := newTestController(t)
	c.AddLabel("a")

	if err := c.AddVector("a", []float32{1, 2}); err != nil {
		t.Fatalf("AddVector() error = %v", err)
	}
	if err := c.AddVector("a", []float32{1, 2, 3}); !errors.Is(err, knn.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := c.PredictVector([]float32{1}); !errors.Is(err, knn.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func TestController_ClearAndRemoveLabel(t *testing.T) {
	c, _, _ := newTestController(t)
	c.AddLabel("a")
	c.AddLabel("b")
	c.AddVector("a", []float32{0, 0})
	c.AddVector("b", []float32{5, 5})

	if err := c.ClearLabel("a"); err != nil {
		t.Fatalf("ClearLabel() error = %v", err)
	}
	if !c.HasLabel("a") || c.CountFor("a") != 0 {
		t.Error("cleared label should remain with zero examples")
	}

	// Cleared labels are never predicted
	pred, err := c.PredictVector([]float32{0, 0})
	if err != nil {
		t.Fatalf("PredictVector() error = %v", err)
	}
	if pred.Label != "b" {
		t.Errorf("got label %q, want %q", pred.Label, "b")
	}

	if err := c.RemoveLabel("a"); err != nil {
		t.Fatalf("RemoveLabel() error = %v", err)
	}
	if c.HasLabel("a") {
		t.Error("removed label should not be registered")
	}
	if err := c.RemoveLabel("a"); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("expected ErrUnknownLabel, got %v", err)
	}
	if err := c.ClearLabel("zzz"); !errors.Is(err, ErrUnknownLabel) {
		t.Errorf("expected ErrUnknownLabel, got %v", err)
	}
}

func TestController_PredictEmptyModel(t *testing.T) {
	c, src, _ := newTestController(t)
	c.AddLabel("registered but untrained")

	if _, err := c.Predict(context.Background(), []byte("img")); !errors.Is(err, knn.ErrEmptyModel) {
		t.Errorf("expected ErrEmptyModel, got %v", err)
	}
	if src.Calls() != 0 {
		t.Error("empty model should not call the embedder")
	}
}

func TestController_Predict(t *testing.T) {
	c, src, _ := newTestController(t)
	ctx := context.Background()

	src.SetVector([]byte("fist"), []float32{0, 0})
	src.SetVector([]byte("palm"), []float32{10, 10})

	c.AddLabel("hello")
	c.AddLabel("bye")
	for i := 0; i < 5; i++ {
		c.Capture(ctx, "hello", []byte("fist"))
		c.Capture(ctx, "bye", []byte("palm"))
	}

	pred, err := c.Predict(ctx, []byte("palm"))
	if err != nil {
		t.Fatalf("Predict() error = %v", err)
	}
	if pred.Label != "bye" || pred.Confidence != 1.0 {
		t.Errorf("got %q@%f, want bye@1.0", pred.Label, pred.Confidence)
	}
}

func TestController_SaveAndReload(t *testing.T) {
	c, _, backend := newTestController(t)
	ctx := context.Background()

	c.AddLabel("hello")
	c.AddLabel("untrained")
	c.AddVector("hello", []float32{0.25, -1.5})

	if err := c.Save(ctx); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if c.Dirty() {
		t.Error("model should be clean after save")
	}
	if c.Status().LastRevision == "" {
		t.Error("save should record a revision")
	}

	reloaded := New(Config{Backend: backend})
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !reflect.DeepEqual(reloaded.Labels(), []string{"hello", "untrained"}) {
		t.Errorf("got labels %v", reloaded.Labels())
	}
	if reloaded.CountFor("hello") != 1 {
		t.Errorf("got %d examples, want 1", reloaded.CountFor("hello"))
	}
}

func TestController_SaveMsgpack(t *testing.T) {
	backend := store.NewMemory()
	c := New(Config{Backend: backend, Format: knn.FormatMsgpack})
	ctx := context.Background()
	c.Load(ctx)
	c.AddLabel("a")
	c.AddVector("a", []float32{1})

	if err := c.Save(ctx); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	blob, _ := backend.Read(ctx, "model")
	if len(blob) == 0 || blob[0] == '{' {
		t.Errorf("expected a msgpack blob, got %q", blob)
	}
}

func TestController_SaveFailureStaysDirty(t *testing.T) {
	c, _, backend := newTestController(t)
	ctx := context.Background()
	c.AddLabel("hello")

	backend.SetWriteError(errors.New("quota exceeded"))
	err := c.Save(ctx)
	if !errors.Is(err, ErrSaveFailed) {
		t.Fatalf("expected ErrSaveFailed, got %v", err)
	}
	if !errors.Is(err, store.ErrStorageUnavailable) {
		t.Errorf("save error should wrap the backend error, got %v", err)
	}
	if !c.Dirty() {
		t.Error("model should stay dirty after a failed save")
	}

	// Retry succeeds
	backend.SetWriteError(nil)
	if err := c.Save(ctx); err != nil {
		t.Fatalf("Save() retry error = %v", err)
	}
	if c.Dirty() {
		t.Error("model should be clean after successful retry")
	}
}

func TestController_SaveSingleFlight(t *testing.T) {
	backend := newBlockingBackend()
	c := New(Config{Backend: backend})
	ctx := context.Background()
	c.Load(ctx)
	c.AddLabel("hello")

	done := make(chan error, 1)
	go func() { done <- c.Save(ctx) }()
	<-backend.started

	if !c.Status().Saving {
		t.Error("status should report saving")
	}
	if err := c.Save(ctx); !errors.Is(err, ErrSaveInProgress) {
		t.Errorf("expected ErrSaveInProgress, got %v", err)
	}

	close(backend.release)
	if err := <-done; err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if c.Dirty() {
		t.Error("model should be clean after save")
	}
}

func TestController_MutationDuringSaveStaysDirty(t *testing.T) {
	backend := newBlockingBackend()
	c := New(Config{Backend: backend})
	ctx := context.Background()
	c.Load(ctx)
	c.AddLabel("hello")

	done := make(chan error, 1)
	go func() { done <- c.Save(ctx) }()
	<-backend.started

	// Change the model while the save is in flight
	c.AddLabel("bye")

	close(backend.release)
	if err := <-done; err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !c.Dirty() {
		t.Error("model changed during save should stay dirty")
	}

	// The saved blob holds the snapshot taken when the save started
	blob, _ := backend.Memory.Read(ctx, "model")
	ds, err := knn.DecodeDataset(blob)
	if err != nil {
		t.Fatalf("DecodeDataset() error = %v", err)
	}
	if _, ok := ds.Labels["bye"]; ok {
		t.Error("saved dataset should not contain the label added during save")
	}
}

func TestController_ImportExport(t *testing.T) {
	c, _, _ := newTestController(t)
	c.AddLabel("a")
	c.AddVector("a", []float32{1, 2})

	blob, err := c.Export(knn.FormatJSON)
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	other, _, _ := newTestController(t)
	if err := other.Import(blob); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if other.CountFor("a") != 1 || !other.Dirty() {
		t.Errorf("imported model should have the examples and be dirty, got %+v", other.Status())
	}

	// A corrupt blob leaves the model unchanged
	if err := other.Import([]byte("garbage")); !errors.Is(err, knn.ErrCorruptDataset) {
		t.Errorf("expected ErrCorruptDataset, got %v", err)
	}
	if other.CountFor("a") != 1 {
		t.Error("failed import should not change the model")
	}
}

func TestController_Notify(t *testing.T) {
	var (
		mu       sync.Mutex
		statuses []Status
	)
	c := New(Config{
		Backend: store.NewMemory(),
		Notify: func(s Status) {
			mu.Lock()
			defer mu.Unlock()
			statuses = append(statuses, s)
		},
	})
	ctx := context.Background()

	c.Load(ctx)
	c.AddLabel("hello")
	c.Save(ctx)

	mu.Lock()
	defer mu.Unlock()

	if len(statuses) < 3 {
		t.Fatalf("expected at least 3 notifications, got %d", len(statuses))
	}
	if last := statuses[len(statuses)-1]; last.Dirty || last.Saving {
		t.Errorf("last notification should be clean and idle, got %+v", last)
	}

	sawDirty := false
	for _, s := range statuses {
		if s.Dirty {
			sawDirty = true
		}
	}
	if !sawDirty {
		t.Error("expected a dirty notification after adding a label")
	}
}

func TestController_Status(t *testing.T) {
	c, _, _ := newTestController(t)
	c.AddLabel("b")
	c.AddLabel("a")
	c.AddVector("a", []float32{1, 2})
	c.AddVector("a", []float32{3, 4})

	st := c.Status()
	want := []LabelCount{{Label: "a", Examples: 2}, {Label: "b", Examples: 0}}
	if !reflect.DeepEqual(st.Labels, want) {
		t.Errorf("got labels %v, want %v", st.Labels, want)
	}
	if st.Examples != 2 || st.Dimension != 2 || st.K != knn.DefaultK {
		t.Errorf("got examples %d dimension %d k %d", st.Examples, st.Dimension, st.K)
	}
	if st.LastSavedAt != (time.Time{}) {
		t.Error("unsaved model should have no save time")
	}
}
