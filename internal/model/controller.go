// Package model owns the trained classifier: its lifecycle, label
// management, capture routing, dirty tracking and persistence.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/mudra/internal/embed"
	"github.com/ayusman/mudra/internal/knn"
	"github.com/ayusman/mudra/internal/store"
)

var (
	// ErrDuplicateLabel is returned when adding a label that already exists.
	ErrDuplicateLabel = errors.New("label already exists")

	// ErrEmptyLabel is returned when a label is blank after trimming.
	ErrEmptyLabel = errors.New("label is empty")

	// ErrUnknownLabel is returned when capturing for a label that was never added.
	ErrUnknownLabel = errors.New("unknown label")

	// ErrModelLoadFailed is returned when the persisted model cannot be read or decoded.
	ErrModelLoadFailed = errors.New("model load failed")

	// ErrSaveFailed is returned when the backend rejects a save.
	ErrSaveFailed = errors.New("model save failed")

	// ErrSaveInProgress is returned when a save is requested while another is running.
	ErrSaveInProgress = errors.New("save already in progress")

	// ErrNotReady is returned for operations that need a loaded model.
	ErrNotReady = errors.New("model not ready")

	// ErrAlreadyLoaded is returned when Load is called on a ready model.
	ErrAlreadyLoaded = errors.New("model already loaded")
)

// State is the lifecycle state of the controller.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
)

// Config holds the controller's collaborators and settings.
type Config struct {
	Embedder embed.Source
	Backend  store.Backend

	// Key is the backend key of the dataset (default: "model").
	Key string

	// K is the number of neighbors consulted (default: 5).
	K int

	// Format is the encoding used when saving (default: json).
	Format knn.Format

	// Notify, if set, receives the status after every change.
	Notify func(Status)

	Logger *slog.Logger
}

// LabelCount is a label with its number of examples.
type LabelCount struct {
	Label    string `json:"label"`
	Examples int    `json:"examples"`
}

// Status is a snapshot of the controller.
type Status struct {
	State        State        `json:"state"`
	Dirty        bool         `json:"dirty"`
	Saving       bool         `json:"saving"`
	LoadFailed   bool         `json:"load_failed"`
	LastError    string       `json:"last_error,omitempty"`
	Labels       []LabelCount `json:"labels"`
	Examples     int          `json:"examples"`
	Dimension    int          `json:"dimension"`
	K            int          `json:"k"`
	LastRevision string       `json:"last_revision,omitempty"`
	LastSavedAt  time.Time    `json:"last_saved_at,omitzero"`
}

// Controller coordinates the example store, classifier, embedding source and
// storage backend.
//
// The model is Dirty whenever the in-memory examples differ from the last
// successful save. Only one save runs at a time; mutations made while a save
// is in flight keep the model Dirty after that save completes.
type Controller struct {
	store      *knn.Store
	classifier *knn.Classifier
	embedder   embed.Source
	backend    store.Backend
	key        string
	format     knn.Format
	notify     func(Status)
	logger     *slog.Logger

	mu           sync.Mutex
	state        State
	loadFailed   bool
	lastErr      error
	generation   uint64
	savedGen     uint64
	saving       bool
	lastRevision string
	lastSavedAt  time.Time
}

// New creates a Controller in the Uninitialized state.
func New(cfg Config) *Controller {
	if cfg.Key == "" {
		cfg.Key = "model"
	}
	if cfg.Format == "" {
		cfg.Format = knn.FormatJSON
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := knn.NewStore()
	return &Controller{
		store:      s,
		classifier: knn.NewClassifier(s, cfg.K),
		embedder:   cfg.Embedder,
		backend:    cfg.Backend,
		key:        cfg.Key,
		format:     cfg.Format,
		notify:     cfg.Notify,
		logger:     logger.With("component", "model"),
		state:      StateUninitialized,
	}
}

// Load reads the persisted dataset. An absent dataset yields an empty, clean
// model. On failure the controller returns to Uninitialized and training and
// prediction stay blocked until Load succeeds or Reset is called.
func (c *Controller) Load(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateReady:
		c.mu.Unlock()
		return ErrAlreadyLoaded
	case StateLoading:
		c.mu.Unlock()
		return fmt.Errorf("%w: load in progress", ErrNotReady)
	}
	c.state = StateLoading
	c.mu.Unlock()

	err := c.load(ctx)

	c.mu.Lock()
	if err != nil {
		c.state = StateUninitialized
		c.loadFailed = true
		c.lastErr = err
	} else {
		c.state = StateReady
		c.loadFailed = false
		c.lastErr = nil
		c.generation++
		c.savedGen = c.generation
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("failed to load model", "key", c.key, "error", err)
	} else {
		c.logger.Info("model loaded", "key", c.key, "labels", len(c.store.Labels()), "examples", c.store.Total())
	}
	c.emit()
	return err
}

func (c *Controller) load(ctx context.Context) error {
	blob, err := c.backend.Read(ctx, c.key)
	if errors.Is(err, store.ErrNotFound) {
		c.store.Reset()
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModelLoadFailed, err)
	}

	ds, err := knn.DecodeDataset(blob)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrModelLoadFailed, err)
	}
	if err := c.store.Import(ds); err != nil {
		return fmt.Errorf("%w: %w", ErrModelLoadFailed, err)
	}
	return nil
}

// Reset discards the in-memory model and starts empty. The persisted dataset
// is replaced on the next Save. Reset is rejected while a Load is running.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.state == StateLoading {
		c.mu.Unlock()
		return fmt.Errorf("%w: load in progress", ErrNotReady)
	}
	c.store.Reset()
	c.state = StateReady
	c.loadFailed = false
	c.lastErr = nil
	c.generation++
	c.mu.Unlock()

	c.logger.Info("model reset")
	c.emit()
	return nil
}

// AddLabel registers a new label with zero examples.
func (c *Controller) AddLabel(label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", ErrEmptyLabel
	}

	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return "", err
	}
	if c.store.Has(label) {
		c.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrDuplicateLabel, label)
	}
	c.store.Register(label)
	c.generation++
	c.mu.Unlock()

	c.logger.Info("label added", "label", label)
	c.emit()
	return label, nil
}

// Capture embeds image and stores the vector as an example of label. If the
// embedding fails nothing is stored.
func (c *Controller) Capture(ctx context.Context, label string, image []byte) error {
	if err := c.checkLabel(label); err != nil {
		return err
	}

	vec, err := c.embed(ctx, image)
	if err != nil {
		return err
	}

	return c.AddVector(label, vec)
}

// AddVector stores a precomputed vector as an example of label.
func (c *Controller) AddVector(label string, vector []float32) error {
	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if !c.store.Has(label) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	if err := c.store.AddExample(label, vector); err != nil {
		c.mu.Unlock()
		return err
	}
	c.generation++
	c.mu.Unlock()

	c.logger.Debug("example added", "label", label, "count", c.store.CountFor(label))
	c.emit()
	return nil
}

// ClearLabel removes every example of label. The label stays registered.
func (c *Controller) ClearLabel(label string) error {
	if err := c.mutateLabel(label, c.store.ClearLabel); err != nil {
		return err
	}
	c.logger.Info("label cleared", "label", label)
	c.emit()
	return nil
}

// RemoveLabel removes label and all of its examples.
func (c *Controller) RemoveLabel(label string) error {
	if err := c.mutateLabel(label, c.store.RemoveLabel); err != nil {
		return err
	}
	c.logger.Info("label removed", "label", label)
	c.emit()
	return nil
}

func (c *Controller) mutateLabel(label string, fn func(string)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(); err != nil {
		return err
	}
	if !c.store.Has(label) {
		return fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	fn(label)
	c.generation++
	return nil
}

// Predict embeds image and classifies it.
func (c *Controller) Predict(ctx context.Context, image []byte) (*knn.Prediction, error) {
	c.mu.Lock()
	err := c.readyLocked()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if c.store.Total() == 0 {
		return nil, knn.ErrEmptyModel
	}

	vec, err := c.embed(ctx, image)
	if err != nil {
		return nil, err
	}
	return c.PredictVector(vec)
}

// PredictVector classifies a precomputed vector.
func (c *Controller) PredictVector(vector []float32) (*knn.Prediction, error) {
	c.mu.Lock()
	err := c.readyLocked()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.classifier.Predict(vector)
}

// Save writes the current dataset to the backend. Only one save runs at a
// time; a concurrent call returns ErrSaveInProgress.
func (c *Controller) Save(ctx context.Context) error {
	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.saving {
		c.mu.Unlock()
		return ErrSaveInProgress
	}
	c.saving = true
	gen := c.generation
	ds := c.store.Export()
	c.mu.Unlock()
	c.emit()

	err := c.write(ctx, ds)

	c.mu.Lock()
	c.saving = false
	if err == nil {
		if gen > c.savedGen {
			c.savedGen = gen
		}
		c.lastRevision = uuid.New().String()
		c.lastSavedAt = time.Now()
		c.lastErr = nil
	} else {
		c.lastErr = err
	}
	rev := c.lastRevision
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("failed to save model", "key", c.key, "error", err)
	} else {
		c.logger.Info("model saved", "key", c.key, "revision", rev, "examples", totalVectors(ds))
	}
	c.emit()
	return err
}

func (c *Controller) write(ctx context.Context, ds *knn.Dataset) error {
	blob, err := ds.Encode(c.format)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	if err := c.backend.Write(ctx, c.key, blob); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return nil
}

// Export encodes the current dataset.
func (c *Controller) Export(format knn.Format) ([]byte, error) {
	c.mu.Lock()
	err := c.readyLocked()
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.store.Export().Encode(format)
}

// Import replaces the model with the dataset in blob. A blob that cannot be
// decoded leaves the model unchanged.
func (c *Controller) Import(blob []byte) error {
	ds, err := knn.DecodeDataset(blob)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if err := c.store.Import(ds); err != nil {
		c.mu.Unlock()
		return err
	}
	c.generation++
	c.mu.Unlock()

	c.logger.Info("model imported", "labels", len(ds.Labels), "examples", totalVectors(ds))
	c.emit()
	return nil
}

// Labels returns the registered labels in sorted order.
func (c *Controller) Labels() []string {
	return c.store.Labels()
}

// HasLabel reports whether label is registered.
func (c *Controller) HasLabel(label string) bool {
	return c.store.Has(label)
}

// CountFor returns the number of examples of label.
func (c *Controller) CountFor(label string) int {
	return c.store.CountFor(label)
}

// Dirty reports whether there are changes that have not been saved.
func (c *Controller) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation != c.savedGen
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns a snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		State:        c.state,
		Dirty:        c.generation != c.savedGen,
		Saving:       c.saving,
		LoadFailed:   c.loadFailed,
		K:            c.classifier.K(),
		LastRevision: c.lastRevision,
		LastSavedAt:  c.lastSavedAt,
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
	}
	c.mu.Unlock()

	counts := c.store.Counts()
	st.Labels = make([]LabelCount, 0, len(counts))
	for _, label := range c.store.Labels() {
		st.Labels = append(st.Labels, LabelCount{Label: label, Examples: counts[label]})
	}
	st.Examples = c.store.Total()
	st.Dimension = c.store.Dimension()
	return st
}

func (c *Controller) checkLabel(label string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.readyLocked(); err != nil {
		return err
	}
	if !c.store.Has(label) {
		return fmt.Errorf("%w: %q", ErrUnknownLabel, label)
	}
	return nil
}

func (c *Controller) embed(ctx context.Context, image []byte) ([]float32, error) {
	if c.embedder == nil {
		return nil, fmt.Errorf("%w: no embedding source configured", embed.ErrEmbeddingUnavailable)
	}
	vec, err := c.embedder.Embed(ctx, image)
	if err != nil {
		if !errors.Is(err, embed.ErrEmbeddingUnavailable) {
			err = fmt.Errorf("%w: %w", embed.ErrEmbeddingUnavailable, err)
		}
		return nil, err
	}
	return vec, nil
}

// readyLocked must be called with c.mu held.
func (c *Controller) readyLocked() error {
	if c.state == StateReady {
		return nil
	}
	if c.loadFailed {
		return fmt.Errorf("%w: %w", ErrNotReady, c.lastErr)
	}
	return fmt.Errorf("%w: state %s", ErrNotReady, c.state)
}

func (c *Controller) emit() {
	if c.notify != nil {
		c.notify(c.Status())
	}
}

func totalVectors(ds *knn.Dataset) int {
	n := 0
	for _, v := range ds.Labels {
		n += len(v)
	}
	return n
}
