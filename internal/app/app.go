// Package app wires the model, camera, sentence matcher and plugin hooks into
// the recognition workflow used by the server, tray and CLI.
package app

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/knn"
	"github.com/ayusman/mudra/internal/model"
	"github.com/ayusman/mudra/internal/plugin"
	"github.com/ayusman/mudra/internal/sentence"
)

// Unrecognized is reported when a prediction falls below the threshold.
const Unrecognized = "Unrecognized"

// Defaults applied by New.
const (
	DefaultThreshold     = 0.8
	DefaultBurstFrames   = 50
	DefaultBurstInterval = 100 * time.Millisecond
	DefaultIdleFPS       = 5
	DefaultActiveFPS     = 15
	DefaultIdleTimeout   = 2 * time.Second
)

// Detection is the outcome of recognizing one image.
type Detection struct {
	// Label is the predicted label, or Unrecognized.
	Label string `json:"label"`
	// Confidence is the vote share of Label, or 1-c when unrecognized.
	Confidence float64 `json:"confidence"`
	Accepted   bool    `json:"accepted"`
	// Sentence is the matched sentence for display, empty when none matches.
	Sentence string `json:"sentence,omitempty"`
	// NewSentence is set when Sentence differs from the previous detection's.
	NewSentence bool      `json:"new_sentence"`
	History     []string  `json:"history"`
	Timestamp   time.Time `json:"timestamp"`
}

// SentenceState is the current word history and matched sentence.
type SentenceState struct {
	History  []string `json:"history"`
	Sentence string   `json:"sentence,omitempty"`
}

// Config holds the App's collaborators and settings.
type Config struct {
	Model *model.Controller

	// Camera is optional; without one burst capture and the live pipeline
	// are unavailable.
	Camera capture.Camera

	// Hooks is optional.
	Hooks *plugin.Dispatcher

	// Threshold is the minimum confidence for acceptance (default: 0.8).
	Threshold float64

	// HistorySize is the number of recent words matched against phrases (default: 5).
	HistorySize int

	// Phrases are the target sentences; trained multi-word labels are added
	// at match time.
	Phrases []string

	IdleFPS         int
	ActiveFPS       int
	MotionThreshold float64
	IdleTimeout     time.Duration
	JPEGQuality     int

	// RepeatHoldoff suppresses the same word in the live pipeline until it
	// has been absent for this long.
	RepeatHoldoff time.Duration

	Logger *slog.Logger
}

// DetectionCallback is invoked for every detection.
type DetectionCallback func(Detection)

// App orchestrates recognition.
type App struct {
	config  Config
	model   *model.Controller
	camera  capture.Camera
	motion  *capture.MotionDetector
	hooks   *plugin.Dispatcher
	matcher *sentence.Matcher
	logger  *slog.Logger

	mu           sync.RWMutex
	enabled      bool
	stopCh       chan struct{}
	doneCh       chan struct{}
	lastSentence string
	lastFrame    *capture.Frame
	callbacks    []DetectionCallback

	// camMu serializes camera reads between bursts and the pipeline.
	camMu sync.Mutex
}

// New creates an App with the given configuration.
func New(cfg Config) *App {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = sentence.DefaultHistorySize
	}
	if cfg.Phrases == nil {
		cfg.Phrases = sentence.DefaultPhrases
	}
	if cfg.IdleFPS <= 0 {
		cfg.IdleFPS = DefaultIdleFPS
	}
	if cfg.ActiveFPS <= 0 {
		cfg.ActiveFPS = DefaultActiveFPS
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &App{
		config:  cfg,
		model:   cfg.Model,
		camera:  cfg.Camera,
		motion:  capture.NewMotionDetector(cfg.MotionThreshold),
		hooks:   cfg.Hooks,
		matcher: sentence.NewMatcher(cfg.HistorySize),
		logger:  logger.With("component", "app"),
	}
}

// Model returns the model controller.
func (a *App) Model() *model.Controller {
	return a.model
}

// Camera returns the camera, or nil when none is configured.
func (a *App) Camera() capture.Camera {
	return a.camera
}

// Threshold returns the acceptance threshold.
func (a *App) Threshold() float64 {
	return a.config.Threshold
}

// RegisterDetectionCallback adds fn to the callbacks run after each detection.
func (a *App) RegisterDetectionCallback(fn DetectionCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callbacks = append(a.callbacks, fn)
}

// Recognize classifies image. A prediction with confidence at or above the
// threshold is accepted: its lowercased label is pushed into the word history
// and the history is matched against the target phrases. Otherwise the
// detection is Unrecognized with confidence 1-c and the history is untouched.
func (a *App) Recognize(ctx context.Context, image []byte) (*Detection, error) {
	pred, err := a.model.Predict(ctx, image)
	if err != nil {
		return nil, err
	}
	return a.accept(ctx, pred), nil
}

// accept applies the threshold to pred and updates the sentence state.
func (a *App) accept(ctx context.Context, pred *knn.Prediction) *Detection {
	det := Detection{
		Label:      pred.Label,
		Confidence: pred.Confidence,
		Timestamp:  time.Now(),
	}

	var fireSentence bool
	a.mu.Lock()
	if pred.Confidence >= a.config.Threshold {
		det.Accepted = true
		a.matcher.Push(strings.ToLower(pred.Label))

		match, _ := a.matcher.Match(sentence.Targets(a.config.Phrases, a.model.Labels()))
		det.NewSentence = match != "" && match != a.lastSentence
		fireSentence = det.NewSentence
		a.lastSentence = match
	} else {
		det.Label = Unrecognized
		det.Confidence = 1 - pred.Confidence
	}
	det.History = a.matcher.History()
	if a.lastSentence != "" {
		det.Sentence = sentence.Display(a.lastSentence)
	}
	callbacks := append([]DetectionCallback(nil), a.callbacks...)
	a.mu.Unlock()

	if det.Accepted {
		a.logger.Debug("word recognized", "label", det.Label, "confidence", det.Confidence)
		a.fire(ctx, plugin.EventWord, det)
	}
	if fireSentence {
		a.logger.Info("sentence recognized", "sentence", det.Sentence)
		a.fire(ctx, plugin.EventSentence, det)
	}

	for _, cb := range callbacks {
		cb(det)
	}

	return &det
}

func (a *App) fire(ctx context.Context, kind string, det Detection) {
	if a.hooks == nil {
		return
	}
	a.hooks.Fire(ctx, plugin.Event{
		Kind:       kind,
		Word:       det.Label,
		Sentence:   det.Sentence,
		Confidence: det.Confidence,
	})
}

// Sentence returns the current word history and matched sentence.
func (a *App) Sentence() SentenceState {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st := SentenceState{History: a.matcher.History()}
	if a.lastSentence != "" {
		st.Sentence = sentence.Display(a.lastSentence)
	}
	return st
}

// ResetSentence clears the word history and the matched sentence.
func (a *App) ResetSentence() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.matcher.Reset()
	a.lastSentence = ""
}

// LatestFrame returns the most recent frame read by the pipeline or a burst.
func (a *App) LatestFrame() *capture.Frame {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastFrame
}

// Snapshot returns a frame for previews. While the pipeline runs this is its
// latest frame; otherwise one is read from the camera, opening it if needed.
func (a *App) Snapshot() (*capture.Frame, error) {
	if a.camera == nil {
		return nil, ErrNoCamera
	}
	if a.IsRunning() {
		if frame := a.LatestFrame(); frame != nil {
			return frame, nil
		}
	}

	a.camMu.Lock()
	if !a.camera.IsOpen() {
		if err := a.camera.Open(); err != nil {
			a.camMu.Unlock()
			return nil, err
		}
	}
	a.camMu.Unlock()
	return a.grab()
}

// grab reads one encoded frame and records it as the latest.
func (a *App) grab() (*capture.Frame, error) {
	a.camMu.Lock()
	frame, err := capture.Grab(a.camera, a.config.JPEGQuality)
	a.camMu.Unlock()
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.lastFrame = frame
	a.mu.Unlock()
	return frame, nil
}

// Close stops the pipeline and waits for running hooks.
func (a *App) Close() {
	a.Stop()
	if a.hooks != nil {
		a.hooks.Wait()
	}
	a.motion.Close()
}
