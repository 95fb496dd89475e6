package app

import (
	"context"
	"errors"
	"time"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/knn"
	"github.com/ayusman/mudra/internal/model"
)

// SetEnabled enables or disables live recognition. Frames are still read
// for the preview stream while disabled.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// IsEnabled returns whether live recognition is enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// IsRunning returns whether the pipeline is running.
func (a *App) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stopCh != nil
}

// Start opens the camera and begins the live pipeline.
func (a *App) Start() error {
	if a.camera == nil {
		return ErrNoCamera
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return nil
	}

	if err := a.camera.Open(); err != nil {
		return err
	}
	a.camera.SetFPS(a.config.IdleFPS)

	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.runPipeline(a.stopCh, a.doneCh)

	a.logger.Info("pipeline started", "idle_fps", a.config.IdleFPS, "active_fps", a.config.ActiveFPS)
	return nil
}

// Stop halts the pipeline and closes the camera.
func (a *App) Stop() {
	a.mu.Lock()
	stopCh, doneCh := a.stopCh, a.doneCh
	a.stopCh, a.doneCh = nil, nil
	a.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh

	a.camMu.Lock()
	if err := a.camera.Close(); err != nil {
		a.logger.Warn("failed to close camera", "error", err)
	}
	a.camMu.Unlock()
	a.motion.Reset()

	a.logger.Info("pipeline stopped")
}

// runPipeline reads frames at the idle rate until motion is seen, then at
// the active rate while recognizing each frame. After IdleTimeout without
// motion it drops back to idle.
func (a *App) runPipeline(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stopCh
		cancel()
	}()

	active := false
	lastMotion := time.Now()
	var lastWord string
	var lastWordAt time.Time

	ticker := time.NewTicker(time.Second / time.Duration(a.config.IdleFPS))
	defer ticker.Stop()

	setRate := func(fps int) {
		a.camera.SetFPS(fps)
		ticker.Reset(time.Second / time.Duration(fps))
	}

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		frame, moved, err := a.readForPipeline()
		if err != nil {
			a.logger.Warn("failed to read frame", "error", err)
			continue
		}

		now := time.Now()
		if moved {
			lastMotion = now
			if !active {
				active = true
				setRate(a.config.ActiveFPS)
				a.logger.Debug("switched to active mode")
			}
		} else if active && now.Sub(lastMotion) > a.config.IdleTimeout {
			active = false
			setRate(a.config.IdleFPS)
			a.logger.Debug("switched to idle mode")
		}

		if !active || !a.IsEnabled() {
			continue
		}

		pred, err := a.model.Predict(ctx, frame.JPEG)
		if err != nil {
			a.logPipelineError(err)
			continue
		}

		// A held sign is reported once, not on every frame.
		if a.config.RepeatHoldoff > 0 && pred.Confidence >= a.config.Threshold &&
			pred.Label == lastWord && now.Sub(lastWordAt) < a.config.RepeatHoldoff {
			lastWordAt = now
			continue
		}

		if det := a.accept(ctx, pred); det.Accepted {
			lastWord = det.Label
			lastWordAt = now
		}
	}
}

// readForPipeline grabs a frame and runs motion detection on it.
func (a *App) readForPipeline() (*capture.Frame, bool, error) {
	a.camMu.Lock()
	mat, err := a.camera.ReadFrame()
	if err != nil {
		a.camMu.Unlock()
		return nil, false, err
	}
	moved, _ := a.motion.Detect(mat)
	data, err := capture.EncodeJPEG(*mat, a.config.JPEGQuality)
	width, height := mat.Cols(), mat.Rows()
	mat.Close()
	a.camMu.Unlock()
	if err != nil {
		return nil, false, err
	}

	frame := &capture.Frame{JPEG: data, Width: width, Height: height, Timestamp: time.Now()}
	a.mu.Lock()
	a.lastFrame = frame
	a.mu.Unlock()
	return frame, moved, nil
}

// logPipelineError logs recognition failures, staying quiet about an
// untrained or unloaded model.
func (a *App) logPipelineError(err error) {
	if errors.Is(err, knn.ErrEmptyModel) || errors.Is(err, model.ErrNotReady) || errors.Is(err, context.Canceled) {
		return
	}
	a.logger.Warn("recognition failed", "error", err)
}
