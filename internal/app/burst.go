package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoCamera is returned by operations that need a camera when none is configured.
var ErrNoCamera = errors.New("no camera configured")

// ProgressFunc reports burst progress after each stored frame.
type ProgressFunc func(done, total int)

// CaptureBurst captures n frames from the camera at the given interval and
// adds each one as an example of label, in the order they were taken. It stops
// at the first error and returns how many frames were stored. Zero values
// select 50 frames and 100ms.
func (a *App) CaptureBurst(ctx context.Context, label string, n int, interval time.Duration, progress ProgressFunc) (int, error) {
	if a.camera == nil {
		return 0, ErrNoCamera
	}
	if n <= 0 {
		n = DefaultBurstFrames
	}
	if interval <= 0 {
		interval = DefaultBurstInterval
	}

	// Create the label if missing, before touching the camera
	label = strings.TrimSpace(label)
	if !a.model.HasLabel(label) {
		if _, err := a.model.AddLabel(label); err != nil {
			return 0, err
		}
	}

	if !a.camera.IsOpen() {
		if err := a.camera.Open(); err != nil {
			return 0, fmt.Errorf("failed to open camera: %w", err)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	stored := 0
	for stored < n {
		if stored > 0 {
			select {
			case <-ctx.Done():
				return stored, ctx.Err()
			case <-ticker.C:
			}
		}

		frame, err := a.grab()
		if err != nil {
			return stored, fmt.Errorf("frame %d: %w", stored+1, err)
		}
		if err := a.model.Capture(ctx, label, frame.JPEG); err != nil {
			return stored, fmt.Errorf("frame %d: %w", stored+1, err)
		}

		stored++
		if progress != nil {
			progress(stored, n)
		}
	}

	a.logger.Info("burst captured", "label", label, "frames", stored)
	return stored, nil
}
