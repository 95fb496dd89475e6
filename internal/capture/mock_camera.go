package capture

import (
	"errors"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// ErrNoMoreFrames is returned by a non-looping MockCamera after its last frame.
var ErrNoMoreFrames = errors.New("no more frames")

// MockCamera plays back encoded images for testing.
type MockCamera struct {
	images  [][]byte
	index   int
	loop    bool
	fps     int
	reads   int
	err     error
	mu      sync.Mutex
	running bool
}

// NewMockCamera creates a camera that decodes images in order. With loop
// set it restarts from the first image after the last.
func NewMockCamera(images [][]byte, loop bool) *MockCamera {
	return &MockCamera{
		images: images,
		loop:   loop,
		fps:    DefaultFPS,
	}
}

func (c *MockCamera) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = true
	c.index = 0
	return nil
}

func (c *MockCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false
	return nil
}

func (c *MockCamera) ReadFrame() (*gocv.Mat, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, ErrCameraNotOpen
	}
	c.reads++
	if c.err != nil {
		return nil, c.err
	}
	if len(c.images) == 0 {
		return nil, ErrEmptyFrame
	}

	if c.index >= len(c.images) {
		if !c.loop {
			return nil, ErrNoMoreFrames
		}
		c.index = 0
	}

	mat, err := gocv.IMDecode(c.images[c.index], gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mock frame %d: %w", c.index, err)
	}
	if mat.Empty() {
		mat.Close()
		return nil, ErrEmptyFrame
	}
	c.index++

	return &mat, nil
}

func (c *MockCamera) SetFPS(fps int) {
	if fps <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fps = fps
}

func (c *MockCamera) FPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

func (c *MockCamera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// SetImages replaces the image sequence
func (c *MockCamera) SetImages(images [][]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.images = images
	c.index = 0
}

// SetError makes every following read fail with err. A nil err clears it.
func (c *MockCamera) SetError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Reads returns the number of ReadFrame calls on an open camera.
func (c *MockCamera) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}
