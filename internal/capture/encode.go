package capture

import (
	"fmt"
	"time"

	"gocv.io/x/gocv"
)

// DefaultJPEGQuality is used when no quality is configured.
const DefaultJPEGQuality = 80

// Frame is an encoded camera image.
type Frame struct {
	JPEG      []byte
	Width     int
	Height    int
	Timestamp time.Time
}

// EncodeJPEG encodes mat as a JPEG at quality (1-100).
func EncodeJPEG(mat gocv.Mat, quality int) ([]byte, error) {
	if mat.Empty() {
		return nil, ErrEmptyFrame
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{int(gocv.IMWriteJpegQuality), quality})
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()

	// GetBytes aliases native memory released by Close.
	return append([]byte(nil), buf.GetBytes()...), nil
}

// Grab reads one frame from cam and returns it JPEG encoded.
func Grab(cam Camera, quality int) (*Frame, error) {
	mat, err := cam.ReadFrame()
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	data, err := EncodeJPEG(*mat, quality)
	if err != nil {
		return nil, err
	}

	return &Frame{
		JPEG:      data,
		Width:     mat.Cols(),
		Height:    mat.Rows(),
		Timestamp: time.Now(),
	}, nil
}
