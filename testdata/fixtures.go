// Package testdata generates synthetic camera frames for tests.
package testdata

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/capture"
)

// Side selects the bright half of a frame.
type Side int

const (
	Left Side = iota
	Right
	Top
	Bottom
)

// Half returns a black width x height JPEG with the given half filled white.
// Different sides give clearly separated thumbnail embeddings.
func Half(width, height int, side Side) ([]byte, error) {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), height, width, gocv.MatTypeCV8UC3)
	defer mat.Close()

	var rect image.Rectangle
	switch side {
	case Left:
		rect = image.Rect(0, 0, width/2, height)
	case Right:
		rect = image.Rect(width/2, 0, width, height)
	case Top:
		rect = image.Rect(0, 0, width, height/2)
	case Bottom:
		rect = image.Rect(0, height/2, width, height)
	default:
		return nil, fmt.Errorf("unknown side %d", side)
	}
	gocv.Rectangle(&mat, rect, color.RGBA{R: 255, G: 255, B: 255}, -1)

	return capture.EncodeJPEG(mat, 95)
}

// Solid returns a width x height JPEG filled with one gray value.
func Solid(width, height int, value float64) ([]byte, error) {
	mat := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(value, value, value, 0), height, width, gocv.MatTypeCV8UC3)
	defer mat.Close()
	return capture.EncodeJPEG(mat, 95)
}

// Halves returns n copies of Half(width, height, side).
func Halves(width, height int, side Side, n int) ([][]byte, error) {
	img, err := Half(width, height, side)
	if err != nil {
		return nil, err
	}
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = img
	}
	return frames, nil
}
