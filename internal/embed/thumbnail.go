package embed

import (
	"context"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// Thumbnail embeds an image as a mean-centered, unit-length grayscale thumbnail.
// It needs no model file and is deterministic, which makes it useful for
// tests and for machines without a pretrained network.
type Thumbnail struct {
	size int
}

// NewThumbnail creates a Thumbnail source producing size*size values.
// Sizes less than or equal to 0 select 16.
func NewThumbnail(size int) *Thumbnail {
	if size <= 0 {
		size = 16
	}
	return &Thumbnail{size: size}
}

// Embed decodes the image and returns its normalized thumbnail.
func (t *Thumbnail) Embed(ctx context.Context, img []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("%v", err)
	}
	if len(img) == 0 {
		return nil, unavailable("empty image")
	}

	mat, err := gocv.IMDecode(img, gocv.IMReadGrayScale)
	if err != nil {
		return nil, unavailable("decode image: %v", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, unavailable("decode image: no pixels")
	}

	small := gocv.NewMat()
	defer small.Close()
	gocv.Resize(mat, &small, image.Pt(t.size, t.size), 0, 0, gocv.InterpolationArea)

	pixels := make([]uint8, 0, t.size*t.size)
	sum := 0
	for y := 0; y < t.size; y++ {
		for x := 0; x < t.size; x++ {
			p := small.GetUCharAt(y, x)
			sum += int(p)
			pixels = append(pixels, p)
		}
	}
	mean := float64(sum) / float64(len(pixels)) / 255.0

	// Center and scale to unit length so brightness changes matter less.
	vec := make([]float32, len(pixels))
	var norm float64
	for i, p := range pixels {
		d := float64(p)/255.0 - mean
		vec[i] = float32(d)
		norm += d * d
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}

	return vec, nil
}

// Dimension returns size*size.
func (t *Thumbnail) Dimension() int {
	return t.size * t.size
}

// Close is a no-op for the thumbnail source.
func (t *Thumbnail) Close() error {
	return nil
}
