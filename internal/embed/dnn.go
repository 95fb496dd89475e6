package embed

import (
	"context"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// DNN embeds images with a pretrained network loaded through OpenCV's dnn
// module (ONNX, Caffe, TensorFlow or Darknet). The activations of the output
// layer are flattened into the feature vector.
type DNN struct {
	net       gocv.Net
	inputSize int
	output    string

	mu  sync.Mutex
	dim int
}

// NewDNN loads the network at cfg.ModelPath.
func NewDNN(cfg Config) (*DNN, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("dnn embedding requires model_path")
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		return nil, fmt.Errorf("load network %s: empty network", cfg.ModelPath)
	}

	size := cfg.InputSize
	if size <= 0 {
		size = 224
	}

	return &DNN{
		net:       net,
		inputSize: size,
		output:    cfg.OutputLayer,
	}, nil
}

// Embed runs a forward pass over the decoded image.
func (d *DNN) Embed(ctx context.Context, img []byte) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("%v", err)
	}

	mat, err := gocv.IMDecode(img, gocv.IMReadColor)
	if err != nil {
		return nil, unavailable("decode image: %v", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, unavailable("decode image: no pixels")
	}

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(d.inputSize, d.inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	// gocv.Net is not safe for concurrent forward passes.
	d.mu.Lock()
	defer d.mu.Unlock()

	d.net.SetInput(blob, "")
	out := d.net.Forward(d.output)
	defer out.Close()

	if out.Empty() {
		return nil, unavailable("forward pass returned no output")
	}

	flat := out.Reshape(1, 1)
	defer flat.Close()

	vec := make([]float32, flat.Cols())
	for i := range vec {
		vec[i] = flat.GetFloatAt(0, i)
	}
	d.dim = len(vec)

	return vec, nil
}

// Dimension returns the output length once the first image has been embedded.
func (d *DNN) Dimension() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dim
}

// Close releases the network.
func (d *DNN) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.net.Close()
}
