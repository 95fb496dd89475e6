package embed

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"testing"
	"time"

	"gocv.io/x/gocv"
)

// encodeTestImage builds a size x size grayscale PNG where fill decides each pixel.
func encodeTestImage(t *testing.T, size int, fill func(x, y int) uint8) []byte {
	t.Helper()

	mat := gocv.NewMatWithSize(size, size, gocv.MatTypeCV8UC1)
	defer mat.Close()
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			mat.SetUCharAt(y, x, fill(x, y))
		}
	}

	buf, err := gocv.IMEncode(".png", mat)
	if err != nil {
		t.Fatalf("failed to encode test image: %v", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...)
}

func TestThumbnail_Embed(t *testing.T) {
	src := NewThumbnail(8)
	ctx := context.Background()

	leftBright := encodeTestImage(t, 64, func(x, y int) uint8 {
		if x < 32 {
			return 255
		}
		return 0
	})
	topBright := encodeTestImage(t, 64, func(x, y int) uint8 {
		if y < 32 {
			return 255
		}
		return 0
	})

	a1, err := src.Embed(ctx, leftBright)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	a2, err := src.Embed(ctx, leftBright)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	b, err := src.Embed(ctx, topBright)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}

	if len(a1) != src.Dimension() || src.Dimension() != 64 {
		t.Fatalf("got vector length %d, dimension %d, want 64", len(a1), src.Dimension())
	}

	// Same image embeds identically
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatalf("embedding is not deterministic at %d: %f != %f", i, a1[i], a2[i])
		}
	}

	// Unit length
	var norm float64
	for _, v := range a1 {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-4 {
		t.Errorf("expected unit length vector, got squared norm %f", norm)
	}

	// Different images embed differently
	var dist float64
	for i := range a1 {
		d := float64(a1[i] - b[i])
		dist += d * d
	}
	if dist < 0.1 {
		t.Errorf("expected different images to be far apart, got squared distance %f", dist)
	}
}

func TestThumbnail_UniformImage(t *testing.T) {
	img := encodeTestImage(t, 16, func(x, y int) uint8 { return 128 })

	vec, err := NewThumbnail(4).Embed(context.Background(), img)
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("expected zero vector for uniform image, got %f at %d", v, i)
		}
	}
}

func TestThumbnail_InvalidImage(t *testing.T) {
	src := NewThumbnail(0)

	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"not an image", []byte("definitely not a jpeg")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := src.Embed(context.Background(), tt.data)
			if !errors.Is(err, ErrEmbeddingUnavailable) {
				t.Errorf("expected ErrEmbeddingUnavailable, got %v", err)
			}
		})
	}
}

func TestMockSource(t *testing.T) {
	m := NewMockSource([]float32{1, 2})
	m.SetVector([]byte("special"), []float32{9, 9})

	v, err := m.Embed(context.Background(), []byte("anything"))
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if v[0] != 1 || v[1] != 2 {
		t.Errorf("got %v, want default vector", v)
	}

	v, _ = m.Embed(context.Background(), []byte("special"))
	if v[0] != 9 {
		t.Errorf("got %v, want configured vector", v)
	}

	m.SetError(unavailable("camera covered"))
	if _, err := m.Embed(context.Background(), nil); !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Errorf("expected configured error, got %v", err)
	}
	if m.Calls() != 3 {
		t.Errorf("got %d calls, want 3", m.Calls())
	}
}

// flakySource fails a fixed number of times before succeeding.
type flakySource struct {
	MockSource
	failures int
	err      error
}

func (f *flakySource) Embed(ctx context.Context, image []byte) ([]float32, error) {
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	return []float32{1}, nil
}

func TestWithRetry(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 1, BaseDelay: time.Millisecond}

	t.Run("single retry succeeds", func(t *testing.T) {
		src := &flakySource{failures: 1, err: unavailable("busy")}
		vec, err := WithRetry(src, cfg, nil).Embed(context.Background(), nil)
		if err != nil {
			t.Fatalf("Embed() error = %v", err)
		}
		if len(vec) != 1 || src.calls != 2 {
			t.Errorf("got vec %v after %d calls, want [1] after 2", vec, src.calls)
		}
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		src := &flakySource{failures: 5, err: unavailable("busy")}
		_, err := WithRetry(src, cfg, nil).Embed(context.Background(), nil)
		if !errors.Is(err, ErrEmbeddingUnavailable) {
			t.Errorf("expected ErrEmbeddingUnavailable, got %v", err)
		}
		if src.calls != 2 {
			t.Errorf("got %d calls, want 2", src.calls)
		}
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		boom := errors.New("boom")
		src := &flakySource{failures: 1, err: boom}
		_, err := WithRetry(src, cfg, nil).Embed(context.Background(), nil)
		if !errors.Is(err, boom) {
			t.Errorf("expected boom, got %v", err)
		}
		if src.calls != 1 {
			t.Errorf("got %d calls, want 1", src.calls)
		}
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		src := &flakySource{failures: 1, err: unavailable("busy")}
		_, err := WithRetry(src, RetryConfig{MaxRetries: 3, BaseDelay: time.Second}, nil).Embed(ctx, nil)
		if err == nil {
			t.Fatal("expected error with cancelled context")
		}
		if src.calls != 1 {
			t.Errorf("got %d calls, want 1", src.calls)
		}
	})
}

func TestNew(t *testing.T) {
	if _, err := New(Config{Provider: "bogus"}); err == nil {
		t.Error("expected error for unknown provider")
	}
	if _, err := New(Config{Provider: ProviderDNN}); err == nil {
		t.Error("expected error for dnn provider without model")
	}
	if _, err := New(Config{Provider: ProviderSubprocess}); err == nil {
		t.Error("expected error for subprocess provider without command")
	}

	src, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if src.Dimension() != 256 {
		t.Errorf("got dimension %d, want 256", src.Dimension())
	}
}

// TestHelperProcess is not a real test. It acts as the embedding service
// for TestSubprocess when run with GO_WANT_HELPER_PROCESS=1.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	in := bufio.NewReader(os.Stdin)
	out := json.NewEncoder(os.Stdout)
	for {
		var length uint32
		if err := binary.Read(in, binary.BigEndian, &length); err != nil {
			os.Exit(0)
		}
		data := make([]byte, length)
		if _, err := io.ReadFull(in, data); err != nil {
			os.Exit(1)
		}

		if string(data) == "fail" {
			out.Encode(subprocessResponse{Error: "cannot embed"})
			continue
		}
		out.Encode(subprocessResponse{Embedding: []float32{float32(len(data)), float32(data[0])}})
	}
}

func TestSubprocess(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping subprocess test in short mode")
	}
	t.Setenv("GO_WANT_HELPER_PROCESS", "1")

	src, err := NewSubprocess(Config{
		Command:     []string{os.Args[0], "-test.run=TestHelperProcess"},
		IdleTimeout: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewSubprocess() error = %v", err)
	}
	defer src.Close()

	if src.Dimension() != 0 {
		t.Errorf("dimension should be unknown before first call, got %d", src.Dimension())
	}

	for i, img := range [][]byte{[]byte("abc"), []byte("hello")} {
		vec, err := src.Embed(context.Background(), img)
		if err != nil {
			t.Fatalf("Embed() #%d error = %v", i, err)
		}
		want := []float32{float32(len(img)), float32(img[0])}
		if fmt.Sprint(vec) != fmt.Sprint(want) {
			t.Errorf("got %v, want %v", vec, want)
		}
	}

	if src.Dimension() != 2 {
		t.Errorf("got dimension %d, want 2", src.Dimension())
	}

	_, err = src.Embed(context.Background(), []byte("fail"))
	if !errors.Is(err, ErrEmbeddingUnavailable) {
		t.Errorf("expected ErrEmbeddingUnavailable, got %v", err)
	}

	// The service keeps running after a reported error
	if _, err := src.Embed(context.Background(), []byte("x")); err != nil {
		t.Errorf("Embed() after service error = %v", err)
	}
}
