// Package embed converts captured images into fixed-length feature vectors.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrEmbeddingUnavailable is returned when an image could not be embedded.
// Callers may retry.
var ErrEmbeddingUnavailable = errors.New("embedding unavailable")

// Source defines the interface for image embedding implementations.
type Source interface {
	// Embed converts encoded image bytes (JPEG or PNG) into a feature vector.
	// Errors wrap ErrEmbeddingUnavailable.
	Embed(ctx context.Context, image []byte) ([]float32, error)

	// Dimension returns the vector length, or 0 if it is only known after
	// the first successful call.
	Dimension() int

	// Close releases any resources held by the source.
	Close() error
}

// Provider names accepted by New.
const (
	ProviderThumbnail  = "thumbnail"
	ProviderDNN        = "dnn"
	ProviderSubprocess = "subprocess"
)

// Config holds configuration options for the embedding source.
type Config struct {
	// Provider selects the implementation (default: thumbnail).
	Provider string `yaml:"provider"`

	// ThumbnailSize is the side length of the grayscale thumbnail (default: 16).
	ThumbnailSize int `yaml:"thumbnail_size"`

	// ModelPath is the network file for the dnn provider.
	ModelPath string `yaml:"model_path"`

	// ConfigPath is the optional network config file for the dnn provider.
	ConfigPath string `yaml:"config_path"`

	// InputSize is the square input resolution of the network (default: 224).
	InputSize int `yaml:"input_size"`

	// OutputLayer names the layer to read features from. Empty uses the last layer.
	OutputLayer string `yaml:"output_layer"`

	// Command is the executable and arguments for the subprocess provider.
	Command []string `yaml:"command"`

	// IdleTimeout shuts down an idle subprocess (default: 30s).
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// Retries is the number of extra attempts after a failed embedding (default: 1).
	Retries int `yaml:"retries"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Provider:      ProviderThumbnail,
		ThumbnailSize: 16,
		InputSize:     224,
		IdleTimeout:   30 * time.Second,
		Retries:       1,
	}
}

// New creates the Source selected by cfg.Provider, wrapped with retries.
func New(cfg Config) (Source, error) {
	var (
		src Source
		err error
	)

	switch cfg.Provider {
	case "", ProviderThumbnail:
		src = NewThumbnail(cfg.ThumbnailSize)
	case ProviderDNN:
		src, err = NewDNN(cfg)
	case ProviderSubprocess:
		src, err = NewSubprocess(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Retries <= 0 {
		return src, nil
	}
	return WithRetry(src, RetryConfig{MaxRetries: cfg.Retries, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}, cfg.Logger), nil
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEmbeddingUnavailable, fmt.Sprintf(format, args...))
}
