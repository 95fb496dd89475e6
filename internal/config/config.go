// Package config loads the mudra configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ayusman/mudra/internal/embed"
	"github.com/ayusman/mudra/internal/knn"
	"github.com/ayusman/mudra/internal/logging"
	"github.com/ayusman/mudra/internal/plugin"
	"github.com/ayusman/mudra/internal/sentence"
	"github.com/ayusman/mudra/internal/store"
)

// Config holds all configuration for mudra.
type Config struct {
	DataDir    string           `yaml:"data_dir"`
	Server     ServerConfig     `yaml:"server"`
	Camera     CameraConfig     `yaml:"camera"`
	Embedding  embed.Config     `yaml:"embedding"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Capture    CaptureConfig    `yaml:"capture"`
	Sentence   SentenceConfig   `yaml:"sentence"`
	Storage    store.Config     `yaml:"storage"`
	Plugins    PluginsConfig    `yaml:"plugins"`
	Logging    logging.Config   `yaml:"logging"`
	Tray       TrayConfig       `yaml:"tray"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"` // Optional web UI directory
}

// CameraConfig holds camera and live pipeline configuration.
type CameraConfig struct {
	DeviceID        int           `yaml:"device_id"`
	IdleFPS         int           `yaml:"idle_fps"`
	ActiveFPS       int           `yaml:"active_fps"`
	MotionThreshold float64       `yaml:"motion_threshold"` // Percent of changed pixels
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	JPEGQuality     int           `yaml:"jpeg_quality"`
	RepeatHoldoff   time.Duration `yaml:"repeat_holdoff"` // Ignore a repeated word within this window
}

// ClassifierConfig holds k-NN and acceptance configuration.
type ClassifierConfig struct {
	K         int     `yaml:"k"`
	Threshold float64 `yaml:"threshold"`
	Format    string  `yaml:"format"` // json or msgpack
}

// CaptureConfig holds burst capture configuration.
type CaptureConfig struct {
	Frames   int           `yaml:"frames"`
	Interval time.Duration `yaml:"interval"`
}

// SentenceConfig holds sentence matching configuration.
type SentenceConfig struct {
	HistorySize int      `yaml:"history_size"`
	Phrases     []string `yaml:"phrases"` // Added to the built-in phrases
}

// PluginsConfig holds plugin discovery and hook configuration.
type PluginsConfig struct {
	Dir       string        `yaml:"dir"`
	TimeoutMs int           `yaml:"timeout_ms"`
	Hooks     []plugin.Hook `yaml:"hooks"`
}

// TrayConfig holds system tray configuration.
type TrayConfig struct {
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: defaultDataDir(),
		Server: ServerConfig{
			Addr: ":8080",
		},
		Camera: CameraConfig{
			DeviceID:        0,
			IdleFPS:         5,
			ActiveFPS:       15,
			MotionThreshold: 1.0,
			IdleTimeout:     2 * time.Second,
			JPEGQuality:     80,
			RepeatHoldoff:   1500 * time.Millisecond,
		},
		Embedding: embed.DefaultConfig(),
		Classifier: ClassifierConfig{
			K:         knn.DefaultK,
			Threshold: 0.8,
			Format:    string(knn.FormatJSON),
		},
		Capture: CaptureConfig{
			Frames:   50,
			Interval: 100 * time.Millisecond,
		},
		Sentence: SentenceConfig{
			HistorySize: sentence.DefaultHistorySize,
		},
		Storage: store.DefaultConfig(),
		Plugins: PluginsConfig{
			Dir:       "plugins",
			TimeoutMs: 5000,
		},
		Logging: logging.DefaultConfig(),
		Tray: TrayConfig{
			Enabled: false,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for mudra.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "mudra.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".mudra", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Classifier.K < 0 {
		errs = append(errs, fmt.Errorf("classifier.k must not be negative, got %d", c.Classifier.K))
	}
	if c.Classifier.Threshold <= 0 || c.Classifier.Threshold > 1 {
		errs = append(errs, fmt.Errorf("classifier.threshold must be within (0, 1], got %v", c.Classifier.Threshold))
	}
	if _, err := knn.ParseFormat(c.Classifier.Format); err != nil {
		errs = append(errs, fmt.Errorf("classifier.format: %w", err))
	}
	if c.Capture.Frames <= 0 {
		errs = append(errs, fmt.Errorf("capture.frames must be positive, got %d", c.Capture.Frames))
	}
	if c.Capture.Interval < 0 {
		errs = append(errs, fmt.Errorf("capture.interval must not be negative, got %v", c.Capture.Interval))
	}
	if c.Sentence.HistorySize <= 0 {
		errs = append(errs, fmt.Errorf("sentence.history_size must be positive, got %d", c.Sentence.HistorySize))
	}
	if c.Camera.IdleFPS <= 0 || c.Camera.ActiveFPS <= 0 {
		errs = append(errs, fmt.Errorf("camera fps must be positive, got idle=%d active=%d", c.Camera.IdleFPS, c.Camera.ActiveFPS))
	}
	if c.Camera.JPEGQuality < 1 || c.Camera.JPEGQuality > 100 {
		errs = append(errs, fmt.Errorf("camera.jpeg_quality must be within [1, 100], got %d", c.Camera.JPEGQuality))
	}

	switch c.Embedding.Provider {
	case "", embed.ProviderThumbnail, embed.ProviderDNN, embed.ProviderSubprocess:
	default:
		errs = append(errs, fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider))
	}

	switch c.Storage.Driver {
	case "", store.DriverSQLite, store.DriverFile, store.DriverBolt, store.DriverBadger, store.DriverMemory:
	case store.DriverS3:
		if c.Storage.S3.Bucket == "" {
			errs = append(errs, errors.New("storage.s3.bucket is required"))
		}
	case store.DriverFirestore:
		if c.Storage.Firestore.ProjectID == "" {
			errs = append(errs, errors.New("storage.firestore.project_id is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	if c.Storage.Key == "" {
		errs = append(errs, errors.New("storage.key is required"))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}

	for i, h := range c.Plugins.Hooks {
		if h.Event != plugin.EventWord && h.Event != plugin.EventSentence {
			errs = append(errs, fmt.Errorf("plugins.hooks[%d]: unknown event %q", i, h.Event))
		}
		if h.Plugin == "" || h.Action == "" {
			errs = append(errs, fmt.Errorf("plugins.hooks[%d]: plugin and action are required", i))
		}
	}

	return errors.Join(errs...)
}

// ResolvePath returns path relative to the data directory unless it is absolute.
func (c *Config) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(ExpandHome(c.DataDir), path)
}

// PluginDir returns the resolved plugin directory.
func (c *Config) PluginDir() string {
	return c.ResolvePath(c.Plugins.Dir)
}

// Phrases returns the built-in phrases followed by the configured ones.
func (c *Config) Phrases() []string {
	phrases := make([]string, 0, len(sentence.DefaultPhrases)+len(c.Sentence.Phrases))
	phrases = append(phrases, sentence.DefaultPhrases...)
	return append(phrases, c.Sentence.Phrases...)
}

// EnsureDataDir ensures the data directory exists and returns its path.
func (c *Config) EnsureDataDir() (string, error) {
	dir := ExpandHome(c.DataDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mudra"
	}
	return filepath.Join(home, ".mudra")
}
