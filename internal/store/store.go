// Package store persists serialized datasets. Each backend holds one opaque
// blob per key and replaces it atomically on write.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrNotFound is returned when a requested key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable is returned when the backend cannot be read or written.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Backend defines the interface for dataset storage implementations.
type Backend interface {
	// Read returns the blob stored under key, or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)

	// Write atomically replaces the blob stored under key. Last writer wins.
	Write(ctx context.Context, key string, blob []byte) error

	// Close releases any resources held by the backend.
	Close() error
}

// Drivers accepted by Open.
const (
	DriverSQLite    = "sqlite"
	DriverFile      = "file"
	DriverBolt      = "bolt"
	DriverBadger    = "badger"
	DriverS3        = "s3"
	DriverFirestore = "firestore"
	DriverMemory    = "memory"
)

// Config selects and configures a backend.
type Config struct {
	// Driver is one of the Driver constants (default: sqlite).
	Driver string `yaml:"driver"`

	// Path is the database file (sqlite, bolt), directory (file, badger).
	// Relative paths are resolved against the data directory.
	Path string `yaml:"path"`

	// Key is the dataset key (default: "model").
	Key string `yaml:"key"`

	S3        S3Config        `yaml:"s3"`
	Firestore FirestoreConfig `yaml:"firestore"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Driver: DriverSQLite,
		Path:   "mudra.db",
		Key:    "model",
		Firestore: FirestoreConfig{
			Collection: "models",
		},
	}
}

// Open creates the backend selected by cfg.Driver. Local paths are resolved
// against dataDir.
func Open(ctx context.Context, cfg Config, dataDir string) (Backend, error) {
	path := cfg.Path
	if path != "" && !filepath.IsAbs(path) {
		path = filepath.Join(dataDir, path)
	}

	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	switch cfg.Driver {
	case "", DriverSQLite:
		return NewSQLite(path)
	case DriverFile:
		return NewFile(path)
	case DriverBolt:
		return NewBolt(path)
	case DriverBadger:
		return NewBadger(BadgerOptions{Dir: path})
	case DriverS3:
		return NewS3FromConfig(cfg.S3)
	case DriverFirestore:
		return NewFirestore(ctx, cfg.Firestore)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func unavailable(op, key string, err error) error {
	return fmt.Errorf("%w: %s %s: %w", ErrStorageUnavailable, op, key, err)
}
