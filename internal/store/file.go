package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// File stores each dataset as a file in a directory. Writes go to a temporary
// file that is renamed over the target, so readers never see a partial blob.
type File struct {
	dir string
}

// NewFile creates a File backend rooted at dir, creating it if needed.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("file storage requires a directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &File{dir: dir}, nil
}

func (f *File) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid key %q", key)
	}
	return filepath.Join(f.dir, key+".dataset"), nil
}

// Read returns the contents of the file for key.
func (f *File) Read(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("read", key, err)
	}

	path, err := f.path(key)
	if err != nil {
		return nil, unavailable("read", key, err)
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("read", key, err)
	}
	return data, nil
}

// Write atomically replaces the file for key.
func (f *File) Write(ctx context.Context, key string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return unavailable("write", key, err)
	}

	path, err := f.path(key)
	if err != nil {
		return unavailable("write", key, err)
	}

	tmp, err := os.CreateTemp(f.dir, key+".*.tmp")
	if err != nil {
		return unavailable("write", key, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return unavailable("write", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return unavailable("write", key, err)
	}
	if err := tmp.Close(); err != nil {
		return unavailable("write", key, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return unavailable("write", key, err)
	}
	return nil
}

// Close is a no-op for the file backend.
func (f *File) Close() error {
	return nil
}
