package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStore keeps objects as files under a single directory.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(os.TempDir(), "studyclips-artifacts")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Put writes data to a temporary file and renames it into place so readers
// never observe a partial object.
func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := newObjectName()

	tempFile, err := os.CreateTemp(s.dir, name+"-*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create object file: %w", err)
	}
	tempPath := tempFile.Name()
	cleanup := func() { _ = os.Remove(tempPath) }

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		cleanup()
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to close object file: %w", err)
	}

	if err := os.Rename(tempPath, filepath.Join(s.dir, name)); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to finalize object: %w", err)
	}
	return name, nil
}

// Get opens the object named by locator.
func (s *FileStore) Get(ctx context.Context, locator string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := filepath.Base(filepath.Clean(locator))
	if name != locator || name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("object %q: %w", locator, ErrNotFound)
	}
	file, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("object %q: %w", locator, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return file, nil
}
