package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileStore is a durable backend keeping one <id>.json file per snapshot in a
// local directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns the backend.
func NewFileStore(dir string) (*FileStore, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve snapshot directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileStore{dir: absDir}, nil
}

// Name identifies this backend in errors and logs.
func (f *FileStore) Name() string { return "file" }

func (f *FileStore) path(id string) string {
	return filepath.Join(f.dir, id+".json")
}

// Put writes the serialized snapshot to <dir>/<id>.json.
func (f *FileStore) Put(_ context.Context, id string, data []byte) error {
	return os.WriteFile(f.path(id), data, 0o644)
}

// Get reads the serialized snapshot. A missing file is a miss, not an error.
func (f *FileStore) Get(_ context.Context, id string) ([]byte, bool, error) {
	data, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// ListIDs enumerates snapshot ids from the stored filenames.
func (f *FileStore) ListIDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

// DeleteAll removes every stored snapshot file.
func (f *FileStore) DeleteAll(ctx context.Context) error {
	ids, err := f.ListIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := os.Remove(f.path(id)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Ping verifies the directory is still accessible.
func (f *FileStore) Ping(_ context.Context) error {
	_, err := os.Stat(f.dir)
	return err
}
