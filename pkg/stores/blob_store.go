package stores

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// BlobStorage stores opaque blobs by slash separated path.
type BlobStorage interface {
	PutBlob(ctx context.Context, path string, data []byte) error
	GetBlob(ctx context.Context, path string) ([]byte, bool, error)
	DeleteBlob(ctx context.Context, path string) error
}

// MemoryBlobStore implements BlobStorage in process memory.
type MemoryBlobStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (s *MemoryBlobStore) PutBlob(_ context.Context, path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[path] = slices.Clone(data)
	return nil
}

func (s *MemoryBlobStore) GetBlob(_ context.Context, path string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, false, nil
	}
	return slices.Clone(data), true, nil
}

func (s *MemoryBlobStore) DeleteBlob(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, path)
	return nil
}

// FSBlobStore implements BlobStorage on a local directory tree.
type FSBlobStore struct {
	root string
}

// NewFSBlobStore creates a blob store rooted at root, creating the directory
// if needed.
func NewFSBlobStore(root string) (*FSBlobStore, error) {
	if root == "" {
		return nil, fmt.Errorf("blob storage root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob storage root: %w", err)
	}
	return &FSBlobStore{root: root}, nil
}

func (s *FSBlobStore) resolve(path string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid blob path %q", path)
	}
	return filepath.Join(s.root, clean), nil
}

func (s *FSBlobStore) PutBlob(_ context.Context, path string, data []byte) error {
	target, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".blob-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary blob: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to publish blob: %w", err)
	}
	return nil
}

func (s *FSBlobStore) GetBlob(_ context.Context, path string) ([]byte, bool, error) {
	target, err := s.resolve(path)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, true, nil
}

func (s *FSBlobStore) DeleteBlob(_ context.Context, path string) error {
	target, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}
