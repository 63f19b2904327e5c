package component

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/worker-executor/pkg/stores"
)

// ErrNotFound is returned when no component is stored for a key.
var ErrNotFound = errors.New("component not found")

// Loader fetches the Wasm binary of a component version.
type Loader interface {
	Load(ctx context.Context, key Key) ([]byte, error)
}

// BlobLoader stores component binaries in blob storage.
type BlobLoader struct {
	blobs stores.BlobStorage
}

// NewBlobLoader creates a loader over blobs.
func NewBlobLoader(blobs stores.BlobStorage) *BlobLoader {
	return &BlobLoader{blobs: blobs}
}

func componentBlobPath(key Key) string {
	return fmt.Sprintf("component/%s/%d.wasm", key.ComponentID, key.Version)
}

// Load returns the binary stored for key.
func (l *BlobLoader) Load(ctx context.Context, key Key) ([]byte, error) {
	data, ok, err := l.blobs.GetBlob(ctx, componentBlobPath(key))
	if err != nil {
		return nil, fmt.Errorf("failed to load component %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return data, nil
}

// Store saves the binary of key.
func (l *BlobLoader) Store(ctx context.Context, key Key, data []byte) error {
	if err := l.blobs.PutBlob(ctx, componentBlobPath(key), data); err != nil {
		return fmt.Errorf("failed to store component %s: %w", key, err)
	}
	return nil
}
