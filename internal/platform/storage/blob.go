package storage

import (
	"context"
	"fmt"

	"shopimage-server-go/internal/platform/config"
)

// Driver identifiers supported by the blob layer.
const (
	DriverFS = "fs"
)

// Blob is a stored artifact together with its media type.
type Blob struct {
	Data        []byte
	ContentType string
}

// BlobStore persists encoded artifacts under hierarchical keys such as
// "2026-08-31/3f2a....webp". Keys use forward slashes regardless of OS.
type BlobStore interface {
	Put(ctx context.Context, key string, blob Blob) error
	Get(ctx context.Context, key string) (Blob, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// NewBlobStore creates a blob store based on the provided configuration.
func NewBlobStore(cfg config.StorageConfig) (BlobStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFS
	}

	switch driver {
	case DriverFS:
		return NewFSStore(cfg.FS.Root)
	default:
		return nil, fmt.Errorf("unsupported blob store driver: %s", driver)
	}
}
