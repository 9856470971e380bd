package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"shopimage-server-go/internal/platform/errors"
)

// contentTypeByExt maps stored file extensions back to media types so Get
// can serve a blob without a sidecar metadata file.
var contentTypeByExt = map[string]string{
	".webp": "image/webp",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".pdf":  "application/pdf",
	".zip":  "application/zip",
}

type fsStore struct {
	root string
}

// NewFSStore builds a filesystem-backed blob store rooted at root.
func NewFSStore(root string) (BlobStore, error) {
	if root == "" {
		return nil, errors.New(errors.KindStorage, "fs.new", "storage root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "fs.new", "failed to create storage root", err)
	}
	return &fsStore{root: root}, nil
}

func (s *fsStore) Put(ctx context.Context, key string, blob Blob) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.KindStorage, "fs.put", "failed to create blob directory", err)
	}

	// Write to a temp file first so readers never observe a partial blob.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return errors.Wrap(errors.KindStorage, "fs.put", "failed to create temp file", err)
	}
	if _, err := tmp.Write(blob.Data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(errors.KindStorage, "fs.put", "failed to write blob", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(errors.KindStorage, "fs.put", "failed to close temp file", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(errors.KindStorage, "fs.put", "failed to finalise blob", err)
	}
	return nil
}

func (s *fsStore) Get(ctx context.Context, key string) (Blob, error) {
	path, err := s.resolve(key)
	if err != nil {
		return Blob{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Blob{}, errors.New(errors.KindStorage, "fs.get", "blob not found: "+key)
		}
		return Blob{}, errors.Wrap(errors.KindStorage, "fs.get", "failed to read blob", err)
	}
	ct := contentTypeByExt[strings.ToLower(filepath.Ext(path))]
	if ct == "" {
		ct = "application/octet-stream"
	}
	return Blob{Data: data, ContentType: ct}, nil
}

func (s *fsStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(errors.KindStorage, "fs.exists", "failed to stat blob", err)
	}
	return true, nil
}

func (s *fsStore) Delete(ctx context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.KindStorage, "fs.delete", "failed to delete blob", err)
	}
	return nil
}

// resolve rejects keys that would escape the storage root. Absolute keys
// are invalid; callers strip any route-derived leading slash themselves.
func (s *fsStore) resolve(key string) (string, error) {
	if key == "" {
		return "", errors.New(errors.KindStorage, "fs.resolve", "empty blob key")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.IsAbs(clean) {
		return "", errors.New(errors.KindStorage, "fs.resolve", "invalid blob key: "+key)
	}
	return filepath.Join(s.root, clean), nil
}
