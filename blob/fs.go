package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	imgproc "github.com/Rohithcheryala/Image-Processing-API"
)

// FS is a Store that writes blobs as files in a single directory.
type FS struct {
	root string
}

var _ Store = (*FS)(nil)

// NewFS creates the root directory if needed and returns a filesystem
// store rooted there.
func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("imgproc/blob: create root: %w", err)
	}
	return &FS{root: root}, nil
}

// Root returns the store's directory.
func (f *FS) Root() string { return f.root }

func (f *FS) path(key string) (string, error) {
	if !ValidKey(key) {
		return "", fmt.Errorf("imgproc/blob: invalid key %q", key)
	}
	return filepath.Join(f.root, key), nil
}

// Put writes data to a temp file and renames it into place so readers
// never observe a partial blob.
func (f *FS) Put(_ context.Context, key string, data []byte) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.root, "."+key+".tmp*")
	if err != nil {
		return fmt.Errorf("imgproc/blob: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("imgproc/blob: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("imgproc/blob: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("imgproc/blob: rename: %w", err)
	}
	return nil
}

func (f *FS) Get(_ context.Context, key string) ([]byte, error) {
	path, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, imgproc.ErrBlobNotFound
		}
		return nil, fmt.Errorf("imgproc/blob: read: %w", err)
	}
	return data, nil
}

func (f *FS) Delete(_ context.Context, key string) error {
	path, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("imgproc/blob: delete: %w", err)
	}
	return nil
}
