// Package fsstore implements storage.Backend on a local directory tree,
// one subdirectory per dataset. It serves development and single-node
// deployments where no object store is available.
package fsstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/storage"
)

// Store is a filesystem backend rooted at a single directory.
type Store struct {
	root string
}

var _ storage.Backend = (*Store)(nil)

// New creates the root directory if needed and returns a Store over it.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "fsstore", "New", "root validation")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.WrapFatal(err, "fsstore", "New", "create root directory")
	}
	return &Store{root: root}, nil
}

// itemPath resolves an item inside a dataset directory, rejecting names
// that would escape it.
func (s *Store) itemPath(dataset, item string) (string, error) {
	clean := filepath.Clean(item)
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", errors.WrapInvalid(errors.ErrItemNotFound, "fsstore", "itemPath", item)
	}
	return filepath.Join(s.root, dataset, clean), nil
}

// Create provisions the dataset's directory.
func (s *Store) Create(_ context.Context, dataset string) error {
	path := filepath.Join(s.root, dataset)
	if _, err := os.Stat(path); err == nil {
		return errors.WrapInvalid(errors.ErrDatasetExists, "fsstore", "Create", dataset)
	}
	if err := os.Mkdir(path, 0o755); err != nil {
		return errors.WrapTransient(err, "fsstore", "Create", "create directory")
	}
	return nil
}

// Delete removes the dataset directory and its contents.
func (s *Store) Delete(_ context.Context, dataset string) error {
	path := filepath.Join(s.root, dataset)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return errors.WrapInvalid(errors.ErrDatasetNotFound, "fsstore", "Delete", dataset)
	}
	if err := os.RemoveAll(path); err != nil {
		return errors.WrapTransient(err, "fsstore", "Delete", "remove directory")
	}
	return nil
}

// Exists reports whether the dataset directory is present.
func (s *Store) Exists(_ context.Context, dataset string) (bool, error) {
	_, err := os.Stat(filepath.Join(s.root, dataset))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.WrapTransient(err, "fsstore", "Exists", "stat directory")
	}
	return true, nil
}

// AddData writes one item, creating parent directories for nested names.
func (s *Store) AddData(ctx context.Context, dataset, item string, data []byte) error {
	if ok, err := s.Exists(ctx, dataset); err != nil {
		return err
	} else if !ok {
		return errors.WrapInvalid(errors.ErrDatasetNotFound, "fsstore", "AddData", dataset)
	}

	path, err := s.itemPath(dataset, item)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WrapTransient(err, "fsstore", "AddData", "create parent directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapTransient(err, "fsstore", "AddData", "write item")
	}
	return nil
}

// GetData reads one item.
func (s *Store) GetData(_ context.Context, dataset, item string) ([]byte, error) {
	path, err := s.itemPath(dataset, item)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, errors.WrapInvalid(errors.ErrItemNotFound, "fsstore", "GetData", item)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "fsstore", "GetData", "read item")
	}
	return data, nil
}

// ListFiles walks the dataset directory. Returns an empty slice, never nil,
// for an empty dataset.
func (s *Store) ListFiles(_ context.Context, dataset string) ([]storage.FileInfo, error) {
	base := filepath.Join(s.root, dataset)
	if _, err := os.Stat(base); os.IsNotExist(err) {
		return nil, errors.WrapInvalid(errors.ErrDatasetNotFound, "fsstore", "ListFiles", dataset)
	}

	files := make([]storage.FileInfo, 0)
	err := filepath.Walk(base, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		files = append(files, storage.FileInfo{
			Name:     filepath.ToSlash(rel),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "fsstore", "ListFiles", "walk directory")
	}
	return files, nil
}

// AccessLocation returns the dataset directory path.
func (s *Store) AccessLocation(dataset string) string {
	return filepath.Join(s.root, dataset)
}
