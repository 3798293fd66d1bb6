// Package storage defines the backend contract for dataset data. A dataset
// maps to one bucket (object store) or one directory (filesystem); items
// within it are keyed by name.
package storage

import (
	"context"
	"time"
)

// FileInfo describes one item within a dataset.
type FileInfo struct {
	Name     string
	Size     int64
	Modified time.Time
}

// Backend stores and retrieves dataset contents. Implementations must
// surface ErrDatasetExists, ErrDatasetNotFound and ErrItemNotFound from the
// errors package for the corresponding conditions so callers can map them
// onto protocol replies.
type Backend interface {
	// Create provisions empty storage for a dataset.
	Create(ctx context.Context, dataset string) error
	// Delete removes a dataset and everything in it.
	Delete(ctx context.Context, dataset string) error
	// Exists reports whether the dataset has provisioned storage.
	Exists(ctx context.Context, dataset string) (bool, error)
	// AddData writes one item, overwriting any previous content.
	AddData(ctx context.Context, dataset, item string, data []byte) error
	// GetData reads one item.
	GetData(ctx context.Context, dataset, item string) ([]byte, error)
	// ListFiles enumerates the dataset's items.
	ListFiles(ctx context.Context, dataset string) ([]FileInfo, error)
	// AccessLocation returns the address consumers use to reach the
	// dataset's contents directly.
	AccessLocation(dataset string) string
}
