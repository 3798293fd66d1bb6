// Package inquiry implements dataset management and the requirement
// inquiry/derivation engine: deciding whether a job's data requirements can
// be met by known datasets and synthesizing the datasets that can be
// generated from what a job carries.
package inquiry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/NOAA-OWP/DMOD-sub002/datasets"
	"github.com/NOAA-OWP/DMOD-sub002/errors"
	"github.com/NOAA-OWP/DMOD-sub002/metric"
	"github.com/NOAA-OWP/DMOD-sub002/storage"
)

// ManagerCollection tracks every known dataset and fronts its backing
// storage. All iteration over datasets is in lexicographic name order, so
// any selection among equally viable datasets is deterministic.
type ManagerCollection struct {
	backend storage.Backend
	logger  *slog.Logger
	metrics *metric.Metrics

	mu    sync.RWMutex
	known map[string]*datasets.Dataset
}

// NewManagerCollection builds a collection over a storage backend.
func NewManagerCollection(backend storage.Backend, metrics *metric.Metrics, logger *slog.Logger) (*ManagerCollection, error) {
	if backend == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "ManagerCollection", "New", "backend validation")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ManagerCollection{
		backend: backend,
		logger:  logger,
		metrics: metrics,
		known:   make(map[string]*datasets.Dataset),
	}, nil
}

// CreateDataset validates the name and domain, provisions storage and
// registers the dataset. A non-nil expires marks it temporary.
func (c *ManagerCollection) CreateDataset(
	ctx context.Context,
	name string,
	category datasets.DataCategory,
	domain datasets.DataDomain,
	readOnly bool,
	expires *time.Time,
) (*datasets.Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.known[name]; exists {
		return nil, errors.WrapInvalid(errors.ErrDatasetExists, "ManagerCollection", "CreateDataset", name)
	}

	ds, err := datasets.New(name, category, domain, c.backend.AccessLocation(name), readOnly)
	if err != nil {
		return nil, err
	}
	ds.Expires = expires

	if err := c.backend.Create(ctx, name); err != nil {
		return nil, err
	}

	c.known[name] = ds
	if c.metrics != nil {
		c.metrics.DatasetsManaged.Set(float64(len(c.known)))
	}
	c.logger.Info("dataset created",
		"dataset", name, "category", category, "format", domain.Format, "temporary", expires != nil)
	return ds, nil
}

// Adopt registers an existing dataset record without provisioning storage,
// used when reloading state for data already in the backend.
func (c *ManagerCollection) Adopt(ds *datasets.Dataset) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.known[ds.Name]; exists {
		return errors.WrapInvalid(errors.ErrDatasetExists, "ManagerCollection", "Adopt", ds.Name)
	}
	c.known[ds.Name] = ds
	if c.metrics != nil {
		c.metrics.DatasetsManaged.Set(float64(len(c.known)))
	}
	return nil
}

// GetDataset returns a known dataset by name.
func (c *ManagerCollection) GetDataset(name string) (*datasets.Dataset, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ds, ok := c.known[name]
	return ds, ok
}

// Names returns every known dataset name in lexicographic order.
func (c *ManagerCollection) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sortedNamesLocked()
}

// All returns every known dataset in lexicographic name order.
func (c *ManagerCollection) All() []*datasets.Dataset {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*datasets.Dataset, 0, len(c.known))
	for _, name := range c.sortedNamesLocked() {
		out = append(out, c.known[name])
	}
	return out
}

func (c *ManagerCollection) sortedNamesLocked() []string {
	names := make([]string, 0, len(c.known))
	for name := range c.known {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeleteDataset removes a dataset and its stored contents. Read-only
// datasets cannot be deleted through management operations.
func (c *ManagerCollection) DeleteDataset(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deleteLocked(ctx, name)
}

func (c *ManagerCollection) deleteLocked(ctx context.Context, name string) error {
	ds, exists := c.known[name]
	if !exists {
		return errors.WrapInvalid(errors.ErrDatasetNotFound, "ManagerCollection", "DeleteDataset", name)
	}
	if ds.IsReadOnly {
		return errors.WrapInvalid(
			fmt.Errorf("dataset %q is read-only", name),
			"ManagerCollection", "DeleteDataset", "read-only check")
	}
	if err := c.backend.Delete(ctx, name); err != nil && !errors.Is(err, errors.ErrDatasetNotFound) {
		return err
	}
	delete(c.known, name)
	if c.metrics != nil {
		c.metrics.DatasetsManaged.Set(float64(len(c.known)))
	}
	c.logger.Info("dataset deleted", "dataset", name)
	return nil
}

// AddData writes one item into a dataset and bumps its update time.
func (c *ManagerCollection) AddData(ctx context.Context, name, item string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ds, exists := c.known[name]
	if !exists {
		return errors.WrapInvalid(errors.ErrDatasetNotFound, "ManagerCollection", "AddData", name)
	}
	if ds.IsReadOnly {
		return errors.WrapInvalid(
			fmt.Errorf("dataset %q is read-only", name),
			"ManagerCollection", "AddData", "read-only check")
	}
	if err := c.backend.AddData(ctx, name, item, data); err != nil {
		return err
	}
	ds.Touch()
	return nil
}

// GetData reads one item from a dataset.
func (c *ManagerCollection) GetData(ctx context.Context, name, item string) ([]byte, error) {
	c.mu.RLock()
	_, exists := c.known[name]
	c.mu.RUnlock()
	if !exists {
		return nil, errors.WrapInvalid(errors.ErrDatasetNotFound, "ManagerCollection", "GetData", name)
	}
	return c.backend.GetData(ctx, name, item)
}

// ListItems enumerates a dataset's items.
func (c *ManagerCollection) ListItems(ctx context.Context, name string) ([]storage.FileInfo, error) {
	c.mu.RLock()
	_, exists := c.known[name]
	c.mu.RUnlock()
	if !exists {
		return nil, errors.WrapInvalid(errors.ErrDatasetNotFound, "ManagerCollection", "ListItems", name)
	}
	return c.backend.ListFiles(ctx, name)
}

// PurgeExpired deletes every temporary dataset whose expiry has passed,
// returning how many were removed. Intended as a background task.
func (c *ManagerCollection) PurgeExpired(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	purged := 0
	for _, name := range c.sortedNamesLocked() {
		ds := c.known[name]
		if !ds.IsExpired(now) {
			continue
		}
		if err := c.deleteLocked(ctx, name); err != nil {
			c.logger.Warn("expired dataset purge failed", "dataset", name, "error", err)
			continue
		}
		purged++
	}
	return purged, nil
}
