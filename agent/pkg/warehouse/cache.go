// Package warehouse holds decorators shared by warehouse implementations.
package warehouse

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/malbeclabs/analyst/agent/pkg/workflow"
)

const (
	defaultCatalogCacheTTL = 10 * time.Minute

	datasetsCacheKey = "datasets"
)

// CachingWarehouseConfig configures a CachingWarehouse.
type CachingWarehouseConfig struct {
	Logger    *slog.Logger
	Warehouse workflow.Warehouse
	TTL       time.Duration
}

func (c *CachingWarehouseConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Warehouse == nil {
		return errors.New("warehouse is required")
	}
	if c.TTL == 0 {
		c.TTL = defaultCatalogCacheTTL
	}
	return nil
}

// CachingWarehouse caches catalog lookups of an underlying warehouse.
// Queries are always passed through. Errors are never cached.
type CachingWarehouse struct {
	cfg *CachingWarehouseConfig

	cache   *ttlcache.Cache[string, any]
	cacheMu sync.RWMutex
}

// NewCachingWarehouse wraps cfg.Warehouse.
func NewCachingWarehouse(cfg *CachingWarehouseConfig) (*CachingWarehouse, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Hits do not extend an entry's lifetime so catalog changes show up within TTL.
	cache := ttlcache.New(
		ttlcache.WithTTL[string, any](cfg.TTL),
		ttlcache.WithDisableTouchOnHit[string, any](),
	)
	return &CachingWarehouse{cfg: cfg, cache: cache}, nil
}

func tablesCacheKey(dataset string) string {
	return "tables:" + dataset
}

func schemaCacheKey(dataset, table string) string {
	return "schema:" + dataset + "." + table
}

func (w *CachingWarehouse) get(key string) (any, bool) {
	w.cacheMu.RLock()
	defer w.cacheMu.RUnlock()
	cached := w.cache.Get(key)
	if cached == nil {
		return nil, false
	}
	return cached.Value(), true
}

func (w *CachingWarehouse) set(key string, value any) {
	w.cacheMu.Lock()
	defer w.cacheMu.Unlock()
	w.cache.Set(key, value, w.cfg.TTL)
}

// ListDatasets returns the cached dataset list, loading it on a miss.
func (w *CachingWarehouse) ListDatasets(ctx context.Context) ([]string, error) {
	if v, ok := w.get(datasetsCacheKey); ok {
		return slices.Clone(v.([]string)), nil
	}
	datasets, err := w.cfg.Warehouse.ListDatasets(ctx)
	if err != nil {
		return nil, err
	}
	w.set(datasetsCacheKey, slices.Clone(datasets))
	return datasets, nil
}

// ListTables returns the cached table list of a dataset, loading it on a miss.
func (w *CachingWarehouse) ListTables(ctx context.Context, dataset string) ([]string, error) {
	if v, ok := w.get(tablesCacheKey(dataset)); ok {
		return slices.Clone(v.([]string)), nil
	}
	tables, err := w.cfg.Warehouse.ListTables(ctx, dataset)
	if err != nil {
		return nil, err
	}
	w.set(tablesCacheKey(dataset), slices.Clone(tables))
	return tables, nil
}

// GetTableSchema returns the cached columns of a table, loading them on a miss.
func (w *CachingWarehouse) GetTableSchema(ctx context.Context, dataset, table string) ([]workflow.Column, error) {
	if v, ok := w.get(schemaCacheKey(dataset, table)); ok {
		return slices.Clone(v.([]workflow.Column)), nil
	}
	cols, err := w.cfg.Warehouse.GetTableSchema(ctx, dataset, table)
	if err != nil {
		return nil, err
	}
	w.cfg.Logger.Debug("warehouse: cached table schema", "dataset", dataset, "table", table, "columns", len(cols))
	w.set(schemaCacheKey(dataset, table), slices.Clone(cols))
	return cols, nil
}

// ExecuteQuery passes through to the underlying warehouse.
func (w *CachingWarehouse) ExecuteQuery(ctx context.Context, sql string, opts workflow.QueryOptions) (*workflow.TabularResult, error) {
	return w.cfg.Warehouse.ExecuteQuery(ctx, sql, opts)
}

// Invalidate drops every cached entry.
func (w *CachingWarehouse) Invalidate() {
	w.cacheMu.Lock()
	defer w.cacheMu.Unlock()
	w.cache.DeleteAll()
}
