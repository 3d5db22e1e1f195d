package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/interfaces"
	"github.com/giygas/ndc-report/logging"
)

var _ interfaces.Cache = (*FileCache)(nil)

// FileCache is a JSON object keyed by 11 digit NDC, stored in a single file.
//
// Writes are kept in memory until Flush, which re-reads the file, merges the
// pending entries over it (last writer wins per key) and replaces the file
// through a temporary file and rename, so concurrent processes never observe
// a partially written cache.
type FileCache struct {
	path      string
	autoFlush bool

	mu      sync.RWMutex
	entries map[entities.CanonicalNDC]entities.CacheEntry
	dirty   map[entities.CanonicalNDC]entities.CacheEntry
}

// FileOption customises a FileCache
type FileOption func(*FileCache)

// WithAutoFlush makes every Put flush immediately
func WithAutoFlush(enabled bool) FileOption {
	return func(c *FileCache) {
		c.autoFlush = enabled
	}
}

// DefaultPath returns the per-user cache location
func DefaultPath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = filepath.Join(".", ".cache")
	}
	return filepath.Join(dir, "ndc_report_rxnav.json")
}

// OpenFileCache loads the cache at path. A missing file gives an empty cache and
// an unreadable or corrupt file is logged and treated as empty.
func OpenFileCache(path string, opts ...FileOption) *FileCache {
	c := &FileCache{
		path:  filepath.Clean(path),
		dirty: make(map[entities.CanonicalNDC]entities.CacheEntry),
	}
	for _, opt := range opts {
		opt(c)
	}

	entries, err := readCacheFile(c.path)
	if err != nil {
		logging.Warn("Ignoring unreadable NDC cache", "path", c.path, "error", err)
		entries = make(map[entities.CanonicalNDC]entities.CacheEntry)
	}
	c.entries = entries

	logging.Debug("NDC cache loaded", "path", c.path, "entries", len(entries))
	return c
}

func readCacheFile(path string) (map[entities.CanonicalNDC]entities.CacheEntry, error) {
	entries := make(map[entities.CanonicalNDC]entities.CacheEntry)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file %s: %w", path, err)
	}
	if len(data) == 0 {
		return entries, nil
	}

	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode cache file %s: %w", path, err)
	}
	return entries, nil
}

func (c *FileCache) Get(_ context.Context, ndc entities.CanonicalNDC) (entities.CacheEntry, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[ndc]
	return e, ok, nil
}

func (c *FileCache) Put(ctx context.Context, ndc entities.CanonicalNDC, entry entities.CacheEntry) error {
	c.mu.Lock()
	c.entries[ndc] = entry
	c.dirty[ndc] = entry
	c.mu.Unlock()

	if c.autoFlush {
		return c.Flush(ctx)
	}
	return nil
}

// Flush merges pending entries into the file on disk
func (c *FileCache) Flush(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.dirty) == 0 {
		return nil
	}

	onDisk, err := readCacheFile(c.path)
	if err != nil {
		logging.Warn("Overwriting unreadable NDC cache", "path", c.path, "error", err)
		onDisk = make(map[entities.CanonicalNDC]entities.CacheEntry)
	}
	for code, entry := range c.dirty {
		onDisk[code] = entry
	}

	if err := writeAtomic(c.path, onDisk); err != nil {
		return err
	}

	// pick up entries other processes wrote since we loaded
	c.entries = onDisk
	written := len(c.dirty)
	c.dirty = make(map[entities.CanonicalNDC]entities.CacheEntry)

	logging.Debug("NDC cache flushed", "path", c.path, "written", written, "entries", len(onDisk))
	return nil
}

func writeAtomic(path string, entries map[entities.CanonicalNDC]entities.CacheEntry) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cache: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary cache file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once renamed
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temporary cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary cache file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace cache file %s: %w", path, err)
	}
	return nil
}

// Path returns the location of the cache file
func (c *FileCache) Path() string {
	return c.path
}

// Len returns the number of cached codes
func (c *FileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
