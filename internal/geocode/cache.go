package geocode

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/lukasbeuster/KerbSide/internal/logger"
)

// Cache is a persistent place cache keyed by place name. It is loaded once
// at the start of a run and written back on every update. Entries are never
// invalidated or expired.
type Cache struct {
	path    string
	entries map[string]Place
}

// LoadCache loads the cache file at path. A missing file yields an empty
// cache.
func LoadCache(path string) (*Cache, error) {
	cache := &Cache{
		path:    path,
		entries: make(map[string]Place),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cache, nil
		}
		return nil, fmt.Errorf("failed to read place cache: %w", err)
	}

	if err := json.Unmarshal(data, &cache.entries); err != nil {
		return nil, fmt.Errorf("failed to parse place cache: %w", err)
	}

	logger.Get().Debug("Loaded place cache",
		zap.String("path", path),
		zap.Int("entries", cache.Len()))
	return cache, nil
}

// Get returns the cached place for a name, if present.
func (c *Cache) Get(placeName string) (*Place, bool) {
	place, ok := c.entries[placeName]
	if !ok {
		return nil, false
	}
	return &place, true
}

// Put stores a place under a name and persists the cache to disk.
func (c *Cache) Put(placeName string, place *Place) error {
	c.entries[placeName] = *place

	data, err := json.MarshalIndent(c.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode place cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write place cache: %w", err)
	}
	return nil
}

// Len returns the number of cached places.
func (c *Cache) Len() int {
	return len(c.entries)
}
