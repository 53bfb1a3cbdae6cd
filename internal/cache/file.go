package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mrz1836/harvest/internal/fileutil"
)

const (
	// cacheFilePermissions is the permission mode for cache files.
	cacheFilePermissions = 0o640
)

// ErrCorruptCache indicates the cache file is malformed JSON.
var ErrCorruptCache = errors.New("cache file is corrupted")

// FileStorage implements cache persistence using the filesystem.
type FileStorage struct {
	path string
}

// NewFileStorage creates a new file-based cache storage.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Save writes the cache to the filesystem atomically.
func (s *FileStorage) Save(cache *PoolCache) error {
	cache.mu.RLock()
	defer cache.mu.RUnlock()

	err := fileutil.Replace(s.path, cacheFilePermissions, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(cache)
	})
	if err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	return nil
}

// Load reads the cache from the filesystem.
// Returns an empty cache if the file doesn't exist. A corrupt file is moved
// aside and an empty cache returned with ErrCorruptCache.
func (s *FileStorage) Load() (*PoolCache, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return NewPoolCache(), nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}

	var cache PoolCache
	if err := json.Unmarshal(data, &cache); err != nil {
		corruptPath := fmt.Sprintf("%s.corrupt.%d", s.path, time.Now().UTC().UnixNano())
		if renameErr := os.Rename(s.path, corruptPath); renameErr != nil {
			return NewPoolCache(), fmt.Errorf("%w: %w (also failed to move file: %w)", ErrCorruptCache, err, renameErr)
		}
		return NewPoolCache(), fmt.Errorf("%w: %w (moved to %s)", ErrCorruptCache, err, corruptPath)
	}

	if cache.Entries == nil {
		cache.Entries = make(map[string]PoolCacheEntry)
	}

	return &cache, nil
}

// Delete removes the cache file.
func (s *FileStorage) Delete() error {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		return nil
	}

	if err := os.Remove(s.path); err != nil {
		return fmt.Errorf("removing cache file: %w", err)
	}

	return nil
}

// Exists checks if the cache file exists.
func (s *FileStorage) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the cache file path.
func (s *FileStorage) Path() string {
	return s.path
}
