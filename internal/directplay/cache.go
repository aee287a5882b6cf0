package directplay

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// FileCache keeps open file handles for repeated range reads, bounded by
// entry count and total bytes. Eviction closes the least recently used
// handle. Reads through cached handles must use ReadAt so concurrent
// requests never fight over seek position.
type FileCache struct {
	maxEntries int
	maxBytes   int64

	mu         sync.Mutex
	entries    map[string]*cacheEntry
	totalBytes int64
}

type cacheEntry struct {
	file     *os.File
	size     int64
	lastUsed time.Time
}

// NewFileCache creates a cache holding at most maxEntries handles and
// maxBytes of backing file size. Zero values fall back to sane limits.
func NewFileCache(maxEntries int, maxBytes int64) *FileCache {
	if maxEntries <= 0 {
		maxEntries = 64
	}
	if maxBytes <= 0 {
		maxBytes = 256 << 20
	}
	return &FileCache{
		maxEntries: maxEntries,
		maxBytes:   maxBytes,
		entries:    make(map[string]*cacheEntry),
	}
}

// Get returns an open handle and the file size, opening and caching the
// file on a miss.
func (c *FileCache) Get(path string) (*os.File, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[path]; ok {
		entry.lastUsed = time.Now()
		return entry.file, entry.size, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", path, err)
	}

	c.entries[path] = &cacheEntry{file: f, size: info.Size(), lastUsed: time.Now()}
	c.totalBytes += info.Size()
	c.evictLocked(path)
	return f, info.Size(), nil
}

// evictLocked closes least-recently-used entries until the cache fits its
// limits, never evicting the entry just inserted.
func (c *FileCache) evictLocked(keep string) {
	for len(c.entries) > c.maxEntries || c.totalBytes > c.maxBytes {
		var oldest string
		var oldestAt time.Time
		for path, entry := range c.entries {
			if path == keep {
				continue
			}
			if oldest == "" || entry.lastUsed.Before(oldestAt) {
				oldest = path
				oldestAt = entry.lastUsed
			}
		}
		if oldest == "" {
			return
		}
		c.removeLocked(oldest)
	}
}

// Remove drops one path from the cache, closing its handle.
func (c *FileCache) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(path)
}

func (c *FileCache) removeLocked(path string) {
	if entry, ok := c.entries[path]; ok {
		entry.file.Close()
		c.totalBytes -= entry.size
		delete(c.entries, path)
	}
}

// Len returns the number of cached handles.
func (c *FileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close releases every cached handle.
func (c *FileCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for path := range c.entries {
		c.removeLocked(path)
	}
}
