package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
	"voxagent/pkg/logger"

	"go.uber.org/zap"
)

const bytesPerMB = 1024 * 1024

// Entry is one file in the scratch directory
type Entry struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// DiskCache is a local scratch directory bounded by a byte quota
type DiskCache struct {
	dir   string
	quota int64
	mu    sync.Mutex
}

// NewDiskCache creates the directory if needed
func NewDiskCache(dir string, maxMB int64) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}

	logger.Info("Cache store initialized",
		zap.String("dir", dir),
		zap.Int64("max_mb", maxMB))

	return &DiskCache{
		dir:   dir,
		quota: maxMB * bytesPerMB,
	}, nil
}

// Dir returns the scratch directory
func (c *DiskCache) Dir() string {
	return c.dir
}

// Path returns the location of a scratch file in the cache
func (c *DiskCache) Path(name string) string {
	return filepath.Join(c.dir, name)
}

// Remove deletes scratch files, ignoring ones that are already gone
func (c *DiskCache) Remove(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Failed to remove cache file", zap.String("path", p), zap.Error(err))
		}
	}
}

// Entries walks the cache and returns every regular file with its total size
func (c *DiskCache) Entries() ([]Entry, int64, error) {
	var (
		entries []Entry
		total   int64
	)
	err := filepath.WalkDir(c.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			// removed between listing and stat
			return nil
		}
		entries = append(entries, Entry{Path: path, Size: info.Size(), ModTime: info.ModTime()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to walk cache dir: %w", err)
	}
	return entries, total, nil
}

// EnforceQuota deletes the least recently modified files until usage is
// back under the quota and returns what it removed.
func (c *DiskCache) EnforceQuota() ([]Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries, _, err := c.Entries()
	if err != nil {
		return nil, err
	}

	var removed []Entry
	for _, e := range SelectEvictions(entries, c.quota) {
		if err := os.Remove(e.Path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Cache eviction failed", zap.String("path", e.Path), zap.Error(err))
			continue
		}
		logger.Info("Cache file evicted",
			zap.String("path", e.Path),
			zap.Int64("size", e.Size))
		removed = append(removed, e)
	}
	return removed, nil
}

// SelectEvictions returns the oldest-first prefix of entries that must go for
// the total size to fit in quota. Ties on mtime are broken by path.
func SelectEvictions(entries []Entry, quota int64) []Entry {
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	if total <= quota {
		return nil
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].ModTime.Equal(sorted[j].ModTime) {
			return sorted[i].ModTime.Before(sorted[j].ModTime)
		}
		return sorted[i].Path < sorted[j].Path
	})

	var out []Entry
	for _, e := range sorted {
		if total <= quota {
			break
		}
		out = append(out, e)
		total -= e.Size
	}
	return out
}
