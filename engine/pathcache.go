package engine

import (
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const pathCacheTTL = 5 * time.Minute

// PathCache is a TTL cache of the executables reachable through a PATH
// value, keyed by the PATH string itself.
type PathCache struct {
	cache *ttlcache.Cache[string, []string]
}

// NewPathCache creates a PathCache whose entries expire after ttl.
func NewPathCache(ttl time.Duration) *PathCache {
	if ttl <= 0 {
		ttl = pathCacheTTL
	}
	c := ttlcache.New[string, []string](
		ttlcache.WithTTL[string, []string](ttl),
		ttlcache.WithDisableTouchOnHit[string, []string](),
	)
	go c.Start()
	return &PathCache{cache: c}
}

// Close stops the cache expiration loop.
func (pc *PathCache) Close() {
	pc.cache.Stop()
}

// Executables returns the sorted, de-duplicated names of executable files
// in the directories of path, scanning them on a cache miss.
func (pc *PathCache) Executables(path string) []string {
	if item := pc.cache.Get(path); item != nil {
		return item.Value()
	}
	names := scanPath(path)
	pc.cache.Set(path, names, ttlcache.DefaultTTL)
	slog.Debug("scanned PATH", "dirs", len(filepath.SplitList(path)), "executables", len(names))
	return names
}

// Invalidate drops every cached scan.
func (pc *PathCache) Invalidate() {
	pc.cache.DeleteAll()
}

// Lookup returns the first executable called name in path, like command -v.
func Lookup(path, name string) (string, bool) {
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		full := filepath.Join(dir, name)
		info, err := os.Stat(full)
		if err != nil || info.IsDir() || info.Mode()&0111 == 0 {
			continue
		}
		return full, true
	}
	return "", false
}

func scanPath(path string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if seen[name] || e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			// Follow symlinks: most of /usr/bin is links.
			if info.Mode()&os.ModeSymlink != 0 {
				info, err = os.Stat(filepath.Join(dir, name))
				if err != nil || info.IsDir() {
					continue
				}
			}
			if info.Mode()&0111 == 0 {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
