package gateway

import (
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"loolgw/internal/tilecache"
)

// documentRegistry hands out one TileCache per document URI, opening
// it lazily on first use and reusing it for every subsequent session
// on that URI (spec.md §4.4/§5: "the Gateway exclusively owns
// ClientSessions and TileCaches").
type documentRegistry struct {
	root string

	mu     sync.Mutex
	caches map[string]*tilecache.TileCache
}

func newDocumentRegistry(cacheRoot string) *documentRegistry {
	return &documentRegistry{root: cacheRoot, caches: make(map[string]*tilecache.TileCache)}
}

func (r *documentRegistry) cacheFor(documentURL string) (*tilecache.TileCache, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.caches[documentURL]; ok {
		return c, nil
	}

	sourceModTime := sourceModTimeOf(documentURL)
	dir := filepath.Join(r.root, cacheDirName(documentURL))
	c, err := tilecache.Open(dir, sourceModTime)
	if err != nil {
		return nil, err
	}
	r.caches[documentURL] = c
	return c, nil
}

// cacheDirName derives a filesystem-safe directory name from a
// document URL without needing a hash library the teacher never
// imports — good enough uniqueness for the cache root's namespace.
func cacheDirName(documentURL string) string {
	u, err := url.Parse(documentURL)
	if err != nil {
		return url.QueryEscape(documentURL)
	}
	return url.QueryEscape(u.Path)
}

func sourceModTimeOf(documentURL string) time.Time {
	u, err := url.Parse(documentURL)
	if err != nil || u.Scheme != "file" {
		return time.Time{}
	}
	info, err := os.Stat(u.Path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
