package loader

import (
	"fmt"
	"os"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of manifest documents kept by a
// DocumentCache created with size 0.
const DefaultCacheSize = 512

type cachedDocument struct {
	modTime time.Time
	size    int64
	data    []byte
}

// DocumentCache keeps recently read manifest files in memory so repeated
// builds only re-read files that changed on disk. Entries are revalidated
// against the file's size and modification time on every read.
type DocumentCache struct {
	docs *lru.Cache[string, cachedDocument]
}

// NewDocumentCache creates a cache holding up to size documents.
func NewDocumentCache(size int) (*DocumentCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	docs, err := lru.New[string, cachedDocument](size)
	if err != nil {
		return nil, fmt.Errorf("create document cache: %w", err)
	}
	return &DocumentCache{docs: docs}, nil
}

// Read returns the contents of path, from memory when the file is
// unchanged since it was cached.
func (c *DocumentCache) Read(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		c.docs.Remove(path)
		return nil, err
	}

	if doc, ok := c.docs.Get(path); ok && doc.size == info.Size() && doc.modTime.Equal(info.ModTime()) {
		return doc.data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	c.docs.Add(path, cachedDocument{modTime: info.ModTime(), size: info.Size(), data: data})
	return data, nil
}

// Invalidate drops path from the cache.
func (c *DocumentCache) Invalidate(path string) {
	c.docs.Remove(path)
}

// Len returns the number of cached documents.
func (c *DocumentCache) Len() int {
	return c.docs.Len()
}
