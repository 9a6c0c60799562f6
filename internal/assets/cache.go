// Package assets resolves the image names agents declare into decoded
// images, keeping a bounded cache so every round does not hit the disk.
package assets

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // Support GIF format
	_ "image/jpeg" // Support JPEG format
	_ "image/png"  // Support PNG format
	"io/fs"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/elliotchance/orderedmap/v2"
	"go.uber.org/zap"
	_ "golang.org/x/image/webp" // Support WebP format
)

// ErrNotFound is returned for names with no file behind them.
var ErrNotFound = errors.New("asset not found")

// ErrInvalidName is returned for names that try to leave the asset root.
var ErrInvalidName = errors.New("invalid asset name")

const DefaultMaxImages = 128

// Cache stores decoded images with LRU eviction
type Cache struct {
	mu      sync.Mutex
	root    fs.FS
	images  *orderedmap.OrderedMap[string, image.Image] // oldest first
	maxSize int
	log     *zap.Logger

	hits   uint64
	misses uint64
}

// NewCache creates a cache reading from dir.
func NewCache(dir string, maxSize int, log *zap.Logger) *Cache {
	return NewCacheFS(os.DirFS(dir), maxSize, log)
}

// NewCacheFS creates a cache over any file system (tests use fstest.MapFS).
func NewCacheFS(root fs.FS, maxSize int, log *zap.Logger) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultMaxImages
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		root:    root,
		images:  orderedmap.NewOrderedMap[string, image.Image](),
		maxSize: maxSize,
		log:     log,
	}
}

// Load returns the decoded image for name, reading it on first use.
func (c *Cache) Load(name string) (image.Image, error) {
	name = strings.TrimPrefix(path.Clean("/"+name), "/")
	if name == "" || !fs.ValidPath(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if img, ok := c.images.Get(name); ok {
		c.hits++
		c.images.Delete(name)
		c.images.Set(name, img)
		return img, nil
	}
	c.misses++

	f, err := c.root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("open asset %s: %w", name, err)
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode asset %s: %w", name, err)
	}
	c.log.Debug("asset decoded", zap.String("name", name), zap.String("format", format))

	if c.images.Len() >= c.maxSize {
		c.evict()
	}
	c.images.Set(name, img)
	return img, nil
}

// evict removes the least recently used image
func (c *Cache) evict() {
	if oldest := c.images.Front(); oldest != nil {
		c.images.Delete(oldest.Key)
	}
}

// Size returns the current cache size
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.images.Len()
}

// Stats returns hit and miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
