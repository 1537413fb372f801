package watermark

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lensfolio/backend/internal/models"
)

// Source renders a preview derivative and returns its storage key.
type Source interface {
	Render(ctx context.Context, file models.FileRecord, settings models.WatermarkSettings) (string, error)
}

type cacheEntry struct {
	key     string
	expires time.Time
}

// CachingRenderer wraps another Source with a TTL-based in-memory cache, so a
// gallery's preview is rendered once per process rather than per request.
type CachingRenderer struct {
	base Source
	ttl  time.Duration

	mu    sync.RWMutex
	items map[string]cacheEntry
}

// NewCachingRenderer returns a Source that caches rendered keys for the
// provided TTL.
func NewCachingRenderer(base Source, ttl time.Duration) *CachingRenderer {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachingRenderer{
		base:  base,
		ttl:   ttl,
		items: make(map[string]cacheEntry),
	}
}

// Render returns the cached derivative key when available, otherwise it
// delegates to the underlying renderer and stores the result.
func (c *CachingRenderer) Render(ctx context.Context, file models.FileRecord, settings models.WatermarkSettings) (string, error) {
	if c == nil || c.base == nil {
		return "", ErrRendererUnavailable
	}

	cacheKey := fmt.Sprintf("%s|%s|%d", file.StorageKey, settings.Text, settings.MaxDimension)
	now := time.Now()

	c.mu.RLock()
	entry, ok := c.items[cacheKey]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.key, nil
	}

	key, err := c.base.Render(ctx, file, settings)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.items[cacheKey] = cacheEntry{key: key, expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return key, nil
}
