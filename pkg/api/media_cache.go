package api

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/lightbox/pkg/observability"
)

const (
	// maxCachedVariant is the largest rendition kept in memory; bigger
	// objects, mostly video, are streamed from the blob store
	maxCachedVariant = 2 << 20
	variantCacheTTL  = 10 * time.Minute
)

type cachedVariant struct {
	data        []byte
	contentType string
	modTime     time.Time
}

// variantCache keeps small, hot renditions in memory
type variantCache struct {
	cache   *lru.LRU[string, *cachedVariant]
	metrics *observability.Metrics
}

// newVariantCache creates the cache; size <= 0 disables it
func newVariantCache(size int, metrics *observability.Metrics) *variantCache {
	c := &variantCache{metrics: metrics}
	if size > 0 {
		c.cache = lru.NewLRU[string, *cachedVariant](size, nil, variantCacheTTL)
	}
	return c
}

func (c *variantCache) enabled() bool {
	return c != nil && c.cache != nil
}

func (c *variantCache) get(key string) (*cachedVariant, bool) {
	if c == nil || c.cache == nil {
		return nil, false
	}
	v, ok := c.cache.Get(key)
	c.metrics.RecordCache("media_variants", ok)
	return v, ok
}

func (c *variantCache) add(key string, v *cachedVariant) {
	if c == nil || c.cache == nil || len(v.data) > maxCachedVariant {
		return
	}
	c.cache.Add(key, v)
}

func (c *variantCache) len() int {
	if c == nil || c.cache == nil {
		return 0
	}
	return c.cache.Len()
}
