package verdictcache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/haukened/rr-blockscan/internal/blockscan/domain"
)

// Cache memoizes scan verdicts per snapshot revision. Entries from an older
// revision are never returned because the revision is part of the key.
type Cache interface {
	Get(revision, hostname string) (domain.Verdict, bool)
	Put(revision, hostname string, v domain.Verdict)
	Len() int
	Purge()
	Stats() (hits, misses, evictions uint64)
}

type verdictCache struct {
	lru       *lru.Cache[string, domain.Verdict]
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// disabledCache always misses.
type disabledCache struct{}

// New creates a Cache holding up to size verdicts. If size <= 0 a disabled
// cache is returned.
func New(size int) (Cache, error) {
	if size <= 0 {
		return disabledCache{}, nil
	}
	var vc verdictCache
	cache, err := lru.NewWithEvict(size, func(string, domain.Verdict) {
		vc.evictions.Add(1)
	})
	if err != nil {
		return nil, err
	}
	vc.lru = cache
	return &vc, nil
}

func cacheKey(revision, hostname string) string {
	return revision + "|" + hostname
}

func (c *verdictCache) Get(revision, hostname string) (domain.Verdict, bool) {
	if v, ok := c.lru.Get(cacheKey(revision, hostname)); ok {
		c.hits.Add(1)
		return v, true
	}
	c.misses.Add(1)
	return domain.Verdict{}, false
}

func (c *verdictCache) Put(revision, hostname string, v domain.Verdict) {
	c.lru.Add(cacheKey(revision, hostname), v)
}

func (c *verdictCache) Len() int { return c.lru.Len() }

// Purge clears all entries. Evictions are counted via the eviction callback.
func (c *verdictCache) Purge() { c.lru.Purge() }

func (c *verdictCache) Stats() (hits, misses, evictions uint64) {
	return c.hits.Load(), c.misses.Load(), c.evictions.Load()
}

func (disabledCache) Get(string, string) (domain.Verdict, bool) { return domain.Verdict{}, false }
func (disabledCache) Put(string, string, domain.Verdict)        {}
func (disabledCache) Len() int                                   { return 0 }
func (disabledCache) Purge()                                     {}
func (disabledCache) Stats() (uint64, uint64, uint64)            { return 0, 0, 0 }

var _ Cache = (*verdictCache)(nil)
var _ Cache = disabledCache{}
