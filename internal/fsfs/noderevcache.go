package fsfs

import (
	"github.com/dgraph-io/ristretto/v2"
)

// NoderevCache wraps a NoderevReader with a bounded in-process cache of
// decoded immutable noderevs. ChooseDeltaBase's skip-delta walk and
// deltaChainLength's shared-rep scan both re-visit the same ancestors
// across many calls (every file under a rarely-touched subtree keeps
// walking back to the same handful of old revisions), so caching the
// decode, not just the disk read, pays off even though the underlying
// files are already held by the kernel page cache.
type NoderevCache struct {
	next  NoderevReader
	cache *ristretto.Cache[string, *Noderev]
}

// NewNoderevCache wraps next in a cache sized to hold roughly maxEntries
// decoded noderevs. A decoded noderev is small and fixed-size relative to
// the rep bytes it describes, so cost is tracked as a flat 1 per entry.
func NewNoderevCache(next NoderevReader, maxEntries int64) (*NoderevCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *Noderev]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, newErr(KindCorrupt, "creating noderev cache", err)
	}
	return &NoderevCache{next: next, cache: cache}, nil
}

// ReadNoderev serves id from cache when present. Mutable ids are never
// cached or served from cache: a txn-scoped noderev can still change
// underfoot, so those always read through to next.
func (c *NoderevCache) ReadNoderev(id ID) (*Noderev, error) {
	if id.IsMutable() {
		return c.next.ReadNoderev(id)
	}
	key := id.String()
	if n, ok := c.cache.Get(key); ok {
		return n, nil
	}
	n, err := c.next.ReadNoderev(id)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, n, 1)
	// Ristretto admits writes through an internal ring buffer; without
	// waiting for it to drain, a Get immediately following this Set can
	// still miss.
	c.cache.Wait()
	return n, nil
}

// Close stops the cache's background goroutines. Safe to call on a nil
// receiver for callers that construct a Repository without one.
func (c *NoderevCache) Close() {
	if c == nil {
		return
	}
	c.cache.Close()
}
