package wisent

import (
	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"
)

// leafHintKey identifies a (snapshot, key) pair. The root pgno stands in
// for the snapshot: two snapshots sharing a root share the whole tree.
type leafHintKey struct {
	root    pgno
	keyHash uint64
}

// leafHintCache remembers which leaf page held a key, keyed by the root of
// the snapshot that found it. Hints are safe across transactions because a
// page reachable from a live snapshot root is never reclaimed while that
// snapshot can still be read; a hint for a superseded root simply ages out
// of the LRU. A hit skips the branch descent but is always verified by
// searching the hinted leaf, so a wrong hint costs one extra page read and
// falls back to the full descent.
type leafHintCache struct {
	lru *freelru.ShardedLRU[leafHintKey, pgno]
}

func hashLeafHintKey(k leafHintKey) uint32 {
	h := k.keyHash ^ uint64(k.root)*0x9E3779B97F4A7C15
	return uint32(h ^ h>>32)
}

// newLeafHintCache builds a sharded LRU of the given capacity. Capacity 0
// disables the cache; callers treat a nil cache as a guaranteed miss.
func newLeafHintCache(capacity uint32) (*leafHintCache, error) {
	if capacity == 0 {
		return nil, nil
	}
	lru, err := freelru.NewSharded[leafHintKey, pgno](capacity, hashLeafHintKey)
	if err != nil {
		return nil, WrapError(ErrInvalid, err)
	}
	return &leafHintCache{lru: lru}, nil
}

func (c *leafHintCache) get(root pgno, key []byte) (pgno, bool) {
	if c == nil {
		return 0, false
	}
	return c.lru.Get(leafHintKey{root: root, keyHash: xxhash.Sum64(key)})
}

func (c *leafHintCache) put(root pgno, key []byte, leaf pgno) {
	if c == nil {
		return
	}
	c.lru.Add(leafHintKey{root: root, keyHash: xxhash.Sum64(key)}, leaf)
}
