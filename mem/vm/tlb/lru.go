package tlb

import (
	"log"

	"github.com/hashicorp/golang-lru/simplelru"
)

// lruTLB delegates recency tracking to simplelru. The eviction callback
// captures the victim of the last Add.
type lruTLB struct {
	capacity int
	cache    *simplelru.LRU

	lastEvicted  Entry
	evictedInAdd bool
}

func newLRUTLB(capacity int) *lruTLB {
	t := &lruTLB{capacity: capacity}
	t.cache = t.newCache()

	return t
}

func (t *lruTLB) newCache() *simplelru.LRU {
	cache, err := simplelru.NewLRU(t.capacity, t.onEvict)
	if err != nil {
		log.Panic(err)
	}

	return cache
}

func (t *lruTLB) onEvict(key, value interface{}) {
	t.lastEvicted = Entry{VPN: key.(uint64), PFN: value.(uint64)}
	t.evictedInAdd = true
}

func (t *lruTLB) Lookup(vpn uint64) (uint64, bool) {
	value, found := t.cache.Get(vpn)
	if !found {
		return 0, false
	}

	return value.(uint64), true
}

func (t *lruTLB) Insert(vpn, pfn uint64) (Entry, bool) {
	t.evictedInAdd = false
	t.cache.Add(vpn, pfn)

	if !t.evictedInAdd {
		return Entry{}, false
	}

	return t.lastEvicted, true
}

func (t *lruTLB) Invalidate(vpn uint64) bool {
	return t.cache.Remove(vpn)
}

func (t *lruTLB) Clear() {
	t.cache = t.newCache()
}

func (t *lruTLB) Len() int {
	return t.cache.Len()
}

func (t *lruTLB) Capacity() int {
	return t.capacity
}

func (t *lruTLB) Policy() Policy {
	return PolicyLRU
}

func (t *lruTLB) Entries() []Entry {
	keys := t.cache.Keys()
	entries := make([]Entry, 0, len(keys))

	for _, key := range keys {
		value, _ := t.cache.Peek(key)
		entries = append(entries, Entry{
			VPN: key.(uint64),
			PFN: value.(uint64),
		})
	}

	return entries
}
