package goble

import (
	"github.com/cornelk/hashmap"
	"github.com/srg/blescan/internal/radio"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultMaxResults matches the result vector limit of embedded BLE stacks.
const DefaultMaxResults = 255

// DefaultDuplicateCacheSize is the number of addresses remembered for
// duplicate suppression within one scan cycle.
const DefaultDuplicateCacheSize = 200

// resultStore retains the latest advertisement per address in discovery
// order, evicting the oldest address when the cap is exceeded.
// Not safe for concurrent use; the driver serializes access.
type resultStore struct {
	max     int
	entries *orderedmap.OrderedMap[string, radio.Advertisement]
}

func newResultStore(max int) *resultStore {
	return &resultStore{
		max:     max,
		entries: orderedmap.New[string, radio.Advertisement](),
	}
}

// setMax changes the cap and trims immediately. A negative cap means unbounded.
func (r *resultStore) setMax(max int) {
	r.max = max
	r.trim()
}

func (r *resultStore) put(addr string, adv radio.Advertisement) {
	if r.max == 0 {
		return
	}
	r.entries.Set(addr, adv)
	r.trim()
}

func (r *resultStore) trim() {
	if r.max < 0 {
		return
	}
	for r.entries.Len() > r.max {
		oldest := r.entries.Oldest()
		r.entries.Delete(oldest.Key)
	}
}

func (r *resultStore) clear() {
	r.entries = orderedmap.New[string, radio.Advertisement]()
}

func (r *resultStore) snapshot() []radio.Advertisement {
	out := make([]radio.Advertisement, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// dupCache remembers up to size addresses seen in the current scan cycle.
// Once full, further new addresses are reported every time, mirroring how a
// controller duplicate filter degrades.
type dupCache struct {
	size int
	seen *hashmap.Map[string, struct{}]
}

func newDupCache(size int) *dupCache {
	return &dupCache{size: size, seen: hashmap.New[string, struct{}]()}
}

// seenBefore reports whether addr is a duplicate, remembering it otherwise.
func (c *dupCache) seenBefore(addr string) bool {
	if _, ok := c.seen.Get(addr); ok {
		return true
	}
	if c.seen.Len() < c.size {
		c.seen.Set(addr, struct{}{})
	}
	return false
}

func (c *dupCache) reset(size int) {
	c.size = size
	c.seen = hashmap.New[string, struct{}]()
}
