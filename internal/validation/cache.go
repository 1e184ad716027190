package validation

import (
	"container/list"
	"sync"
	"time"

	"github.com/breakoutlab/tradecore/internal/domain"
)

// VerdictCache is a bounded, TTL-aware LRU cache of validation verdicts keyed
// by signal fingerprint. When the bound is reached the least recently used
// entry is evicted. It is safe for concurrent use.
type VerdictCache struct {
	ttl     time.Duration
	maxSize int

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recently used
	now     func() time.Time
}

type cacheEntry struct {
	key      string
	verdict  domain.ValidationVerdict
	storedAt time.Time
}

// NewVerdictCache creates a cache holding at most maxSize verdicts, each
// valid for ttl after insertion.
func NewVerdictCache(ttl time.Duration, maxSize int) *VerdictCache {
	return &VerdictCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*list.Element, maxSize),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the cached verdict for the fingerprint if present and within
// TTL. Expired entries are removed on access.
func (c *VerdictCache) Get(fingerprint string) (domain.ValidationVerdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[fingerprint]
	if !ok {
		return domain.ValidationVerdict{}, false
	}
	entry := el.Value.(*cacheEntry)
	if c.now().Sub(entry.storedAt) >= c.ttl {
		c.order.Remove(el)
		delete(c.entries, fingerprint)
		return domain.ValidationVerdict{}, false
	}
	c.order.MoveToFront(el)
	return entry.verdict, true
}

// Put stores a verdict, evicting the least recently used entry when full.
// An existing entry for the same fingerprint is overwritten and its TTL
// restarted.
func (c *VerdictCache) Put(fingerprint string, verdict domain.ValidationVerdict) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[fingerprint]; ok {
		entry := el.Value.(*cacheEntry)
		entry.verdict = verdict
		entry.storedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	el := c.order.PushFront(&cacheEntry{
		key:      fingerprint,
		verdict:  verdict,
		storedAt: c.now(),
	})
	c.entries[fingerprint] = el
}

// Len returns the number of entries currently cached, including any that have
// expired but not yet been evicted.
func (c *VerdictCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// setClock replaces the time source; used by tests.
func (c *VerdictCache) setClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
