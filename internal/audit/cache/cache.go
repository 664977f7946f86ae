// Package cache bounds audit cost by remembering canonical reviews for
// identical submissions. Entries are fingerprinted over the audit inputs
// only — never volatile fields like timestamps or session ids.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/audithq/ganaudit/internal/config"
	"github.com/audithq/ganaudit/internal/logging"
	"github.com/audithq/ganaudit/internal/metrics"
	"github.com/audithq/ganaudit/internal/review"
)

// Stats is a snapshot of cache effectiveness.
type Stats struct {
	Entries   int
	Hits      int
	Misses    int
	Evictions int
}

type entry struct {
	key      string
	review   *review.Review
	storedAt time.Time
}

// Cache is a TTL-bounded LRU of canonical reviews. Safe for concurrent use.
type Cache struct {
	cfg     config.CacheConfig
	logger  *logging.Logger
	metrics *metrics.Metrics

	mu        sync.Mutex
	order     *list.List // front = most recently used
	entries   map[string]*list.Element
	hits      int
	misses    int
	evictions int

	now func() time.Time // test seam
}

// New creates a Cache. m may be nil.
func New(cfg config.CacheConfig, logger *logging.Logger, m *metrics.Metrics) *Cache {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Cache{
		cfg:     cfg,
		logger:  logger.WithComponent("cache"),
		metrics: m,
		order:   list.New(),
		entries: make(map[string]*list.Element),
		now:     time.Now,
	}
}

// Fingerprint derives the stable cache key for a request: a SHA-256 over
// the candidate, task, rubric digest, budget, and context digest, joined
// with NUL separators so field boundaries cannot collide.
func Fingerprint(req *review.AuditRequest) string {
	var rubric strings.Builder
	for _, d := range req.Rubric {
		fmt.Fprintf(&rubric, "%s:%v\n", d.Name, d.Weight)
	}
	rubricDigest := sha256.Sum256([]byte(rubric.String()))
	contextDigest := sha256.Sum256([]byte(req.ContextPack))
	budget := fmt.Sprintf("%d:%d:%d", req.Budget.MaxCycles, req.Budget.Candidates, req.Budget.Threshold)

	h := sha256.New()
	for i, part := range []string{
		req.Candidate,
		req.Task,
		hex.EncodeToString(rubricDigest[:]),
		budget,
		hex.EncodeToString(contextDigest[:]),
	} {
		if i > 0 {
			h.Write([]byte{0})
		}
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Has reports whether a live entry exists without touching recency.
func (c *Cache) Has(req *review.AuditRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[Fingerprint(req)]
	return ok && !c.expired(el.Value.(*entry))
}

// Get returns a deep copy of the cached review, or nil on miss. A hit
// refreshes recency; an expired entry is evicted and counts as a miss.
func (c *Cache) Get(req *review.AuditRequest) *review.Review {
	key := Fingerprint(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.miss()
		return nil
	}
	e := el.Value.(*entry)
	if c.expired(e) {
		c.removeLocked(el)
		c.evictions++
		if c.metrics != nil {
			c.metrics.CacheEvictions.Inc()
		}
		c.miss()
		return nil
	}

	c.order.MoveToFront(el)
	c.hits++
	if c.metrics != nil {
		c.metrics.CacheHits.Inc()
	}
	return e.review.Clone()
}

// Set stores a deep copy of a canonical review. Non-canonical reviews are
// refused: fallback syntheses must never be served from cache.
func (c *Cache) Set(req *review.AuditRequest, rev *review.Review) {
	if rev == nil || len(rev.Validate()) > 0 {
		c.logger.Warn("refusing to cache non-canonical review")
		return
	}
	key := Fingerprint(req)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*entry).review = rev.Clone()
		el.Value.(*entry).storedAt = c.now()
		c.order.MoveToFront(el)
		return
	}

	el := c.order.PushFront(&entry{key: key, review: rev.Clone(), storedAt: c.now()})
	c.entries[key] = el

	max := c.cfg.MaxEntries
	if max <= 0 {
		max = 256
	}
	for len(c.entries) > max {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
		if c.metrics != nil {
			c.metrics.CacheEvictions.Inc()
		}
	}
}

// Clear drops every entry. Stats counters survive.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

func (c *Cache) expired(e *entry) bool {
	ttl := c.cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return c.now().Sub(e.storedAt) > ttl
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.entries, e.key)
}

func (c *Cache) miss() {
	c.misses++
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}
