// Package complement maps an anchor product to a ranked list of complementary
// category labels, backed by a persisted TTL cache, an LLM generator, and a
// static fallback table.
package complement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/pairwise/internal/db"
	"github.com/kailas-cloud/pairwise/internal/domain"
)

// storageKey is the single document key holding the whole cache.
// The persisted representation is load-all / replace-all, not row-level.
const storageKey = "pairwise:complement_cache"

// store is the consumer interface for cache persistence (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Generator infers complementary categories for an anchor product.
type Generator interface {
	Complements(ctx context.Context, anchor domain.Product) ([]string, error)
}

// Entry is a cached complement result. Expired entries are ignored, not
// deleted, until an explicit Clear.
type Entry struct {
	Categories     []string `json:"categories"`
	CreatedAt      int64    `json:"created_at"` // unix seconds
	AnchorName     string   `json:"anchor_name"`
	AnchorCategory string   `json:"anchor_category"`
}

// Stats is the cache statistics surface. Valid/expired counts are computed
// by scanning all entries against the TTL at call time.
type Stats struct {
	Total   int `json:"total_cached"`
	Valid   int `json:"valid_cached"`
	Expired int `json:"expired_cached"`
}

// Cache is the category complement cache. A single mutex serializes the
// load-mutate-flush cycle so concurrent misses cannot corrupt the persisted
// document.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]Entry
	store     store
	generator Generator
	fallback  map[string][]string
	ttl       time.Duration
	hitTotal  *prometheus.CounterVec
	logger    *zap.Logger
	now       func() time.Time
}

// Config holds cache construction settings.
type Config struct {
	TTL      time.Duration
	Fallback map[string][]string
	// HitTotal is a counter vec with label "result" ("hit"/"miss"); optional.
	HitTotal *prometheus.CounterVec
}

// Open creates a cache and loads the persisted document. A missing or
// unreadable document starts the cache empty; load failures are logged,
// never fatal.
func Open(ctx context.Context, s store, gen Generator, cfg Config, logger *zap.Logger) *Cache {
	c := &Cache{
		entries:   make(map[string]Entry),
		store:     s,
		generator: gen,
		fallback:  cfg.Fallback,
		ttl:       cfg.TTL,
		hitTotal:  cfg.HitTotal,
		logger:    logger,
		now:       time.Now,
	}

	data, err := s.Get(ctx, storageKey)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			logger.Warn("Failed to load complement cache", zap.Error(err))
		}
		return c
	}
	if err := json.Unmarshal(data, &c.entries); err != nil {
		logger.Warn("Failed to parse persisted complement cache", zap.Error(err))
		c.entries = make(map[string]Entry)
	}
	return c
}

// Close flushes the cache one final time.
func (c *Cache) Close(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked(ctx)
}

// Key returns the stable cache key for a product: a hash of name+category.
// Two products with identical name and category share an entry.
func Key(p domain.Product) string {
	h := sha256.Sum256([]byte(p.Name + "|" + p.Category))
	return hex.EncodeToString(h[:])
}

// Complements returns the ordered complementary category list for an anchor.
//
// A valid cached entry is the fast path (useCache toggles it, default on).
// Otherwise the generation tier runs, degrading to the static fallback table
// on any failure. The anchor's own category is always part of a non-empty
// result; an empty result means "no category prior, do not filter".
func (c *Cache) Complements(ctx context.Context, anchor domain.Product, useCache bool) []string {
	key := Key(anchor)

	if useCache {
		c.mu.Lock()
		if entry, ok := c.entries[key]; ok && c.validLocked(entry) {
			c.mu.Unlock()
			c.incHit("hit")
			return append([]string(nil), entry.Categories...)
		}
		c.mu.Unlock()
	}
	c.incHit("miss")

	// Generation runs outside the lock: it is a network call. Concurrent
	// misses on the same key may both generate; the write stays serialized.
	var cats []string
	if c.generator != nil {
		generated, err := c.generator.Complements(ctx, anchor)
		if err != nil {
			c.logger.Warn("Complement generation failed, using static fallback",
				zap.String("anchor_id", anchor.ID),
				zap.Error(err),
			)
		} else {
			cats = generated
		}
	}
	if len(cats) == 0 {
		cats = append([]string(nil), c.fallback[anchor.Category]...)
	}
	if len(cats) > 0 {
		cats = ensureOwnCategory(cats, anchor.Category)
	}

	c.mu.Lock()
	c.entries[key] = Entry{
		Categories:     cats,
		CreatedAt:      c.now().Unix(),
		AnchorName:     anchor.Name,
		AnchorCategory: anchor.Category,
	}
	c.flushLocked(ctx)
	c.mu.Unlock()

	return append([]string(nil), cats...)
}

// Stats scans all entries against the TTL.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Total: len(c.entries)}
	for _, entry := range c.entries {
		if c.validLocked(entry) {
			s.Valid++
		}
	}
	s.Expired = s.Total - s.Valid
	return s
}

// Clear empties the cache and persists the empty document.
func (c *Cache) Clear(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
	c.flushLocked(ctx)
}

func (c *Cache) validLocked(entry Entry) bool {
	created := time.Unix(entry.CreatedAt, 0)
	return c.now().Sub(created) < c.ttl
}

// flushLocked persists the whole cache. Persistence failures are logged and
// swallowed: the in-memory cache stays correct for the process lifetime.
func (c *Cache) flushLocked(ctx context.Context) {
	data, err := json.Marshal(c.entries)
	if err != nil {
		c.logger.Warn("Failed to marshal complement cache", zap.Error(err))
		return
	}
	if err := c.store.Set(ctx, storageKey, data); err != nil {
		c.logger.Warn("Failed to persist complement cache", zap.Error(err))
	}
}

func (c *Cache) incHit(result string) {
	if c.hitTotal != nil {
		c.hitTotal.WithLabelValues(result).Inc()
	}
}

// ensureOwnCategory prepends the anchor's category when missing: a product
// is always compatible with its own category.
func ensureOwnCategory(cats []string, category string) []string {
	if category == "" {
		return cats
	}
	for _, c := range cats {
		if c == category {
			return cats
		}
	}
	return append([]string{category}, cats...)
}
