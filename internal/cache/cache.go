// Package cache implements the two bounded, TTL-expiring stores the
// Beacon Client sits on top of: one keyed by slot for blocks, one keyed
// by slot for committee lists. Both are backed by
// hashicorp/golang-lru/v2's expirable LRU, which already gives bounded
// size and TTL expiry; eviction under pressure falls out of its
// standard least-recently-used policy, which approximates oldest-first
// eviction well because entries here are touched overwhelmingly on
// insert, not on repeat reads of old slots.
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/valwatch/duties-indexer/internal/domain"
)

// blockEntry is what the block cache stores per slot: either a decoded
// block or a tombstone marking a missed slot.
type blockEntry struct {
	block     *domain.Block // nil for a tombstone
	tombstone bool
}

// Stats reports cumulative hit/miss counts for one store.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// HitRate returns Hits / (Hits + Misses), or 0 if there have been no
// lookups yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Config parameterizes both stores.
type Config struct {
	MaxSize         int
	TTL             time.Duration
	CleanupInterval time.Duration
}

// Cache owns the block store and the committee store. It is created
// once at startup and handed to the Beacon Client; all of its methods
// are safe for concurrent use.
type Cache struct {
	cfg Config

	blocks     *lru.LRU[domain.Slot, blockEntry]
	committees *lru.LRU[domain.Slot, []domain.Committee]

	mu              sync.Mutex
	blockStats      Stats
	committeeStats  Stats

	blockHitCounter       prometheus.Counter
	blockMissCounter      prometheus.Counter
	committeeHitCounter   prometheus.Counter
	committeeMissCounter  prometheus.Counter

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New constructs a Cache and starts its periodic sweep goroutine.
// metrics may be nil in tests; when non-nil the four counters are
// registered with that registry.
func New(cfg Config, metrics *prometheus.Registry) *Cache {
	c := &Cache{
		cfg:        cfg,
		blocks:     lru.NewLRU[domain.Slot, blockEntry](cfg.MaxSize, nil, cfg.TTL),
		committees: lru.NewLRU[domain.Slot, []domain.Committee](cfg.MaxSize, nil, cfg.TTL),
		stopSweep:  make(chan struct{}),
	}

	c.blockHitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duties_indexer_block_cache_hits_total",
		Help: "Number of block cache hits.",
	})
	c.blockMissCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duties_indexer_block_cache_misses_total",
		Help: "Number of block cache misses.",
	})
	c.committeeHitCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duties_indexer_committee_cache_hits_total",
		Help: "Number of committee cache hits.",
	})
	c.committeeMissCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "duties_indexer_committee_cache_misses_total",
		Help: "Number of committee cache misses.",
	})
	if metrics != nil {
		metrics.MustRegister(c.blockHitCounter, c.blockMissCounter, c.committeeHitCounter, c.committeeMissCounter)
	}

	if cfg.CleanupInterval > 0 {
		go c.sweepLoop(cfg.CleanupInterval)
	}
	return c
}

// sweepLoop periodically touches every key in both stores so entries
// past their TTL are reclaimed even if nothing ever requests them
// again; the expirable LRU already expires lazily on access, this is
// belt-and-suspenders for long-idle keys.
func (c *Cache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, k := range c.blocks.Keys() {
				c.blocks.Get(k)
			}
			for _, k := range c.committees.Keys() {
				c.committees.Get(k)
			}
		case <-c.stopSweep:
			return
		}
	}
}

// Stop halts the periodic sweep goroutine. Safe to call more than once.
func (c *Cache) Stop() {
	c.sweepOnce.Do(func() { close(c.stopSweep) })
}

// HasBlock reports whether slot is present in the block cache, without
// affecting hit/miss stats.
func (c *Cache) HasBlock(slot domain.Slot) bool {
	return c.blocks.Contains(slot)
}

// GetBlock returns the cached block for slot. ok is false on a miss;
// when ok is true and block is nil, slot was cached as a missed-slot
// tombstone.
func (c *Cache) GetBlock(slot domain.Slot) (block *domain.Block, ok bool) {
	entry, found := c.blocks.Get(slot)
	c.mu.Lock()
	if found {
		c.blockStats.Hits++
		c.blockHitCounter.Inc()
	} else {
		c.blockStats.Misses++
		c.blockMissCounter.Inc()
	}
	c.mu.Unlock()
	if !found {
		return nil, false
	}
	return entry.block, true
}

// SetBlock caches a decoded block for slot.
func (c *Cache) SetBlock(slot domain.Slot, block *domain.Block) {
	c.blocks.Add(slot, blockEntry{block: block})
}

// SetBlockTombstone caches slot as a missed slot.
func (c *Cache) SetBlockTombstone(slot domain.Slot) {
	c.blocks.Add(slot, blockEntry{tombstone: true})
}

// HasCommittees reports whether slot's committees are cached.
func (c *Cache) HasCommittees(slot domain.Slot) bool {
	return c.committees.Contains(slot)
}

// GetCommittees returns the cached committee list for slot.
func (c *Cache) GetCommittees(slot domain.Slot) (committees []domain.Committee, ok bool) {
	v, found := c.committees.Get(slot)
	c.mu.Lock()
	if found {
		c.committeeStats.Hits++
		c.committeeHitCounter.Inc()
	} else {
		c.committeeStats.Misses++
		c.committeeMissCounter.Inc()
	}
	c.mu.Unlock()
	if !found {
		return nil, false
	}
	return v, true
}

// SetCommittees caches the committee list for slot.
func (c *Cache) SetCommittees(slot domain.Slot, committees []domain.Committee) {
	c.committees.Add(slot, committees)
}

// BlockStats returns a snapshot of the block store's hit/miss counters.
func (c *Cache) BlockStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockStats
}

// CommitteeStats returns a snapshot of the committee store's hit/miss
// counters.
func (c *Cache) CommitteeStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committeeStats
}
