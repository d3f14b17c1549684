package cache

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pricefeed/internal/pricing"
)

// Entry is one durable cache record. The payload is an encoded pricing.Quote;
// the cache itself never looks inside it.
type Entry struct {
	Key      string             `json:"key"`
	Class    pricing.AssetClass `json:"class"`
	Payload  []byte             `json:"payload"`
	StoredAt time.Time          `json:"stored_at"`
}

// DurableStore is the persistent tier. Implementations must tolerate
// concurrent calls and absent/corrupt data: Get returns (nil, nil) for
// anything it cannot produce a valid entry for.
type DurableStore interface {
	Put(ctx context.Context, e Entry) error
	Get(ctx context.Context, class pricing.AssetClass, key string) (*Entry, error)
	// DeleteOlderThan removes entries stored before cutoff. Stores with
	// native expiry may implement this as a no-op.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) error
}

// Options fix the expiry policy for the lifetime of the cache.
type Options struct {
	CryptoMaxAge time.Duration
	ETFMaxAge    time.Duration
	// EvictionMultiplier widens the durable sweep threshold relative to the
	// memory one, keeping slightly-stale durable copies around as a fallback
	// during provider outages. Fetch still enforces the caller's maxAge.
	EvictionMultiplier float64
}

func (o *Options) normalize() {
	if o.CryptoMaxAge <= 0 {
		o.CryptoMaxAge = 5 * time.Minute
	}
	if o.ETFMaxAge <= 0 {
		o.ETFMaxAge = time.Hour
	}
	if o.EvictionMultiplier < 1 {
		o.EvictionMultiplier = 2
	}
}

type memKey struct {
	class pricing.AssetClass
	key   string
}

type memEntry struct {
	payload  []byte
	storedAt time.Time
}

// Cache is a two-tier response cache: a mutex-guarded in-memory map backed by
// an optional durable store. Memory writes are synchronous; durable writes
// are best-effort because the memory tier already holds the authoritative
// copy for the current process.
type Cache struct {
	opts    Options
	durable DurableStore // nil disables the durable tier
	log     zerolog.Logger

	mu  sync.Mutex
	mem map[memKey]memEntry

	now func() time.Time // test seam
}

func New(opts Options, durable DurableStore, log zerolog.Logger) *Cache {
	opts.normalize()
	return &Cache{
		opts:    opts,
		durable: durable,
		log:     log,
		mem:     make(map[memKey]memEntry),
		now:     time.Now,
	}
}

// Store writes to both tiers. A durable failure is logged and swallowed;
// it must never fail the fetch that produced the payload.
func (c *Cache) Store(ctx context.Context, key string, class pricing.AssetClass, payload []byte) {
	now := c.now()

	c.mu.Lock()
	c.mem[memKey{class, key}] = memEntry{payload: payload, storedAt: now}
	c.mu.Unlock()

	if c.durable == nil {
		return
	}
	e := Entry{Key: key, Class: class, Payload: payload, StoredAt: now}
	if err := c.durable.Put(ctx, e); err != nil {
		c.log.Warn().Err(err).Str("symbol", key).Str("class", string(class)).
			Msg("durable cache write failed")
	}
}

// Fetch returns the cached payload for (class, key) if one exists no older
// than maxAge, else nil. Stale memory entries are skipped, not deleted; the
// sweep reclaims them. A durable hit is promoted into memory with its
// original timestamp so the memory tier stays warm across restarts.
func (c *Cache) Fetch(ctx context.Context, key string, class pricing.AssetClass, maxAge time.Duration) []byte {
	now := c.now()
	mk := memKey{class, key}

	c.mu.Lock()
	if e, ok := c.mem[mk]; ok && now.Sub(e.storedAt) < maxAge {
		c.mu.Unlock()
		return e.payload
	}
	c.mu.Unlock()

	if c.durable == nil {
		return nil
	}
	e, err := c.durable.Get(ctx, class, key)
	if err != nil {
		c.log.Warn().Err(err).Str("symbol", key).Msg("durable cache read failed")
		return nil
	}
	if e == nil || now.Sub(e.StoredAt) >= maxAge {
		return nil
	}

	// Promote. The durable copy keeps its original StoredAt; a read does
	// not extend an entry's life in either tier.
	c.mu.Lock()
	c.mem[mk] = memEntry{payload: e.Payload, storedAt: e.StoredAt}
	c.mu.Unlock()
	return e.Payload
}

// SweepExpired removes memory entries older than the wider of the two
// per-class max ages, and durable entries older than that threshold times
// the eviction multiplier.
func (c *Cache) SweepExpired(ctx context.Context) {
	maxAge := c.opts.CryptoMaxAge
	if c.opts.ETFMaxAge > maxAge {
		maxAge = c.opts.ETFMaxAge
	}
	now := c.now()
	memCutoff := now.Add(-maxAge)

	removed := 0
	c.mu.Lock()
	for k, e := range c.mem {
		if e.storedAt.Before(memCutoff) {
			delete(c.mem, k)
			removed++
		}
	}
	c.mu.Unlock()

	if c.durable != nil {
		durCutoff := now.Add(-time.Duration(float64(maxAge) * c.opts.EvictionMultiplier))
		if err := c.durable.DeleteOlderThan(ctx, durCutoff); err != nil {
			c.log.Warn().Err(err).Msg("durable cache sweep failed")
		}
	}
	c.log.Debug().Int("memory_removed", removed).Msg("cache sweep complete")
}

// Run sweeps on a fixed interval until ctx is canceled.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.SweepExpired(ctx)
		}
	}
}
