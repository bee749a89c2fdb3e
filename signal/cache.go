// Package signal implements the per-source merchant category caches.
//
// Each signal source (terminal, location, wifi, ble) gets its own
// TTL-bounded cache mapping a hashed key to a learned (MCC, confidence)
// record. Records are never overwritten blindly: confidence is re-derived
// from the observation history on every Observe call.
package signal

import (
	"sync"
	"time"
)

// Kind identifies one of the four signal caches.
type Kind string

const (
	KindTerminal Kind = "terminal"
	KindLocation Kind = "location"
	KindWifi     Kind = "wifi"
	KindBLE      Kind = "ble"
)

// Kinds lists all cache kinds in a stable order.
var Kinds = []Kind{KindTerminal, KindLocation, KindWifi, KindBLE}

// Record is a learned association between a signal key and an MCC.
type Record struct {
	Key          string    `json:"key"`
	MCC          string    `json:"mcc"`
	Confidence   float64   `json:"confidence"`
	Observations int       `json:"observations"`
	CreatedAt    time.Time `json:"created_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Config holds the tunables for a single cache. The decay and floor
// constants are design values, not compatibility requirements.
type Config struct {
	// TTL is the maximum last-seen age before a record stops being served.
	TTL time.Duration
	// SweepGrace is the multiple of TTL after which the sweeper removes
	// a record physically. Defaults to 2.
	SweepGrace float64
	// MinConfidence is the lowest confidence at which a record is
	// considered a usable prediction by callers.
	MinConfidence float64
	// DecayFactor is applied to confidence when an observation disagrees
	// with the stored MCC.
	DecayFactor float64
	// ReplaceFloor is the decayed confidence below which a disagreeing
	// observation replaces the record outright.
	ReplaceFloor float64
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = 12 * time.Hour
	}
	if c.SweepGrace <= 0 {
		c.SweepGrace = 2
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.1
	}
	if c.DecayFactor <= 0 {
		c.DecayFactor = 0.5
	}
	if c.ReplaceFloor <= 0 {
		c.ReplaceFloor = 0.2
	}
	return c
}

// Stats are monotonic counters for one cache.
type Stats struct {
	Size      int    `json:"size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Cache is a thread-safe TTL cache for one signal kind.
type Cache struct {
	kind Kind
	cfg  Config

	mu      sync.RWMutex
	records map[string]*Record

	hits      uint64
	misses    uint64
	evictions uint64

	// now is swappable for tests.
	now func() time.Time
}

// NewCache creates an empty cache for the given kind.
func NewCache(kind Kind, cfg Config) *Cache {
	return &Cache{
		kind:    kind,
		cfg:     cfg.withDefaults(),
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Kind returns the cache's signal kind.
func (c *Cache) Kind() Kind { return c.kind }

// Config returns the cache's configuration.
func (c *Cache) Config() Config { return c.cfg }

// Lookup returns the record for key if one exists and is within its TTL.
// Expired records are treated as absent even if not yet swept.
func (c *Cache) Lookup(key string) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[key]
	if !ok || c.now().Sub(rec.LastSeen) > c.cfg.TTL {
		c.misses++
		return Record{}, false
	}
	c.hits++
	return *rec, true
}

// Observe records a sighting of (key, mcc) with the given sample
// confidence and re-derives the stored confidence:
//
//   - no record: create with the sample confidence and count 1
//   - same MCC: running weighted mean, count incremented
//   - different MCC: halve the stored confidence; if it falls below the
//     replacement floor, the record flips to the new MCC, otherwise the
//     old MCC is retained at the decayed confidence
func (c *Cache) Observe(key, mcc string, sampleConfidence float64) Record {
	sampleConfidence = clamp01(sampleConfidence)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[key]
	if !ok {
		rec = &Record{
			Key:          key,
			MCC:          mcc,
			Confidence:   sampleConfidence,
			Observations: 1,
			CreatedAt:    now,
			LastSeen:     now,
		}
		c.records[key] = rec
		return *rec
	}

	if rec.MCC == mcc {
		n := float64(rec.Observations)
		rec.Confidence = clamp01((rec.Confidence*n + sampleConfidence) / (n + 1))
		rec.Observations++
		rec.LastSeen = now
		return *rec
	}

	decayed := rec.Confidence * c.cfg.DecayFactor
	if decayed < c.cfg.ReplaceFloor {
		rec.MCC = mcc
		rec.Confidence = sampleConfidence
		rec.Observations = 1
		rec.CreatedAt = now
	} else {
		// Majority-vote stability: keep the old MCC against a one-off
		// misread, but at reduced confidence.
		rec.Confidence = decayed
	}
	rec.LastSeen = now
	return *rec
}

// Sweep removes records whose last-seen age exceeds SweepGrace x TTL and
// returns the number removed.
func (c *Cache) Sweep() int {
	cutoff := time.Duration(float64(c.cfg.TTL) * c.cfg.SweepGrace)
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, rec := range c.records {
		if now.Sub(rec.LastSeen) > cutoff {
			delete(c.records, key)
			removed++
		}
	}
	c.evictions += uint64(removed)
	return removed
}

// Len returns the number of physically present records, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Size:      len(c.records),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Snapshot returns a copy of every record for persistence.
func (c *Cache) Snapshot() []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Record, 0, len(c.records))
	for _, rec := range c.records {
		out = append(out, *rec)
	}
	return out
}

// Restore loads records into the cache, replacing any present entries
// with the same key. Intended for startup from persisted state.
func (c *Cache) Restore(records []Record) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, rec := range records {
		cp := rec
		c.records[rec.Key] = &cp
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
