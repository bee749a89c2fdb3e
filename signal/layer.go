package signal

import (
	"sync"
	"time"
)

// Default TTLs reflect how quickly each source's ground truth drifts:
// terminals are rewired rarely, wireless fingerprints churn often.
const (
	DefaultTerminalTTL    = 12 * time.Hour
	DefaultLocationTTL    = 24 * time.Hour
	DefaultFingerprintTTL = 6 * time.Hour

	// DefaultSweepInterval is how often the background sweeper runs.
	DefaultSweepInterval = 30 * time.Minute
)

// Layer bundles the four per-source caches and their background sweeper.
type Layer struct {
	terminal *Cache
	location *Cache
	wifi     *Cache
	ble      *Cache

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// LayerOption configures a Layer.
type LayerOption func(*layerConfig)

type layerConfig struct {
	terminal Config
	location Config
	wifi     Config
	ble      Config
}

// WithConfig overrides the configuration for one cache kind.
func WithConfig(kind Kind, cfg Config) LayerOption {
	return func(lc *layerConfig) {
		switch kind {
		case KindTerminal:
			lc.terminal = cfg
		case KindLocation:
			lc.location = cfg
		case KindWifi:
			lc.wifi = cfg
		case KindBLE:
			lc.ble = cfg
		}
	}
}

// NewLayer creates the four caches with the default TTLs unless overridden.
func NewLayer(opts ...LayerOption) *Layer {
	lc := layerConfig{
		terminal: Config{TTL: DefaultTerminalTTL},
		location: Config{TTL: DefaultLocationTTL},
		wifi:     Config{TTL: DefaultFingerprintTTL},
		ble:      Config{TTL: DefaultFingerprintTTL},
	}
	for _, opt := range opts {
		opt(&lc)
	}
	return &Layer{
		terminal: NewCache(KindTerminal, lc.terminal),
		location: NewCache(KindLocation, lc.location),
		wifi:     NewCache(KindWifi, lc.wifi),
		ble:      NewCache(KindBLE, lc.ble),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ByKind returns the cache for the given kind, or nil for an unknown kind.
func (l *Layer) ByKind(kind Kind) *Cache {
	switch kind {
	case KindTerminal:
		return l.terminal
	case KindLocation:
		return l.location
	case KindWifi:
		return l.wifi
	case KindBLE:
		return l.ble
	}
	return nil
}

// Terminal returns the terminal-id cache.
func (l *Layer) Terminal() *Cache { return l.terminal }

// Location returns the location-cell cache.
func (l *Layer) Location() *Cache { return l.location }

// Wifi returns the Wi-Fi fingerprint cache.
func (l *Layer) Wifi() *Cache { return l.wifi }

// BLE returns the BLE fingerprint cache.
func (l *Layer) BLE() *Cache { return l.ble }

// SweepAll sweeps every cache once and returns the total removed.
func (l *Layer) SweepAll() int {
	removed := 0
	for _, kind := range Kinds {
		removed += l.ByKind(kind).Sweep()
	}
	return removed
}

// StartSweeper runs SweepAll on the given interval until Stop is called.
func (l *Layer) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		defer close(l.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.SweepAll()
			case <-l.stop:
				return
			}
		}
	}()
}

// Stop terminates the background sweeper. Safe to call more than once,
// and safe to call when StartSweeper was never invoked.
func (l *Layer) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// StatsByKind returns per-cache counters keyed by kind name.
func (l *Layer) StatsByKind() map[Kind]Stats {
	out := make(map[Kind]Stats, len(Kinds))
	for _, kind := range Kinds {
		out[kind] = l.ByKind(kind).Stats()
	}
	return out
}
