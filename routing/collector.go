package routing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/Payvo-ai/payvo-middleware-sub001/signal"
)

// Signal providers are the platform-specific acquisition hooks. Each is
// optional; a nil provider simply means that signal is always absent.
type (
	// LocationProvider resolves the device's current position.
	LocationProvider interface {
		Location(ctx context.Context, userID string) (Location, error)
	}
	// WifiProvider scans visible Wi-Fi networks.
	WifiProvider interface {
		ScanWifi(ctx context.Context, userID string) ([]signal.AccessPoint, error)
	}
	// BLEProvider scans nearby BLE beacons.
	BLEProvider interface {
		ScanBeacons(ctx context.Context, userID string) ([]signal.Beacon, error)
	}
	// TerminalProvider identifies the POS terminal the device is near.
	TerminalProvider interface {
		Terminal(ctx context.Context, sessionID string) (Terminal, error)
	}
)

// Collector assembles PreTapContext snapshots. The four acquisitions run
// concurrently, each under its own timeout; an individual failure or
// timeout degrades to an absent signal, never a failed snapshot.
type Collector struct {
	location LocationProvider
	wifi     WifiProvider
	ble      BLEProvider
	terminal TerminalProvider

	signalTimeout time.Duration
	snapshotTTL   time.Duration
	logger        *slog.Logger

	mu        sync.RWMutex
	snapshots map[string]cachedSnapshot
}

type cachedSnapshot struct {
	ctx        *PreTapContext
	capturedAt time.Time
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithLocationProvider sets the location acquisition hook.
func WithLocationProvider(p LocationProvider) CollectorOption {
	return func(c *Collector) { c.location = p }
}

// WithWifiProvider sets the Wi-Fi scan hook.
func WithWifiProvider(p WifiProvider) CollectorOption {
	return func(c *Collector) { c.wifi = p }
}

// WithBLEProvider sets the BLE scan hook.
func WithBLEProvider(p BLEProvider) CollectorOption {
	return func(c *Collector) { c.ble = p }
}

// WithTerminalProvider sets the terminal identification hook.
func WithTerminalProvider(p TerminalProvider) CollectorOption {
	return func(c *Collector) { c.terminal = p }
}

// WithSignalTimeout bounds each individual signal acquisition.
func WithSignalTimeout(d time.Duration) CollectorOption {
	return func(c *Collector) { c.signalTimeout = d }
}

// WithSnapshotTTL bounds how long a captured snapshot is served from the
// session-keyed cache.
func WithSnapshotTTL(d time.Duration) CollectorOption {
	return func(c *Collector) { c.snapshotTTL = d }
}

// WithCollectorLogger sets the structured logger.
func WithCollectorLogger(logger *slog.Logger) CollectorOption {
	return func(c *Collector) { c.logger = logger }
}

// NewCollector creates a Collector. Without provider options every
// signal is absent, which still yields a valid (empty) snapshot.
func NewCollector(opts ...CollectorOption) *Collector {
	c := &Collector{
		signalTimeout: 2 * time.Second,
		snapshotTTL:   30 * time.Second,
		logger:        slog.Default(),
		snapshots:     make(map[string]cachedSnapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Collect captures a snapshot for the session. The only error returned
// is the caller's own context being cancelled; signal-level failures are
// logged and degrade to absence.
func (c *Collector) Collect(ctx context.Context, userID, sessionID string) (*PreTapContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snap := &PreTapContext{SessionID: sessionID, CollectedAt: time.Now()}

	var wg sync.WaitGroup
	var mu sync.Mutex

	acquire := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sctx, cancel := context.WithTimeout(ctx, c.signalTimeout)
			defer cancel()
			if err := fn(sctx); err != nil {
				// Signal unavailable: recorded, not propagated.
				c.logger.Debug("signal unavailable",
					"signal", name, "session_id", sessionID, "error", err)
			}
		}()
	}

	if c.location != nil {
		acquire("location", func(sctx context.Context) error {
			loc, err := c.location.Location(sctx, userID)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Location = &loc
			mu.Unlock()
			return nil
		})
	}
	if c.wifi != nil {
		acquire("wifi", func(sctx context.Context) error {
			aps, err := c.wifi.ScanWifi(sctx, userID)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Wifi = aps
			mu.Unlock()
			return nil
		})
	}
	if c.ble != nil {
		acquire("ble", func(sctx context.Context) error {
			beacons, err := c.ble.ScanBeacons(sctx, userID)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Beacons = beacons
			mu.Unlock()
			return nil
		})
	}
	if c.terminal != nil {
		acquire("terminal", func(sctx context.Context) error {
			term, err := c.terminal.Terminal(sctx, sessionID)
			if err != nil {
				return err
			}
			mu.Lock()
			snap.Terminal = &term
			mu.Unlock()
			return nil
		})
	}

	wg.Wait()

	c.mu.Lock()
	c.snapshots[sessionID] = cachedSnapshot{ctx: snap, capturedAt: snap.CollectedAt}
	c.mu.Unlock()

	return snap, nil
}

// Cached returns the snapshot previously collected for the session, if
// it is still within the snapshot TTL. Later pipeline stages use this to
// re-read the context without touching hardware again.
func (c *Collector) Cached(sessionID string) (*PreTapContext, bool) {
	c.mu.RLock()
	entry, ok := c.snapshots[sessionID]
	c.mu.RUnlock()
	if !ok || time.Since(entry.capturedAt) > c.snapshotTTL {
		return nil, false
	}
	return entry.ctx, true
}

// Forget drops the cached snapshot for a session.
func (c *Collector) Forget(sessionID string) {
	c.mu.Lock()
	delete(c.snapshots, sessionID)
	c.mu.Unlock()
}
