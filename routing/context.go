package routing

import (
	"time"

	"github.com/Payvo-ai/payvo-middleware-sub001/signal"
)

// Location is a device position fix.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Terminal describes the point-of-sale terminal, when known.
type Terminal struct {
	TerminalID string `json:"terminal_id"`
	DeviceID   string `json:"device_id,omitempty"`
	Kernel     string `json:"kernel,omitempty"`
}

// PreTapContext is the ambient signal snapshot captured for a session
// immediately before a tap. Any signal may be absent; the snapshot is
// immutable once captured.
type PreTapContext struct {
	SessionID   string               `json:"session_id"`
	Location    *Location            `json:"location,omitempty"`
	Wifi        []signal.AccessPoint `json:"wifi,omitempty"`
	Beacons     []signal.Beacon      `json:"beacons,omitempty"`
	Terminal    *Terminal            `json:"terminal,omitempty"`
	CollectedAt time.Time            `json:"collected_at"`
}

// Keys derives the cache key for each signal present in the snapshot.
// Absent signals yield no entry.
func (c *PreTapContext) Keys() map[signal.Kind]string {
	keys := make(map[signal.Kind]string, 4)
	if c.Terminal != nil {
		if k := signal.TerminalKey(c.Terminal.TerminalID, c.Terminal.DeviceID); k != "" {
			keys[signal.KindTerminal] = k
		}
	}
	if c.Location != nil {
		keys[signal.KindLocation] = signal.LocationKey(c.Location.Latitude, c.Location.Longitude)
	}
	if k := signal.WifiKey(c.Wifi); k != "" {
		keys[signal.KindWifi] = k
	}
	if k := signal.BLEKey(c.Beacons); k != "" {
		keys[signal.KindBLE] = k
	}
	return keys
}

// Empty reports whether the snapshot carries no usable signal at all.
func (c *PreTapContext) Empty() bool {
	return c.Location == nil && len(c.Wifi) == 0 && len(c.Beacons) == 0 && c.Terminal == nil
}
