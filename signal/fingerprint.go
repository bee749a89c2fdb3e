package signal

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"

	"github.com/Payvo-ai/payvo-middleware-sub001/internal/geo"
)

// AccessPoint is one observed Wi-Fi network.
type AccessPoint struct {
	SSID      string `json:"ssid"`
	BSSID     string `json:"bssid"`
	Signal    int    `json:"signal"`
	Frequency int    `json:"frequency"`
}

// Beacon is one observed BLE beacon.
type Beacon struct {
	DeviceID string `json:"device_id"`
	UUID     string `json:"uuid"`
	Major    int    `json:"major"`
	Minor    int    `json:"minor"`
	RSSI     int    `json:"rssi"`
}

// WifiKey derives a stable cache key from a set of access points. The key
// is order-insensitive and unaffected by SSID casing or Unicode encoding
// differences, so repeated scans of the same venue collide.
func WifiKey(aps []AccessPoint) string {
	if len(aps) == 0 {
		return ""
	}
	parts := make([]string, 0, len(aps))
	for _, ap := range aps {
		ssid := strings.ToLower(norm.NFC.String(strings.TrimSpace(ap.SSID)))
		bssid := strings.ToLower(strings.TrimSpace(ap.BSSID))
		parts = append(parts, ssid+"|"+bssid)
	}
	sort.Strings(parts)
	return fingerprint("wifi", parts)
}

// BLEKey derives a stable, order-insensitive cache key from a set of
// beacons.
func BLEKey(beacons []Beacon) string {
	if len(beacons) == 0 {
		return ""
	}
	parts := make([]string, 0, len(beacons))
	for _, b := range beacons {
		parts = append(parts, fmt.Sprintf("%s|%d|%d",
			strings.ToLower(strings.TrimSpace(b.UUID)), b.Major, b.Minor))
	}
	sort.Strings(parts)
	return fingerprint("ble", parts)
}

// TerminalKey derives the cache key for a POS terminal.
func TerminalKey(terminalID, deviceID string) string {
	if terminalID == "" {
		return ""
	}
	return fingerprint("terminal", []string{terminalID, deviceID})
}

// LocationKey derives the cache key for a location: its geohash cell.
func LocationKey(lat, lon float64) string {
	return geo.Cell(lat, lon)
}

func fingerprint(domain string, parts []string) string {
	sum := blake2b.Sum256([]byte(domain + ":" + strings.Join(parts, ",")))
	return hex.EncodeToString(sum[:16])
}
