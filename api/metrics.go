package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertProvisioningFailureSpike AlertType = "provisioning_failure_spike"
	AlertAuthFailureSpike         AlertType = "auth_failure_spike"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu sync.Mutex

	// Sliding window for token provisioning failures.
	provFailures  []time.Time
	provWindow    time.Duration
	provThreshold int

	// Sliding window for auth failures.
	authFailures  []time.Time
	authWindow    time.Duration
	authThreshold int

	alertFn AlertFunc
}

const (
	defaultProvFailureWindow    = 5 * time.Minute
	defaultProvFailureThreshold = 10
	defaultAuthFailureWindow    = 1 * time.Minute
	defaultAuthFailureThreshold = 50
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		provWindow:    defaultProvFailureWindow,
		provThreshold: defaultProvFailureThreshold,
		authWindow:    defaultAuthFailureWindow,
		authThreshold: defaultAuthFailureThreshold,
		alertFn:       alertFn,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditProvisioningFailed:
		m.recordProvisioningFailure()
	case AuditAuthFailure:
		m.recordAuthFailure()
	}
}

func (m *metricsCollector) recordProvisioningFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.provFailures = append(m.provFailures, now)
	m.provFailures = trimWindow(m.provFailures, now, m.provWindow)

	if len(m.provFailures) >= m.provThreshold {
		m.alertFn(AlertEvent{
			Type:      AlertProvisioningFailureSpike,
			Message:   "token provisioning failure rate exceeds threshold",
			Count:     len(m.provFailures),
			Threshold: m.provThreshold,
			Timestamp: now,
		})
		// Reset to avoid repeated alerts within the same spike.
		m.provFailures = m.provFailures[:0]
	}
}

func (m *metricsCollector) recordAuthFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	m.authFailures = append(m.authFailures, now)
	m.authFailures = trimWindow(m.authFailures, now, m.authWindow)

	if len(m.authFailures) >= m.authThreshold {
		m.alertFn(AlertEvent{
			Type:      AlertAuthFailureSpike,
			Message:   "auth failure rate exceeds threshold",
			Count:     len(m.authFailures),
			Threshold: m.authThreshold,
			Timestamp: now,
		})
		m.authFailures = m.authFailures[:0]
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
