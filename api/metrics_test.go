package api

import (
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvisioningFailureSpikeAlert(t *testing.T) {
	var mu sync.Mutex
	var alerts []AlertEvent
	collector := newMetricsCollector(func(e AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	})
	// Override threshold for fast testing.
	collector.provThreshold = 3

	for i := 0; i < 2; i++ {
		collector.recordEvent(AuditProvisioningFailed)
	}
	mu.Lock()
	assert.Empty(t, alerts, "no alert below threshold")
	mu.Unlock()

	collector.recordEvent(AuditProvisioningFailed)
	mu.Lock()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertProvisioningFailureSpike, alerts[0].Type)
	assert.Equal(t, 3, alerts[0].Count)
	mu.Unlock()

	// The window resets after an alert; the next failure alone must not
	// re-trigger.
	collector.recordEvent(AuditProvisioningFailed)
	mu.Lock()
	assert.Len(t, alerts, 1)
	mu.Unlock()
}

func TestAuthFailureSpikeAlert(t *testing.T) {
	var mu sync.Mutex
	var alerts []AlertEvent
	collector := newMetricsCollector(func(e AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	})
	collector.authThreshold = 5

	for i := 0; i < 5; i++ {
		collector.recordEvent(AuditAuthFailure)
	}
	mu.Lock()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertAuthFailureSpike, alerts[0].Type)
	assert.Equal(t, 5, alerts[0].Count)
	mu.Unlock()
}

func TestMetricsSlidingWindowExpiry(t *testing.T) {
	var mu sync.Mutex
	var alerts []AlertEvent
	collector := newMetricsCollector(func(e AlertEvent) {
		mu.Lock()
		alerts = append(alerts, e)
		mu.Unlock()
	})
	collector.provThreshold = 2
	collector.provWindow = 10 * time.Millisecond

	collector.recordEvent(AuditProvisioningFailed)
	time.Sleep(20 * time.Millisecond)
	collector.recordEvent(AuditProvisioningFailed)

	mu.Lock()
	assert.Empty(t, alerts, "expired failures must not count toward the threshold")
	mu.Unlock()
}

func TestMetricsNoAlertWithoutCallback(t *testing.T) {
	// A nil alertFn should not panic.
	collector := newMetricsCollector(nil)
	collector.recordEvent(AuditProvisioningFailed)
}

func TestMetricsNilCollector(t *testing.T) {
	// A nil collector should not panic.
	var collector *metricsCollector
	collector.recordEvent(AuditProvisioningFailed)
}

func TestAuditFeedsMetricsCollector(t *testing.T) {
	var mu sync.Mutex
	var alerts []AlertEvent

	a := New(nil, nil, nil,
		WithAlertFunc(func(e AlertEvent) {
			mu.Lock()
			alerts = append(alerts, e)
			mu.Unlock()
		}),
		WithLogger(slog.Default()))
	require.NotNil(t, a.audit.metrics, "logger option must preserve the collector")
	a.audit.metrics.authThreshold = 2

	r := httptest.NewRequest("GET", "/sessions/x", nil)
	a.audit.logFailure(AuditAuthFailure, r, "bad token")
	a.audit.logFailure(AuditAuthFailure, r, "bad token")

	mu.Lock()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertAuthFailureSpike, alerts[0].Type)
	mu.Unlock()
}
