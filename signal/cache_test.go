package signal

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testCache(ttl time.Duration) *Cache {
	return NewCache(KindTerminal, Config{TTL: ttl})
}

func TestObserveCreatesRecord(t *testing.T) {
	c := testCache(time.Hour)

	rec := c.Observe("term-1", "5814", 0.7)
	require.Equal(t, "5814", rec.MCC)
	require.Equal(t, 0.7, rec.Confidence)
	require.Equal(t, 1, rec.Observations)

	got, ok := c.Lookup("term-1")
	require.True(t, ok)
	require.Equal(t, rec.MCC, got.MCC)
}

func TestObserveRunningMean(t *testing.T) {
	c := testCache(time.Hour)

	c.Observe("term-1", "5814", 1.0)
	rec := c.Observe("term-1", "5814", 0.95)

	require.Equal(t, 2, rec.Observations)
	require.Less(t, rec.Confidence, 1.0)
	require.Greater(t, rec.Confidence, 0.9)
}

func TestObserveConvergesWithoutExceedingOne(t *testing.T) {
	c := testCache(time.Hour)

	var rec Record
	for i := 0; i < 50; i++ {
		rec = c.Observe("term-1", "5411", 0.9)
	}
	require.Equal(t, 50, rec.Observations)
	require.LessOrEqual(t, rec.Confidence, 1.0)
	require.InDelta(t, 0.9, rec.Confidence, 0.01)
}

func TestObserveConflictDecays(t *testing.T) {
	c := testCache(time.Hour)

	// Build up a confident record: 5 observations of 5814 at 0.9.
	for i := 0; i < 5; i++ {
		c.Observe("term-1", "5814", 0.9)
	}

	rec := c.Observe("term-1", "5411", 0.8)
	// 0.9 halved is 0.45, above the 0.2 floor: the old MCC is retained.
	require.Equal(t, "5814", rec.MCC)
	require.LessOrEqual(t, rec.Confidence, 0.45)
}

func TestObserveConflictFlipsBelowFloor(t *testing.T) {
	c := testCache(time.Hour)

	c.Observe("term-1", "5814", 0.3)
	rec := c.Observe("term-1", "5411", 0.8)

	// 0.3 halved is 0.15, under the 0.2 floor: the record flips.
	require.Equal(t, "5411", rec.MCC)
	require.Equal(t, 0.8, rec.Confidence)
	require.Equal(t, 1, rec.Observations)
}

func TestLookupExpiredIsAbsent(t *testing.T) {
	c := testCache(time.Hour)
	c.Observe("term-1", "5814", 0.9)

	// Age the record past its TTL without sweeping.
	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, ok := c.Lookup("term-1")
	require.False(t, ok)
	// Still physically present until swept.
	require.Equal(t, 1, c.Len())
}

func TestSweepRemovesOnlyBeyondGrace(t *testing.T) {
	c := testCache(time.Hour)
	c.Observe("old", "5814", 0.9)

	c.now = func() time.Time { return time.Now().Add(90 * time.Minute) }
	c.Observe("fresh", "5411", 0.9)

	// "old" is 90m stale: expired (TTL 1h) but within the 2x grace window.
	require.Equal(t, 0, c.Sweep())

	c.now = func() time.Time { return time.Now().Add(3 * time.Hour) }
	require.Equal(t, 1, c.Sweep())
	require.Equal(t, 1, c.Len())

	stats := c.Stats()
	require.Equal(t, uint64(1), stats.Evictions)
}

func TestObserveConcurrentNoLostUpdates(t *testing.T) {
	c := testCache(time.Hour)

	const goroutines = 8
	const perGoroutine = 100

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				c.Observe("term-1", "5814", 0.8)
				c.Lookup("term-1")
			}
		}()
	}
	wg.Wait()

	rec, ok := c.Lookup("term-1")
	require.True(t, ok)
	require.Equal(t, goroutines*perGoroutine, rec.Observations)
}

func TestSnapshotRestore(t *testing.T) {
	c := testCache(time.Hour)
	for i := 0; i < 3; i++ {
		c.Observe(fmt.Sprintf("term-%d", i), "5814", 0.9)
	}

	snap := c.Snapshot()
	require.Len(t, snap, 3)

	restored := testCache(time.Hour)
	restored.Restore(snap)
	require.Equal(t, 3, restored.Len())

	rec, ok := restored.Lookup("term-1")
	require.True(t, ok)
	require.Equal(t, "5814", rec.MCC)
}

func TestLayerDefaults(t *testing.T) {
	l := NewLayer()
	defer l.Stop()

	require.Equal(t, DefaultTerminalTTL, l.Terminal().Config().TTL)
	require.Equal(t, DefaultLocationTTL, l.Location().Config().TTL)
	require.Equal(t, DefaultFingerprintTTL, l.Wifi().Config().TTL)
	require.Equal(t, DefaultFingerprintTTL, l.BLE().Config().TTL)

	for _, kind := range Kinds {
		require.NotNil(t, l.ByKind(kind), "missing cache for %s", kind)
	}
	require.Nil(t, l.ByKind(Kind("bogus")))
}
