package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// initiateRateLimiter caps session initiations per user over a sliding
// window. Activation and completion are not limited; only the entry
// point that allocates sessions and fans out signal collection.
type initiateRateLimiter struct {
	mu        sync.Mutex
	attempts  map[string][]time.Time
	lastSweep time.Time

	window time.Duration
	limit  int
}

const (
	// defaultInitiateWindow and defaultInitiateLimit allow bursts of
	// taps without letting one client fill the session registry.
	defaultInitiateWindow = time.Minute
	defaultInitiateLimit  = 30

	// initiateRecordExpiry is how long after the last attempt before a
	// user's record is garbage-collected.
	initiateRecordExpiry = time.Hour
)

func newInitiateRateLimiter() *initiateRateLimiter {
	return &initiateRateLimiter{
		attempts:  make(map[string][]time.Time),
		lastSweep: time.Now(),
		window:    defaultInitiateWindow,
		limit:     defaultInitiateLimit,
	}
}

// allow records an attempt and reports whether it is within the limit,
// along with how long the caller should wait when it is not.
func (rl *initiateRateLimiter) allow(userID string) (ok bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > initiateRecordExpiry {
		rl.sweepLocked(now)
		rl.lastSweep = now
	}
	times := trimWindow(rl.attempts[userID], now, rl.window)

	if len(times) >= rl.limit {
		rl.attempts[userID] = times
		return false, times[0].Add(rl.window).Sub(now)
	}

	rl.attempts[userID] = append(times, now)
	return true, 0
}

// sweepLocked removes idle records. Runs lazily from allow so the map
// stays bounded without a dedicated goroutine. Callers must hold mu.
func (rl *initiateRateLimiter) sweepLocked(now time.Time) {
	for id, times := range rl.attempts {
		if len(times) == 0 || now.Sub(times[len(times)-1]) > initiateRecordExpiry {
			delete(rl.attempts, id)
		}
	}
}

// writeRateLimited sends a 429 Too Many Requests response.
func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeError(w, http.StatusTooManyRequests, "too many session initiations; try again later")
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
