package attendance

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/abyssinia-assembly/attendance/internal/sync"
)

// Toggle limiter defaults.
const (
	DefaultToggleLimit  = 10
	DefaultToggleWindow = time.Minute

	limiterCleanupInterval = 5 * time.Minute
	limiterTTL             = 10 * time.Minute
)

// limiterEntry holds a client's bucket and when it was last used.
type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a token bucket per client address: limit requests may burst,
// and one more is allowed every window/limit. Idle buckets are dropped by a
// background sweep until Stop.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu       sync.Mutex
	limiters map[string]*limiterEntry

	stopOnce sync.Once
	stopChan chan struct{}
}

// NewRateLimiter allows limit requests per window for each key. Non-positive
// arguments select the defaults.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	l := newRateLimiter(limit, window)
	go l.cleanupLoop()
	return l
}

func newRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = DefaultToggleLimit
	}
	if window <= 0 {
		window = DefaultToggleWindow
	}
	return &RateLimiter{
		limit:    limit,
		window:   window,
		now:      time.Now,
		limiters: make(map[string]*limiterEntry),
		stopChan: make(chan struct{}),
	}
}

// Allow reports whether a request for key is within limits.
func (l *RateLimiter) Allow(key string) bool {
	ok, _ := l.reserve(key)
	return ok
}

// reserve takes a token for key. When none is available it returns false and
// how long until one is.
func (l *RateLimiter) reserve(key string) (bool, time.Duration) {
	now := l.now()
	r := l.getLimiter(key, now).ReserveN(now, 1)
	if !r.OK() {
		return false, l.window
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *RateLimiter) getLimiter(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.limiters[key]; ok {
		entry.lastAccess = now
		return entry.limiter
	}

	every := rate.Every(l.window / time.Duration(l.limit))
	entry := &limiterEntry{limiter: rate.NewLimiter(every, l.limit), lastAccess: now}
	l.limiters[key] = entry
	return entry.limiter
}

func (l *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopChan:
			return
		}
	}
}

// cleanup drops buckets unused for longer than limiterTTL.
func (l *RateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, entry := range l.limiters {
		if now.Sub(entry.lastAccess) > limiterTTL {
			delete(l.limiters, key)
		}
	}
}

// Stop ends the background sweep. Safe to call repeatedly.
func (l *RateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopChan) })
}

// Middleware rejects requests over the limit with 429 and a Retry-After in
// whole seconds.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ok, delay := l.reserve(clientIP(r)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(delay)))
			writeJSONError(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// clientIP returns the request's remote host without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
