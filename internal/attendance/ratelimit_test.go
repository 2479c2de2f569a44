package attendance

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewRateLimiter_Defaults(t *testing.T) {
	l := NewRateLimiter(0, -1)
	defer l.Stop()

	if l.limit != DefaultToggleLimit {
		t.Errorf("limit = %d, want %d", l.limit, DefaultToggleLimit)
	}
	if l.window != DefaultToggleWindow {
		t.Errorf("window = %v, want %v", l.window, DefaultToggleWindow)
	}
}

func TestRateLimiter_TokenBucket(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	l := newRateLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst of two should pass")
	}
	if l.Allow("a") {
		t.Error("third request inside the window should be denied")
	}
	if !l.Allow("b") {
		t.Error("keys are limited independently")
	}

	// One token comes back every window/limit.
	now = now.Add(30 * time.Second)
	if !l.Allow("a") {
		t.Error("request after the refill interval should pass")
	}
	if l.Allow("a") {
		t.Error("only one token should have been refilled")
	}
}

func TestRateLimiter_DeniedRequestReportsDelay(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	l := newRateLimiter(2, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("a")
	l.Allow("a")

	ok, delay := l.reserve("a")
	if ok {
		t.Fatal("expected denial")
	}
	if delay <= 0 || delay > 30*time.Second {
		t.Errorf("delay = %v, want (0, 30s]", delay)
	}

	// A denied reservation must not consume a future token.
	now = now.Add(30 * time.Second)
	if !l.Allow("a") {
		t.Error("token should be available after the reported delay")
	}
}

func TestRateLimiter_CleanupDropsIdleKeys(t *testing.T) {
	now := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	l := newRateLimiter(1, time.Minute)
	l.now = func() time.Time { return now }

	l.Allow("stale")
	now = now.Add(limiterTTL + time.Second)
	l.Allow("fresh")
	l.cleanup()

	if _, ok := l.limiters["stale"]; ok {
		t.Error("idle key should be dropped")
	}
	if _, ok := l.limiters["fresh"]; !ok {
		t.Error("recently used key should be kept")
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	l := NewRateLimiter(1, time.Minute)
	l.Stop()
	l.Stop()
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		delay time.Duration
		want  int
	}{
		{0, 1},
		{200 * time.Millisecond, 1},
		{30 * time.Second, 30},
		{29*time.Second + time.Millisecond, 30},
	}
	for _, tt := range tests {
		if got := retryAfterSeconds(tt.delay); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.delay, got, tt.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.10:54321"
	if got := clientIP(r); got != "192.0.2.10" {
		t.Errorf("clientIP = %s", got)
	}

	r.RemoteAddr = "no-port"
	if got := clientIP(r); got != "no-port" {
		t.Errorf("clientIP without port = %s", got)
	}
}
