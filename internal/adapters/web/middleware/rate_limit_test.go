package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stepClock struct {
	t time.Time
}

func (c *stepClock) now() time.Time { return c.t }

func newTestLimiter(limit int, window time.Duration) (*RateLimiter, *stepClock) {
	clock := &stepClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(limit, window)
	rl.now = clock.now
	return rl, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	limiter, _ := newTestLimiter(3, time.Second)

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("192.168.1.1"), "request %d", i+1)
	}
	assert.False(t, limiter.Allow("192.168.1.1"))
	assert.True(t, limiter.Allow("192.168.1.2"), "other IPs have their own window")
}

func TestRateLimiter_WindowExpiration(t *testing.T) {
	limiter, clock := newTestLimiter(2, 500*time.Millisecond)

	limiter.Allow("192.168.1.1")
	limiter.Allow("192.168.1.1")
	assert.False(t, limiter.Allow("192.168.1.1"))

	clock.t = clock.t.Add(600 * time.Millisecond)
	assert.True(t, limiter.Allow("192.168.1.1"))
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter, clock := newTestLimiter(5, 100*time.Millisecond)

	limiter.Allow("192.168.1.1")
	limiter.Allow("192.168.1.2")
	limiter.Allow("192.168.1.3")
	assert.Len(t, limiter.requests, 3)

	clock.t = clock.t.Add(150 * time.Millisecond)
	limiter.cleanup()
	assert.Empty(t, limiter.requests)
}

func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	limiter, _ := newTestLimiter(10, time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				limiter.Allow("192.168.1.1")
			}
		}()
	}
	wg.Wait()

	assert.False(t, limiter.Allow("192.168.1.1"))
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter, _ := newTestLimiter(1, time.Minute)
	h := RateLimitMiddleware(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/refresh", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send("10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:5001"), "ports of the same host share a window")
	assert.Equal(t, http.StatusNoContent, send("10.0.0.2:5000"))
}
