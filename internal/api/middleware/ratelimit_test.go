package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

// ── bucket mechanics ──────────────────────────────────────────────────────────

func TestRateLimiter_BurstThenDeny(t *testing.T) {
	rl := newRateLimiter(5) // burst floors at 10

	allowed := 0
	for i := 0; i < 11; i++ {
		if rl.allow("client-1") {
			allowed++
		}
	}
	if allowed != 10 {
		t.Errorf("allowed = %d, want 10 (full burst, then deny)", allowed)
	}
}

func TestRateLimiter_Refills(t *testing.T) {
	rl := newRateLimiter(100)

	for i := 0; i < 100; i++ {
		rl.allow("client-1")
	}
	if rl.allow("client-1") {
		t.Fatal("bucket should be empty after the burst")
	}

	// 100 tokens/s: 100ms buys ~10 tokens back.
	time.Sleep(100 * time.Millisecond)
	if !rl.allow("client-1") {
		t.Error("bucket should refill over time")
	}
}

func TestRateLimiter_IsolatesKeys(t *testing.T) {
	rl := newRateLimiter(5)

	for i := 0; i < 10; i++ {
		rl.allow("greedy")
	}
	if rl.allow("greedy") {
		t.Error("exhausted key should be denied")
	}
	if !rl.allow("patient") {
		t.Error("a fresh key must not be affected by another key's bucket")
	}
}

// TestRateLimiter_Concurrent hammers one bucket from 50 goroutines. The burst
// is 10 and the refill rate is 1/s, so exactly 10 calls may pass — the mutex
// must not let racing goroutines overdraw the bucket.
func TestRateLimiter_Concurrent(t *testing.T) {
	const workers = 50
	rl := newRateLimiter(1)

	var allowed int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rl.allow("shared") {
				atomic.AddInt64(&allowed, 1)
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("allowed = %d, want exactly 10", allowed)
	}
}

// ── gin wiring ────────────────────────────────────────────────────────────────

func pingRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimitMiddleware_Returns429(t *testing.T) {
	r := pingRouter(RateLimitMiddleware(1))

	last := 0
	for i := 0; i < 11; i++ {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ping", nil))
		last = rr.Code
	}
	if last != http.StatusTooManyRequests {
		t.Errorf("11th request = %d, want 429", last)
	}
}

func TestOperatorRateLimitMiddleware_KeysByOperator(t *testing.T) {
	// Stand-in for JWTMiddleware: take the operator id from a header.
	setOperator := func(c *gin.Context) {
		if op := c.GetHeader("X-Operator"); op != "" {
			c.Set(CtxOperatorID, op)
		}
		c.Next()
	}
	r := pingRouter(setOperator, OperatorRateLimitMiddleware(1))

	ping := func(op string) int {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		if op != "" {
			req.Header.Set("X-Operator", op)
		}
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, req)
		return rr.Code
	}

	for i := 0; i < 10; i++ {
		if code := ping("ops-a"); code != http.StatusOK {
			t.Fatalf("ops-a request %d = %d, want 200", i+1, code)
		}
	}
	if code := ping("ops-a"); code != http.StatusTooManyRequests {
		t.Errorf("ops-a over budget = %d, want 429", code)
	}
	// A different operator from the same IP has its own bucket.
	if code := ping("ops-b"); code != http.StatusOK {
		t.Errorf("ops-b first request = %d, want 200", code)
	}
}
