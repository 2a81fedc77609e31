package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiter_429AfterBurst(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	r := gin.New()
	r.Use(RateLimiter(ctx, 1, 2))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 3)
	for i := range codes {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes[i] = w.Code
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("expected [200 200 429], got %v", codes)
	}
}

func TestIPLimiters_perIP(t *testing.T) {
	l := newIPLimiters(1, 1)
	now := time.Now()
	if !l.allow("10.0.0.1", now) || l.allow("10.0.0.1", now) {
		t.Error("second request from the same IP should be limited")
	}
	if !l.allow("10.0.0.2", now) {
		t.Error("another IP has its own bucket")
	}
}

func TestIPLimiters_sweep(t *testing.T) {
	l := newIPLimiters(1, 1)
	now := time.Now()
	l.allow("old", now.Add(-time.Hour))
	l.allow("fresh", now)

	if n := l.sweep(now, limiterMaxIdle); n != 1 {
		t.Errorf("expected 1 swept entry, got %d", n)
	}
	if _, ok := l.entries["fresh"]; !ok {
		t.Error("fresh entry should survive the sweep")
	}
}
