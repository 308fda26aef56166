package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"boundary-soar/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testLimiter(t *testing.T, cfg config.RateLimitConfig) (*RateLimiter, *time.Time) {
	t.Helper()
	rl := NewRateLimiter(cfg, quietLogger())
	t.Cleanup(rl.Stop)
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, _ := testLimiter(t, config.RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 10,
		WindowSize:    time.Minute,
		BurstSize:     2,
	})

	ip := "192.168.1.100"
	for i := 0; i < 12; i++ {
		allowed, remaining, _ := rl.Allow(ip)
		if !allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if want := 12 - i - 1; remaining != want {
			t.Errorf("request %d: expected remaining=%d, got %d", i+1, want, remaining)
		}
	}

	allowed, remaining, _ := rl.Allow(ip)
	if allowed || remaining != 0 {
		t.Errorf("request 13: expected denied with 0 remaining, got allowed=%v remaining=%d", allowed, remaining)
	}

	stats := rl.Stats()
	if stats.Allowed != 12 || stats.Limited != 1 || stats.TrackedIPs != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestRateLimiter_WindowReset(t *testing.T) {
	rl, now := testLimiter(t, config.RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 2,
		WindowSize:    time.Minute,
	})

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.1")
	if allowed, _, _ := rl.Allow("10.0.0.1"); allowed {
		t.Fatal("expected limit to be reached")
	}

	*now = now.Add(time.Minute)
	if allowed, _, _ := rl.Allow("10.0.0.1"); !allowed {
		t.Error("expected a new window to allow the request")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, now := testLimiter(t, config.RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 5,
		WindowSize:    time.Minute,
	})

	rl.Allow("10.0.0.1")
	*now = now.Add(30 * time.Second)
	rl.Allow("10.0.0.2")
	*now = now.Add(45 * time.Second)
	rl.cleanup()

	if got := rl.Stats().TrackedIPs; got != 1 {
		t.Errorf("expected 1 tracked IP after cleanup, got %d", got)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl, _ := testLimiter(t, config.RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 3,
		WindowSize:    time.Minute,
		ExemptPaths:   []string{"/health"},
	})
	h := rl.Middleware(okHandler())

	do := func(path, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("allows requests within limit", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			rec := do("/v1/incidents", "192.168.1.100:12345")
			if rec.Code != http.StatusOK {
				t.Errorf("request %d: expected 200, got %d", i+1, rec.Code)
			}
			if rec.Header().Get("X-RateLimit-Limit") != "3" {
				t.Errorf("unexpected X-RateLimit-Limit %q", rec.Header().Get("X-RateLimit-Limit"))
			}
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		rec := do("/v1/incidents", "192.168.1.100:12345")
		if rec.Code != http.StatusTooManyRequests {
			t.Fatalf("expected 429, got %d", rec.Code)
		}
		if rec.Header().Get("Retry-After") == "" {
			t.Error("missing Retry-After header")
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("invalid JSON body: %v", err)
		}
		if body["code"] != "RATE_LIMITED" {
			t.Errorf("expected code RATE_LIMITED, got %v", body["code"])
		}
	})

	t.Run("exempts configured paths", func(t *testing.T) {
		if rec := do("/health", "192.168.1.100:12345"); rec.Code != http.StatusOK {
			t.Errorf("expected exempt path to return 200, got %d", rec.Code)
		}
	})

	t.Run("separate limits for different IPs", func(t *testing.T) {
		if rec := do("/v1/incidents", "192.168.1.200:12345"); rec.Code != http.StatusOK {
			t.Errorf("new IP should be allowed, got %d", rec.Code)
		}
	})
}

func TestRateLimitMiddleware_Disabled(t *testing.T) {
	rl, _ := testLimiter(t, config.RateLimitConfig{RequestsPerIP: 1, WindowSize: time.Minute})
	h := rl.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_Concurrent(t *testing.T) {
	rl, _ := testLimiter(t, config.RateLimitConfig{
		Enabled:       true,
		RequestsPerIP: 50,
		WindowSize:    time.Minute,
	})
	h := rl.Middleware(okHandler())

	var wg sync.WaitGroup
	var mu sync.Mutex
	codes := map[int]int{}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/v1/alerts", nil)
			req.RemoteAddr = "10.1.1.1:4000"
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			mu.Lock()
			codes[rec.Code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if codes[http.StatusOK] != 50 || codes[http.StatusTooManyRequests] != 50 {
		t.Errorf("expected 50 allowed and 50 limited, got %v", codes)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		trustProxy bool
		want       string
	}{
		{"remote addr", "192.168.1.1:1234", "", "", false, "192.168.1.1"},
		{"xff ignored without trust", "192.168.1.1:1234", "10.0.0.1", "", false, "192.168.1.1"},
		{"rightmost xff", "192.168.1.1:1234", "1.1.1.1, 10.0.0.2", "", true, "10.0.0.2"},
		{"x-real-ip", "192.168.1.1:1234", "", "10.0.0.3", true, "10.0.0.3"},
		{"no port", "192.168.1.1", "", "", false, "192.168.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.xri != "" {
				req.Header.Set("X-Real-IP", tt.xri)
			}
			if got := clientIP(req, tt.trustProxy); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
