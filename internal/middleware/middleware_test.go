package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/R3E-Network/signflow/pkg/logger"
)

func TestTracingMiddleware_AssignsAndPropagatesTraceID(t *testing.T) {
	var seenTrace, seenIP string
	handler := NewTracingMiddleware(logger.NewDiscard(), true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenTrace = logger.GetTraceID(r.Context())
		seenIP = logger.GetClientIP(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seenTrace == "" || rec.Header().Get(TraceHeader) != seenTrace {
		t.Errorf("trace id = %q, header = %q", seenTrace, rec.Header().Get(TraceHeader))
	}
	if seenIP != "203.0.113.7" {
		t.Errorf("client ip = %q, want 203.0.113.7", seenIP)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(TraceHeader, "caller-trace")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if seenTrace != "caller-trace" {
		t.Errorf("trace id = %q, want caller-trace", seenTrace)
	}
}

func TestTracingMiddleware_IgnoresForwardedWhenUntrusted(t *testing.T) {
	var seenIP string
	handler := NewTracingMiddleware(logger.NewDiscard(), false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenIP = logger.GetClientIP(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.2:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seenIP != "198.51.100.2" {
		t.Errorf("client ip = %q, want 198.51.100.2", seenIP)
	}
}

func TestCORSMiddleware_ExactOrigins(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.example.com/"}).Handler(okHandler())

	tests := []struct {
		origin string
		allow  bool
	}{
		{"https://app.example.com", true},
		{"https://evil-app.example.com", false},
		{"https://app.example.com.evil.test", false},
		{"", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest("GET", "/", nil)
		if tt.origin != "" {
			req.Header.Set("Origin", tt.origin)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		got := rec.Header().Get("Access-Control-Allow-Origin") != ""
		if got != tt.allow {
			t.Errorf("origin %q allowed = %v, want %v", tt.origin, got, tt.allow)
		}
	}
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	called := false
	handler := NewCORSMiddleware([]string{"*"}).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("OPTIONS", "/api/v1/orgs", nil)
	req.Header.Set("Origin", "https://anywhere.test")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent || called {
		t.Errorf("status = %d, next called = %v", rec.Code, called)
	}
	if rec.Header().Get("Vary") != "Origin" {
		t.Errorf("Vary = %q, want Origin", rec.Header().Get("Vary"))
	}
}

func TestRateLimiter_LimitsPerKeyAndRefills(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(1, 2, clk, logger.NewDiscard())
	handler := rl.Handler(okHandler())

	hit := func(addr string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := hit("192.0.2.1:1000"); code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, code)
		}
	}
	if code := hit("192.0.2.1:1000"); code != http.StatusTooManyRequests {
		t.Errorf("burst exceeded: status = %d, want 429", code)
	}
	if code := hit("192.0.2.2:1000"); code != http.StatusOK {
		t.Errorf("other client: status = %d, want 200", code)
	}

	clk.Advance(time.Second)
	if code := hit("192.0.2.1:1000"); code != http.StatusOK {
		t.Errorf("after refill: status = %d, want 200", code)
	}
}

func TestRateLimiter_CleanupDropsIdleKeys(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	rl := NewRateLimiter(5, 5, clk, logger.NewDiscard())
	rl.allow("a")
	clk.Advance(10 * time.Minute)
	rl.allow("b")

	if remaining := rl.Cleanup(5 * time.Minute); remaining != 1 {
		t.Errorf("remaining = %d, want 1", remaining)
	}
}

func TestRateLimiter_StartCleanupStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rl := NewRateLimiter(5, 5, nil, logger.NewDiscard())
	rl.StartCleanup(ctx, time.Hour)
	cancel()
}
