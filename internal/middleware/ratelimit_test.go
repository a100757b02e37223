package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func newLimiter(rate int, whitelist ...string) (*RateLimiter, *fakeClock) {
	return newLimiterWith(rate, whitelist)
}

func newLimiterWith(rate int, whitelist []string, opts ...Option) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(clock.now)}, opts...)
	return NewRateLimiter(rate, time.Minute, whitelist, logger, opts...), clock
}

func serveLimited(rl *RateLimiter) http.Handler {
	return rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

func TestAllowWindow(t *testing.T) {
	rl, clock := newLimiter(2)

	for i := 0; i < 2; i++ {
		if ok, _ := rl.Allow("1.2.3.4"); !ok {
			t.Fatalf("request %d denied", i)
		}
	}
	ok, retry := rl.Allow("1.2.3.4")
	if ok || retry != time.Minute {
		t.Fatalf("third request: ok=%v retry=%v", ok, retry)
	}
	if ok, _ := rl.Allow("5.6.7.8"); !ok {
		t.Fatal("other key should have its own bucket")
	}

	clock.t = clock.t.Add(time.Minute)
	if ok, _ := rl.Allow("1.2.3.4"); !ok {
		t.Fatal("bucket not reset after window")
	}
}

func TestMiddleware(t *testing.T) {
	rl, _ := newLimiter(1, "10.0.0.1")
	h := serveLimited(rl)

	do := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/alerts", nil)
		req.RemoteAddr = ip + ":40000"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := do("192.0.2.1"); rr.Code != http.StatusNoContent {
		t.Fatalf("first request: %d", rr.Code)
	}
	rr := do("192.0.2.1")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("second request: %d retry=%q", rr.Code, rr.Header().Get("Retry-After"))
	}
	for i := 0; i < 3; i++ {
		if rr := do("10.0.0.1"); rr.Code != http.StatusNoContent {
			t.Fatalf("whitelisted request %d: %d", i, rr.Code)
		}
	}
}

func TestEvictIdle(t *testing.T) {
	rl, clock := newLimiter(5)
	rl.Allow("a")
	clock.t = clock.t.Add(90 * time.Second)
	rl.Allow("b")
	clock.t = clock.t.Add(time.Minute)

	if n := rl.evictIdle(); n != 1 {
		t.Fatalf("evicted %d, want 1", n)
	}
	if got := rl.Stats().TrackedKeys; got != 1 {
		t.Fatalf("tracked keys = %d, want 1", got)
	}
}

func TestForwardedHeadersIgnoredFromUntrustedPeer(t *testing.T) {
	rl, _ := newLimiter(1)
	h := serveLimited(rl)

	codes := make([]int, 0, 3)
	for _, spoofed := range []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/locations", nil)
		req.RemoteAddr = "198.51.100.7:5555"
		req.Header.Set("X-Forwarded-For", spoofed)
		req.Header.Set("X-Real-IP", spoofed)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusTooManyRequests || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("rotating X-Forwarded-For escaped the limiter: %v", codes)
	}
}

func TestClientIP(t *testing.T) {
	rl, _ := newLimiterWith(1, nil, WithTrustedProxies([]string{"10.0.0.0/8", "192.168.1.1", "not-an-ip"}))

	tests := []struct {
		name   string
		remote string
		xff    string
		xri    string
		want   string
	}{
		{name: "untrusted peer", remote: "198.51.100.7:5555", xff: "203.0.113.9", want: "198.51.100.7"},
		{name: "untrusted peer real ip", remote: "198.51.100.7:5555", xri: "203.0.113.9", want: "198.51.100.7"},
		{name: "trusted peer", remote: "10.1.2.3:5555", xff: "203.0.113.9", want: "203.0.113.9"},
		{name: "rightmost untrusted hop", remote: "10.1.2.3:5555", xff: "1.1.1.1, 203.0.113.9, 192.168.1.1", want: "203.0.113.9"},
		{name: "trusted peer real ip", remote: "192.168.1.1:5555", xri: "203.0.113.9", want: "203.0.113.9"},
		{name: "trusted peer no headers", remote: "10.1.2.3:5555", want: "10.1.2.3"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				req.Header.Set("X-Real-IP", tc.xri)
			}
			if got := rl.ClientIP(req); got != tc.want {
				t.Fatalf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}
