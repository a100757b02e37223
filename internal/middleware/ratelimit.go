package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(r *http.Request) string

// RateLimiter is a fixed-window limiter keyed per client IP by default.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      int
	window    time.Duration
	whitelist map[string]struct{}
	proxies   []netip.Prefix
	keyFunc   KeyFunc
	now       func() time.Time
	logger    *slog.Logger
}

type bucket struct {
	tokens    int
	lastReset time.Time
}

type Option func(*RateLimiter)

func WithKeyFunc(fn KeyFunc) Option {
	return func(rl *RateLimiter) { rl.keyFunc = fn }
}

func WithClock(now func() time.Time) Option {
	return func(rl *RateLimiter) { rl.now = now }
}

// WithTrustedProxies lists the proxy addresses, as IPs or CIDRs, whose
// X-Forwarded-For and X-Real-IP headers are believed. Without it the
// limiter keys on the TCP peer only.
func WithTrustedProxies(proxies []string) Option {
	return func(rl *RateLimiter) {
		for _, p := range proxies {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			prefix, err := parseProxy(p)
			if err != nil {
				rl.logger.Warn("ignoring invalid trusted proxy", "proxy", p, "error", err)
				continue
			}
			rl.proxies = append(rl.proxies, prefix)
		}
	}
}

func parseProxy(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		return p.Masked(), err
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()), nil
}

// NewRateLimiter allows rate requests per window and key. Whitelisted IPs
// bypass the limiter. A non-positive rate disables limiting.
func NewRateLimiter(rate int, window time.Duration, whitelist []string, logger *slog.Logger, opts ...Option) *RateLimiter {
	wl := make(map[string]struct{}, len(whitelist))
	for _, ip := range whitelist {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			wl[ip] = struct{}{}
		}
	}

	rl := &RateLimiter{
		buckets:   make(map[string]*bucket),
		rate:      rate,
		window:    window,
		whitelist: wl,
		now:       time.Now,
		logger:    logger.With("component", "rate_limiter"),
	}
	rl.keyFunc = rl.ClientIP
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Run evicts idle buckets until ctx is cancelled.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(rl.window * 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.evictIdle()
		}
	}
}

func (rl *RateLimiter) evictIdle() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	evicted := 0
	for key, b := range rl.buckets {
		if now.Sub(b.lastReset) > rl.window*2 {
			delete(rl.buckets, key)
			evicted++
		}
	}
	return evicted
}

func (rl *RateLimiter) IsWhitelisted(ip string) bool {
	_, ok := rl.whitelist[ip]
	return ok
}

// Allow charges one request to key. When the bucket is empty it reports
// false and how long until the window resets.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	if rl.rate <= 0 {
		return true, 0
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, exists := rl.buckets[key]
	if !exists || now.Sub(b.lastReset) >= rl.window {
		rl.buckets[key] = &bucket{tokens: rl.rate - 1, lastReset: now}
		return true, 0
	}

	if b.tokens > 0 {
		b.tokens--
		return true, 0
	}
	return false, b.lastReset.Add(rl.window).Sub(now)
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.IsWhitelisted(rl.ClientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}

		key := rl.keyFunc(r)
		ok, retry := rl.Allow(key)
		if !ok {
			rl.logger.Warn("rate limit exceeded", "key", key, "path", r.URL.Path)
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP resolves the caller address. Forwarding headers are honoured
// only when the TCP peer is a trusted proxy; X-Forwarded-For is walked
// right to left and the first hop outside the trusted set wins.
func (rl *RateLimiter) ClientIP(r *http.Request) string {
	peer := RemoteIP(r)
	if !rl.trusted(peer) {
		return peer
	}

	// X-Forwarded-For: "client, proxy1, proxy2"
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if host, _, err := net.SplitHostPort(hop); err == nil {
				hop = host
			}
			if hop != "" && !rl.trusted(hop) {
				return hop
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func (rl *RateLimiter) trusted(ip string) bool {
	if len(rl.proxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range rl.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// RemoteIP returns the host part of the TCP peer address.
func RemoteIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

type Stats struct {
	TrackedKeys      int     `json:"trackedKeys"`
	RatePerWindow    int     `json:"ratePerWindow"`
	WindowSeconds    float64 `json:"windowSeconds"`
	WhitelistEntries int     `json:"whitelistEntries"`
}

func (rl *RateLimiter) Stats() Stats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return Stats{
		TrackedKeys:      len(rl.buckets),
		RatePerWindow:    rl.rate,
		WindowSeconds:    rl.window.Seconds(),
		WhitelistEntries: len(rl.whitelist),
	}
}
