package server

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/onnwee/ghostbot/config"
)

const authRealm = "ghostbot admin"

// adminAuth accepts either the X-Admin-Token header or HTTP Basic credentials.
// With no credentials configured the handler is returned unwrapped.
func adminAuth(next http.Handler, access config.AccessConfig) http.Handler {
	if !access.AuthEnabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authorized(r, access) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="`+authRealm+`"`)
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		slog.Warn("admin auth failed", slog.String("path", r.URL.Path), slog.String("ip", clientIP(r)))
	})
}

func authorized(r *http.Request, a config.AccessConfig) bool {
	if a.AdminToken != "" && secretEqual(r.Header.Get("X-Admin-Token"), a.AdminToken) {
		return true
	}
	if a.AdminUsername == "" || a.AdminPassword == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	// Both comparisons run so a wrong username costs the same as a wrong password.
	userOK := secretEqual(user, a.AdminUsername)
	passOK := secretEqual(pass, a.AdminPassword)
	return userOK && passOK
}

func secretEqual(got, want string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// RateLimiter decides whether a client may make another request.
type RateLimiter interface {
	allow(ip string) bool
}

// newRateLimiter returns nil when rate limiting is disabled. A redis backend
// without a client falls back to the in-process limiter.
func newRateLimiter(access config.AccessConfig, client *goredis.Client) RateLimiter {
	if !access.RateLimit {
		return nil
	}
	if access.RateLimitBackend == "redis" {
		if client != nil {
			slog.Info("initializing distributed rate limiter", slog.String("backend", "redis"))
			return newRedisRateLimiter(client, access.RateLimitRequests, access.RateLimitWindow)
		}
		slog.Error("RATE_LIMIT_BACKEND=redis but no redis client configured, falling back to memory")
	}
	slog.Info("initializing in-memory rate limiter", slog.String("backend", "memory"))
	return newMemoryRateLimiter(access.RateLimitRequests, access.RateLimitWindow)
}

// windowSlot numbers the fixed window containing now.
func windowSlot(now time.Time, window time.Duration) int64 {
	if window <= 0 {
		window = time.Second
	}
	return now.UnixNano() / int64(window)
}

// memoryRateLimiter counts requests per client in fixed windows. Counters are
// dropped wholesale when the window rolls over.
type memoryRateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	slot   int64
	counts map[string]int
	now    func() time.Time
}

func newMemoryRateLimiter(limit int, window time.Duration) *memoryRateLimiter {
	return &memoryRateLimiter{limit: limit, window: window, counts: make(map[string]int), now: time.Now}
}

func (l *memoryRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slot := windowSlot(l.now(), l.window); slot != l.slot {
		l.slot = slot
		clear(l.counts)
	}
	l.counts[ip]++
	return l.counts[ip] <= l.limit
}

// redisRateLimiter is the same fixed-window counter shared by every replica.
type redisRateLimiter struct {
	client *goredis.Client
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

func newRedisRateLimiter(client *goredis.Client, limit int, window time.Duration) *redisRateLimiter {
	return &redisRateLimiter{client: client, limit: limit, window: window, prefix: "ghost_bot:ratelimit:", now: time.Now}
}

// allow fails open when Redis is unreachable.
func (l *redisRateLimiter) allow(ip string) bool {
	key := fmt.Sprintf("%s%s:%d", l.prefix, ip, windowSlot(l.now(), l.window))

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	var incr *goredis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		p.Expire(ctx, key, 2*l.window)
		return nil
	})
	if err != nil {
		slog.Warn("rate limiter unavailable, allowing request", slog.String("backend", "redis"), slog.Any("err", err))
		return true
	}
	return incr.Val() <= int64(l.limit)
}

// clientIP extracts the client address, preferring the first X-Forwarded-For hop.
func clientIP(r *http.Request) string {
	ip := r.RemoteAddr
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ip, _, _ = strings.Cut(forwarded, ",")
	}
	ip = strings.TrimSpace(ip)
	if host, _, err := net.SplitHostPort(ip); err == nil {
		return host
	}
	// Bare addresses (including IPv6 without brackets) carry no port.
	return strings.Trim(ip, "[]")
}

// rateLimitMiddleware rejects clients over their window budget with 429.
func rateLimitMiddleware(next http.Handler, limiter RateLimiter, window time.Duration) http.Handler {
	if limiter == nil {
		return next
	}
	retryAfter := strconv.Itoa(max(1, int(window/time.Second)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !limiter.allow(ip) {
			w.Header().Set("Retry-After", retryAfter)
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			slog.Warn("rate limit exceeded", slog.String("ip", ip), slog.String("path", r.URL.Path))
			return
		}
		next.ServeHTTP(w, r)
	})
}
