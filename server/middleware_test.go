package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/onnwee/ghostbot/config"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

func TestAdminAuth(t *testing.T) {
	basic := config.AccessConfig{AdminUsername: "admin", AdminPassword: "secret123"}
	token := config.AccessConfig{AdminToken: "test-token-12345"}
	both := config.AccessConfig{AdminUsername: "admin", AdminPassword: "secret123", AdminToken: "test-token-12345"}

	tests := []struct {
		name       string
		access     config.AccessConfig
		user, pass string
		token      string
		want       int
	}{
		{"no auth configured", config.AccessConfig{}, "", "", "", http.StatusOK},
		{"valid basic", basic, "admin", "secret123", "", http.StatusOK},
		{"wrong username", basic, "wrong", "secret123", "", http.StatusUnauthorized},
		{"wrong password", basic, "admin", "wrong", "", http.StatusUnauthorized},
		{"missing basic", basic, "", "", "", http.StatusUnauthorized},
		{"valid token", token, "", "", "test-token-12345", http.StatusOK},
		{"wrong token", token, "", "", "nope", http.StatusUnauthorized},
		{"basic ignored when only token configured", token, "admin", "secret123", "", http.StatusUnauthorized},
		{"token with both configured", both, "", "", "test-token-12345", http.StatusOK},
		{"basic with both configured", both, "admin", "secret123", "", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/admin/save", nil)
			if tt.user != "" {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			if tt.token != "" {
				req.Header.Set("X-Admin-Token", tt.token)
			}
			rr := httptest.NewRecorder()
			adminAuth(okHandler, tt.access).ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			if tt.want == http.StatusUnauthorized && rr.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestMemoryRateLimiter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rl := newMemoryRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	ip := "198.51.100.1"
	if !rl.allow(ip) || !rl.allow(ip) {
		t.Fatal("first two requests should be allowed")
	}
	if rl.allow(ip) {
		t.Error("third request should be rejected")
	}
	if !rl.allow("198.51.100.2") {
		t.Error("other IP should have its own budget")
	}

	now = now.Add(time.Minute)
	if !rl.allow(ip) {
		t.Error("budget should reset in the next window")
	}
	if len(rl.counts) != 1 {
		t.Errorf("stale counters kept: %v", rl.counts)
	}
}

func TestNewRateLimiter(t *testing.T) {
	if rl := newRateLimiter(config.AccessConfig{}, nil); rl != nil {
		t.Errorf("disabled limiter = %T, want nil", rl)
	}
	access := config.AccessConfig{RateLimit: true, RateLimitBackend: "redis", RateLimitRequests: 1, RateLimitWindow: time.Minute}
	if _, ok := newRateLimiter(access, nil).(*memoryRateLimiter); !ok {
		t.Error("redis backend without a client should fall back to memory")
	}
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { client.Close() })
	if _, ok := newRateLimiter(access, client).(*redisRateLimiter); !ok {
		t.Error("redis backend with a client should use redis")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := newMemoryRateLimiter(1, 30*time.Second)
	h := rateLimitMiddleware(okHandler, rl, 30*time.Second)

	send := func(remote, forwarded string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/admin/save", nil)
		req.RemoteAddr = remote
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	if rr := send("192.0.2.1:1234", ""); rr.Code != http.StatusOK {
		t.Fatalf("first request = %d", rr.Code)
	}
	rr := send("192.0.2.1:5678", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request from same host = %d, want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "30" {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
	if rr := send("192.0.2.1:1234", "203.0.113.9"); rr.Code != http.StatusOK {
		t.Errorf("forwarded client should be limited separately, got %d", rr.Code)
	}

	if rateLimitMiddleware(okHandler, nil, time.Minute) == nil {
		t.Fatal("nil limiter should pass through")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote, forwarded, want string
	}{
		{"192.168.1.1:1234", "", "192.168.1.1"},
		{"192.168.1.1", "", "192.168.1.1"},
		{"[2001:db8::1]:12345", "", "2001:db8::1"},
		{"2001:db8::42", "", "2001:db8::42"},
		{"10.0.0.1:80", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"10.0.0.1:80", " [2001:db8::9]:443 ", "2001:db8::9"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/admin/save", nil)
		req.RemoteAddr = tt.remote
		if tt.forwarded != "" {
			req.Header.Set("X-Forwarded-For", tt.forwarded)
		}
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q, %q) = %q, want %q", tt.remote, tt.forwarded, got, tt.want)
		}
	}
}

func TestRedisRateLimiter(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		t.Fatal(err)
	}
	client := goredis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	rl := newRedisRateLimiter(client, 2, time.Minute)
	rl.prefix = "ghost_bot:test:ratelimit:" + t.Name() + ":"
	fixed := time.Now()
	rl.now = func() time.Time { return fixed }

	ip := "198.51.100.1"
	if !rl.allow(ip) || !rl.allow(ip) {
		t.Fatal("first two requests should be allowed")
	}
	if rl.allow(ip) {
		t.Error("third request should be rejected")
	}
	if !rl.allow("198.51.100.2") {
		t.Error("other IP should be allowed")
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { client.Close() })
	rl := newRedisRateLimiter(client, 1, time.Minute)
	for i := 0; i < 3; i++ {
		if !rl.allow("198.51.100.3") {
			t.Fatal("unreachable redis should not reject requests")
		}
	}
}
