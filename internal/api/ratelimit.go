package api

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

// limiterIdleTTL drops a client's bucket after this long without requests.
const limiterIdleTTL = 10 * time.Minute

const defaultMaxClients = 10000

// RateLimiter enforces per-client request rates with a token bucket per key.
// Buckets live in a size-bounded LRU, so a flood of distinct addresses
// cannot grow memory without bound.
type RateLimiter struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	r        rate.Limit
	burst    int
}

// NewRateLimiter allows rpm requests per minute per key, with bursts of up
// to rpm. rpm <= 0 disables limiting.
func NewRateLimiter(rpm, maxClients int) *RateLimiter {
	if maxClients <= 0 {
		maxClients = defaultMaxClients
	}
	rl := &RateLimiter{burst: rpm}
	if rpm > 0 {
		rl.r = rate.Limit(float64(rpm) / 60.0)
		rl.limiters = expirable.NewLRU[string, *rate.Limiter](maxClients, nil, limiterIdleTTL)
	}
	return rl
}

// Enabled reports whether the limiter is active.
func (rl *RateLimiter) Enabled() bool {
	return rl != nil && rl.r > 0
}

// Allow reports whether a request from key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	if !rl.Enabled() {
		return true
	}
	rl.mu.Lock()
	lim, ok := rl.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(rl.r, rl.burst)
		rl.limiters.Add(key, lim)
	}
	rl.mu.Unlock()
	return lim.Allow()
}

// rateLimit wraps a handler with per-IP limiting.
func (s *Server) rateLimit(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !rl.Enabled() {
			return next
		}
		retryAfter := strconv.Itoa(int(time.Duration(float64(time.Second)/float64(rl.r)).Seconds()) + 1)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.Allow(ip) {
				s.logger.Warn("rate limited", "ip", ip, "path", r.URL.Path)
				w.Header().Set("Retry-After", retryAfter)
				writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP is the remote host without port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
