package middleware

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// maxTrackedClients bounds how many per-IP limiters are kept at once
	maxTrackedClients = 10000
	// clientIdleTTL drops limiters for clients that stopped sending requests
	clientIdleTTL = 10 * time.Minute
)

// RateLimiter tracks rate limits per IP
type RateLimiter struct {
	limiters *expirable.LRU[string, *rate.Limiter]
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	logger   *zap.Logger
}

// NewRateLimiter creates a limiter allowing rps requests per second per IP
func NewRateLimiter(rps float64, burst int, logger *zap.Logger) *RateLimiter {
	return newRateLimiter(rps, burst, maxTrackedClients, clientIdleTTL, logger)
}

func newRateLimiter(rps float64, burst, maxClients int, idleTTL time.Duration, logger *zap.Logger) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](maxClients, nil, idleTTL),
		limit:    rate.Limit(rps),
		burst:    burst,
		logger:   logger.Named("ratelimit"),
	}
}

// clientIP extracts the client IP from the request.
// Only the first X-Forwarded-For hop is trusted.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// Allow checks if request is allowed. The least recently seen client is
// forgotten once maxTrackedClients are tracked, and idle clients expire.
func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	limiter, exists := rl.limiters.Get(ip)
	if !exists {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
	}
	// re-adding refreshes the idle deadline
	rl.limiters.Add(ip, limiter)
	rl.mu.Unlock()

	return limiter.Allow()
}

// Middleware returns rate limiting middleware
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			rl.logger.Warn("Rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
			writeMessage(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
