package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 5 * time.Minute

// RateLimitError is the body of a 429 response.
type RateLimitError struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after"` // seconds
}

// RateLimiter keeps one token bucket per client IP. Buckets idle for longer than limiterIdleTTL
// are swept on access.
type RateLimiter struct {
	clock clockwork.Clock
	rate  rate.Limit
	burst int

	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	lastSweep time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(clock clockwork.Clock, r rate.Limit, burst int) *RateLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RateLimiter{
		clock:     clock,
		rate:      r,
		burst:     burst,
		limiters:  make(map[string]*limiterEntry),
		lastSweep: clock.Now(),
	}
}

// Allow reports whether a request from ip may proceed, and if not, how long until it may.
func (rl *RateLimiter) Allow(ip string) (bool, time.Duration) {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= limiterIdleTTL {
		for key, e := range rl.limiters {
			if now.Sub(e.lastSeen) >= limiterIdleTTL {
				delete(rl.limiters, key)
			}
		}
		rl.lastSweep = now
	}

	e, ok := rl.limiters[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[ip] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// Middleware rejects requests over the limit with 429 and a Retry-After header.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, retryAfter := rl.Allow(clientIP(r))
		if allowed {
			next.ServeHTTP(w, r)
			return
		}

		retrySeconds := int(retryAfter.Seconds())
		if retrySeconds < 1 {
			retrySeconds = 1
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", strconv.Itoa(retrySeconds))
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(RateLimitError{
			Error:      "rate_limit_exceeded",
			Message:    "Too many requests. Please slow down.",
			RetryAfter: retrySeconds,
		})
	})
}

// clientIP returns the request's remote host. middleware.RealIP has already replaced
// RemoteAddr from forwarding headers when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
