package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// visitor is one client's token bucket. Tokens refill continuously at the
// limiter's rate and are capped at the burst size.
type visitor struct {
	tokens float64
	seen   time.Time
}

type limiter struct {
	mu        sync.Mutex
	visitors  map[string]*visitor
	perSec    float64
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

func newLimiter(perSec float64, burst int) *limiter {
	return &limiter{
		visitors: map[string]*visitor{},
		perSec:   perSec,
		burst:    burst,
		now:      time.Now,
	}
}

// allow spends one token from the client's bucket. The second return value is
// the suggested wait in seconds when the bucket is empty.
func (l *limiter) allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweepLocked(now)

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{tokens: float64(l.burst)}
		l.visitors[key] = v
	} else {
		v.tokens = math.Min(float64(l.burst), v.tokens+now.Sub(v.seen).Seconds()*l.perSec)
	}
	v.seen = now

	if v.tokens < 1 {
		wait := int(math.Ceil((1 - v.tokens) / l.perSec))
		if wait < 1 {
			wait = 1
		}
		return false, wait
	}
	v.tokens--
	return true, 0
}

// sweepLocked drops buckets idle for ten minutes, at most once a minute, so
// the map does not grow with every client that ever called.
func (l *limiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < time.Minute {
		return
	}
	l.lastSweep = now
	cutoff := now.Add(-10 * time.Minute)
	for key, v := range l.visitors {
		if v.seen.Before(cutoff) {
			delete(l.visitors, key)
		}
	}
}

// clientKey buckets by client IP: the X-Real-Ip set by chi's RealIP
// middleware when present, otherwise the host part of RemoteAddr so every
// connection from one address shares a bucket regardless of source port.
func clientKey(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// RateLimit returns a middleware enforcing a per-IP token bucket of rate
// requests per second with the given burst. Rejected requests get 429 with a
// Retry-After hint.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	l := newLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, wait := l.allow(clientKey(r))
			if !ok {
				w.Header().Set("Retry-After", strconv.Itoa(wait))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
