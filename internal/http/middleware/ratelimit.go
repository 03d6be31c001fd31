package middleware

import (
	"net/http"
	"sync"
	"time"
)

// ipLimiter is a per-client token bucket. Buckets refill continuously at
// rate tokens/sec up to burst, and idle entries are evicted so the map does
// not grow with every scanner that probes the API.
type ipLimiter struct {
	mu    sync.Mutex
	seen  map[string]*clientBucket
	rate  float64
	burst float64
}

type clientBucket struct {
	tokens   float64
	lastSeen time.Time
}

func newIPLimiter(rate float64, burst int) *ipLimiter {
	l := &ipLimiter{
		seen:  make(map[string]*clientBucket),
		rate:  rate,
		burst: float64(burst),
	}
	go l.evictIdle()
	return l
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	b, ok := l.seen[ip]
	if !ok {
		b = &clientBucket{tokens: l.burst, lastSeen: now}
		l.seen[ip] = b
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * l.rate
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (l *ipLimiter) evictIdle() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for range ticker.C {
		cutoff := time.Now().Add(-10 * time.Minute)
		l.mu.Lock()
		for ip, b := range l.seen {
			if b.lastSeen.Before(cutoff) {
				delete(l.seen, ip)
			}
		}
		l.mu.Unlock()
	}
}

// RateLimit rejects clients exceeding rate requests/sec (with the given
// burst) with 429. The client key is X-Real-Ip when chi's RealIP middleware
// ran, the raw remote address otherwise.
func RateLimit(rate float64, burst int) func(http.Handler) http.Handler {
	limiter := newIPLimiter(rate, burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := r.Header.Get("X-Real-Ip")
			if ip == "" {
				ip = r.RemoteAddr
			}
			if !limiter.allow(ip) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":"rate limit exceeded","tag":"usage"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
