package api

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/eggtrack/eggtrack/internal/api/respond"
)

// TimingMiddleware stamps every response with an X-Process-Time header.
func TimingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		w.Header().Set("X-Process-Time",
			fmt.Sprintf("%.2fms", time.Since(start).Seconds()*1000))
	})
}

// visitorLimiters holds one token bucket per client IP. Buckets are created
// on first sight and kept for the life of the process; the caller population
// here is a single Discord community, so the map stays small.
type visitorLimiters struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func (v *visitorLimiters) allow(ip string) bool {
	v.mu.Lock()
	b, ok := v.buckets[ip]
	if !ok {
		b = rate.NewLimiter(v.limit, v.burst)
		v.buckets[ip] = b
	}
	v.mu.Unlock()
	return b.Allow()
}

// RateLimitMiddleware limits each client IP to requestsPerWindow requests
// per window, with a burst of half the window budget.
func RateLimitMiddleware(requestsPerWindow int, window time.Duration) func(http.Handler) http.Handler {
	v := &visitorLimiters{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(float64(requestsPerWindow) / window.Seconds()),
		burst:   requestsPerWindow / 2,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, _ := net.SplitHostPort(r.RemoteAddr)
			if ip == "" {
				ip = r.RemoteAddr
			}

			if !v.allow(ip) {
				w.Header().Set("Retry-After", "60")
				respond.WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
