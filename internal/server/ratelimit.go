package server

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/docrag-go/internal/logging"
)

// defaultRateLimit is the number of requests per second allowed per IP on
// rate-limited endpoints when no explicit limit is configured.
const defaultRateLimit = 10

// defaultRateBurst is the maximum burst size per IP when no explicit burst is
// configured.
const defaultRateBurst = 20

// staleAfter is how long an idle bucket is kept.
const staleAfter = 5 * time.Minute

// Route classes. Each class has its own bucket per client, so a burst of
// queries never starves uploads from the same address and vice versa.
const (
	classUpload = "upload"
	classJobs   = "jobs"
	classQuery  = "query"
)

// bucketKey identifies one token bucket.
type bucketKey struct {
	// class is the route class.
	class string
	// ip is the client address without port.
	ip string
}

// bucket is a token bucket and the last time it was used.
type bucket struct {
	// limiter is the token bucket.
	limiter *rate.Limiter
	// lastSeen drives idle eviction.
	lastSeen time.Time
}

// rateLimiter enforces per-client, per-class token buckets on uploads, job
// control and queries. Idle buckets are evicted every minute.
type rateLimiter struct {
	// mu protects buckets.
	mu sync.Mutex
	// buckets maps (class, ip) to its bucket.
	buckets map[bucketKey]*bucket
	// rps is the sustained request rate per bucket (requests/second).
	rps rate.Limit
	// burst is the maximum instantaneous burst per bucket.
	burst int
	// log is the structured logger for rate-limit events.
	log *slog.Logger
	// now is the eviction clock; replaced in tests.
	now func() time.Time
}

// newRateLimiter constructs a rateLimiter and starts the background eviction
// goroutine, which exits when the returned stop function is called.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		buckets: make(map[bucketKey]*bucket),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
		now:     time.Now,
	}

	stopCh := make(chan struct{})
	go rl.evictLoop(stopCh)

	var once sync.Once
	return rl, func() { once.Do(func() { close(stopCh) }) }
}

// limiterFor returns the bucket for key, creating it on first use.
func (rl *rateLimiter) limiterFor(key bucketKey) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = rl.now()
	return b.limiter
}

// evictLoop calls evict every minute until stopCh is closed.
func (rl *rateLimiter) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			rl.evict()
		}
	}
}

// evict removes buckets idle for longer than staleAfter and returns how many
// remain.
func (rl *rateLimiter) evict() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-staleAfter)
	for k, b := range rl.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(rl.buckets, k)
		}
	}
	return len(rl.buckets)
}

// middleware enforces the class bucket before delegating to next. Rejected
// requests get 429 with a Retry-After header derived from the bucket's
// refill rate.
func (rl *rateLimiter) middleware(class string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.limiterFor(bucketKey{class: class, ip: ip}).Allow() {
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("class", class),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", rl.retryAfter())
			writeJSON(w, r, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Kind: "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// retryAfter is the whole seconds until one token is available, at least 1.
func (rl *rateLimiter) retryAfter() string {
	if rl.rps <= 0 || rl.rps >= 1 {
		return "1"
	}
	secs := int(1/float64(rl.rps) + 0.999)
	return strconv.Itoa(secs)
}

// clientIP extracts the remote IP from the request, stripping the port.
// X-Forwarded-For is ignored; run a proxy-aware limiter in front when
// deploying behind a load balancer.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
