package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	limiterSweepInterval = 5 * time.Minute
	limiterIdleTimeout   = 10 * time.Minute
)

var rateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "zkrelay_rate_limited_requests_total",
	Help: "Number of requests rejected by the rate limiter",
})

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimitMiddleware is a token bucket per client IP. Proving is expensive
// for honest clients, so the limit mostly throttles verification floods.
type RateLimitMiddleware struct {
	perMinute  uint
	burst      int
	proxyCount uint

	mutex    sync.Mutex
	clients  map[string]*clientLimiter
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewRateLimitMiddleware allows perMinute requests per client with the given
// burst (default 10). A zero rate disables limiting.
func NewRateLimitMiddleware(perMinute uint, burst uint, proxyCount uint) *RateLimitMiddleware {
	if burst == 0 {
		burst = 10
	}

	m := &RateLimitMiddleware{
		perMinute:  perMinute,
		burst:      int(burst),
		proxyCount: proxyCount,
		clients:    map[string]*clientLimiter{},
		stopChan:   make(chan struct{}),
	}
	go m.sweepLoop()

	return m
}

func (m *RateLimitMiddleware) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

func (m *RateLimitMiddleware) sweepLoop() {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case now := <-ticker.C:
			m.sweep(now.Add(-limiterIdleTimeout))
		}
	}
}

// sweep drops limiters of clients not seen since cutoff.
func (m *RateLimitMiddleware) sweep(cutoff time.Time) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for key, client := range m.clients {
		if client.lastSeen.Before(cutoff) {
			delete(m.clients, key)
		}
	}
}

func (m *RateLimitMiddleware) limiterFor(key string, now time.Time) *rate.Limiter {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	client := m.clients[key]
	if client == nil {
		client = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(m.perMinute)/60), m.burst),
		}
		m.clients[key] = client
	}
	client.lastSeen = now

	return client.limiter
}

func (m *RateLimitMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.perMinute == 0 {
			next.ServeHTTP(w, r)
			return
		}

		now := time.Now()
		clientIP := GetClientIP(r, m.proxyCount)
		limiter := m.limiterFor(clientIP, now)

		header := w.Header()
		header.Set("X-RateLimit-Limit", strconv.FormatUint(uint64(m.perMinute), 10))

		if !limiter.AllowN(now, 1) {
			rateLimitedTotal.Inc()

			// time until the next token is available
			wait := time.Duration((1 - limiter.TokensAt(now)) / float64(limiter.Limit()) * float64(time.Second))
			header.Set("X-RateLimit-Remaining", "0")
			header.Set("Retry-After", strconv.FormatInt(int64(math.Ceil(wait.Seconds())), 10))

			logrus.WithFields(logrus.Fields{
				"client_ip":  clientIP,
				"rate_limit": m.perMinute,
			}).Warn("rate limit exceeded")

			APIErrorResponse(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		remaining := max(limiter.TokensAt(now), 0)
		header.Set("X-RateLimit-Remaining", strconv.FormatFloat(math.Floor(remaining), 'f', 0, 64))

		next.ServeHTTP(w, r)
	})
}
