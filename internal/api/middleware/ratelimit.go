package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"orgregistry/internal/config"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// loginLimiter keeps one token bucket per client address.
type loginLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

func newLoginLimiter(cfg config.RateLimitConfig) *loginLimiter {
	return &loginLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:   cfg.Burst,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

// reserve takes a token for ip. It returns 0 when the request may proceed,
// otherwise how long the client should wait.
func (l *loginLimiter) reserve(ip string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.evictIdle(now)

	cl, ok := l.clients[ip]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = cl
	}
	cl.lastSeen = now

	r := cl.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Minute
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return delay
	}
	return 0
}

func (l *loginLimiter) evictIdle(now time.Time) {
	for ip, cl := range l.clients {
		if now.Sub(cl.lastSeen) > l.idleTTL {
			delete(l.clients, ip)
		}
	}
}

// LoginRateLimit throttles login attempts per client address. Only the
// remote address counts; forwarded headers are trusted only as far as gin's
// trusted proxy configuration allows.
func LoginRateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	limiter := newLoginLimiter(cfg)

	return func(c *gin.Context) {
		delay := limiter.reserve(c.ClientIP())
		if delay == 0 {
			c.Next()
			return
		}

		retryAfter := int(delay.Seconds()) + 1
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "Too many login attempts",
			"retry_after": retryAfter,
		})
	}
}
