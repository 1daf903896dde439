package mw

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

// LimiterIdleTTL is how long a caller's bucket survives without requests.
const LimiterIdleTTL = 10 * time.Minute

// CallerLimiter keeps one token bucket per caller. Buckets that see no
// traffic for the idle TTL are evicted.
type CallerLimiter struct {
	mu       sync.Mutex
	limiters *cache.Cache
	r        rate.Limit
	b        int
}

// NewCallerLimiter creates a limiter allowing r requests per second with burst b per caller.
func NewCallerLimiter(r rate.Limit, b int, idle time.Duration) *CallerLimiter {
	if idle <= 0 {
		idle = LimiterIdleTTL
	}
	return &CallerLimiter{
		limiters: cache.New(idle, idle),
		r:        r,
		b:        b,
	}
}

// Limiter returns the bucket for key, creating it on first use. Every call
// pushes the bucket's expiry forward.
func (l *CallerLimiter) Limiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, found := l.limiters.Get(key); found {
		limiter := v.(*rate.Limiter)
		l.limiters.SetDefault(key, limiter)
		return limiter
	}
	limiter := rate.NewLimiter(l.r, l.b)
	l.limiters.SetDefault(key, limiter)
	return limiter
}

// Len returns the number of tracked callers.
func (l *CallerLimiter) Len() int {
	return l.limiters.ItemCount()
}

// CallerKey identifies the caller by user id, or by client IP for requests
// without one.
func CallerKey(c *gin.Context) string {
	if id := UserID(c); id != "" {
		return "user:" + id
	}
	if id := strings.TrimSpace(c.GetHeader(UserIDHeader)); id != "" {
		return "user:" + id
	}
	return "ip:" + c.ClientIP()
}

// RateLimit rejects callers that exhausted their bucket with 429.
func RateLimit(l *CallerLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Limiter(CallerKey(c)).Allow() {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}

// RateLimiter is RateLimit with a fresh limiter and the default idle TTL.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	return RateLimit(NewCallerLimiter(r, b, LimiterIdleTTL))
}
