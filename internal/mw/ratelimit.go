package mw

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// callerLimiter keeps one token bucket per caller. Authenticated requests are
// keyed by user ID so a resident behind a shared NAT cannot exhaust the
// budget for the whole hostel; anonymous requests fall back to the client IP.
type callerLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	r       rate.Limit
	b       int
}

func newCallerLimiter(r rate.Limit, b int) *callerLimiter {
	return &callerLimiter{
		buckets: make(map[string]*rate.Limiter),
		r:       r,
		b:       b,
	}
}

func (l *callerLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	lim, ok := l.buckets[key]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.buckets[key] = lim
	}
	return lim
}

// RateLimiter throttles requests per caller.
func RateLimiter(r rate.Limit, b int) gin.HandlerFunc {
	limiter := newCallerLimiter(r, b)
	return func(c *gin.Context) {
		key := c.GetHeader(headerUserID)
		if key == "" {
			key = c.ClientIP()
		}
		if !limiter.get(key).Allow() {
			c.AbortWithStatus(http.StatusTooManyRequests)
			return
		}
		c.Next()
	}
}
