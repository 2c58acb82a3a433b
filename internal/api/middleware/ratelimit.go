package middleware

import (
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/kyunghyuncho/neurips-whisper/pkg/response"
)

// RateLimit enforces a per-client-address token bucket of perMinute events
// with a small burst. Limiters are kept per address for the process
// lifetime; conference traffic is bounded enough that eviction is not
// worth the bookkeeping.
func RateLimit(perMinute int) gin.HandlerFunc {
	var (
		mu       sync.Mutex
		limiters = make(map[string]*rate.Limiter)
	)
	limit := rate.Limit(float64(perMinute) / 60.0)
	burst := perMinute
	if burst < 1 {
		burst = 1
	}
	return func(c *gin.Context) {
		addr := c.ClientIP()
		mu.Lock()
		l, ok := limiters[addr]
		if !ok {
			l = rate.NewLimiter(limit, burst)
			limiters[addr] = l
		}
		mu.Unlock()
		if !l.Allow() {
			response.TooManyRequests(c, "rate limit exceeded")
			c.Abort()
			return
		}
		c.Next()
	}
}
