package dashboard

import (
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// visitorIdle is how long a client's limiter survives without requests.
const visitorIdle = 10 * time.Minute

// clientLimiter throttles each client address independently.
type clientLimiter struct {
	limit rate.Limit
	burst int

	mu        sync.Mutex
	visitors  map[string]*visitor
	lastSweep time.Time
	now       func() time.Time
}

type visitor struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(limit rate.Limit, burst int) *clientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &clientLimiter{
		limit:    limit,
		burst:    burst,
		visitors: make(map[string]*visitor),
		now:      time.Now,
	}
}

// allow reports whether the client may proceed now.
func (c *clientLimiter) allow(client string) bool {
	c.mu.Lock()
	now := c.now()
	if now.Sub(c.lastSweep) > visitorIdle {
		for k, v := range c.visitors {
			if now.Sub(v.lastSeen) > visitorIdle {
				delete(c.visitors, k)
			}
		}
		c.lastSweep = now
	}
	v, ok := c.visitors[client]
	if !ok {
		v = &visitor{lim: rate.NewLimiter(c.limit, c.burst)}
		c.visitors[client] = v
	}
	v.lastSeen = now
	c.mu.Unlock()

	return v.lim.AllowN(now, 1)
}

// middleware rejects requests over the client's budget with 429.
func (c *clientLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientAddr(r)
		if !c.allow(client) {
			zap.L().Debug("dashboard: rate limited", zap.String("client", client))
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientAddr strips the port from RemoteAddr, which RealIP has already
// rewritten from forwarding headers.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
