package gateway

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter applies a token bucket per key (client IP) and evicts idle keys from time to time.
type Limiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu    sync.Mutex
	byKey map[string]*limiterEntry
	hits  uint64
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLimiter returns nil (which allows everything) when rps or burst is not positive.
func NewLimiter(rps float64, burst int, idleTTL time.Duration) *Limiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &Limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: idleTTL,
		byKey:   make(map[string]*limiterEntry),
	}
}

// Allow reports whether key may make one more request at now.
func (l *Limiter) Allow(key string, now time.Time) bool {
	if l == nil {
		return true
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.byKey[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.byKey[key] = e
	}
	e.lastSeen = now
	allowed := e.limiter.AllowN(now, 1)

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-l.idleTTL)
		for k, v := range l.byKey {
			if v.lastSeen.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}
	return allowed
}

// Max is the number of requests a fresh key may make at once.
func (l *Limiter) Max() int {
	if l == nil {
		return 0
	}
	return l.burst
}

// Window is the time a drained bucket takes to refill completely.
func (l *Limiter) Window() time.Duration {
	if l == nil {
		return 0
	}
	return time.Duration(float64(l.burst) / float64(l.limit) * float64(time.Second)).Round(time.Second)
}

// ClientIP returns the host part of the request's remote address.
func ClientIP(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}
