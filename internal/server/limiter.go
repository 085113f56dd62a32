package server

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

const minIdle = time.Minute

// Limiter keeps one token bucket per client key. Buckets idle long enough to
// have refilled are dropped.
type Limiter struct {
	buckets *gocache.Cache
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
}

func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}

	idle := minIdle
	if requestsPerSecond > 0 {
		if refill := time.Duration(float64(burst) / requestsPerSecond * float64(time.Second)); refill > idle {
			idle = refill
		}
	}
	return newLimiter(requestsPerSecond, burst, idle)
}

func newLimiter(requestsPerSecond float64, burst int, idle time.Duration) *Limiter {
	return &Limiter{
		buckets: gocache.New(idle, idle),
		rate:    rate.Limit(requestsPerSecond),
		burst:   burst,
	}
}

// Allow reports whether client may make a request now.
func (l *Limiter) Allow(client string) bool {
	return l.get(client).Allow()
}

// Len is the number of clients currently tracked.
func (l *Limiter) Len() int {
	return l.buckets.ItemCount()
}

func (l *Limiter) get(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	var limiter *rate.Limiter
	if v, ok := l.buckets.Get(client); ok {
		limiter = v.(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(l.rate, l.burst)
	}
	// every hit restarts the idle window
	l.buckets.SetDefault(client, limiter)
	return limiter
}
