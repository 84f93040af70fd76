package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
	"studyhall/internal/schedule"
)

// RateLimiter keeps one token bucket per user.
type RateLimiter struct {
	limit rate.Limit
	burst int
	clock schedule.Clock

	mu      sync.Mutex
	clients map[string]*clientLimit
}

type clientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute events per user with the given burst.
// perMinute <= 0 disables limiting.
func NewRateLimiter(perMinute, burst int, clock schedule.Clock) *RateLimiter {
	if clock == nil {
		clock = schedule.RealClock()
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Limit(float64(perMinute) / time.Minute.Seconds())
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   limit,
		burst:   burst,
		clock:   clock,
		clients: make(map[string]*clientLimit),
	}
}

// Allow consumes one token for userID.
func (rl *RateLimiter) Allow(userID string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, ok := rl.clients[userID]
	if !ok {
		c = &clientLimit{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[userID] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Prune drops buckets not used since cutoff and returns how many were
// removed.
func (rl *RateLimiter) Prune(cutoff time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for userID, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, userID)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked users.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
