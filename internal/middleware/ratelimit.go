package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/LandHubTZ/LandHub-Backend/internal/utils"
	"golang.org/x/time/rate"
)

// A bucket refills to full burst within a minute of inactivity, so an entry
// idle past this window admits exactly like a fresh one and can be dropped.
const (
	limiterIdleAfter  = 3 * time.Minute
	limiterPruneEvery = time.Minute
)

type callerLimiter struct {
	*rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per caller. Used on the lock/unlock
// endpoints so one user hammering the cart cannot starve the plot rows.
// Idle entries are evicted so the map stays bounded by recent callers, not
// by every user id ever seen.
type RateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*callerLimiter
	limit     rate.Limit
	burst     int
	lastPrune time.Time
	now       func() time.Time
}

func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 60
	}
	return &RateLimiter{
		limiters:  make(map[string]*callerLimiter),
		limit:     rate.Limit(float64(perMinute) / 60.0),
		burst:     perMinute,
		lastPrune: time.Now(),
		now:       time.Now,
	}
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastPrune) >= limiterPruneEvery {
		for k, c := range rl.limiters {
			if now.Sub(c.lastSeen) > limiterIdleAfter {
				delete(rl.limiters, k)
			}
		}
		rl.lastPrune = now
	}

	c, ok := rl.limiters[key]
	if !ok {
		c = &callerLimiter{Limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = c
	}
	c.lastSeen = now
	return c.Limiter
}

// Middleware rejects callers over their per-minute budget with 429.
// Keyed on the authenticated user, falling back to remote address.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := utils.GetUserIDFromContext(r.Context())
		if !ok {
			key = r.RemoteAddr
		}
		if !rl.limiterFor(key).Allow() {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
