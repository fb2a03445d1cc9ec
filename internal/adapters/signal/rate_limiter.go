package signal

import (
	"sync"
	"time"

	"github.com/qq276356648/SmartProctor/internal/domain"
	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per user across all of their
// connections. Idle buckets are forgotten after idleTTL.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[domain.UserID]*bucket
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[domain.UserID]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: 10 * time.Minute,
		now:     time.Now,
	}
}

func (rl *RateLimiter) Allow(uid domain.UserID) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[uid]
	if !ok {
		rl.sweep(now)
		b = &bucket{lim: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[uid] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func (rl *RateLimiter) sweep(now time.Time) {
	for uid, b := range rl.buckets {
		if now.Sub(b.seen) > rl.idleTTL {
			delete(rl.buckets, uid)
		}
	}
}
