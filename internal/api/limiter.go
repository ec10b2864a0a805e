package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// idleEviction is how long an owner's limiter survives without requests.
const idleEviction = 10 * time.Minute

type ownerBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// OwnerLimiter keeps one token bucket per owner. Limits can be changed at
// runtime; existing buckets pick up the new limit immediately.
type OwnerLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	buckets   map[string]*ownerBucket
	lastSweep time.Time
	now       func() time.Time
}

// NewOwnerLimiter returns a limiter allowing perMinute sustained requests
// with the given burst per owner. perMinute <= 0 disables limiting.
func NewOwnerLimiter(perMinute float64, burst int) *OwnerLimiter {
	l := &OwnerLimiter{buckets: make(map[string]*ownerBucket), now: time.Now}
	l.SetLimit(perMinute, burst)
	return l
}

// SetLimit changes the rate for every owner.
func (l *OwnerLimiter) SetLimit(perMinute float64, burst int) {
	lim := rate.Inf
	if perMinute > 0 {
		lim = rate.Limit(perMinute / 60)
	}
	burst = max(burst, 1)

	l.mu.Lock()
	defer l.mu.Unlock()
	l.limit, l.burst = lim, burst
	for _, b := range l.buckets {
		b.limiter.SetLimit(lim)
		b.limiter.SetBurst(burst)
	}
}

// Allow reports whether ownerID may make another request now. When it may
// not, retryAfter estimates when the next token is available.
func (l *OwnerLimiter) Allow(ownerID string) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	now := l.now()
	if l.limit == rate.Inf {
		l.mu.Unlock()
		return true, 0
	}
	b, found := l.buckets[ownerID]
	if !found {
		b = &ownerBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ownerID] = b
	}
	b.lastSeen = now
	l.sweep(now)
	l.mu.Unlock()

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// sweep drops idle buckets. l.mu must be held.
func (l *OwnerLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < idleEviction {
		return
	}
	l.lastSweep = now
	for id, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleEviction {
			delete(l.buckets, id)
		}
	}
}

// Len returns the number of tracked owners.
func (l *OwnerLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
