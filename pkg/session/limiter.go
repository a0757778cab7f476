package session

import (
	"sync"

	"golang.org/x/time/rate"
)

// slowModePool keeps one limiter per (group, user) pair so slow mode is
// enforced per member, not per group. Limiters are rebuilt when the group's
// interval changes.
type slowModePool struct {
	mu sync.Mutex
	m  map[string]*slowLimiter
}

type slowLimiter struct {
	interval int
	lim      *rate.Limiter
}

func newSlowModePool() *slowModePool {
	return &slowModePool{m: map[string]*slowLimiter{}}
}

// Allow reports whether the member may send now given the group's slow-mode
// interval in seconds. One token refills per interval, burst of one.
func (p *slowModePool) Allow(groupID, userID string, intervalSeconds int) bool {
	if intervalSeconds <= 0 {
		intervalSeconds = 1
	}
	key := groupID + "|" + userID
	p.mu.Lock()
	sl, ok := p.m[key]
	if !ok || sl.interval != intervalSeconds {
		sl = &slowLimiter{
			interval: intervalSeconds,
			lim:      rate.NewLimiter(rate.Limit(1.0/float64(intervalSeconds)), 1),
		}
		p.m[key] = sl
	}
	p.mu.Unlock()
	return sl.lim.Allow()
}

// Forget drops a member's limiter, e.g. when they leave the group.
func (p *slowModePool) Forget(groupID, userID string) {
	p.mu.Lock()
	delete(p.m, groupID+"|"+userID)
	p.mu.Unlock()
}
