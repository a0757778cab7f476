package typing

import (
	"context"
	"sort"
	"sync"
	"time"

	"ethiogram/pkg/logger"
)

// Tracker holds who is typing in which conversation. Every entry carries a
// deadline; an entry past its deadline is expired either lazily on read or
// by the background sweeper, so a client that crashes mid-typing never
// leaves a stuck indicator.
type Tracker struct {
	mu    sync.Mutex
	convs map[string]map[string]time.Time // convID -> userID -> deadline
	ttl   time.Duration
	sweep time.Duration
}

// New builds a tracker with the given entry TTL and sweep interval.
func New(ttl, sweep time.Duration) *Tracker {
	return &Tracker{
		convs: map[string]map[string]time.Time{},
		ttl:   ttl,
		sweep: sweep,
	}
}

// Start marks the user as typing in the conversation, refreshing the
// deadline if already present.
func (t *Tracker) Start(convID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.convs[convID] == nil {
		t.convs[convID] = map[string]time.Time{}
	}
	t.convs[convID][userID] = time.Now().Add(t.ttl)
}

// Stop clears the user's typing entry; returns whether one existed.
func (t *Tracker) Stop(convID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.convs[convID]
	if !ok {
		return false
	}
	if _, present := users[userID]; !present {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(t.convs, convID)
	}
	return true
}

// ClearUser removes the user from every conversation and returns the
// affected conversation ids, for disconnect fan-out.
func (t *Tracker) ClearUser(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var affected []string
	for convID, users := range t.convs {
		if _, ok := users[userID]; !ok {
			continue
		}
		delete(users, userID)
		if len(users) == 0 {
			delete(t.convs, convID)
		}
		affected = append(affected, convID)
	}
	sort.Strings(affected)
	return affected
}

// Snapshot returns the users currently typing in a conversation, expiring
// stale entries on the way.
func (t *Tracker) Snapshot(convID string) []string {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.convs[convID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(users))
	for userID, deadline := range users {
		if now.After(deadline) {
			delete(users, userID)
			continue
		}
		out = append(out, userID)
	}
	if len(users) == 0 {
		delete(t.convs, convID)
	}
	sort.Strings(out)
	return out
}

// Run sweeps expired entries until ctx is done, calling onExpire for each
// entry it drops so the server can emit a typing-stopped event.
func (t *Tracker) Run(ctx context.Context, onExpire func(convID, userID string)) {
	ticker := time.NewTicker(t.sweep)
	defer ticker.Stop()
	logger.Debug("typing_sweeper_started", "ttl", t.ttl, "interval", t.sweep)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, e := range t.expireNow() {
				if onExpire != nil {
					onExpire(e.convID, e.userID)
				}
			}
		}
	}
}

type expired struct {
	convID, userID string
}

func (t *Tracker) expireNow() []expired {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []expired
	for convID, users := range t.convs {
		for userID, deadline := range users {
			if now.After(deadline) {
				delete(users, userID)
				out = append(out, expired{convID: convID, userID: userID})
			}
		}
		if len(users) == 0 {
			delete(t.convs, convID)
		}
	}
	return out
}
