package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"ethiogram/pkg/logger"
	"ethiogram/pkg/models"
	"ethiogram/pkg/utils"
	"ethiogram/pkg/validation"
)

// Registry tracks live connections and the user identities behind them.
// Connection ids and user ids are separate key spaces: one user may hold
// several connections at once, and presence is derived from the set of
// connections, not from any single one.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*models.Session       // connID -> session
	byUser   map[string]map[string]struct{}   // userID -> connIDs
	users    map[string]*userRecord           // userID -> profile/presence
	timers   map[string]*time.Timer           // userID -> offline grace timer
	grace    time.Duration
	onExpire func(u models.UserSummary)
}

type userRecord struct {
	Name     string
	Avatar   string
	State    models.PresenceState
	LastSeen int64
}

// RegisterResult reports the outcome of binding an identity to a connection.
type RegisterResult struct {
	User       models.UserSummary
	CameOnline bool
}

// New builds a registry with the given offline grace window.
func New(grace time.Duration) *Registry {
	return &Registry{
		sessions: map[string]*models.Session{},
		byUser:   map[string]map[string]struct{}{},
		users:    map[string]*userRecord{},
		timers:   map[string]*time.Timer{},
		grace:    grace,
	}
}

// OnGraceExpired installs the callback fired when a user's grace window
// elapses with no reconnect. Must be set before the first Register.
func (r *Registry) OnGraceExpired(fn func(u models.UserSummary)) {
	r.onExpire = fn
}

// Register binds an announced identity to a connection. An empty user id is
// assigned a fresh one. CameOnline is true only when this is the user's
// first live connection, so presence fan-out stays per-user, not per-device.
func (r *Registry) Register(connID, userID, name, avatar string) (RegisterResult, error) {
	if err := validation.ValidateIdentity(name); err != nil {
		return RegisterResult{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.sessions[connID]; dup {
		return RegisterResult{}, fmt.Errorf("%w: connection already identified", models.ErrIdentityRejected)
	}
	if userID == "" {
		userID = utils.GenUserID()
	}

	if t, ok := r.timers[userID]; ok {
		t.Stop()
		delete(r.timers, userID)
	}

	rec, existed := r.users[userID]
	if !existed {
		rec = &userRecord{}
		r.users[userID] = rec
	}
	rec.Name = name
	if avatar != "" {
		rec.Avatar = avatar
	}

	// A second device keeps whatever state the user announced, including
	// an explicit offline (invisible mode).
	cameOnline := len(r.byUser[userID]) == 0
	if cameOnline || !models.ValidPresence(rec.State) {
		rec.State = models.PresenceOnline
	}

	r.sessions[connID] = &models.Session{ConnID: connID, UserID: userID, JoinedTS: time.Now().UnixMilli()}
	if r.byUser[userID] == nil {
		r.byUser[userID] = map[string]struct{}{}
	}
	r.byUser[userID][connID] = struct{}{}

	logger.Info("identity_registered", "conn", connID, "user", userID, "came_online", cameOnline)
	return RegisterResult{User: summarize(userID, rec), CameOnline: cameOnline}, nil
}

// SetPresence updates a user's announced state. An explicit offline keeps
// the connections live but renders the user invisible until they announce
// another state.
func (r *Registry) SetPresence(userID string, state models.PresenceState) (models.UserSummary, bool, error) {
	if !models.ValidPresence(state) {
		return models.UserSummary{}, false, fmt.Errorf("%w: presence state %q", models.ErrInvalidSpec, state)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.users[userID]
	if !ok || len(r.byUser[userID]) == 0 {
		return models.UserSummary{}, false, fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}
	changed := rec.State != state
	rec.State = state
	return summarize(userID, rec), changed, nil
}

// UpdateProfile rewrites a user's display name and avatar. Empty fields are
// left unchanged.
func (r *Registry) UpdateProfile(userID, name, avatar string) (models.UserSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.users[userID]
	if !ok {
		return models.UserSummary{}, fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
	}
	if name != "" {
		if err := validation.ValidateIdentity(name); err != nil {
			return models.UserSummary{}, err
		}
		rec.Name = name
	}
	if avatar != "" {
		rec.Avatar = avatar
	}
	return summarize(userID, rec), nil
}

// Unregister removes a connection. When it was the user's last one, the
// offline grace timer is armed; a reconnect within the window cancels it so
// brief network blips never flap presence.
func (r *Registry) Unregister(connID string) (userID string, lastConn bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connID]
	if !ok {
		return "", false
	}
	delete(r.sessions, connID)
	userID = sess.UserID
	if conns := r.byUser[userID]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.byUser, userID)
			lastConn = true
		}
	}
	if !lastConn {
		return userID, false
	}

	if t, ok := r.timers[userID]; ok {
		t.Stop()
	}
	r.timers[userID] = time.AfterFunc(r.grace, func() { r.expire(userID) })
	logger.Debug("grace_timer_armed", "user", userID, "window", r.grace)
	return userID, true
}

func (r *Registry) expire(userID string) {
	r.mu.Lock()
	delete(r.timers, userID)
	if len(r.byUser[userID]) > 0 {
		// reconnected while the timer was firing
		r.mu.Unlock()
		return
	}
	rec, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	rec.State = models.PresenceOffline
	rec.LastSeen = time.Now().UnixMilli()
	sum := summarize(userID, rec)
	fn := r.onExpire
	r.mu.Unlock()

	logger.Info("user_went_offline", "user", userID)
	if fn != nil {
		fn(sum)
	}
}

// UserOf resolves the identified user behind a connection.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[connID]
	if !ok {
		return "", false
	}
	return sess.UserID, true
}

// ConnsOf returns all live connection ids for a user.
func (r *Registry) ConnsOf(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := r.byUser[userID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// Get returns a user's summary, whether online or within grace.
func (r *Registry) Get(userID string) (models.UserSummary, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.users[userID]
	if !ok {
		return models.UserSummary{}, false
	}
	return summarize(userID, rec), true
}

// IsOnline reports whether the user has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byUser[userID]) > 0
}

// ListOnline returns summaries for every user with a live connection,
// sorted by id for stable output.
func (r *Registry) ListOnline() []models.UserSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.UserSummary, 0, len(r.byUser))
	for userID := range r.byUser {
		if rec, ok := r.users[userID]; ok {
			out = append(out, summarize(userID, rec))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts reports live connections and distinct online users.
func (r *Registry) Counts() (conns, users int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions), len(r.byUser)
}

func summarize(userID string, rec *userRecord) models.UserSummary {
	return models.UserSummary{
		ID:       userID,
		Name:     rec.Name,
		Avatar:   rec.Avatar,
		State:    rec.State,
		LastSeen: rec.LastSeen,
	}
}
