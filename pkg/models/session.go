package models

// PresenceState is a user's availability as seen by others.
type PresenceState string

const (
	PresenceOnline  PresenceState = "online"
	PresenceAway    PresenceState = "away"
	PresenceOffline PresenceState = "offline"
)

// ValidPresence reports whether s is a known presence state.
func ValidPresence(s PresenceState) bool {
	switch s {
	case PresenceOnline, PresenceAway, PresenceOffline:
		return true
	}
	return false
}

// Session binds one live transport connection to a user identity.
// Connection ids and user ids are distinct key spaces: a user may hold
// several simultaneous sessions (multi-device).
type Session struct {
	ConnID   string `json:"conn_id"`
	UserID   string `json:"user_id"`
	JoinedTS int64  `json:"joined_ts"`
}

// UserSummary is the presence projection of a user.
type UserSummary struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Avatar   string        `json:"avatar,omitempty"`
	State    PresenceState `json:"state"`
	LastSeen int64         `json:"last_seen,omitempty"`
}
