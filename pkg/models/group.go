package models

// Group visibility values.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Group is a chat group record. Members is kept in insertion order and
// holds no duplicates; Admin is always an element of Members.
type Group struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Visibility  string        `json:"visibility"`
	Admin       string        `json:"admin"`
	Members     []string      `json:"members"`
	Settings    GroupSettings `json:"settings"`
	CreatedTS   int64         `json:"created_ts"`
}

// GroupSettings holds per-group policy switches.
type GroupSettings struct {
	AllowInvites     bool `json:"allow_invites"`
	AllowPinned      bool `json:"allow_pinned"`
	AllowReactions   bool `json:"allow_reactions"`
	SlowMode         bool `json:"slow_mode"`
	SlowModeSeconds  int  `json:"slow_mode_seconds"`
	AnnouncementOnly bool `json:"announcement_only"`
}

// DefaultGroupSettings mirrors the defaults a freshly created group gets.
func DefaultGroupSettings() GroupSettings {
	return GroupSettings{
		AllowInvites:    true,
		AllowPinned:     true,
		AllowReactions:  true,
		SlowModeSeconds: 5,
	}
}

// SettingsPatch is a partial settings update; nil fields are left unchanged.
type SettingsPatch struct {
	AllowInvites     *bool `json:"allow_invites,omitempty"`
	AllowPinned      *bool `json:"allow_pinned,omitempty"`
	AllowReactions   *bool `json:"allow_reactions,omitempty"`
	SlowMode         *bool `json:"slow_mode,omitempty"`
	SlowModeSeconds  *int  `json:"slow_mode_seconds,omitempty"`
	AnnouncementOnly *bool `json:"announcement_only,omitempty"`
}

// Apply merges the patch over s.
func (p SettingsPatch) Apply(s *GroupSettings) {
	if p.AllowInvites != nil {
		s.AllowInvites = *p.AllowInvites
	}
	if p.AllowPinned != nil {
		s.AllowPinned = *p.AllowPinned
	}
	if p.AllowReactions != nil {
		s.AllowReactions = *p.AllowReactions
	}
	if p.SlowMode != nil {
		s.SlowMode = *p.SlowMode
	}
	if p.SlowModeSeconds != nil {
		s.SlowModeSeconds = *p.SlowModeSeconds
	}
	if p.AnnouncementOnly != nil {
		s.AnnouncementOnly = *p.AnnouncementOnly
	}
}

// GroupSummary is the list-projection of a group.
type GroupSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Visibility  string `json:"visibility"`
	Admin       string `json:"admin"`
	MemberCount int    `json:"member_count"`
	CreatedTS   int64  `json:"created_ts"`
}

// MemberSummary is the member-list projection, enriched with presence.
type MemberSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Avatar  string `json:"avatar,omitempty"`
	Online  bool   `json:"online"`
	IsAdmin bool   `json:"is_admin"`
}
