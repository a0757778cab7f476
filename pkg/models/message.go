package models

// Message is one entry in a conversation's ordered log. Seq is the
// authoritative order key within a conversation; TS is wall-clock time
// kept for display only.
type Message struct {
	ID           string `json:"id"`
	Conversation string `json:"conversation"`
	Sender       string `json:"sender"`
	// SenderName is a denormalized snapshot of the sender's display name
	// at send time; later profile updates do not rewrite history.
	SenderName string `json:"sender_name,omitempty"`
	Seq        uint64 `json:"seq"`
	TS         int64  `json:"ts"`
	Body       string `json:"body,omitempty"`
	// Attachment carries an opaque file/voice reference; the server never
	// inspects or transcodes the payload it points at.
	Attachment     *AttachmentRef `json:"attachment,omitempty"`
	IsAnnouncement bool           `json:"is_announcement,omitempty"`
	IsEdited       bool           `json:"is_edited,omitempty"`
	EditedTS       int64          `json:"edited_ts,omitempty"`
	// Deleted flag; delete is implemented as a tombstone, not a hard remove
	Deleted bool `json:"deleted,omitempty"`
	// Reactions is a map of emoji -> count. Counts are never <= 0; a
	// decrement to zero removes the key.
	Reactions map[string]int `json:"reactions,omitempty"`
}

// AttachmentRef describes an out-of-band attachment by reference.
type AttachmentRef struct {
	Kind       string `json:"kind"` // file | voice
	Name       string `json:"name,omitempty"`
	Size       int64  `json:"size,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	URL        string `json:"url,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}
