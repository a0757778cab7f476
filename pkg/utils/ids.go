package utils

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// GenConnID returns a fresh connection id.
func GenConnID() string { return "conn-" + uuid.NewString() }

// GenUserID returns a fresh user id for clients that announce without one.
func GenUserID() string { return "user-" + uuid.NewString() }

// GenGroupID returns a fresh group id.
func GenGroupID() string { return "group-" + uuid.NewString() }

// GenMessageID builds a message id from the conversation sequence number
// plus a short random suffix. The sequence is the authoritative order key;
// the suffix only keeps ids unique across conversations.
func GenMessageID(seq uint64) string {
	return fmt.Sprintf("msg-%d-%s", seq, uuid.NewString()[:8])
}

// PairConversationID synthesizes the conversation id for a private
// two-party exchange. The participants are sorted so both sides derive
// the same id.
func PairConversationID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return "dm:" + a + ":" + b
}

// IsPairConversation reports whether id names a private conversation and
// returns its two participants.
func IsPairConversation(id string) (string, string, bool) {
	if !strings.HasPrefix(id, "dm:") {
		return "", "", false
	}
	parts := strings.SplitN(strings.TrimPrefix(id, "dm:"), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	sort.Strings(parts)
	return parts[0], parts[1], true
}
