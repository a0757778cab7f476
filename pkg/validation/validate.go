package validation

import (
	"fmt"
	"strings"
	"sync"

	"ethiogram/pkg/models"
)

// Rules holds payload validation limits, set once at startup from config.
type Rules struct {
	MaxBodyBytes int
	MaxNameLen   int
}

var (
	rulesMu sync.RWMutex
	rules   = Rules{MaxBodyBytes: 16 * 1024, MaxNameLen: 128}
)

// SetRules installs the global validation rules.
func SetRules(r Rules) {
	rulesMu.Lock()
	defer rulesMu.Unlock()
	if r.MaxBodyBytes > 0 {
		rules.MaxBodyBytes = r.MaxBodyBytes
	}
	if r.MaxNameLen > 0 {
		rules.MaxNameLen = r.MaxNameLen
	}
}

func current() Rules {
	rulesMu.RLock()
	defer rulesMu.RUnlock()
	return rules
}

// ValidateIdentity checks an identity-announce payload. A missing display
// name rejects the identity.
func ValidateIdentity(name string) error {
	r := current()
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: missing name", models.ErrIdentityRejected)
	}
	if len(name) > r.MaxNameLen {
		return fmt.Errorf("%w: name exceeds %d bytes", models.ErrIdentityRejected, r.MaxNameLen)
	}
	return nil
}

// ValidateGroupSpec checks a create-group payload.
func ValidateGroupSpec(name, visibility string) error {
	r := current()
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty group name", models.ErrInvalidSpec)
	}
	if len(name) > r.MaxNameLen {
		return fmt.Errorf("%w: group name exceeds %d bytes", models.ErrInvalidSpec, r.MaxNameLen)
	}
	switch visibility {
	case "", models.VisibilityPublic, models.VisibilityPrivate:
	default:
		return fmt.Errorf("%w: unknown visibility %q", models.ErrInvalidSpec, visibility)
	}
	return nil
}

// ValidateMessageBody checks a send/edit body. A message must carry either
// text or an attachment reference.
func ValidateMessageBody(body string, att *models.AttachmentRef) error {
	r := current()
	if strings.TrimSpace(body) == "" && att == nil {
		return fmt.Errorf("%w: empty message", models.ErrInvalidSpec)
	}
	if len(body) > r.MaxBodyBytes {
		return fmt.Errorf("%w: body exceeds %d bytes", models.ErrInvalidSpec, r.MaxBodyBytes)
	}
	if att != nil {
		switch att.Kind {
		case "file", "voice":
		default:
			return fmt.Errorf("%w: unknown attachment kind %q", models.ErrInvalidSpec, att.Kind)
		}
	}
	return nil
}
