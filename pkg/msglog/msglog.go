package msglog

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ethiogram/pkg/logger"
	"ethiogram/pkg/models"
	"ethiogram/pkg/store"
	"ethiogram/pkg/utils"
)

// Log is the append-only message history over an injected storage backend.
// Each conversation carries its own monotonically increasing sequence; the
// sequence, not the timestamp, is the authoritative order.
type Log struct {
	backend store.Backend

	mu    sync.Mutex
	convs map[string]*convState
}

// convState serializes all writes to one conversation. The mutex covers
// sequence assignment on append and the find-mutate-replace cycle of every
// mutator, so concurrent edits of the same message never lose updates.
type convState struct {
	mu      sync.Mutex
	nextSeq uint64
}

// New wraps a backend. The backend decides durability; the log only owns
// sequencing and message semantics.
func New(b store.Backend) *Log {
	return &Log{backend: b, convs: map[string]*convState{}}
}

// Mode reports the underlying backend mode.
func (l *Log) Mode() store.Mode { return l.backend.Mode() }

// Ready reports whether the backend can serve requests.
func (l *Log) Ready() bool { return l.backend.Ready() }

func (l *Log) conv(convID string) (*convState, error) {
	l.mu.Lock()
	cs, ok := l.convs[convID]
	if !ok {
		cs = &convState{}
		l.convs[convID] = cs
	}
	l.mu.Unlock()

	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.nextSeq == 0 {
		last, err := l.backend.LastSeq(convID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err)
		}
		cs.nextSeq = last + 1
	}
	return cs, nil
}

// Append stores a new message and returns it with its assigned id, sequence
// and timestamp.
func (l *Log) Append(convID, senderID, senderName, body string, att *models.AttachmentRef, isAnnouncement bool) (models.Message, error) {
	cs, err := l.conv(convID)
	if err != nil {
		return models.Message{}, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	seq := cs.nextSeq
	msg := models.Message{
		ID:             utils.GenMessageID(seq),
		Conversation:   convID,
		Sender:         senderID,
		SenderName:     senderName,
		Seq:            seq,
		TS:             time.Now().UnixMilli(),
		Body:           body,
		Attachment:     att,
		IsAnnouncement: isAnnouncement,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return models.Message{}, err
	}
	if err := l.backend.Append(convID, seq, data); err != nil {
		logger.Error("message_append_failed", "conversation", convID, "seq", seq, "error", err)
		return models.Message{}, fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err)
	}
	cs.nextSeq++
	return msg, nil
}

// find scans a conversation for a message id. History is bounded by
// retention so a full scan stays cheap.
func (l *Log) find(convID, msgID string) (models.Message, error) {
	raw, err := l.backend.List(convID, 0)
	if err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err)
	}
	for _, b := range raw {
		var m models.Message
		if err := json.Unmarshal(b, &m); err != nil {
			continue
		}
		if m.ID == msgID {
			return m, nil
		}
	}
	return models.Message{}, fmt.Errorf("%w: message %s", models.ErrNotFound, msgID)
}

func (l *Log) replace(m models.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := l.backend.Replace(m.Conversation, m.Seq, data); err != nil {
		return fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err)
	}
	return nil
}

// Edit rewrites a message body. Only the original sender may edit, and a
// deleted message cannot be edited.
func (l *Log) Edit(convID, msgID, requester, newBody string) (models.Message, error) {
	cs, err := l.conv(convID)
	if err != nil {
		return models.Message{}, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	m, err := l.find(convID, msgID)
	if err != nil {
		return models.Message{}, err
	}
	if m.Deleted {
		return models.Message{}, fmt.Errorf("%w: message %s", models.ErrNotFound, msgID)
	}
	if m.Sender != requester {
		return models.Message{}, fmt.Errorf("%w: only the sender may edit", models.ErrPermissionDenied)
	}
	m.Body = newBody
	m.IsEdited = true
	m.EditedTS = time.Now().UnixMilli()
	if err := l.replace(m); err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// Delete tombstones a message. The sender may delete their own message;
// isAdmin lets a group admin delete anyone's. The entry stays in the log
// (sequence untouched) until retention purges it.
func (l *Log) Delete(convID, msgID, requester string, isAdmin bool) error {
	cs, err := l.conv(convID)
	if err != nil {
		return err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	m, err := l.find(convID, msgID)
	if err != nil {
		return err
	}
	if m.Deleted {
		return nil
	}
	if m.Sender != requester && !isAdmin {
		return fmt.Errorf("%w: cannot delete another user's message", models.ErrPermissionDenied)
	}
	m.Deleted = true
	m.Body = ""
	m.Attachment = nil
	m.Reactions = nil
	return l.replace(m)
}

// AddReaction increments an emoji count and returns the new count.
func (l *Log) AddReaction(convID, msgID, emoji string) (int, error) {
	cs, err := l.conv(convID)
	if err != nil {
		return 0, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	m, err := l.find(convID, msgID)
	if err != nil {
		return 0, err
	}
	if m.Deleted {
		return 0, fmt.Errorf("%w: message %s", models.ErrNotFound, msgID)
	}
	if m.Reactions == nil {
		m.Reactions = map[string]int{}
	}
	m.Reactions[emoji]++
	if err := l.replace(m); err != nil {
		return 0, err
	}
	return m.Reactions[emoji], nil
}

// RemoveReaction decrements an emoji count, flooring at zero. A zero count
// removes the emoji key entirely.
func (l *Log) RemoveReaction(convID, msgID, emoji string) (int, error) {
	cs, err := l.conv(convID)
	if err != nil {
		return 0, err
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()

	m, err := l.find(convID, msgID)
	if err != nil {
		return 0, err
	}
	if m.Deleted {
		return 0, fmt.Errorf("%w: message %s", models.ErrNotFound, msgID)
	}
	n := m.Reactions[emoji]
	if n <= 1 {
		delete(m.Reactions, emoji)
		n = 0
	} else {
		n--
		m.Reactions[emoji] = n
	}
	if err := l.replace(m); err != nil {
		return 0, err
	}
	return n, nil
}

// History returns the most recent page of a conversation in ascending
// sequence order. Tombstoned entries are included so clients can render
// deletion placeholders.
func (l *Log) History(convID string, limit int) ([]models.Message, error) {
	raw, err := l.backend.List(convID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrServiceUnavailable, err)
	}
	out := make([]models.Message, 0, len(raw))
	for _, b := range raw {
		var m models.Message
		if err := json.Unmarshal(b, &m); err != nil {
			logger.Warn("skipping_malformed_message", "conversation", convID, "error", err)
			continue
		}
		out = append(out, m)
	}
	return out, nil
}
