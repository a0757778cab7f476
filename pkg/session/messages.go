package session

import (
	"encoding/json"
	"fmt"

	"ethiogram/pkg/models"
	"ethiogram/pkg/protocol"
	"ethiogram/pkg/telemetry"
	"ethiogram/pkg/utils"
	"ethiogram/pkg/validation"
)

// resolveConversation checks that userID may address convID. Pair
// conversations require the user to be one of the two participants; group
// conversations require membership. For groups the group is returned for
// policy checks.
func (s *Coordinator) resolveConversation(convID, userID string) (*models.Group, error) {
	if convID == "" {
		return nil, fmt.Errorf("%w: missing chat id", models.ErrInvalidSpec)
	}
	if a, b, ok := utils.IsPairConversation(convID); ok {
		if userID != a && userID != b {
			return nil, fmt.Errorf("%w: not a participant", models.ErrPermissionDenied)
		}
		return nil, nil
	}
	g, err := s.dir.Get(convID)
	if err != nil {
		return nil, err
	}
	if !containsStr(g.Members, userID) {
		return nil, fmt.Errorf("%w: not a member", models.ErrPermissionDenied)
	}
	return &g, nil
}

func (s *Coordinator) handleJoinChat(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.ChatRef
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	if _, err := s.resolveConversation(req.ChatID, userID); err != nil {
		return err
	}
	c.markJoined(req.ChatID)
	msgs, err := s.log.History(req.ChatID, s.pageSize)
	if err != nil {
		return err
	}
	typing := s.typ.Snapshot(req.ChatID)
	s.send(c, protocol.EvtChatHistory, protocol.ChatHistory{
		ChatID:   req.ChatID,
		Messages: msgs,
		Typing:   typing,
	})
	s.send(c, protocol.EvtTypingUsers, protocol.TypingSnapshot{
		ChatID:  req.ChatID,
		UserIDs: typing,
	})
	return nil
}

func (s *Coordinator) handleLeaveChat(c *Conn, data json.RawMessage) error {
	var req protocol.ChatRef
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	c.markLeft(req.ChatID)
	return nil
}

func (s *Coordinator) handleSendMessage(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.SendMessage
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	g, err := s.resolveConversation(req.ChatID, userID)
	if err != nil {
		return err
	}
	if err := validation.ValidateMessageBody(req.Body, req.Attachment); err != nil {
		return err
	}

	isAdmin := g != nil && g.Admin == userID
	if g != nil {
		if g.Settings.AnnouncementOnly && !isAdmin {
			return fmt.Errorf("%w: announcement-only group", models.ErrPermissionDenied)
		}
		if req.IsAnnouncement && !isAdmin {
			return fmt.Errorf("%w: only the admin may send announcements", models.ErrPermissionDenied)
		}
		if g.Settings.SlowMode && !isAdmin && !s.slow.Allow(g.ID, userID, g.Settings.SlowModeSeconds) {
			return fmt.Errorf("%w: slow mode, one message per %ds", models.ErrRateLimited, g.Settings.SlowModeSeconds)
		}
	} else if req.IsAnnouncement {
		return fmt.Errorf("%w: announcements are group-only", models.ErrInvalidSpec)
	}

	senderName := ""
	if u, ok := s.reg.Get(userID); ok {
		senderName = u.Name
	}
	msg, err := s.log.Append(req.ChatID, userID, senderName, req.Body, req.Attachment, req.IsAnnouncement)
	if err != nil {
		return err
	}
	telemetry.MessagesStored.Inc()

	// sending implies no longer typing
	if s.typ.Stop(req.ChatID, userID) {
		s.rt.ToConversation(req.ChatID, protocol.MustEvent(protocol.EvtTypingStopped, protocol.TypingNotice{
			ChatID: req.ChatID,
			UserID: userID,
		}), c.ID)
	}

	s.send(c, protocol.EvtMessageSent, msg)
	s.rt.ToConversation(req.ChatID, protocol.MustEvent(protocol.EvtMessageReceived, msg), c.ID)
	return nil
}

func (s *Coordinator) handleEditMessage(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.EditMessage
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	if _, err := s.resolveConversation(req.ChatID, userID); err != nil {
		return err
	}
	if err := validation.ValidateMessageBody(req.NewBody, nil); err != nil {
		return err
	}
	msg, err := s.log.Edit(req.ChatID, req.MessageID, userID, req.NewBody)
	if err != nil {
		return err
	}
	s.send(c, protocol.EvtMessageEdited, msg)
	s.rt.ToConversation(req.ChatID, protocol.MustEvent(protocol.EvtMessageEdited, msg), c.ID)
	return nil
}

func (s *Coordinator) handleDeleteMessage(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.DeleteMessage
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	g, err := s.resolveConversation(req.ChatID, userID)
	if err != nil {
		return err
	}
	isAdmin := g != nil && g.Admin == userID
	if err := s.log.Delete(req.ChatID, req.MessageID, userID, isAdmin); err != nil {
		return err
	}
	notice := protocol.MustEvent(protocol.EvtMessageDeleted, protocol.MessageDeletedNotice{
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
		DeletedBy: userID,
	})
	s.hub.Send(c.ID, notice)
	s.rt.ToConversation(req.ChatID, notice, c.ID)
	return nil
}

func (s *Coordinator) handleAddReaction(c *Conn, userID string, data json.RawMessage) error {
	return s.handleReaction(c, userID, data, true)
}

func (s *Coordinator) handleRemoveReaction(c *Conn, userID string, data json.RawMessage) error {
	return s.handleReaction(c, userID, data, false)
}

func (s *Coordinator) handleReaction(c *Conn, userID string, data json.RawMessage, add bool) error {
	var req protocol.Reaction
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	if req.Emoji == "" {
		return fmt.Errorf("%w: missing emoji", models.ErrInvalidSpec)
	}
	g, err := s.resolveConversation(req.ChatID, userID)
	if err != nil {
		return err
	}
	if g != nil && !g.Settings.AllowReactions {
		return fmt.Errorf("%w: reactions are disabled", models.ErrPermissionDenied)
	}
	var count int
	if add {
		count, err = s.log.AddReaction(req.ChatID, req.MessageID, req.Emoji)
	} else {
		count, err = s.log.RemoveReaction(req.ChatID, req.MessageID, req.Emoji)
	}
	if err != nil {
		return err
	}
	notice := protocol.MustEvent(protocol.EvtReactionChanged, protocol.ReactionChange{
		ChatID:    req.ChatID,
		MessageID: req.MessageID,
		Emoji:     req.Emoji,
		Count:     count,
	})
	// everyone, sender included, renders the new count
	s.hub.Send(c.ID, notice)
	s.rt.ToConversation(req.ChatID, notice, c.ID)
	return nil
}

func (s *Coordinator) handleTyping(c *Conn, userID string, data json.RawMessage, start bool) error {
	var req protocol.ChatRef
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	if _, err := s.resolveConversation(req.ChatID, userID); err != nil {
		return err
	}
	name := ""
	if u, ok := s.reg.Get(userID); ok {
		name = u.Name
	}
	if start {
		s.typ.Start(req.ChatID, userID)
		s.rt.ToConversation(req.ChatID, protocol.MustEvent(protocol.EvtTypingStarted, protocol.TypingNotice{
			ChatID: req.ChatID,
			UserID: userID,
			Name:   name,
		}), c.ID)
		return nil
	}
	if s.typ.Stop(req.ChatID, userID) {
		s.rt.ToConversation(req.ChatID, protocol.MustEvent(protocol.EvtTypingStopped, protocol.TypingNotice{
			ChatID: req.ChatID,
			UserID: userID,
		}), c.ID)
	}
	return nil
}
