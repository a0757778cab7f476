package session

import (
	"encoding/json"
	"fmt"

	"ethiogram/pkg/models"
	"ethiogram/pkg/protocol"
)

func (s *Coordinator) handleCreateGroup(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.CreateGroup
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	g, err := s.dir.Create(userID, req.Name, req.Description, req.Visibility, req.InitialMembers, req.Settings)
	if err != nil {
		return err
	}
	s.send(c, protocol.EvtGroupCreated, g)
	for _, m := range g.Members {
		if m == userID {
			continue
		}
		s.rt.ToUser(m, protocol.MustEvent(protocol.EvtAddedToGroup, g))
	}
	return nil
}

func (s *Coordinator) handleJoinGroup(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.GroupRef
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	g, alreadyMember, err := s.dir.Join(req.GroupID, userID)
	if err != nil {
		return err
	}
	s.send(c, protocol.EvtAddedToGroup, g)
	if alreadyMember {
		return nil
	}
	name := ""
	if u, ok := s.reg.Get(userID); ok {
		name = u.Name
	}
	notice := protocol.MustEvent(protocol.EvtUserJoinedGroup, protocol.GroupMembership{
		GroupID: g.ID,
		UserID:  userID,
		Name:    name,
	})
	for _, m := range g.Members {
		if m == userID {
			continue
		}
		s.rt.ToUser(m, notice)
	}
	return nil
}

func (s *Coordinator) handleLeaveGroup(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.GroupRef
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	g, deleted, err := s.dir.Leave(req.GroupID, userID)
	if err != nil {
		return err
	}
	s.slow.Forget(req.GroupID, userID)
	s.send(c, protocol.EvtRemovedFromGroup, protocol.GroupRef{GroupID: req.GroupID})
	if deleted {
		s.rt.ToAll(protocol.MustEvent(protocol.EvtGroupDeleted, protocol.GroupRef{GroupID: req.GroupID}), "")
		return nil
	}
	notice := protocol.MustEvent(protocol.EvtUserLeftGroup, protocol.GroupMembership{
		GroupID: req.GroupID,
		UserID:  userID,
	})
	for _, m := range g.Members {
		s.rt.ToUser(m, notice)
	}
	return nil
}

func (s *Coordinator) handleAddMembers(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.AddMembers
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	if len(req.MemberIDs) == 0 {
		return fmt.Errorf("%w: no members given", models.ErrInvalidSpec)
	}
	g, added, err := s.dir.AddMembers(req.GroupID, userID, req.MemberIDs)
	if err != nil {
		return err
	}
	if len(added) == 0 {
		s.send(c, protocol.EvtMembersAdded, protocol.GroupMembersList{GroupID: g.ID})
		return nil
	}
	for _, m := range added {
		s.rt.ToUser(m, protocol.MustEvent(protocol.EvtAddedToGroup, g))
	}
	summaries := s.memberSummaries(g, added)
	notice := protocol.MustEvent(protocol.EvtMembersAdded, protocol.GroupMembersList{GroupID: g.ID, Members: summaries})
	for _, m := range g.Members {
		if containsStr(added, m) {
			continue
		}
		s.rt.ToUser(m, notice)
	}
	return nil
}

func (s *Coordinator) handleRemoveMember(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.RemoveMember
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	g, err := s.dir.RemoveMember(req.GroupID, userID, req.MemberID)
	if err != nil {
		return err
	}
	s.slow.Forget(req.GroupID, req.MemberID)
	s.rt.ToUser(req.MemberID, protocol.MustEvent(protocol.EvtRemovedFromGroup, protocol.GroupRef{GroupID: req.GroupID}))
	notice := protocol.MustEvent(protocol.EvtMemberRemoved, protocol.GroupMembership{
		GroupID: req.GroupID,
		UserID:  req.MemberID,
	})
	for _, m := range g.Members {
		s.rt.ToUser(m, notice)
	}
	return nil
}

func (s *Coordinator) handleTransferAdmin(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.TransferAdmin
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	g, err := s.dir.TransferAdmin(req.GroupID, userID, req.NewAdminID)
	if err != nil {
		return err
	}
	notice := protocol.MustEvent(protocol.EvtAdminTransferred, protocol.AdminChange{
		GroupID:    g.ID,
		OldAdminID: userID,
		NewAdminID: req.NewAdminID,
	})
	for _, m := range g.Members {
		s.rt.ToUser(m, notice)
	}
	return nil
}

func (s *Coordinator) handleUpdateSettings(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.UpdateSettings
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	g, err := s.dir.UpdateSettings(req.GroupID, userID, req.Settings)
	if err != nil {
		return err
	}
	notice := protocol.MustEvent(protocol.EvtSettingsUpdated, protocol.SettingsUpdated{
		GroupID:   g.ID,
		Settings:  g.Settings,
		UpdatedBy: userID,
	})
	for _, m := range g.Members {
		s.rt.ToUser(m, notice)
	}
	return nil
}

func (s *Coordinator) handleGetGroupMembers(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.GroupRef
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	g, err := s.dir.Get(req.GroupID)
	if err != nil {
		return err
	}
	if !containsStr(g.Members, userID) {
		return fmt.Errorf("%w: not a member", models.ErrPermissionDenied)
	}
	s.send(c, protocol.EvtGroupMembers, protocol.GroupMembersList{
		GroupID: g.ID,
		Members: s.memberSummaries(g, g.Members),
	})
	return nil
}

func (s *Coordinator) handleGetGroupInfo(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.GroupRef
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	g, err := s.dir.Get(req.GroupID)
	if err != nil {
		return err
	}
	if g.Visibility == models.VisibilityPrivate && !containsStr(g.Members, userID) {
		return fmt.Errorf("%w: group %s", models.ErrNotFound, req.GroupID)
	}
	s.send(c, protocol.EvtGroupInfo, g)
	return nil
}

// memberSummaries projects member ids onto presence-enriched summaries.
func (s *Coordinator) memberSummaries(g models.Group, ids []string) []models.MemberSummary {
	out := make([]models.MemberSummary, 0, len(ids))
	for _, id := range ids {
		ms := models.MemberSummary{ID: id, IsAdmin: id == g.Admin}
		if u, ok := s.reg.Get(id); ok {
			ms.Name = u.Name
			ms.Avatar = u.Avatar
			ms.Online = s.reg.IsOnline(id)
		}
		out = append(out, ms)
	}
	return out
}

func containsStr(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}
