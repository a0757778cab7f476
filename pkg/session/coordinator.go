package session

import (
	"encoding/json"
	"fmt"
	"sync"

	"ethiogram/pkg/directory"
	"ethiogram/pkg/logger"
	"ethiogram/pkg/models"
	"ethiogram/pkg/msglog"
	"ethiogram/pkg/protocol"
	"ethiogram/pkg/registry"
	"ethiogram/pkg/router"
	"ethiogram/pkg/telemetry"
	"ethiogram/pkg/typing"
)

// Coordinator owns the command lifecycle of every connection: identity
// gating, dispatch, enforcement and event fan-out. It is the only component
// that touches registry, directory, message log and typing tracker together.
type Coordinator struct {
	reg  *registry.Registry
	dir  *directory.Directory
	log  *msglog.Log
	typ  *typing.Tracker
	rt   *router.Router
	hub  router.Sender
	slow *slowModePool

	pageSize int
}

// Conn is the per-connection session state. joined tracks which
// conversations the connection has opened, gating history and typing scope.
type Conn struct {
	ID string

	mu         sync.Mutex
	userID     string
	identified bool
	joined     map[string]struct{}
}

// NewConn wraps a freshly accepted connection id.
func NewConn(id string) *Conn {
	return &Conn{ID: id, joined: map[string]struct{}{}}
}

func (c *Conn) user() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID, c.identified
}

func (c *Conn) markJoined(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined[convID] = struct{}{}
}

func (c *Conn) markLeft(convID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.joined, convID)
}

// New wires a coordinator.
func New(reg *registry.Registry, dir *directory.Directory, log *msglog.Log, typ *typing.Tracker, rt *router.Router, hub router.Sender, pageSize int) *Coordinator {
	return &Coordinator{
		reg:      reg,
		dir:      dir,
		log:      log,
		typ:      typ,
		rt:       rt,
		hub:      hub,
		slow:     newSlowModePool(),
		pageSize: pageSize,
	}
}

// send delivers an event to the originating connection.
func (s *Coordinator) send(c *Conn, evtType string, payload any) {
	b, err := protocol.Event(evtType, payload)
	if err != nil {
		logger.Error("event_marshal_failed", "event", evtType, "error", err)
		return
	}
	s.hub.Send(c.ID, b)
}

// fail reports a rejected command back to its connection. Domain errors are
// never fatal to the connection.
func (s *Coordinator) fail(c *Conn, action string, err error) {
	code := models.ErrorCode(err)
	telemetry.CommandError(code)
	logger.Debug("command_rejected", "conn", c.ID, "action", action, "code", code)
	s.send(c, protocol.EvtError, protocol.ErrorEvent{Code: code, Action: action, Reason: err.Error()})
}

// HandleCommand decodes one inbound frame and dispatches it. Every command
// except identity_announce requires an identified connection.
func (s *Coordinator) HandleCommand(c *Conn, raw []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.fail(c, "", fmt.Errorf("%w: malformed frame: %v", models.ErrInvalidSpec, err))
		return
	}
	if env.Type == "" {
		s.fail(c, "", fmt.Errorf("%w: missing command type", models.ErrInvalidSpec))
		return
	}
	telemetry.Command(env.Type)

	if env.Type == protocol.CmdIdentityAnnounce {
		if err := s.handleIdentity(c, env.Data); err != nil {
			s.fail(c, env.Type, err)
		}
		return
	}

	userID, ok := c.user()
	if !ok {
		s.fail(c, env.Type, fmt.Errorf("%w: announce identity first", models.ErrIdentityRejected))
		return
	}

	var err error
	switch env.Type {
	case protocol.CmdSetPresence:
		err = s.handleSetPresence(c, userID, env.Data)
	case protocol.CmdUpdateProfile:
		err = s.handleUpdateProfile(c, userID, env.Data)
	case protocol.CmdCreateGroup:
		err = s.handleCreateGroup(c, userID, env.Data)
	case protocol.CmdJoinGroup:
		err = s.handleJoinGroup(c, userID, env.Data)
	case protocol.CmdLeaveGroup:
		err = s.handleLeaveGroup(c, userID, env.Data)
	case protocol.CmdAddMembers:
		err = s.handleAddMembers(c, userID, env.Data)
	case protocol.CmdRemoveMember:
		err = s.handleRemoveMember(c, userID, env.Data)
	case protocol.CmdTransferAdmin:
		err = s.handleTransferAdmin(c, userID, env.Data)
	case protocol.CmdUpdateGroupSettings:
		err = s.handleUpdateSettings(c, userID, env.Data)
	case protocol.CmdGetGroupMembers:
		err = s.handleGetGroupMembers(c, userID, env.Data)
	case protocol.CmdGetGroupInfo:
		err = s.handleGetGroupInfo(c, userID, env.Data)
	case protocol.CmdJoinChat:
		err = s.handleJoinChat(c, userID, env.Data)
	case protocol.CmdLeaveChat:
		err = s.handleLeaveChat(c, env.Data)
	case protocol.CmdSendMessage:
		err = s.handleSendMessage(c, userID, env.Data)
	case protocol.CmdEditMessage:
		err = s.handleEditMessage(c, userID, env.Data)
	case protocol.CmdDeleteMessage:
		err = s.handleDeleteMessage(c, userID, env.Data)
	case protocol.CmdAddReaction:
		err = s.handleAddReaction(c, userID, env.Data)
	case protocol.CmdRemoveReaction:
		err = s.handleRemoveReaction(c, userID, env.Data)
	case protocol.CmdTypingStart:
		err = s.handleTyping(c, userID, env.Data, true)
	case protocol.CmdTypingStop:
		err = s.handleTyping(c, userID, env.Data, false)
	default:
		err = fmt.Errorf("%w: unknown command %q", models.ErrInvalidSpec, env.Type)
	}
	if err != nil {
		s.fail(c, env.Type, err)
	}
}

func (s *Coordinator) handleIdentity(c *Conn, data json.RawMessage) error {
	var req protocol.Identity
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	res, err := s.reg.Register(c.ID, req.UserID, req.Name, req.Avatar)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.userID = res.User.ID
	c.identified = true
	c.mu.Unlock()

	s.send(c, protocol.EvtSessionReady, protocol.SessionReady{
		ConnID:      c.ID,
		UserID:      res.User.ID,
		StorageMode: string(s.log.Mode()),
	})
	s.send(c, protocol.EvtOnlineUsers, s.reg.ListOnline())

	if res.CameOnline {
		s.rt.ToAll(protocol.MustEvent(protocol.EvtUserOnline, res.User), c.ID)
	}
	return nil
}

func (s *Coordinator) handleSetPresence(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.SetPresence
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	sum, changed, err := s.reg.SetPresence(userID, models.PresenceState(req.State))
	if err != nil {
		return err
	}
	if changed {
		s.rt.ToAll(protocol.MustEvent(protocol.EvtPresenceChanged, protocol.PresenceChange{
			UserID: userID,
			State:  string(sum.State),
		}), "")
	}
	return nil
}

func (s *Coordinator) handleUpdateProfile(c *Conn, userID string, data json.RawMessage) error {
	var req protocol.UpdateProfile
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidSpec, err)
	}
	sum, err := s.reg.UpdateProfile(userID, req.Name, req.Avatar)
	if err != nil {
		return err
	}
	s.rt.ToAll(protocol.MustEvent(protocol.EvtProfileUpdated, sum), "")
	return nil
}

// HandleDisconnect tears a connection down: typing indicators are cleared
// and broadcast immediately, and when the last device closes the offline
// presence is announced right away. Only the user record itself waits out
// the grace window in the registry.
func (s *Coordinator) HandleDisconnect(c *Conn) {
	userID, identified := c.user()
	if !identified {
		return
	}
	for _, convID := range s.typ.ClearUser(userID) {
		s.rt.ToConversation(convID, protocol.MustEvent(protocol.EvtTypingStopped, protocol.TypingNotice{
			ChatID: convID,
			UserID: userID,
		}), c.ID)
	}
	if _, lastConn := s.reg.Unregister(c.ID); lastConn {
		logger.Debug("last_connection_closed", "user", userID)
		s.rt.ToAll(protocol.MustEvent(protocol.EvtPresenceChanged, protocol.PresenceChange{
			UserID: userID,
			State:  string(models.PresenceOffline),
		}), "")
	}
}

// BroadcastOffline announces a user's departure after the grace window
// expired. Wired to the registry's expiry callback at startup.
func (s *Coordinator) BroadcastOffline(u models.UserSummary) {
	s.rt.ToAll(protocol.MustEvent(protocol.EvtUserOffline, u), "")
}

// BroadcastTypingExpired announces a typing entry dropped by the TTL
// sweeper. Wired to the tracker's Run callback at startup.
func (s *Coordinator) BroadcastTypingExpired(convID, userID string) {
	s.rt.ToConversation(convID, protocol.MustEvent(protocol.EvtTypingStopped, protocol.TypingNotice{
		ChatID: convID,
		UserID: userID,
	}), "")
}
