package session

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"ethiogram/pkg/directory"
	"ethiogram/pkg/models"
	"ethiogram/pkg/msglog"
	"ethiogram/pkg/protocol"
	"ethiogram/pkg/registry"
	"ethiogram/pkg/router"
	"ethiogram/pkg/store"
	"ethiogram/pkg/typing"
)

type fakeHub struct {
	mu     sync.Mutex
	frames map[string][]protocol.Envelope
}

func newFakeHub() *fakeHub { return &fakeHub{frames: map[string][]protocol.Envelope{}} }

func (f *fakeHub) Send(connID string, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.frames[connID] = append(f.frames[connID], env)
	f.mu.Unlock()
}

// eventsOf returns all frames of one type delivered to a connection.
func (f *fakeHub) eventsOf(connID, evtType string) []protocol.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []protocol.Envelope
	for _, e := range f.frames[connID] {
		if e.Type == evtType {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeHub) lastError(connID string) (protocol.ErrorEvent, bool) {
	evts := f.eventsOf(connID, protocol.EvtError)
	if len(evts) == 0 {
		return protocol.ErrorEvent{}, false
	}
	var ee protocol.ErrorEvent
	_ = json.Unmarshal(evts[len(evts)-1].Data, &ee)
	return ee, true
}

type env struct {
	hub   *fakeHub
	reg   *registry.Registry
	dir   *directory.Directory
	coord *Coordinator
	seq   int
}

func newEnv(t *testing.T) *env {
	t.Helper()
	hub := newFakeHub()
	reg := registry.New(time.Minute)
	dir := directory.New()
	log := msglog.New(store.OpenMemory())
	typ := typing.New(time.Second, time.Second)
	rt := router.New(hub, reg, dir)
	coord := New(reg, dir, log, typ, rt, hub, 100)
	reg.OnGraceExpired(coord.BroadcastOffline)
	return &env{hub: hub, reg: reg, dir: dir, coord: coord}
}

func (e *env) cmd(t *testing.T, c *Conn, cmdType string, payload any) {
	t.Helper()
	b, err := protocol.Event(cmdType, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", cmdType, err)
	}
	e.coord.HandleCommand(c, b)
}

// connect opens a connection and announces an identity.
func (e *env) connect(t *testing.T, userID, name string) *Conn {
	t.Helper()
	e.seq++
	c := NewConn(fmt.Sprintf("conn-%d", e.seq))
	e.cmd(t, c, protocol.CmdIdentityAnnounce, protocol.Identity{UserID: userID, Name: name})
	if len(e.hub.eventsOf(c.ID, protocol.EvtSessionReady)) != 1 {
		t.Fatalf("connection %s did not become ready", c.ID)
	}
	return c
}

func TestPreIdentifyCommandsRejected(t *testing.T) {
	e := newEnv(t)
	c := NewConn("conn-raw")
	e.cmd(t, c, protocol.CmdSendMessage, protocol.SendMessage{ChatID: "x", Body: "hi"})

	ee, ok := e.hub.lastError(c.ID)
	if !ok {
		t.Fatal("expected an error event")
	}
	if ee.Code != "identity_rejected" || ee.Action != protocol.CmdSendMessage {
		t.Fatalf("unexpected error event: %+v", ee)
	}
}

func TestIdentityAnnounce(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")

	ready := e.hub.eventsOf(c1.ID, protocol.EvtSessionReady)
	var sr protocol.SessionReady
	_ = json.Unmarshal(ready[0].Data, &sr)
	if sr.UserID != "u1" || sr.ConnID != c1.ID {
		t.Fatalf("bad session_ready: %+v", sr)
	}
	if sr.StorageMode != "volatile" {
		t.Fatalf("storage mode must be surfaced, got %q", sr.StorageMode)
	}
	if len(e.hub.eventsOf(c1.ID, protocol.EvtOnlineUsers)) != 1 {
		t.Fatal("expected online_users snapshot")
	}

	// second user comes online; first one hears about it
	c2 := e.connect(t, "u2", "Sara")
	if len(e.hub.eventsOf(c1.ID, protocol.EvtUserOnline)) != 1 {
		t.Fatal("expected user_online broadcast")
	}
	if len(e.hub.eventsOf(c2.ID, protocol.EvtUserOnline)) != 0 {
		t.Fatal("joining user must not hear their own user_online")
	}

	// second device of u1 must not re-broadcast user_online
	e.connect(t, "u1", "Abel")
	if len(e.hub.eventsOf(c2.ID, protocol.EvtUserOnline)) != 0 {
		t.Fatal("second device must not announce online again")
	}
}

func TestIdentityRejectedKeepsConnectionUsable(t *testing.T) {
	e := newEnv(t)
	c := NewConn("conn-x")
	e.cmd(t, c, protocol.CmdIdentityAnnounce, protocol.Identity{Name: "   "})
	if ee, ok := e.hub.lastError(c.ID); !ok || ee.Code != "identity_rejected" {
		t.Fatalf("expected identity_rejected, got %+v", ee)
	}
	// a corrected announce succeeds on the same connection
	e.cmd(t, c, protocol.CmdIdentityAnnounce, protocol.Identity{UserID: "u1", Name: "Abel"})
	if len(e.hub.eventsOf(c.ID, protocol.EvtSessionReady)) != 1 {
		t.Fatal("retry after rejection should work")
	}
}

func TestUnknownCommand(t *testing.T) {
	e := newEnv(t)
	c := e.connect(t, "u1", "Abel")
	e.cmd(t, c, "warp_drive", struct{}{})
	if ee, ok := e.hub.lastError(c.ID); !ok || ee.Code != "invalid_spec" {
		t.Fatalf("expected invalid_spec, got %+v", ee)
	}
}

func createGroup(t *testing.T, e *env, c *Conn, members []string, patch *models.SettingsPatch) models.Group {
	t.Helper()
	e.cmd(t, c, protocol.CmdCreateGroup, protocol.CreateGroup{Name: "General", InitialMembers: members, Settings: patch})
	evts := e.hub.eventsOf(c.ID, protocol.EvtGroupCreated)
	if len(evts) == 0 {
		ee, _ := e.hub.lastError(c.ID)
		t.Fatalf("group not created: %+v", ee)
	}
	var g models.Group
	_ = json.Unmarshal(evts[len(evts)-1].Data, &g)
	return g
}

func TestCreateGroupNotifiesInitialMembers(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")

	g := createGroup(t, e, c1, []string{"u2"}, nil)
	if g.Admin != "u1" {
		t.Fatalf("creator must be admin: %+v", g)
	}
	if len(e.hub.eventsOf(c2.ID, protocol.EvtAddedToGroup)) != 1 {
		t.Fatal("initial member should be notified")
	}
}

func TestSendMessageFanout(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	c3 := e.connect(t, "u3", "Lia")
	g := createGroup(t, e, c1, []string{"u2"}, nil)

	e.cmd(t, c1, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "selam"})

	acks := e.hub.eventsOf(c1.ID, protocol.EvtMessageSent)
	if len(acks) != 1 {
		t.Fatal("sender should get a message_sent ack")
	}
	var m models.Message
	_ = json.Unmarshal(acks[0].Data, &m)
	if m.Seq != 1 || m.Body != "selam" || m.Sender != "u1" || m.SenderName != "Abel" {
		t.Fatalf("bad ack payload: %+v", m)
	}
	if len(e.hub.eventsOf(c2.ID, protocol.EvtMessageReceived)) != 1 {
		t.Fatal("member should receive the message")
	}
	if len(e.hub.eventsOf(c1.ID, protocol.EvtMessageReceived)) != 0 {
		t.Fatal("originating connection must not get message_received")
	}
	if len(e.hub.eventsOf(c3.ID, protocol.EvtMessageReceived)) != 0 {
		t.Fatal("non-member must not receive")
	}

	// non-member sends are rejected
	e.cmd(t, c3, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "intrude"})
	if ee, ok := e.hub.lastError(c3.ID); !ok || ee.Code != "permission_denied" {
		t.Fatalf("expected permission_denied, got %+v", ee)
	}
}

func TestPairConversation(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	c3 := e.connect(t, "u3", "Lia")

	e.cmd(t, c1, protocol.CmdSendMessage, protocol.SendMessage{ChatID: "dm:u1:u2", Body: "hey"})
	if len(e.hub.eventsOf(c2.ID, protocol.EvtMessageReceived)) != 1 {
		t.Fatal("peer should receive the direct message")
	}
	if len(e.hub.eventsOf(c3.ID, protocol.EvtMessageReceived)) != 0 {
		t.Fatal("third party must not receive a direct message")
	}

	// outsiders cannot write into someone else's pair conversation
	e.cmd(t, c3, protocol.CmdSendMessage, protocol.SendMessage{ChatID: "dm:u1:u2", Body: "intrude"})
	if ee, ok := e.hub.lastError(c3.ID); !ok || ee.Code != "permission_denied" {
		t.Fatalf("expected permission_denied, got %+v", ee)
	}
}

func TestSlowMode(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	on := true
	secs := 60
	g := createGroup(t, e, c1, []string{"u2"}, &models.SettingsPatch{SlowMode: &on, SlowModeSeconds: &secs})

	e.cmd(t, c2, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "one"})
	e.cmd(t, c2, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "two"})
	if len(e.hub.eventsOf(c2.ID, protocol.EvtMessageSent)) != 1 {
		t.Fatal("second message inside the interval should be rejected")
	}
	if ee, ok := e.hub.lastError(c2.ID); !ok || ee.Code != "rate_limited" {
		t.Fatalf("expected rate_limited, got %+v", ee)
	}

	// admin is exempt
	e.cmd(t, c1, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "a"})
	e.cmd(t, c1, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "b"})
	if len(e.hub.eventsOf(c1.ID, protocol.EvtMessageSent)) != 2 {
		t.Fatal("admin must not be slow-moded")
	}
}

func TestAnnouncementOnly(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	on := true
	g := createGroup(t, e, c1, []string{"u2"}, &models.SettingsPatch{AnnouncementOnly: &on})

	e.cmd(t, c2, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "hi"})
	if ee, ok := e.hub.lastError(c2.ID); !ok || ee.Code != "permission_denied" {
		t.Fatalf("expected permission_denied, got %+v", ee)
	}
	e.cmd(t, c1, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "notice", IsAnnouncement: true})
	if len(e.hub.eventsOf(c1.ID, protocol.EvtMessageSent)) != 1 {
		t.Fatal("admin should be able to post")
	}
}

func TestAnnouncementFlagRequiresAdmin(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	g := createGroup(t, e, c1, []string{"u2"}, nil)

	e.cmd(t, c2, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "fake", IsAnnouncement: true})
	if ee, ok := e.hub.lastError(c2.ID); !ok || ee.Code != "permission_denied" {
		t.Fatalf("expected permission_denied, got %+v", ee)
	}
}

func TestReactionsDisabled(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	off := false
	g := createGroup(t, e, c1, []string{"u2"}, &models.SettingsPatch{AllowReactions: &off})

	e.cmd(t, c1, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "hi"})
	var m models.Message
	_ = json.Unmarshal(e.hub.eventsOf(c1.ID, protocol.EvtMessageSent)[0].Data, &m)

	e.cmd(t, c2, protocol.CmdAddReaction, protocol.Reaction{ChatID: g.ID, MessageID: m.ID, Emoji: "👍"})
	if ee, ok := e.hub.lastError(c2.ID); !ok || ee.Code != "permission_denied" {
		t.Fatalf("expected permission_denied, got %+v", ee)
	}
}

func TestReactionFanout(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	g := createGroup(t, e, c1, []string{"u2"}, nil)

	e.cmd(t, c1, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "hi"})
	var m models.Message
	_ = json.Unmarshal(e.hub.eventsOf(c1.ID, protocol.EvtMessageSent)[0].Data, &m)

	e.cmd(t, c2, protocol.CmdAddReaction, protocol.Reaction{ChatID: g.ID, MessageID: m.ID, Emoji: "👍"})
	for _, conn := range []*Conn{c1, c2} {
		evts := e.hub.eventsOf(conn.ID, protocol.EvtReactionChanged)
		if len(evts) != 1 {
			t.Fatalf("%s should see the reaction", conn.ID)
		}
		var rc protocol.ReactionChange
		_ = json.Unmarshal(evts[0].Data, &rc)
		if rc.Count != 1 || rc.Emoji != "👍" {
			t.Fatalf("bad reaction payload: %+v", rc)
		}
	}
}

func TestEditMessagePermissions(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	g := createGroup(t, e, c1, []string{"u2"}, nil)

	e.cmd(t, c1, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "draft"})
	var m models.Message
	_ = json.Unmarshal(e.hub.eventsOf(c1.ID, protocol.EvtMessageSent)[0].Data, &m)

	e.cmd(t, c2, protocol.CmdEditMessage, protocol.EditMessage{ChatID: g.ID, MessageID: m.ID, NewBody: "hack"})
	if ee, ok := e.hub.lastError(c2.ID); !ok || ee.Code != "permission_denied" {
		t.Fatalf("expected permission_denied, got %+v", ee)
	}

	e.cmd(t, c1, protocol.CmdEditMessage, protocol.EditMessage{ChatID: g.ID, MessageID: m.ID, NewBody: "final"})
	evts := e.hub.eventsOf(c2.ID, protocol.EvtMessageEdited)
	if len(evts) != 1 {
		t.Fatal("members should see the edit")
	}
	var edited models.Message
	_ = json.Unmarshal(evts[0].Data, &edited)
	if edited.Body != "final" || !edited.IsEdited {
		t.Fatalf("bad edited payload: %+v", edited)
	}
}

func TestAdminDeleteFanout(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	g := createGroup(t, e, c1, []string{"u2"}, nil)

	e.cmd(t, c2, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "oops"})
	var m models.Message
	_ = json.Unmarshal(e.hub.eventsOf(c2.ID, protocol.EvtMessageSent)[0].Data, &m)

	e.cmd(t, c1, protocol.CmdDeleteMessage, protocol.DeleteMessage{ChatID: g.ID, MessageID: m.ID})
	evts := e.hub.eventsOf(c2.ID, protocol.EvtMessageDeleted)
	if len(evts) != 1 {
		t.Fatal("members should see the deletion")
	}
	var dn protocol.MessageDeletedNotice
	_ = json.Unmarshal(evts[0].Data, &dn)
	if dn.MessageID != m.ID || dn.DeletedBy != "u1" {
		t.Fatalf("bad deletion notice: %+v", dn)
	}
}

func TestJoinChatHistoryAndTyping(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	g := createGroup(t, e, c1, []string{"u2"}, nil)

	e.cmd(t, c1, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "one"})
	e.cmd(t, c1, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "two"})
	e.cmd(t, c1, protocol.CmdTypingStart, protocol.ChatRef{ChatID: g.ID})

	e.cmd(t, c2, protocol.CmdJoinChat, protocol.ChatRef{ChatID: g.ID})
	evts := e.hub.eventsOf(c2.ID, protocol.EvtChatHistory)
	if len(evts) != 1 {
		t.Fatal("expected chat_history")
	}
	var ch protocol.ChatHistory
	_ = json.Unmarshal(evts[0].Data, &ch)
	if len(ch.Messages) != 2 || ch.Messages[0].Seq != 1 || ch.Messages[1].Seq != 2 {
		t.Fatalf("bad history: %+v", ch.Messages)
	}
	if len(ch.Typing) != 1 || ch.Typing[0] != "u1" {
		t.Fatalf("typing snapshot missing: %v", ch.Typing)
	}
	tu := e.hub.eventsOf(c2.ID, protocol.EvtTypingUsers)
	if len(tu) != 1 {
		t.Fatal("expected typing_users snapshot on join")
	}
	var snap protocol.TypingSnapshot
	_ = json.Unmarshal(tu[0].Data, &snap)
	if len(snap.UserIDs) != 1 || snap.UserIDs[0] != "u1" {
		t.Fatalf("bad typing_users: %+v", snap)
	}
}

func TestTypingEvents(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	g := createGroup(t, e, c1, []string{"u2"}, nil)

	e.cmd(t, c1, protocol.CmdTypingStart, protocol.ChatRef{ChatID: g.ID})
	evts := e.hub.eventsOf(c2.ID, protocol.EvtTypingStarted)
	if len(evts) != 1 {
		t.Fatal("expected typing_started")
	}
	var tn protocol.TypingNotice
	_ = json.Unmarshal(evts[0].Data, &tn)
	if tn.UserID != "u1" || tn.Name != "Abel" {
		t.Fatalf("bad typing notice: %+v", tn)
	}

	e.cmd(t, c1, protocol.CmdTypingStop, protocol.ChatRef{ChatID: g.ID})
	if len(e.hub.eventsOf(c2.ID, protocol.EvtTypingStopped)) != 1 {
		t.Fatal("expected typing_stopped")
	}
	// stopping again emits nothing
	e.cmd(t, c1, protocol.CmdTypingStop, protocol.ChatRef{ChatID: g.ID})
	if len(e.hub.eventsOf(c2.ID, protocol.EvtTypingStopped)) != 1 {
		t.Fatal("duplicate stop must not re-broadcast")
	}
}

func TestSendImpliesTypingStopped(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	g := createGroup(t, e, c1, []string{"u2"}, nil)

	e.cmd(t, c1, protocol.CmdTypingStart, protocol.ChatRef{ChatID: g.ID})
	e.cmd(t, c1, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "done"})
	if len(e.hub.eventsOf(c2.ID, protocol.EvtTypingStopped)) != 1 {
		t.Fatal("sending should clear the typing indicator")
	}
}

func TestDisconnectClearsTyping(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	g := createGroup(t, e, c1, []string{"u2"}, nil)

	e.cmd(t, c1, protocol.CmdTypingStart, protocol.ChatRef{ChatID: g.ID})
	e.coord.HandleDisconnect(c1)
	if len(e.hub.eventsOf(c2.ID, protocol.EvtTypingStopped)) != 1 {
		t.Fatal("disconnect should broadcast typing_stopped")
	}
}

func TestDisconnectBroadcastsOfflinePresence(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")

	e.coord.HandleDisconnect(c2)
	evts := e.hub.eventsOf(c1.ID, protocol.EvtPresenceChanged)
	if len(evts) != 1 {
		t.Fatal("last disconnect should broadcast offline presence immediately")
	}
	var pc protocol.PresenceChange
	_ = json.Unmarshal(evts[0].Data, &pc)
	if pc.UserID != "u2" || pc.State != "offline" {
		t.Fatalf("bad offline presence payload: %+v", pc)
	}
	// the user record only goes away after the grace window
	if len(e.hub.eventsOf(c1.ID, protocol.EvtUserOffline)) != 0 {
		t.Fatal("user_offline must wait for the grace window")
	}
}

func TestDisconnectOtherDeviceStaysSilent(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2a := e.connect(t, "u2", "Sara")
	c2b := e.connect(t, "u2", "Sara")

	e.coord.HandleDisconnect(c2b)
	if len(e.hub.eventsOf(c1.ID, protocol.EvtPresenceChanged)) != 0 {
		t.Fatal("closing one of several devices must not announce offline")
	}

	e.coord.HandleDisconnect(c2a)
	if len(e.hub.eventsOf(c1.ID, protocol.EvtPresenceChanged)) != 1 {
		t.Fatal("closing the last device should announce offline")
	}
}

func TestGroupLifecycleEvents(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	c3 := e.connect(t, "u3", "Lia")
	g := createGroup(t, e, c1, nil, nil)

	e.cmd(t, c2, protocol.CmdJoinGroup, protocol.GroupRef{GroupID: g.ID})
	if len(e.hub.eventsOf(c2.ID, protocol.EvtAddedToGroup)) != 1 {
		t.Fatal("joiner should get added_to_group")
	}
	if len(e.hub.eventsOf(c1.ID, protocol.EvtUserJoinedGroup)) != 1 {
		t.Fatal("members should hear user_joined_group")
	}

	e.cmd(t, c1, protocol.CmdAddMembers, protocol.AddMembers{GroupID: g.ID, MemberIDs: []string{"u3"}})
	if len(e.hub.eventsOf(c3.ID, protocol.EvtAddedToGroup)) != 1 {
		t.Fatal("added member should get added_to_group")
	}
	if len(e.hub.eventsOf(c2.ID, protocol.EvtMembersAdded)) != 1 {
		t.Fatal("existing members should hear members_added")
	}

	e.cmd(t, c1, protocol.CmdRemoveMember, protocol.RemoveMember{GroupID: g.ID, MemberID: "u3"})
	if len(e.hub.eventsOf(c3.ID, protocol.EvtRemovedFromGroup)) != 1 {
		t.Fatal("removed member should be told")
	}
	if len(e.hub.eventsOf(c2.ID, protocol.EvtMemberRemoved)) != 1 {
		t.Fatal("remaining members should hear member_removed")
	}

	e.cmd(t, c1, protocol.CmdTransferAdmin, protocol.TransferAdmin{GroupID: g.ID, NewAdminID: "u2"})
	if len(e.hub.eventsOf(c2.ID, protocol.EvtAdminTransferred)) != 1 {
		t.Fatal("members should hear admin_transferred")
	}

	e.cmd(t, c1, protocol.CmdLeaveGroup, protocol.GroupRef{GroupID: g.ID})
	if len(e.hub.eventsOf(c1.ID, protocol.EvtRemovedFromGroup)) != 1 {
		t.Fatal("leaver should get removed_from_group")
	}
	if len(e.hub.eventsOf(c2.ID, protocol.EvtUserLeftGroup)) != 1 {
		t.Fatal("remaining members should hear user_left_group")
	}
}

func TestLastMemberLeaveBroadcastsGroupDeleted(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	g := createGroup(t, e, c1, nil, nil)

	e.cmd(t, c1, protocol.CmdLeaveGroup, protocol.GroupRef{GroupID: g.ID})
	if len(e.hub.eventsOf(c1.ID, protocol.EvtRemovedFromGroup)) != 1 {
		t.Fatal("leaver should get removed_from_group")
	}
	for _, c := range []string{c1.ID, c2.ID} {
		evts := e.hub.eventsOf(c, protocol.EvtGroupDeleted)
		if len(evts) != 1 {
			t.Fatalf("%s: expected group_deleted broadcast", c)
		}
		var ref protocol.GroupRef
		_ = json.Unmarshal(evts[0].Data, &ref)
		if ref.GroupID != g.ID {
			t.Fatalf("wrong group in deletion notice: %s", ref.GroupID)
		}
	}
}

func TestGroupInfoVisibility(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")
	e.cmd(t, c1, protocol.CmdCreateGroup, protocol.CreateGroup{Name: "Hidden", Visibility: models.VisibilityPrivate})
	var g models.Group
	_ = json.Unmarshal(e.hub.eventsOf(c1.ID, protocol.EvtGroupCreated)[0].Data, &g)

	e.cmd(t, c2, protocol.CmdGetGroupInfo, protocol.GroupRef{GroupID: g.ID})
	if ee, ok := e.hub.lastError(c2.ID); !ok || ee.Code != "not_found" {
		t.Fatalf("private group must be invisible to outsiders, got %+v", ee)
	}
	e.cmd(t, c1, protocol.CmdGetGroupInfo, protocol.GroupRef{GroupID: g.ID})
	if len(e.hub.eventsOf(c1.ID, protocol.EvtGroupInfo)) != 1 {
		t.Fatal("member should get group_info")
	}
}

func TestGetGroupMembersPresence(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	e.connect(t, "u2", "Sara")
	g := createGroup(t, e, c1, []string{"u2", "u9"}, nil)

	e.cmd(t, c1, protocol.CmdGetGroupMembers, protocol.GroupRef{GroupID: g.ID})
	evts := e.hub.eventsOf(c1.ID, protocol.EvtGroupMembers)
	if len(evts) != 1 {
		t.Fatal("expected group_members")
	}
	var gm protocol.GroupMembersList
	_ = json.Unmarshal(evts[0].Data, &gm)
	if len(gm.Members) != 3 {
		t.Fatalf("expected 3 members, got %+v", gm.Members)
	}
	byID := map[string]bool{}
	for _, m := range gm.Members {
		byID[m.ID] = m.Online
	}
	if !byID["u1"] || !byID["u2"] || byID["u9"] {
		t.Fatalf("presence flags wrong: %+v", gm.Members)
	}
}

func TestPresenceChangeBroadcast(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	c2 := e.connect(t, "u2", "Sara")

	e.cmd(t, c1, protocol.CmdSetPresence, protocol.SetPresence{State: "away"})
	evts := e.hub.eventsOf(c2.ID, protocol.EvtPresenceChanged)
	if len(evts) != 1 {
		t.Fatal("expected presence_changed broadcast")
	}
	var pc protocol.PresenceChange
	_ = json.Unmarshal(evts[0].Data, &pc)
	if pc.UserID != "u1" || pc.State != "away" {
		t.Fatalf("bad presence payload: %+v", pc)
	}

	// explicit offline is invisible mode, broadcast like any other state
	e.cmd(t, c1, protocol.CmdSetPresence, protocol.SetPresence{State: "offline"})
	evts = e.hub.eventsOf(c2.ID, protocol.EvtPresenceChanged)
	if len(evts) != 2 {
		t.Fatal("expected offline presence broadcast")
	}
	_ = json.Unmarshal(evts[1].Data, &pc)
	if pc.State != "offline" {
		t.Fatalf("bad invisible payload: %+v", pc)
	}

	e.cmd(t, c1, protocol.CmdSetPresence, protocol.SetPresence{State: "invisible"})
	if ee, ok := e.hub.lastError(c1.ID); !ok || ee.Code != "invalid_spec" {
		t.Fatalf("unknown state should be invalid_spec, got %+v", ee)
	}
}

func TestEmptyMessageRejected(t *testing.T) {
	e := newEnv(t)
	c1 := e.connect(t, "u1", "Abel")
	g := createGroup(t, e, c1, nil, nil)
	e.cmd(t, c1, protocol.CmdSendMessage, protocol.SendMessage{ChatID: g.ID, Body: "   "})
	if ee, ok := e.hub.lastError(c1.ID); !ok || ee.Code != "invalid_spec" {
		t.Fatalf("expected invalid_spec, got %+v", ee)
	}
	// attachment-only messages are allowed
	e.cmd(t, c1, protocol.CmdSendMessage, protocol.SendMessage{
		ChatID:     g.ID,
		Attachment: &models.AttachmentRef{Kind: "voice", Name: "note.ogg", DurationMs: 1200},
	})
	if len(e.hub.eventsOf(c1.ID, protocol.EvtMessageSent)) != 1 {
		t.Fatal("attachment-only message should be accepted")
	}
}
