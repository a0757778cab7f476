package protocol

import (
	"encoding/json"

	"ethiogram/pkg/models"
)

// Envelope is the single frame shape on the wire, both directions. Type
// selects a command or event name; Data carries the payload.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Commands a client may send.
const (
	CmdIdentityAnnounce    = "identity_announce"
	CmdSetPresence         = "set_presence"
	CmdUpdateProfile       = "update_profile"
	CmdCreateGroup         = "create_group"
	CmdJoinGroup           = "join_group"
	CmdLeaveGroup          = "leave_group"
	CmdAddMembers          = "add_members"
	CmdRemoveMember        = "remove_member"
	CmdTransferAdmin       = "transfer_admin"
	CmdUpdateGroupSettings = "update_group_settings"
	CmdJoinChat            = "join_chat"
	CmdLeaveChat           = "leave_chat"
	CmdSendMessage         = "send_message"
	CmdEditMessage         = "edit_message"
	CmdDeleteMessage       = "delete_message"
	CmdAddReaction         = "add_reaction"
	CmdRemoveReaction      = "remove_reaction"
	CmdTypingStart         = "typing_start"
	CmdTypingStop          = "typing_stop"
	CmdGetGroupMembers     = "get_group_members"
	CmdGetGroupInfo        = "get_group_info"
)

// Events the server emits.
const (
	EvtSessionReady     = "session_ready"
	EvtUserOnline       = "user_online"
	EvtUserOffline      = "user_offline"
	EvtPresenceChanged  = "presence_changed"
	EvtOnlineUsers      = "online_users"
	EvtProfileUpdated   = "profile_updated"
	EvtGroupCreated     = "group_created"
	EvtAddedToGroup     = "added_to_group"
	EvtRemovedFromGroup = "removed_from_group"
	EvtUserJoinedGroup  = "user_joined_group"
	EvtUserLeftGroup    = "user_left_group"
	EvtMembersAdded     = "members_added"
	EvtMemberRemoved    = "member_removed"
	EvtAdminTransferred = "admin_transferred"
	EvtSettingsUpdated  = "group_settings_updated"
	EvtGroupDeleted     = "group_deleted"
	EvtChatHistory      = "chat_history"
	EvtTypingUsers      = "typing_users"
	EvtMessageReceived  = "message_received"
	EvtMessageSent      = "message_sent"
	EvtMessageEdited    = "message_edited"
	EvtMessageDeleted   = "message_deleted"
	EvtReactionChanged  = "reaction_changed"
	EvtTypingStarted    = "typing_started"
	EvtTypingStopped    = "typing_stopped"
	EvtGroupMembers     = "group_members"
	EvtGroupInfo        = "group_info"
	EvtError            = "error"
)

// Command payloads.

type Identity struct {
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

type SetPresence struct {
	State string `json:"state"`
}

type UpdateProfile struct {
	Name   string `json:"name,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

type CreateGroup struct {
	Name           string                `json:"name"`
	Description    string                `json:"description,omitempty"`
	Visibility     string                `json:"visibility,omitempty"`
	InitialMembers []string              `json:"initialMembers,omitempty"`
	Settings       *models.SettingsPatch `json:"settings,omitempty"`
}

type GroupRef struct {
	GroupID string `json:"groupId"`
}

type AddMembers struct {
	GroupID   string   `json:"groupId"`
	MemberIDs []string `json:"memberIds"`
}

type RemoveMember struct {
	GroupID  string `json:"groupId"`
	MemberID string `json:"memberId"`
}

type TransferAdmin struct {
	GroupID    string `json:"groupId"`
	NewAdminID string `json:"newAdminId"`
}

type UpdateSettings struct {
	GroupID  string               `json:"groupId"`
	Settings models.SettingsPatch `json:"settings"`
}

type ChatRef struct {
	ChatID string `json:"chatId"`
}

type SendMessage struct {
	ChatID         string                `json:"chatId"`
	Body           string                `json:"body"`
	IsAnnouncement bool                  `json:"isAnnouncement,omitempty"`
	Attachment     *models.AttachmentRef `json:"attachment,omitempty"`
}

type EditMessage struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	NewBody   string `json:"newBody"`
}

type DeleteMessage struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

type Reaction struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// Event payloads that are not plain model types.

type SessionReady struct {
	ConnID      string `json:"connId"`
	UserID      string `json:"userId"`
	StorageMode string `json:"storageMode"`
}

type PresenceChange struct {
	UserID string `json:"userId"`
	State  string `json:"state"`
}

type ChatHistory struct {
	ChatID   string           `json:"chatId"`
	Messages []models.Message `json:"messages"`
	Typing   []string         `json:"typing,omitempty"`
}

type TypingNotice struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
	Name   string `json:"name,omitempty"`
}

type TypingSnapshot struct {
	ChatID  string   `json:"chatId"`
	UserIDs []string `json:"userIds"`
}

type ReactionChange struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	Count     int    `json:"count"`
}

type MessageDeletedNotice struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
	DeletedBy string `json:"deletedBy"`
}

type GroupMembership struct {
	GroupID string `json:"groupId"`
	UserID  string `json:"userId"`
	Name    string `json:"name,omitempty"`
}

type AdminChange struct {
	GroupID    string `json:"groupId"`
	OldAdminID string `json:"oldAdminId"`
	NewAdminID string `json:"newAdminId"`
}

type SettingsUpdated struct {
	GroupID   string               `json:"groupId"`
	Settings  models.GroupSettings `json:"settings"`
	UpdatedBy string               `json:"updatedBy"`
}

type GroupMembersList struct {
	GroupID string                 `json:"groupId"`
	Members []models.MemberSummary `json:"members"`
}

// ErrorEvent reports a rejected command. Action names the command that
// failed; Code is a stable machine-readable reason.
type ErrorEvent struct {
	Code   string `json:"code"`
	Action string `json:"action,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Event marshals a typed payload into a wire frame.
func Event(t string, v any) ([]byte, error) {
	var data json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Envelope{Type: t, Data: data})
}

// MustEvent is Event for payloads known to marshal; it panics otherwise.
func MustEvent(t string, v any) []byte {
	b, err := Event(t, v)
	if err != nil {
		panic(err)
	}
	return b
}
