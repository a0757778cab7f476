package router

import (
	"ethiogram/pkg/directory"
	"ethiogram/pkg/registry"
	"ethiogram/pkg/utils"
)

// Sender delivers an encoded frame to a single connection. Delivery is
// best-effort; a saturated or closing connection drops the frame rather
// than stalling the sender.
type Sender interface {
	Send(connID string, data []byte)
}

// Router fans events out to conversation audiences. It resolves a
// conversation id to its member set (group roster or pair participants),
// then each member to their live connections, so multi-device users get
// every event on every device.
type Router struct {
	hub Sender
	reg *registry.Registry
	dir *directory.Directory
}

// New wires a router over the hub, registry and directory.
func New(hub Sender, reg *registry.Registry, dir *directory.Directory) *Router {
	return &Router{hub: hub, reg: reg, dir: dir}
}

// audience resolves a conversation id to user ids.
func (r *Router) audience(convID string) []string {
	if a, b, ok := utils.IsPairConversation(convID); ok {
		return []string{a, b}
	}
	members, ok := r.dir.MembersOf(convID)
	if !ok {
		return nil
	}
	return members
}

// ToConversation sends to every connection of every participant, skipping
// excludeConn (usually the originator, who already got a direct ack).
func (r *Router) ToConversation(convID string, data []byte, excludeConn string) {
	for _, userID := range r.audience(convID) {
		for _, connID := range r.reg.ConnsOf(userID) {
			if connID == excludeConn {
				continue
			}
			r.hub.Send(connID, data)
		}
	}
}

// ToUsers sends to every connection of the listed users.
func (r *Router) ToUsers(userIDs []string, data []byte) {
	for _, userID := range userIDs {
		for _, connID := range r.reg.ConnsOf(userID) {
			r.hub.Send(connID, data)
		}
	}
}

// ToUser sends to every connection of one user.
func (r *Router) ToUser(userID string, data []byte) {
	r.ToUsers([]string{userID}, data)
}

// ToAll broadcasts to every identified connection except excludeConn.
func (r *Router) ToAll(data []byte, excludeConn string) {
	for _, u := range r.reg.ListOnline() {
		for _, connID := range r.reg.ConnsOf(u.ID) {
			if connID == excludeConn {
				continue
			}
			r.hub.Send(connID, data)
		}
	}
}
