package directory

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"ethiogram/pkg/logger"
	"ethiogram/pkg/models"
	"ethiogram/pkg/utils"
	"ethiogram/pkg/validation"
)

// Directory is the in-memory group catalogue: groups, their membership and
// their policy settings. A second index keyed by user keeps membership
// lookups constant for routing.
type Directory struct {
	mu     sync.RWMutex
	groups map[string]*models.Group
	byUser map[string]map[string]struct{} // userID -> groupIDs
}

// New returns an empty directory.
func New() *Directory {
	return &Directory{
		groups: map[string]*models.Group{},
		byUser: map[string]map[string]struct{}{},
	}
}

func (d *Directory) index(userID, groupID string) {
	if d.byUser[userID] == nil {
		d.byUser[userID] = map[string]struct{}{}
	}
	d.byUser[userID][groupID] = struct{}{}
}

func (d *Directory) unindex(userID, groupID string) {
	if set := d.byUser[userID]; set != nil {
		delete(set, groupID)
		if len(set) == 0 {
			delete(d.byUser, userID)
		}
	}
}

// Create registers a new group with creator as admin. Initial members are
// deduplicated in insertion order; the creator always comes first. A
// settings patch, when present, is applied over the defaults.
func (d *Directory) Create(creator, name, description, visibility string, initialMembers []string, patch *models.SettingsPatch) (models.Group, error) {
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	if err := validation.ValidateGroupSpec(name, visibility); err != nil {
		return models.Group{}, err
	}

	settings := models.DefaultGroupSettings()
	if patch != nil {
		patch.Apply(&settings)
	}

	members := []string{creator}
	seen := map[string]struct{}{creator: {}}
	for _, m := range initialMembers {
		if m == "" {
			continue
		}
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		members = append(members, m)
	}

	g := &models.Group{
		ID:          utils.GenGroupID(),
		Name:        name,
		Description: description,
		Visibility:  visibility,
		Admin:       creator,
		Members:     members,
		Settings:    settings,
		CreatedTS:   time.Now().UnixMilli(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[g.ID] = g
	for _, m := range members {
		d.index(m, g.ID)
	}
	logger.Info("group_created", "group", g.ID, "admin", creator, "members", len(members))
	return cloneGroup(g), nil
}

// Join adds a user to a group. Joining a group the user is already in is a
// no-op reported via alreadyMember.
func (d *Directory) Join(groupID, userID string) (models.Group, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[groupID]
	if !ok {
		return models.Group{}, false, fmt.Errorf("%w: group %s", models.ErrNotFound, groupID)
	}
	if contains(g.Members, userID) {
		return cloneGroup(g), true, nil
	}
	if g.Visibility == models.VisibilityPrivate {
		return models.Group{}, false, fmt.Errorf("%w: group is private", models.ErrPermissionDenied)
	}
	g.Members = append(g.Members, userID)
	d.index(userID, groupID)
	return cloneGroup(g), false, nil
}

// Leave removes a user from a group. The last member leaving deletes the
// group. An admin leaving a group that still has other members is rejected:
// admin must be transferred first so the group is never left headless.
func (d *Directory) Leave(groupID, userID string) (models.Group, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[groupID]
	if !ok {
		return models.Group{}, false, fmt.Errorf("%w: group %s", models.ErrNotFound, groupID)
	}
	if !contains(g.Members, userID) {
		return models.Group{}, false, fmt.Errorf("%w: not a member", models.ErrNotFound)
	}
	if g.Admin == userID && len(g.Members) > 1 {
		return models.Group{}, false, fmt.Errorf("%w: transfer admin before leaving", models.ErrPermissionDenied)
	}
	g.Members = remove(g.Members, userID)
	d.unindex(userID, groupID)
	if len(g.Members) == 0 {
		delete(d.groups, groupID)
		logger.Info("group_deleted", "group", groupID)
		return cloneGroup(g), true, nil
	}
	return cloneGroup(g), false, nil
}

// AddMembers is admin-only regardless of the allow-invites setting; that
// flag is carried for clients but grants no add rights here. Existing
// members are skipped; the returned slice holds only the ids actually added.
func (d *Directory) AddMembers(groupID, requester string, memberIDs []string) (models.Group, []string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[groupID]
	if !ok {
		return models.Group{}, nil, fmt.Errorf("%w: group %s", models.ErrNotFound, groupID)
	}
	if requester != g.Admin {
		return models.Group{}, nil, fmt.Errorf("%w: admin only", models.ErrPermissionDenied)
	}
	var added []string
	for _, m := range memberIDs {
		if m == "" || contains(g.Members, m) {
			continue
		}
		g.Members = append(g.Members, m)
		d.index(m, groupID)
		added = append(added, m)
	}
	return cloneGroup(g), added, nil
}

// RemoveMember is admin-only. The admin cannot remove themselves; that is
// what Leave and TransferAdmin are for.
func (d *Directory) RemoveMember(groupID, requester, memberID string) (models.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[groupID]
	if !ok {
		return models.Group{}, fmt.Errorf("%w: group %s", models.ErrNotFound, groupID)
	}
	if requester != g.Admin {
		return models.Group{}, fmt.Errorf("%w: admin only", models.ErrPermissionDenied)
	}
	if memberID == requester {
		return models.Group{}, fmt.Errorf("%w: admin cannot remove themselves", models.ErrInvalidTarget)
	}
	if !contains(g.Members, memberID) {
		return models.Group{}, fmt.Errorf("%w: user %s is not a member", models.ErrInvalidTarget, memberID)
	}
	g.Members = remove(g.Members, memberID)
	d.unindex(memberID, groupID)
	return cloneGroup(g), nil
}

// TransferAdmin hands the admin role to another current member.
func (d *Directory) TransferAdmin(groupID, requester, newAdminID string) (models.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[groupID]
	if !ok {
		return models.Group{}, fmt.Errorf("%w: group %s", models.ErrNotFound, groupID)
	}
	if requester != g.Admin {
		return models.Group{}, fmt.Errorf("%w: admin only", models.ErrPermissionDenied)
	}
	if !contains(g.Members, newAdminID) {
		return models.Group{}, fmt.Errorf("%w: user %s is not a member", models.ErrInvalidTarget, newAdminID)
	}
	g.Admin = newAdminID
	logger.Info("admin_transferred", "group", groupID, "from", requester, "to", newAdminID)
	return cloneGroup(g), nil
}

// UpdateSettings applies a partial settings patch, admin-only.
func (d *Directory) UpdateSettings(groupID, requester string, patch models.SettingsPatch) (models.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[groupID]
	if !ok {
		return models.Group{}, fmt.Errorf("%w: group %s", models.ErrNotFound, groupID)
	}
	if requester != g.Admin {
		return models.Group{}, fmt.Errorf("%w: admin only", models.ErrPermissionDenied)
	}
	if patch.SlowModeSeconds != nil && *patch.SlowModeSeconds <= 0 {
		return models.Group{}, fmt.Errorf("%w: slow mode interval must be positive", models.ErrInvalidSpec)
	}
	patch.Apply(&g.Settings)
	return cloneGroup(g), nil
}

// Get returns a copy of the group.
func (d *Directory) Get(groupID string) (models.Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	if !ok {
		return models.Group{}, fmt.Errorf("%w: group %s", models.ErrNotFound, groupID)
	}
	return cloneGroup(g), nil
}

// IsMember reports membership without copying the group.
func (d *Directory) IsMember(groupID, userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	return ok && contains(g.Members, userID)
}

// IsAdmin reports whether userID administers the group.
func (d *Directory) IsAdmin(groupID, userID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	return ok && g.Admin == userID
}

// MembersOf returns the member ids of a group, in insertion order.
func (d *Directory) MembersOf(groupID string) ([]string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[groupID]
	if !ok {
		return nil, false
	}
	return append([]string(nil), g.Members...), true
}

// GroupsOf returns the ids of every group the user belongs to, sorted.
func (d *Directory) GroupsOf(userID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set := d.byUser[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// List returns summaries of all groups, sorted by creation time then id.
func (d *Directory) List() []models.GroupSummary {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.GroupSummary, 0, len(d.groups))
	for _, g := range d.groups {
		out = append(out, models.GroupSummary{
			ID:          g.ID,
			Name:        g.Name,
			Description: g.Description,
			Visibility:  g.Visibility,
			Admin:       g.Admin,
			MemberCount: len(g.Members),
			CreatedTS:   g.CreatedTS,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedTS != out[j].CreatedTS {
			return out[i].CreatedTS < out[j].CreatedTS
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Count returns the number of groups.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.groups)
}

func cloneGroup(g *models.Group) models.Group {
	cp := *g
	cp.Members = append([]string(nil), g.Members...)
	return cp
}

func contains(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func remove(s []string, v string) []string {
	out := s[:0]
	for _, x := range s {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}
