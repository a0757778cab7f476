package directory

import (
	"errors"
	"testing"

	"ethiogram/pkg/models"
)

func TestCreateDefaults(t *testing.T) {
	d := New()
	g, err := d.Create("u1", "General", "", "", []string{"u2", "u2", "u1", "u3"}, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if g.Admin != "u1" {
		t.Fatalf("creator must be admin, got %s", g.Admin)
	}
	if len(g.Members) != 3 {
		t.Fatalf("expected deduped members, got %v", g.Members)
	}
	if g.Members[0] != "u1" {
		t.Fatalf("creator must come first, got %v", g.Members)
	}
	if g.Visibility != models.VisibilityPublic {
		t.Fatalf("default visibility should be public, got %s", g.Visibility)
	}
	s := g.Settings
	if !s.AllowInvites || !s.AllowPinned || !s.AllowReactions || s.SlowMode || s.AnnouncementOnly {
		t.Fatalf("wrong default settings: %+v", s)
	}
	if s.SlowModeSeconds != 5 {
		t.Fatalf("default slow mode interval should be 5, got %d", s.SlowModeSeconds)
	}
}

func TestCreateWithSettingsPatch(t *testing.T) {
	d := New()
	on := true
	g, err := d.Create("u1", "Announcements", "", models.VisibilityPrivate, nil, &models.SettingsPatch{AnnouncementOnly: &on})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !g.Settings.AnnouncementOnly || !g.Settings.AllowInvites {
		t.Fatalf("patch should overlay defaults: %+v", g.Settings)
	}
}

func TestCreateInvalidSpec(t *testing.T) {
	d := New()
	if _, err := d.Create("u1", "", "", "", nil, nil); !errors.Is(err, models.ErrInvalidSpec) {
		t.Fatalf("expected invalid spec, got %v", err)
	}
	if _, err := d.Create("u1", "x", "", "secret", nil, nil); !errors.Is(err, models.ErrInvalidSpec) {
		t.Fatalf("expected invalid spec for visibility, got %v", err)
	}
}

func TestJoinIdempotent(t *testing.T) {
	d := New()
	g, _ := d.Create("u1", "General", "", "", nil, nil)

	_, already, err := d.Join(g.ID, "u2")
	if err != nil || already {
		t.Fatalf("first join: already=%v err=%v", already, err)
	}
	g2, already, err := d.Join(g.ID, "u2")
	if err != nil || !already {
		t.Fatalf("rejoin should be a no-op: already=%v err=%v", already, err)
	}
	if len(g2.Members) != 2 {
		t.Fatalf("rejoin must not duplicate members: %v", g2.Members)
	}
	if _, _, err := d.Join("group-missing", "u2"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestJoinPrivateGroup(t *testing.T) {
	d := New()
	g, _ := d.Create("u1", "Secret", "", models.VisibilityPrivate, nil, nil)
	if _, _, err := d.Join(g.ID, "u2"); !errors.Is(err, models.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	// but members can be added by invite
	if _, _, err := d.AddMembers(g.ID, "u1", []string{"u2"}); err != nil {
		t.Fatalf("add member: %v", err)
	}
}

func TestAdminCannotLeaveNonEmptyGroup(t *testing.T) {
	d := New()
	g, _ := d.Create("u1", "General", "", "", []string{"u2"}, nil)
	if _, _, err := d.Leave(g.ID, "u1"); !errors.Is(err, models.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	// transfer then leave works
	if _, err := d.TransferAdmin(g.ID, "u1", "u2"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if _, deleted, err := d.Leave(g.ID, "u1"); err != nil || deleted {
		t.Fatalf("leave after transfer: deleted=%v err=%v", deleted, err)
	}
}

func TestLastMemberLeavingDeletesGroup(t *testing.T) {
	d := New()
	g, _ := d.Create("u1", "Solo", "", "", nil, nil)
	_, deleted, err := d.Leave(g.ID, "u1")
	if err != nil || !deleted {
		t.Fatalf("expected group deletion: deleted=%v err=%v", deleted, err)
	}
	if _, err := d.Get(g.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("group should be gone, got %v", err)
	}
	if got := d.GroupsOf("u1"); len(got) != 0 {
		t.Fatalf("membership index should be clean, got %v", got)
	}
}

func TestAddMembersAdminOnly(t *testing.T) {
	d := New()
	g, _ := d.Create("u1", "General", "", "", []string{"u2"}, nil)

	// allow-invites defaults to true but grants no add rights
	if !g.Settings.AllowInvites {
		t.Fatal("expected allow-invites default on")
	}
	if _, _, err := d.AddMembers(g.ID, "u2", []string{"u3"}); !errors.Is(err, models.ErrPermissionDenied) {
		t.Fatalf("non-admin member add should fail, got %v", err)
	}
	if _, _, err := d.AddMembers(g.ID, "stranger", []string{"u4"}); !errors.Is(err, models.ErrPermissionDenied) {
		t.Fatalf("non-member add should fail, got %v", err)
	}
	got, _ := d.Get(g.ID)
	if len(got.Members) != 2 {
		t.Fatalf("denied adds must leave the group unchanged: %v", got.Members)
	}

	g2, added, err := d.AddMembers(g.ID, "u1", []string{"u3", "u2"})
	if err != nil {
		t.Fatalf("admin add: %v", err)
	}
	if len(added) != 1 || added[0] != "u3" {
		t.Fatalf("existing members must be skipped: %v", added)
	}
	if len(g2.Members) != 3 {
		t.Fatalf("expected 3 members, got %v", g2.Members)
	}
}

func TestRemoveMember(t *testing.T) {
	d := New()
	g, _ := d.Create("u1", "General", "", "", []string{"u2"}, nil)

	if _, err := d.RemoveMember(g.ID, "u2", "u1"); !errors.Is(err, models.ErrPermissionDenied) {
		t.Fatalf("non-admin remove should fail, got %v", err)
	}
	if _, err := d.RemoveMember(g.ID, "u1", "u1"); !errors.Is(err, models.ErrInvalidTarget) {
		t.Fatalf("admin self-removal should fail, got %v", err)
	}
	if _, err := d.RemoveMember(g.ID, "u1", "ghost"); !errors.Is(err, models.ErrInvalidTarget) {
		t.Fatalf("removing a non-member should fail, got %v", err)
	}
	g2, err := d.RemoveMember(g.ID, "u1", "u2")
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(g2.Members) != 1 {
		t.Fatalf("expected 1 member, got %v", g2.Members)
	}
	if got := d.GroupsOf("u2"); len(got) != 0 {
		t.Fatalf("removed member keeps index entry: %v", got)
	}
}

func TestTransferAdminValidation(t *testing.T) {
	d := New()
	g, _ := d.Create("u1", "General", "", "", []string{"u2"}, nil)

	if _, err := d.TransferAdmin(g.ID, "u2", "u2"); !errors.Is(err, models.ErrPermissionDenied) {
		t.Fatalf("non-admin transfer should fail, got %v", err)
	}
	if _, err := d.TransferAdmin(g.ID, "u1", "ghost"); !errors.Is(err, models.ErrInvalidTarget) {
		t.Fatalf("transfer to non-member should fail, got %v", err)
	}
	g2, err := d.TransferAdmin(g.ID, "u1", "u2")
	if err != nil || g2.Admin != "u2" {
		t.Fatalf("transfer: admin=%s err=%v", g2.Admin, err)
	}
}

func TestUpdateSettings(t *testing.T) {
	d := New()
	g, _ := d.Create("u1", "General", "", "", []string{"u2"}, nil)

	on := true
	secs := 30
	g2, err := d.UpdateSettings(g.ID, "u1", models.SettingsPatch{SlowMode: &on, SlowModeSeconds: &secs})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !g2.Settings.SlowMode || g2.Settings.SlowModeSeconds != 30 {
		t.Fatalf("patch not applied: %+v", g2.Settings)
	}
	if !g2.Settings.AllowInvites {
		t.Fatal("untouched settings must survive a patch")
	}

	bad := 0
	if _, err := d.UpdateSettings(g.ID, "u1", models.SettingsPatch{SlowModeSeconds: &bad}); !errors.Is(err, models.ErrInvalidSpec) {
		t.Fatalf("zero interval should be invalid, got %v", err)
	}
	if _, err := d.UpdateSettings(g.ID, "u2", models.SettingsPatch{SlowMode: &on}); !errors.Is(err, models.ErrPermissionDenied) {
		t.Fatalf("non-admin update should fail, got %v", err)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	d := New()
	g, _ := d.Create("u1", "General", "", "", nil, nil)
	cp, _ := d.Get(g.ID)
	cp.Members[0] = "tampered"
	fresh, _ := d.Get(g.ID)
	if fresh.Members[0] != "u1" {
		t.Fatal("Get must return an isolated copy")
	}
}
