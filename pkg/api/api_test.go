package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"ethiogram/pkg/directory"
	"ethiogram/pkg/models"
	"ethiogram/pkg/msglog"
	"ethiogram/pkg/registry"
	"ethiogram/pkg/store"
)

type env struct {
	reg *registry.Registry
	dir *directory.Directory
	log *msglog.Log
	srv *httptest.Server
}

func newEnv(t *testing.T) *env {
	t.Helper()
	reg := registry.New(time.Minute)
	dir := directory.New()
	log := msglog.New(store.OpenMemory())
	r := mux.NewRouter()
	New(reg, dir, log, 50).Register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &env{reg: reg, dir: dir, log: log, srv: srv}
}

func (e *env) get(t *testing.T, path string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: status %d, want %d", path, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: decode: %v", path, err)
		}
	}
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	if _, err := e.reg.Register("conn-1", "u1", "Abel", ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := e.dir.Create("u1", "General", "", "", nil, nil); err != nil {
		t.Fatalf("create group: %v", err)
	}

	var body map[string]any
	e.get(t, "/healthz", http.StatusOK, &body)
	if body["status"] != "ok" {
		t.Fatalf("status: %v", body["status"])
	}
	if body["storage_mode"] != "volatile" {
		t.Fatalf("storage_mode: %v", body["storage_mode"])
	}
	if body["connections"].(float64) != 1 || body["users_online"].(float64) != 1 {
		t.Fatalf("counts: %v / %v", body["connections"], body["users_online"])
	}
	if body["groups"].(float64) != 1 {
		t.Fatalf("groups: %v", body["groups"])
	}
}

func TestReadyz(t *testing.T) {
	e := newEnv(t)
	e.get(t, "/readyz", http.StatusOK, nil)
}

func TestOnlineUsers(t *testing.T) {
	e := newEnv(t)
	e.reg.Register("conn-1", "u1", "Abel", "")
	e.reg.Register("conn-2", "u2", "Sara", "")

	var users []models.UserSummary
	e.get(t, "/v1/users/online", http.StatusOK, &users)
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	if users[0].ID != "u1" || users[1].ID != "u2" {
		t.Fatalf("unexpected order: %s %s", users[0].ID, users[1].ID)
	}
}

func TestUserGroups(t *testing.T) {
	e := newEnv(t)
	g, _ := e.dir.Create("u1", "General", "all hands", "", []string{"u2"}, nil)
	e.dir.Create("u2", "Side", "", "", nil, nil)

	var out []models.GroupSummary
	e.get(t, "/v1/users/u1/groups", http.StatusOK, &out)
	if len(out) != 1 {
		t.Fatalf("expected 1 group, got %d", len(out))
	}
	if out[0].ID != g.ID || out[0].MemberCount != 2 || out[0].Admin != "u1" {
		t.Fatalf("summary: %+v", out[0])
	}
}

func TestGroupRoutes(t *testing.T) {
	e := newEnv(t)
	e.reg.Register("conn-1", "u1", "Abel", "")
	g, _ := e.dir.Create("u1", "General", "", "", []string{"u2"}, nil)

	var got models.Group
	e.get(t, "/v1/groups/"+g.ID, http.StatusOK, &got)
	if got.ID != g.ID || got.Admin != "u1" {
		t.Fatalf("group: %+v", got)
	}

	var members []models.MemberSummary
	e.get(t, "/v1/groups/"+g.ID+"/members", http.StatusOK, &members)
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}
	for _, m := range members {
		switch m.ID {
		case "u1":
			if !m.IsAdmin || !m.Online || m.Name != "Abel" {
				t.Fatalf("admin summary: %+v", m)
			}
		case "u2":
			if m.IsAdmin || m.Online {
				t.Fatalf("offline member summary: %+v", m)
			}
		default:
			t.Fatalf("unexpected member %s", m.ID)
		}
	}

	e.get(t, "/v1/groups/nope", http.StatusNotFound, nil)
}

func TestMessagesRoute(t *testing.T) {
	e := newEnv(t)
	for i := 0; i < 10; i++ {
		if _, err := e.log.Append("room", "u1", "Abel", "hello", nil, false); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var out struct {
		Conversation string           `json:"conversation"`
		Messages     []models.Message `json:"messages"`
	}
	e.get(t, "/v1/conversations/room/messages?limit=3", http.StatusOK, &out)
	if out.Conversation != "room" {
		t.Fatalf("conversation: %s", out.Conversation)
	}
	if len(out.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out.Messages))
	}
	// most recent page, ascending
	if out.Messages[0].Seq != 8 || out.Messages[2].Seq != 10 {
		t.Fatalf("window: %d..%d", out.Messages[0].Seq, out.Messages[2].Seq)
	}

	e.get(t, "/v1/conversations/room/messages?limit=bogus", http.StatusBadRequest, nil)
}
