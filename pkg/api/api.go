package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"ethiogram/pkg/directory"
	"ethiogram/pkg/models"
	"ethiogram/pkg/msglog"
	"ethiogram/pkg/registry"
	"ethiogram/pkg/utils"
)

// API is the read-only HTTP surface next to the realtime endpoint. It
// serves presence, directory and history snapshots for dashboards and
// tooling; all mutation goes through the websocket protocol.
type API struct {
	reg      *registry.Registry
	dir      *directory.Directory
	log      *msglog.Log
	pageSize int
	started  time.Time
}

// New builds the read surface.
func New(reg *registry.Registry, dir *directory.Directory, log *msglog.Log, pageSize int) *API {
	return &API{reg: reg, dir: dir, log: log, pageSize: pageSize, started: time.Now()}
}

// Register mounts all read routes on r.
func (a *API) Register(r *mux.Router) {
	r.HandleFunc("/healthz", a.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", a.handleReadyz).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/online", a.handleOnlineUsers).Methods(http.MethodGet)
	r.HandleFunc("/v1/users/{id}/groups", a.handleUserGroups).Methods(http.MethodGet)
	r.HandleFunc("/v1/groups", a.handleGroups).Methods(http.MethodGet)
	r.HandleFunc("/v1/groups/{id}", a.handleGroup).Methods(http.MethodGet)
	r.HandleFunc("/v1/groups/{id}/members", a.handleGroupMembers).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{id}/messages", a.handleMessages).Methods(http.MethodGet)
}

func (a *API) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	conns, users := a.reg.Counts()
	utils.JSONWrite(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"storage_mode":   string(a.log.Mode()),
		"connections":    conns,
		"users_online":   users,
		"groups":         a.dir.Count(),
		"uptime_seconds": int64(time.Since(a.started).Seconds()),
	})
}

func (a *API) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if !a.log.Ready() {
		utils.JSONError(w, http.StatusServiceUnavailable, "storage not ready")
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (a *API) handleOnlineUsers(w http.ResponseWriter, _ *http.Request) {
	utils.JSONWrite(w, http.StatusOK, a.reg.ListOnline())
}

func (a *API) handleUserGroups(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]
	ids := a.dir.GroupsOf(userID)
	out := make([]models.GroupSummary, 0, len(ids))
	for _, id := range ids {
		g, err := a.dir.Get(id)
		if err != nil {
			continue
		}
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
	utils.JSONWrite(w, http.StatusOK, out)
}

func (a *API) handleGroups(w http.ResponseWriter, _ *http.Request) {
	utils.JSONWrite(w, http.StatusOK, a.dir.List())
}

func (a *API) handleGroup(w http.ResponseWriter, r *http.Request) {
	g, err := a.dir.Get(mux.Vars(r)["id"])
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "group not found")
		return
	}
	utils.JSONWrite(w, http.StatusOK, g)
}

func (a *API) handleGroupMembers(w http.ResponseWriter, r *http.Request) {
	g, err := a.dir.Get(mux.Vars(r)["id"])
	if err != nil {
		utils.JSONError(w, http.StatusNotFound, "group not found")
		return
	}
	out := make([]models.MemberSummary, 0, len(g.Members))
	for _, id := range g.Members {
		ms := models.MemberSummary{ID: id, IsAdmin: id == g.Admin}
		if u, ok := a.reg.Get(id); ok {
			ms.Name = u.Name
			ms.Avatar = u.Avatar
			ms.Online = a.reg.IsOnline(id)
		}
		out = append(out, ms)
	}
	utils.JSONWrite(w, http.StatusOK, out)
}

func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) {
	convID := mux.Vars(r)["id"]
	limit := a.pageSize
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			utils.JSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > 0 && n < limit {
			limit = n
		}
	}
	msgs, err := a.log.History(convID, limit)
	if err != nil {
		if errors.Is(err, models.ErrServiceUnavailable) {
			utils.JSONError(w, http.StatusServiceUnavailable, "storage unavailable")
			return
		}
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.JSONWrite(w, http.StatusOK, map[string]any{
		"conversation": convID,
		"messages":     msgs,
	})
}
