package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/joho/godotenv"

	"ethiogram/internal/retention"
	"ethiogram/pkg/api"
	"ethiogram/pkg/banner"
	"ethiogram/pkg/config"
	"ethiogram/pkg/directory"
	"ethiogram/pkg/logger"
	"ethiogram/pkg/msglog"
	"ethiogram/pkg/registry"
	"ethiogram/pkg/router"
	"ethiogram/pkg/session"
	"ethiogram/pkg/state"
	"ethiogram/pkg/store"
	"ethiogram/pkg/typing"
	"ethiogram/pkg/validation"
	"ethiogram/pkg/ws"
)

// App wires every component and owns the server lifecycle.
type App struct {
	eff       config.Effective
	version   string
	commit    string
	buildDate string

	backend store.Backend
	reg     *registry.Registry
	dir     *directory.Directory
	log     *msglog.Log
	typ     *typing.Tracker
	hub     *ws.Hub
	coord   *session.Coordinator
	ret     *retention.Runner

	srv *http.Server
}

// New builds the component graph without starting anything. The storage
// backend is chosen once here, from config, and injected everywhere.
func New(eff config.Effective, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	cfg := eff.Config
	validation.SetRules(validation.Rules{MaxBodyBytes: int(cfg.Limits.MaxBodyBytes.Int64())})

	var backend store.Backend
	switch cfg.Storage.Backend {
	case "memory":
		backend = store.OpenMemory()
	default:
		if err := state.EnsureStateDirs(eff.DBPath); err != nil {
			return nil, fmt.Errorf("state dirs: %w", err)
		}
		pb, err := store.OpenPebble(state.StorePath(eff.DBPath))
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
		}
		backend = pb
	}

	a := &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		backend:   backend,
		reg:       registry.New(cfg.Presence.GraceWindow.Std()),
		dir:       directory.New(),
		log:       msglog.New(backend),
		typ:       typing.New(cfg.Typing.TTL.Std(), cfg.Typing.SweepInterval.Std()),
		hub:       ws.NewHub(),
	}
	rt := router.New(a.hub, a.reg, a.dir)
	a.coord = session.New(a.reg, a.dir, a.log, a.typ, rt, a.hub, cfg.History.PageSize)
	a.reg.OnGraceExpired(a.coord.BroadcastOffline)
	a.ret = retention.New(backend, cfg.Retention)
	return a, nil
}

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "" && a.commit != "none" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "" && a.buildDate != "unknown" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}

// Run starts the background workers and the HTTP server, blocking until
// ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	go a.typ.Run(ctx, a.coord.BroadcastTypingExpired)

	stopRetention, err := a.ret.Start(ctx)
	if err != nil {
		return err
	}
	defer stopRetention()

	a.printBanner()

	errCh := a.startHTTP()

	select {
	case <-ctx.Done():
		a.shutdownHTTP()
		if err := a.backend.Close(); err != nil {
			logger.Error("backend_close_failed", "error", err)
		}
		return nil
	case err := <-errCh:
		_ = a.backend.Close()
		return err
	}
}

// ReadAPI exposes the read surface for tests.
func (a *App) ReadAPI() *api.API {
	return api.New(a.reg, a.dir, a.log, a.eff.Config.History.PageSize)
}
