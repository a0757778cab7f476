package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ethiogram/pkg/api"
	"ethiogram/pkg/logger"
	"ethiogram/pkg/security"
	"ethiogram/pkg/telemetry"
	"ethiogram/pkg/ws"
)

// startHTTP builds the handler tree, starts the HTTP server in a goroutine
// and returns a channel carrying any server error.
func (a *App) startHTTP() <-chan error {
	cfg := a.eff.Config

	r := mux.NewRouter()

	// realtime endpoint is mounted outside the middleware chain: the
	// upgrader needs the raw ResponseWriter, and the transport carries its
	// own per-connection limiter.
	origins := append([]string{}, cfg.Security.CORS.AllowedOrigins...)
	wsrv := ws.NewServer(a.hub, a.coord, ws.Options{
		MaxFrameBytes: cfg.Limits.MaxBodyBytes.Int64(),
		RPS:           cfg.Limits.WSRPS,
		Burst:         cfg.Limits.WSBurst,
		CheckOrigin: func(req *http.Request) bool {
			return security.OriginAllowed(req.Header.Get("Origin"), origins)
		},
	})
	r.Handle("/v1/ws", wsrv)
	r.Handle("/metrics", promhttp.Handler())

	rest := r.NewRoute().Subrouter()
	api.New(a.reg, a.dir, a.log, cfg.History.PageSize).Register(rest)
	rest.Use(mux.MiddlewareFunc(telemetry.Middleware))
	rest.Use(mux.MiddlewareFunc(security.Middleware(security.SecConfig{
		AllowedOrigins: origins,
		RPS:            cfg.Limits.WSRPS,
		Burst:          cfg.Limits.WSBurst,
	})))

	a.srv = &http.Server{Addr: a.eff.Addr, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		cert := cfg.Server.TLS.CertFile
		key := cfg.Server.TLS.KeyFile
		logger.Info("http_listening", "addr", a.eff.Addr, "tls", cert != "" && key != "")
		if cert != "" && key != "" {
			errCh <- a.srv.ListenAndServeTLS(cert, key)
		} else {
			errCh <- a.srv.ListenAndServe()
		}
	}()
	return errCh
}

// shutdownHTTP drains the server with a short deadline.
func (a *App) shutdownHTTP() {
	if a.srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(ctx); err != nil {
		logger.Error("http_shutdown_error", "error", err)
	}
}
