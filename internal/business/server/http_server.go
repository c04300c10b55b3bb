package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/auth-bridge/internal/authflow"
	"github.com/openkcm/auth-bridge/internal/config"
	"github.com/openkcm/auth-bridge/internal/middleware/auth"
	"github.com/openkcm/auth-bridge/internal/middleware/cors"
	"github.com/openkcm/auth-bridge/internal/tokenstore"
)

// Dependencies are the collaborators serving the HTTP routes.
type Dependencies struct {
	Flow     *authflow.Controller
	Store    *tokenstore.Store
	Verifier auth.Verifier
	Sites    SiteAPI
}

// createHTTPServer creates an API http server using the given config
func createHTTPServer(_ context.Context, cfg *config.Config, deps Dependencies) *http.Server {
	api := &authAPI{
		flow:        deps.Flow,
		store:       deps.Store,
		sites:       deps.Sites,
		popupOrigin: cfg.HTTP.AllowedOrigin,
		development: cfg.IsDevelopment(),
		now:         time.Now,
	}

	mux := http.NewServeMux()
	route := func(pattern, operationID string, h http.Handler, mws ...func(http.Handler) http.Handler) {
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		mux.Handle(pattern, newTraceMiddleware(cfg, operationID)(h))
	}

	route("GET /authorize", "Authorize", http.HandlerFunc(api.authorize))
	route("GET /callback", "Callback", http.HandlerFunc(api.callback))
	route("POST /token", "Token", http.HandlerFunc(api.token))
	route("POST /dev/clear", "ClearStore", http.HandlerFunc(api.clear))
	route("GET /health", "Health", http.HandlerFunc(api.health))
	route("GET /api/sites", "ListSites", http.HandlerFunc(api.listSites),
		auth.RequireSession(deps.Verifier, deps.Store))
	route("GET /api/sites/{siteId}", "GetSite", http.HandlerFunc(api.getSite),
		auth.RequireAccessToken(deps.Verifier, deps.Store))

	return &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           cors.Middleware(cfg.HTTP.AllowedOrigin, mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// StartHTTPServer starts the HTTP server using the given config.
func StartHTTPServer(ctx context.Context, cfg *config.Config, deps Dependencies) error {
	if err := initMeters(ctx, cfg); err != nil {
		return err
	}

	server := createHTTPServer(ctx, cfg, deps)

	slogctx.Info(ctx, "Starting a listener", "address", server.Addr)

	// Parse network if the address if provided in the format of network://address.
	// Otherwise use tcp network by default. Binding to a unix socket keeps
	// integration tests free of port lookups.
	network := "tcp"
	if idx := strings.IndexRune(server.Addr, ':'); idx != -1 && len(server.Addr) > idx+3 && server.Addr[idx:idx+3] == "://" {
		network = server.Addr[:idx]
		server.Addr = server.Addr[idx+3:]
	}

	listener, err := new(net.ListenConfig).Listen(ctx, network, server.Addr)
	if err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed to create a listener")
	}

	slogctx.Info(ctx, "A listener started", "address", listener.Addr().String())

	go func() {
		slogctx.Info(ctx, "Serving an HTTP server", "address", listener.Addr().String())
		err := server.Serve(listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogctx.Error(ctx, "Failed to serve an HTTP server", "error", err)
		}

		slogctx.Info(ctx, "Stopped an HTTP server")
	}()

	<-ctx.Done()

	shutdownCtx, shutdownRelease := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer shutdownRelease()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return oops.In("HTTP Server").
			WithContext(ctx).
			Wrapf(err, "Failed shutting down HTTP server")
	}

	slogctx.Info(ctx, "Completed graceful shutdown of HTTP server")

	return nil
}
