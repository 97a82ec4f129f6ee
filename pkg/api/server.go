// Package api contains the REST API for the MCP server control plane.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	v1 "github.com/langconnect/mcpd/pkg/api/v1"
	"github.com/langconnect/mcpd/pkg/auth"
	"github.com/langconnect/mcpd/pkg/container/runtime"
	"github.com/langconnect/mcpd/pkg/logger"
	"github.com/langconnect/mcpd/pkg/servers"
	"github.com/langconnect/mcpd/pkg/tokens"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Services are the wired collaborators the API serves. Tokens may be nil in
// tests that bypass authentication.
type Services struct {
	Runtime runtime.Runtime
	Tokens  *tokens.Manager
	Manager *servers.Manager
	Monitor *servers.Monitor
}

func headersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// Router assembles the full route tree: unauthenticated /health and
// /metrics, and the bearer-token-protected API under /api/mcp.
//
// No global timeout middleware: it would sever followed log streams.
func Router(svc Services, validator auth.Validator) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		headersMiddleware,
	)

	r.Mount("/health", v1.HealthcheckRouter(svc.Runtime))
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/mcp", func(r chi.Router) {
		r.Use(auth.Middleware(validator))
		r.Mount("/", v1.ServerRouter(svc.Manager))
	})

	return r
}

// Serve runs the HTTP server and the background monitor until ctx is
// cancelled, then drains connections and stops the token manager's refresh
// workers. It is assumed that the caller sets up signal handling.
func Serve(ctx context.Context, address string, svc Services) error {
	srv := &http.Server{
		Addr:              address,
		Handler:           Router(svc, svc.Tokens),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Infof("MCP control plane listening on %s", address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		return svc.Monitor.Run(groupCtx)
	})

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := group.Wait()
	if svc.Tokens != nil {
		svc.Tokens.Close()
	}
	return err
}
