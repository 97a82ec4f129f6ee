package v1

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/langconnect/mcpd/pkg/container/runtime"
	"github.com/langconnect/mcpd/pkg/logger"
)

// HealthcheckRouter creates the unauthenticated liveness endpoint. It
// reports healthy only when the container runtime answers a ping.
func HealthcheckRouter(rt runtime.Runtime) http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, req *http.Request) {
		if err := rt.Ping(req.Context()); err != nil {
			logger.Warnf("Health check failed to reach container runtime: %v", err)
			http.Error(w, "Container runtime unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}
