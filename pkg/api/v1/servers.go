package v1

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/langconnect/mcpd/pkg/auth"
	"github.com/langconnect/mcpd/pkg/core"
	mcperrors "github.com/langconnect/mcpd/pkg/errors"
	"github.com/langconnect/mcpd/pkg/logger"
	"github.com/langconnect/mcpd/pkg/registry"
	"github.com/langconnect/mcpd/pkg/servers"
)

// ServerRoutes defines the routes for MCP server management.
type ServerRoutes struct {
	manager *servers.Manager
}

// ServerRouter creates the router for /api/mcp.
func ServerRouter(manager *servers.Manager) http.Handler {
	routes := ServerRoutes{manager: manager}

	r := chi.NewRouter()
	r.Get("/servers", routes.listServers)
	r.Post("/servers", routes.createServer)
	r.Get("/servers/{id}", routes.getServer)
	r.Put("/servers/{id}", routes.updateServer)
	r.Delete("/servers/{id}", routes.deleteServer)
	r.Post("/servers/{id}/start", routes.startServer)
	r.Post("/servers/{id}/stop", routes.stopServer)
	r.Post("/servers/{id}/restart", routes.restartServer)
	r.Get("/servers/{id}/status", routes.serverStatus)
	r.Post("/servers/{id}/health", routes.serverHealth)
	r.Get("/servers/{id}/logs", routes.serverLogs)
	r.Post("/servers/{id}/elicit/respond", routes.respondElicitation)
	r.Get("/containers", routes.listContainers)

	return r
}

// ServerActionResponse is the envelope for lifecycle actions. A runtime
// failure is a business outcome, not a protocol error: it reports 200 with
// success=false and the server's post-failure record.
type ServerActionResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Server  *core.Server `json:"server,omitempty"`
}

type healthResponse struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

type elicitationAck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *ServerRoutes) listServers(w http.ResponseWriter, r *http.Request) {
	opts := registry.ListOptions{UserID: auth.UserIDFromContext(r.Context())}

	q := r.URL.Query()
	if raw := q.Get("page"); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil || page < 1 {
			writeError(w, mcperrors.NewValidationError("Invalid page parameter", nil))
			return
		}
		opts.Page = page
	}
	if raw := q.Get("page_size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < 1 {
			writeError(w, mcperrors.NewValidationError("Invalid page_size parameter", nil))
			return
		}
		opts.PageSize = size
	}
	if raw := q.Get("status"); raw != "" {
		state := core.State(raw)
		if !state.Valid() {
			writeError(w, mcperrors.NewValidationError(fmt.Sprintf("Invalid status filter: %s", raw), nil))
			return
		}
		opts.State = state
	}

	list, err := s.manager.List(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *ServerRoutes) createServer(w http.ResponseWriter, r *http.Request) {
	var req core.CreateServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, mcperrors.NewValidationError("Invalid request body", err))
		return
	}

	server, err := s.manager.Create(r.Context(), &req, auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, server)
}

func (s *ServerRoutes) getServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.manager.Get(r.Context(), chi.URLParam(r, "id"), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, server)
}

func (s *ServerRoutes) updateServer(w http.ResponseWriter, r *http.Request) {
	var patch core.UpdateServerRequest
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, mcperrors.NewValidationError("Invalid request body", err))
		return
	}

	server, err := s.manager.Update(r.Context(), chi.URLParam(r, "id"), auth.UserIDFromContext(r.Context()), &patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, server)
}

func (s *ServerRoutes) deleteServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.manager.Delete(r.Context(), chi.URLParam(r, "id"), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ServerActionResponse{
		Success: true,
		Message: fmt.Sprintf("Server '%s' deleted successfully", server.Config.Name),
	})
}

func (s *ServerRoutes) startServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.manager.Start(r.Context(), chi.URLParam(r, "id"), auth.UserIDFromContext(r.Context()))
	writeActionResponse(w, "start", server, err)
}

func (s *ServerRoutes) stopServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.manager.Stop(r.Context(), chi.URLParam(r, "id"), auth.UserIDFromContext(r.Context()))
	writeActionResponse(w, "stop", server, err)
}

func (s *ServerRoutes) restartServer(w http.ResponseWriter, r *http.Request) {
	server, err := s.manager.Restart(r.Context(), chi.URLParam(r, "id"), auth.UserIDFromContext(r.Context()))
	writeActionResponse(w, "restart", server, err)
}

func (s *ServerRoutes) serverStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.manager.Status(r.Context(), chi.URLParam(r, "id"), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *ServerRoutes) serverHealth(w http.ResponseWriter, r *http.Request) {
	healthy, reason, err := s.manager.Health(r.Context(), chi.URLParam(r, "id"), auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Healthy: healthy, Error: reason})
}

// serverLogs streams log lines as server-sent events, one event per line.
// With follow=true the stream stays open until the client disconnects.
func (s *ServerRoutes) serverLogs(w http.ResponseWriter, r *http.Request) {
	follow := r.URL.Query().Get("follow") == "true"
	tail := 100
	if raw := r.URL.Query().Get("tail"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, mcperrors.NewValidationError("Invalid tail parameter", nil))
			return
		}
		tail = n
	}

	lines, err := s.manager.Logs(r.Context(), chi.URLParam(r, "id"), auth.UserIDFromContext(r.Context()), follow, tail)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, mcperrors.NewRuntimeError("Streaming not supported", nil))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for line := range lines {
		if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
			logger.Debugf("Log stream write failed, client likely gone: %v", err)
			return
		}
		flusher.Flush()
	}
}

func (s *ServerRoutes) respondElicitation(w http.ResponseWriter, r *http.Request) {
	var resp core.ElicitationResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		writeError(w, mcperrors.NewValidationError("Invalid request body", err))
		return
	}
	if resp.RequestID == "" {
		writeError(w, mcperrors.NewValidationError("request_id is required", nil))
		return
	}

	err := s.manager.RespondElicitation(r.Context(), chi.URLParam(r, "id"), auth.UserIDFromContext(r.Context()), &resp)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, elicitationAck{Success: true, Message: "Response submitted"})
}

// listContainers reports every managed container known to the runtime,
// including ones whose registry record was deleted out from under them.
func (s *ServerRoutes) listContainers(w http.ResponseWriter, r *http.Request) {
	containers, err := s.manager.Containers(r.Context())
	if err != nil {
		writeError(w, mcperrors.NewRuntimeError("Failed to list containers", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"containers": containers})
}

// writeActionResponse reports a lifecycle outcome. Precondition and lookup
// failures map to protocol errors; a runtime failure that still yielded a
// server record reports success=false with the record attached.
func writeActionResponse(w http.ResponseWriter, verb string, server *core.Server, err error) {
	if err != nil {
		if mcperrors.IsRuntime(err) && server != nil {
			msg := err.Error()
			if typed, ok := err.(*mcperrors.Error); ok {
				msg = typed.Message
			}
			writeJSON(w, http.StatusOK, ServerActionResponse{
				Success: false,
				Message: fmt.Sprintf("Failed to %s server: %s", verb, msg),
				Server:  server,
			})
			return
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ServerActionResponse{
		Success: true,
		Message: fmt.Sprintf("Server '%s' %sed successfully", server.Config.Name, pastTenseStem(verb)),
		Server:  server,
	})
}

// pastTenseStem avoids "stoped": stop doubles its final consonant.
func pastTenseStem(verb string) string {
	if verb == "stop" {
		return "stopp"
	}
	return verb
}

// writeError maps the error taxonomy onto HTTP statuses. Untyped errors are
// logged and hidden behind a generic 500.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"

	if typed, ok := err.(*mcperrors.Error); ok {
		message = typed.Message
		switch {
		case mcperrors.IsValidation(err), mcperrors.IsConflict(err):
			status = http.StatusBadRequest
		case mcperrors.IsNotFound(err):
			status = http.StatusNotFound
		case mcperrors.IsForbidden(err):
			status = http.StatusForbidden
		case mcperrors.IsAuth(err):
			status = http.StatusUnauthorized
		case mcperrors.IsRuntime(err):
			// Runtime failures keep their message: the caller needs the
			// supervisor's reason, not a generic body.
			status = http.StatusInternalServerError
		case mcperrors.IsUnavailable(err):
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusInternalServerError
			message = "Internal server error"
			logger.Errorf("Unhandled API error: %v", err)
		}
	} else {
		logger.Errorf("Unhandled API error: %v", err)
	}

	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}
