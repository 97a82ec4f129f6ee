// Package servers implements the controller: it sequences the registry, the
// container supervisor and the token manager to provide the user-visible
// lifecycle operations, enforcing ownership and state preconditions.
package servers

import (
	"context"
	"fmt"
	"time"

	"github.com/langconnect/mcpd/pkg/container/runtime"
	"github.com/langconnect/mcpd/pkg/core"
	mcperrors "github.com/langconnect/mcpd/pkg/errors"
	"github.com/langconnect/mcpd/pkg/logger"
	"github.com/langconnect/mcpd/pkg/metrics"
	"github.com/langconnect/mcpd/pkg/registry"
)

// EnvSupabaseJWT is the environment key containers read their bearer token
// from. A fresh token is injected on every container creation.
const EnvSupabaseJWT = "SUPABASE_JWT_SECRET"

// TokenSource hands out a valid access token for a user, or "" when none is
// available. The token manager implements it.
type TokenSource interface {
	Get(ctx context.Context, userID string) string
}

// Manager orchestrates registry, supervisor, and token manager.
type Manager struct {
	store  registry.Store
	rt     runtime.Runtime
	tokens TokenSource
}

// NewManager wires the controller from its three collaborators.
func NewManager(store registry.Store, rt runtime.Runtime, tokens TokenSource) *Manager {
	return &Manager{store: store, rt: rt, tokens: tokens}
}

// Create registers the server and materializes its container. A supervisor
// failure rolls the registration back so no record outlives a failed
// materialization.
func (m *Manager) Create(ctx context.Context, req *core.CreateServerRequest, userID string) (*core.Server, error) {
	server, err := m.store.Register(ctx, req, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	_, status := m.rt.Create(ctx, server.ID, &server.Config)
	metrics.ObserveContainerOp("create", start)

	if status.State == core.StateError {
		if _, delErr := m.store.Delete(ctx, server.ID); delErr != nil {
			logger.Errorf("Failed to roll back registration of server %s: %v", server.ID, delErr)
		}
		return nil, mcperrors.NewRuntimeError(status.ErrorMessage, nil)
	}

	latest := m.persistStatus(ctx, server, status)
	metrics.ServersCreated.Inc()
	return latest, nil
}

// Get returns the server after an ownership check.
func (m *Manager) Get(ctx context.Context, id, userID string) (*core.Server, error) {
	return m.ownedServer(ctx, id, userID)
}

// List returns one page of the user's servers.
func (m *Manager) List(ctx context.Context, opts registry.ListOptions) (*core.ServerList, error) {
	return m.store.List(ctx, opts)
}

// Update patches the server's configuration. Status is untouched; a running
// container keeps its environment until recreated.
func (m *Manager) Update(ctx context.Context, id, userID string, patch *core.UpdateServerRequest) (*core.Server, error) {
	if _, err := m.ownedServer(ctx, id, userID); err != nil {
		return nil, err
	}
	return m.store.UpdateConfig(ctx, id, patch)
}

// Start drives the server to running: it injects a fresh owner token into
// the environment used for container creation, creates the container when
// none exists yet, starts it, and persists the outcome. On a runtime
// failure the returned server carries the post-failure status alongside the
// error.
func (m *Manager) Start(ctx context.Context, id, userID string) (*core.Server, error) {
	server, err := m.ownedServer(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !server.CanStart() {
		return nil, mcperrors.NewValidationError(
			fmt.Sprintf("Server cannot be started from %s state", server.Status.State), nil)
	}

	containerID := server.Status.ContainerID
	if containerID == "" {
		cfg := m.configWithFreshToken(ctx, server, userID)

		start := time.Now()
		cid, status := m.rt.Create(ctx, server.ID, cfg)
		metrics.ObserveContainerOp("create", start)

		if status.State == core.StateError {
			metrics.LifecycleActions.WithLabelValues("start", "failure").Inc()
			latest := m.persistStatus(ctx, server, status)
			return latest, mcperrors.NewRuntimeError(status.ErrorMessage, nil)
		}
		containerID = cid
	}

	start := time.Now()
	status := m.rt.Start(ctx, containerID)
	metrics.ObserveContainerOp("start", start)

	latest := m.persistStatus(ctx, server, status)
	if status.State == core.StateError {
		metrics.LifecycleActions.WithLabelValues("start", "failure").Inc()
		return latest, mcperrors.NewRuntimeError(status.ErrorMessage, nil)
	}

	metrics.LifecycleActions.WithLabelValues("start", "success").Inc()
	logger.Infof("Started MCP server %s (%s)", server.Config.Name, server.ID)
	return latest, nil
}

// Stop drives the server to stopped within the default grace period.
func (m *Manager) Stop(ctx context.Context, id, userID string) (*core.Server, error) {
	server, err := m.ownedServer(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if !server.CanStop() {
		return nil, mcperrors.NewValidationError(
			fmt.Sprintf("Server cannot be stopped from %s state", server.Status.State), nil)
	}
	if server.Status.ContainerID == "" {
		return nil, mcperrors.NewValidationError("No container found for server", nil)
	}

	start := time.Now()
	status := m.rt.Stop(ctx, server.Status.ContainerID, runtime.DefaultStopTimeout)
	metrics.ObserveContainerOp("stop", start)

	latest := m.persistStatus(ctx, server, status)
	if status.State == core.StateError {
		metrics.LifecycleActions.WithLabelValues("stop", "failure").Inc()
		return latest, mcperrors.NewRuntimeError(status.ErrorMessage, nil)
	}

	metrics.LifecycleActions.WithLabelValues("stop", "success").Inc()
	logger.Infof("Stopped MCP server %s (%s)", server.Config.Name, server.ID)
	return latest, nil
}

// Restart restarts the server's existing container.
//
// The owner's token is refreshed here, but it only reaches the container on
// the create path: a plain restart keeps the environment the container was
// created with.
// TODO: recreate the container on restart so it observes rotated tokens.
func (m *Manager) Restart(ctx context.Context, id, userID string) (*core.Server, error) {
	server, err := m.ownedServer(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if server.Status.ContainerID == "" {
		return nil, mcperrors.NewValidationError("No container found for server", nil)
	}

	if token := m.tokens.Get(ctx, userID); token == "" {
		logger.Warnf("No valid token for user %s; server %s restarts with its previous credentials", userID, server.ID)
	}

	start := time.Now()
	status := m.rt.Restart(ctx, server.Status.ContainerID, runtime.DefaultRestartTimeout)
	metrics.ObserveContainerOp("restart", start)

	latest := m.persistStatus(ctx, server, status)
	if status.State == core.StateError {
		metrics.LifecycleActions.WithLabelValues("restart", "failure").Inc()
		return latest, mcperrors.NewRuntimeError(status.ErrorMessage, nil)
	}

	metrics.LifecycleActions.WithLabelValues("restart", "success").Inc()
	logger.Infof("Restarted MCP server %s (%s)", server.Config.Name, server.ID)
	return latest, nil
}

// Delete removes the container (best effort) and then the registry record.
// A container that cannot be removed does not block deletion of the row.
func (m *Manager) Delete(ctx context.Context, id, userID string) (*core.Server, error) {
	server, err := m.ownedServer(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if cid := server.Status.ContainerID; cid != "" {
		start := time.Now()
		if !m.rt.Remove(ctx, cid, true) {
			logger.Warnf("Failed to remove container %s for server %s; deleting registry record anyway", cid, server.ID)
		}
		metrics.ObserveContainerOp("remove", start)
	}

	removed, err := m.store.Delete(ctx, server.ID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, mcperrors.NewNotFoundError("Server not found", nil)
	}

	metrics.ServersDeleted.Inc()
	logger.Infof("Deleted MCP server %s (%s)", server.Config.Name, server.ID)
	return server, nil
}

// Status returns the live status when a container exists, writing it
// through the registry; otherwise the last-known status. A failed health
// check on a running container surfaces as unhealthy.
func (m *Manager) Status(ctx context.Context, id, userID string) (*core.ServerStatus, error) {
	server, err := m.ownedServer(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if server.Status.ContainerID == "" {
		return &server.Status, nil
	}

	status, err := m.rt.Status(ctx, server.Status.ContainerID)
	if err != nil {
		return nil, mcperrors.NewRuntimeError("Failed to inspect container", err)
	}
	if status == nil {
		// Container vanished; the reconciler will mark the record.
		return &server.Status, nil
	}

	if status.State == core.StateRunning && !status.HealthCheckPassed {
		status.State = core.StateUnhealthy
	}

	latest := m.persistStatus(ctx, server, *status)
	return &latest.Status, nil
}

// Health runs a one-shot health check, writes the verdict through the
// registry, and flips the stored state between running and unhealthy.
func (m *Manager) Health(ctx context.Context, id, userID string) (bool, string, error) {
	server, err := m.ownedServer(ctx, id, userID)
	if err != nil {
		return false, "", err
	}
	if server.Status.ContainerID == "" {
		return false, "No container found", nil
	}

	healthy, reason := m.rt.Healthy(ctx, server.Status.ContainerID)

	now := time.Now().UTC()
	status := server.Status
	status.HealthCheckPassed = healthy
	status.LastHealthCheck = &now
	switch {
	case healthy && status.State == core.StateUnhealthy:
		status.State = core.StateRunning
		status.ErrorMessage = ""
	case !healthy && status.State == core.StateRunning:
		status.State = core.StateUnhealthy
		status.ErrorMessage = reason
	}
	m.persistStatus(ctx, server, status)

	return healthy, reason, nil
}

// Logs returns the server's log stream. The channel closes when the stream
// ends or ctx is cancelled.
func (m *Manager) Logs(ctx context.Context, id, userID string, follow bool, tail int) (<-chan string, error) {
	server, err := m.ownedServer(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if server.Status.ContainerID == "" {
		return nil, mcperrors.NewValidationError("No container found for server", nil)
	}
	return m.rt.StreamLogs(ctx, server.Status.ContainerID, follow, tail), nil
}

// Containers lists every container carrying the managed-server label,
// including ones whose registry record is gone.
func (m *Manager) Containers(ctx context.Context) ([]runtime.ContainerSummary, error) {
	return m.rt.ListManaged(ctx)
}

// RespondElicitation acknowledges a user's reply to a tool elicitation.
// There is no transport into the running container yet; the reply is
// accepted and logged.
func (m *Manager) RespondElicitation(ctx context.Context, id, userID string, resp *core.ElicitationResponse) error {
	server, err := m.ownedServer(ctx, id, userID)
	if err != nil {
		return err
	}

	logger.Infof("Elicitation response for server %s (request %s): accepted=%t",
		server.ID, resp.RequestID, resp.Accepted)
	return nil
}

// CleanupOrphans reconciles active registry records against the runtime:
// records whose container vanished become error, and the health verdict
// flips running records to unhealthy and back. It also refreshes the
// running-servers gauge.
func (m *Manager) CleanupOrphans(ctx context.Context) error {
	running := 0
	for _, state := range []core.State{core.StateStarting, core.StateRunning, core.StateUnhealthy} {
		records, err := m.store.ListByState(ctx, state)
		if err != nil {
			return fmt.Errorf("listing %s servers: %w", state, err)
		}
		for _, server := range records {
			if m.reconcile(ctx, server) == core.StateRunning {
				running++
			}
		}
	}

	metrics.RunningServers.Set(float64(running))
	return nil
}

// reconcile refreshes one record from the runtime and returns the state it
// settled in.
func (m *Manager) reconcile(ctx context.Context, server *core.Server) core.State {
	if server.Status.ContainerID == "" {
		return m.markOrphaned(ctx, server)
	}

	status, err := m.rt.Status(ctx, server.Status.ContainerID)
	if err != nil {
		logger.Warnf("Reconciler could not inspect container for server %s: %v", server.ID, err)
		return server.Status.State
	}
	if status == nil {
		return m.markOrphaned(ctx, server)
	}

	if status.State == core.StateRunning && !status.HealthCheckPassed {
		status.State = core.StateUnhealthy
	}

	if status.State != server.Status.State {
		logger.Infof("Reconciler: server %s %s -> %s", server.ID, server.Status.State, status.State)
	}
	m.persistStatus(ctx, server, *status)
	return status.State
}

// markOrphaned records that a server's container no longer exists.
func (m *Manager) markOrphaned(ctx context.Context, server *core.Server) core.State {
	logger.Warnf("Reconciler: container for server %s no longer exists", server.ID)

	status := server.Status
	status.State = core.StateError
	status.ContainerID = ""
	status.ErrorMessage = "container no longer exists"
	m.persistStatus(ctx, server, status)
	return core.StateError
}

// ownedServer fetches a record and enforces the ownership check every
// non-list operation starts with.
func (m *Manager) ownedServer(ctx context.Context, id, userID string) (*core.Server, error) {
	server, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if server.CreatedBy != userID {
		return nil, mcperrors.NewForbiddenError("Access denied", nil)
	}
	return server, nil
}

// configWithFreshToken clones the config for supervisor calls, overlaying
// the owner's current bearer token on the environment. The stored record is
// never mutated.
func (m *Manager) configWithFreshToken(ctx context.Context, server *core.Server, userID string) *core.ServerConfig {
	cfg := server.Config
	env := make(map[string]string, len(cfg.Environment)+1)
	for k, v := range cfg.Environment {
		env[k] = v
	}
	if token := m.tokens.Get(ctx, userID); token != "" {
		env[EnvSupabaseJWT] = token
	}
	cfg.Environment = env
	return &cfg
}

// persistStatus writes a status through the registry and returns the
// re-read record. Persistence failures are logged, not propagated; the
// caller still holds the authoritative runtime outcome, so the fallback is
// its record with the new status overlaid. Never returns nil.
func (m *Manager) persistStatus(ctx context.Context, server *core.Server, status core.ServerStatus) *core.Server {
	status.ServerID = server.ID
	updated, err := m.store.UpdateStatus(ctx, server.ID, status)
	if err != nil {
		logger.Errorf("Failed to persist status for server %s: %v", server.ID, err)
		if fresh, getErr := m.store.Get(ctx, server.ID); getErr == nil {
			return fresh
		}
		fallback := *server
		fallback.Status = status
		return &fallback
	}
	return updated
}
