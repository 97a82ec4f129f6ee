// Package runtime defines the contract between the control plane and the
// container backend that hosts MCP servers. The Docker implementation lives
// in the sibling docker package; tests substitute fakes.
package runtime

import (
	"context"
	"time"

	"github.com/langconnect/mcpd/pkg/core"
)

// Default grace periods for stop and restart.
const (
	DefaultStopTimeout    = 10 * time.Second
	DefaultRestartTimeout = 10 * time.Second
)

// Runtime is the container backend the control plane drives. Lifecycle
// operations report outcomes as status snapshots rather than errors: a
// failed create or start yields an error-state status whose message the
// registry records verbatim.
type Runtime interface {
	// Create materializes a container for the server, replacing any
	// container that already uses the server's name. It returns the new
	// container id (empty on failure) and a stopped or error status.
	Create(ctx context.Context, serverID string, cfg *core.ServerConfig) (string, core.ServerStatus)

	// Start starts the container and waits briefly for it to settle.
	Start(ctx context.Context, containerID string) core.ServerStatus

	// Stop stops the container within the grace period.
	Stop(ctx context.Context, containerID string, timeout time.Duration) core.ServerStatus

	// Restart restarts the container within the grace period.
	Restart(ctx context.Context, containerID string, timeout time.Duration) core.ServerStatus

	// Remove deletes the container. A container that is already gone
	// counts as success.
	Remove(ctx context.Context, containerID string, force bool) bool

	// Status inspects the container and returns its mapped state with a
	// fresh resource sample and health verdict. A missing container
	// returns (nil, nil).
	Status(ctx context.Context, containerID string) (*core.ServerStatus, error)

	// StreamLogs returns a single-use channel of log lines. Error
	// conditions surface as in-band lines; the channel closes when the
	// stream ends or ctx is cancelled.
	StreamLogs(ctx context.Context, containerID string, follow bool, tail int) <-chan string

	// Healthy reports the container's health verdict and, when unhealthy,
	// a human-readable reason.
	Healthy(ctx context.Context, containerID string) (bool, string)

	// ListManaged returns summaries of every container carrying the
	// management label, including stopped ones.
	ListManaged(ctx context.Context) ([]ContainerSummary, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
}

// ContainerSummary is a thin view of a managed container.
type ContainerSummary struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	State      string `json:"status"`
	ServerID   string `json:"server_id"`
	ServerName string `json:"server_name"`
}

// MapState translates a backend state word into a lifecycle state. The
// backend never reports unhealthy; that state is derived from health checks
// by the layer above.
func MapState(state string) core.State {
	switch state {
	case "running":
		return core.StateRunning
	case "exited", "paused":
		return core.StateStopped
	case "restarting":
		return core.StateStarting
	case "dead":
		return core.StateError
	default:
		return core.StateError
	}
}
