// Package docker implements the container supervisor on the Docker Engine
// API: creating, starting, stopping and monitoring the containers that host
// MCP servers.
package docker

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/langconnect/mcpd/pkg/container/runtime"
	"github.com/langconnect/mcpd/pkg/labels"
	"github.com/langconnect/mcpd/pkg/logger"
)

// Socket discovery.
const (
	// DockerSocketEnv overrides the Docker socket path
	DockerSocketEnv = "MCP_DOCKER_SOCKET"
	// DockerSocketPath is the default Docker socket path
	DockerSocketPath = "/var/run/docker.sock"
	// DockerDesktopMacSocketPath is the Docker Desktop socket path on macOS,
	// relative to the home directory
	DockerDesktopMacSocketPath = ".docker/run/docker.sock"
)

// Settle waits after start and restart before re-inspecting the container.
const (
	startSettleWait   = 1 * time.Second
	restartSettleWait = 2 * time.Second
)

// dockerAPI is the slice of the Docker SDK client the supervisor uses.
// Narrowing the surface lets tests substitute a fake without a daemon.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string,
	) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerStats(ctx context.Context, containerID string, stream bool) (container.StatsResponseReader, error)
	NetworkList(ctx context.Context, options network.ListOptions) ([]network.Summary, error)
	NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)
	Ping(ctx context.Context) (types.Ping, error)
}

// Client implements runtime.Runtime against a Docker daemon.
type Client struct {
	api         dockerAPI
	networkName string

	// settle waits between starting a container and re-inspecting it.
	// Shortened in tests.
	startSettle   time.Duration
	restartSettle time.Duration
}

var _ runtime.Runtime = (*Client)(nil)

// NewClient connects to the Docker daemon, verifies it responds, and ensures
// the shared MCP bridge network exists.
func NewClient(ctx context.Context, networkName string) (*Client, error) {
	api, err := newSDKClient()
	if err != nil {
		return nil, runtime.NewContainerError(err, "", fmt.Sprintf("failed to create docker client: %v", err))
	}

	c := &Client{
		api:           api,
		networkName:   networkName,
		startSettle:   startSettleWait,
		restartSettle: restartSettleWait,
	}

	if err := c.Ping(ctx); err != nil {
		return nil, err
	}
	if err := c.ensureNetwork(ctx); err != nil {
		return nil, err
	}

	logger.Debugf("Connected to Docker runtime (network %s)", networkName)
	return c, nil
}

// newSDKClient builds the Docker SDK client. DOCKER_HOST wins when set;
// otherwise the Unix socket is discovered on disk.
func newSDKClient() (*client.Client, error) {
	if os.Getenv(client.EnvOverrideHost) != "" {
		return client.NewClientWithOpts(
			client.FromEnv,
			client.WithAPIVersionNegotiation(),
		)
	}

	socketPath, err := findDockerSocket()
	if err != nil {
		return nil, err
	}

	// Custom HTTP client dialing the Unix socket directly.
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(_ context.Context, _, _ string) (net.Conn, error) {
				return net.Dial("unix", socketPath)
			},
		},
	}

	return client.NewClientWithOpts(
		client.WithAPIVersionNegotiation(),
		client.WithHTTPClient(httpClient),
		client.WithHost("unix://"+socketPath),
	)
}

// findDockerSocket locates the Docker socket path.
func findDockerSocket() (string, error) {
	if customSocketPath := os.Getenv(DockerSocketEnv); customSocketPath != "" {
		logger.Debugf("Using Docker socket from env: %s", customSocketPath)
		if _, err := os.Stat(customSocketPath); err != nil {
			return "", fmt.Errorf("invalid Docker socket path: %w", err)
		}
		return customSocketPath, nil
	}

	if _, err := os.Stat(DockerSocketPath); err == nil {
		return DockerSocketPath, nil
	}

	// Docker Desktop on macOS keeps the socket under the home directory.
	if home := os.Getenv("HOME"); home != "" {
		desktopPath := filepath.Join(home, DockerDesktopMacSocketPath)
		if _, err := os.Stat(desktopPath); err == nil {
			return desktopPath, nil
		}
	}

	return "", runtime.ErrRuntimeUnavailable
}

// Ping verifies the daemon is reachable.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.Ping(ctx); err != nil {
		return runtime.NewContainerError(runtime.ErrRuntimeUnavailable, "",
			fmt.Sprintf("failed to ping docker daemon: %v", err))
	}
	return nil
}

// ListManaged returns summaries of every container labelled as a managed MCP
// server, including stopped ones.
func (c *Client) ListManaged(ctx context.Context) ([]runtime.ContainerSummary, error) {
	filterArgs := filters.NewArgs(filters.Arg("label", labels.FormatMCPFilter()))

	containers, err := c.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return nil, runtime.NewContainerError(err, "", fmt.Sprintf("failed to list containers: %v", err))
	}

	result := make([]runtime.ContainerSummary, 0, len(containers))
	for _, ctr := range containers {
		result = append(result, runtime.ContainerSummary{
			ID:         ctr.ID,
			Name:       containerName(ctr.Names),
			State:      ctr.State,
			ServerID:   labels.GetServerID(ctr.Labels),
			ServerName: labels.GetServerName(ctr.Labels),
		})
	}

	return result, nil
}

// findByName returns the id of the container with exactly this name, or ""
// when none exists. The name filter matches substrings, so results are
// re-checked for an exact match.
func (c *Client) findByName(ctx context.Context, name string) (string, error) {
	containers, err := c.api.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return "", runtime.NewContainerError(err, "", fmt.Sprintf("failed to list containers: %v", err))
	}

	for _, ctr := range containers {
		for _, n := range ctr.Names {
			// Container names in the API carry a leading slash.
			if n == "/"+name || n == name {
				return ctr.ID, nil
			}
		}
	}

	return "", nil
}

// inspect wraps ContainerInspect, translating the SDK's not-found answer
// into the contract's ErrContainerNotFound so callers branch on the
// sentinel instead of SDK helpers.
func (c *Client) inspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	info, err := c.api.ContainerInspect(ctx, containerID)
	if err != nil && client.IsErrNotFound(err) {
		return info, runtime.NewContainerError(runtime.ErrContainerNotFound, containerID, "container does not exist")
	}
	return info, err
}

// containerName extracts the primary name from the API's name list.
func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

// settle waits for d unless the context ends first.
func settle(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
