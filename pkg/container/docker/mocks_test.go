package docker

import (
	"context"
	"fmt"
	"io"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// fakeDockerAPI provides a test double for dockerAPI used by Client.
// Centralized here for reuse across tests; unset hooks return zero values.
type fakeDockerAPI struct {
	createFunc        func(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	startFunc         func(ctx context.Context, containerID string, options container.StartOptions) error
	stopFunc          func(ctx context.Context, containerID string, options container.StopOptions) error
	restartFunc       func(ctx context.Context, containerID string, options container.StopOptions) error
	removeFunc        func(ctx context.Context, containerID string, options container.RemoveOptions) error
	inspectFunc       func(ctx context.Context, containerID string) (container.InspectResponse, error)
	listFunc          func(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	logsFunc          func(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	statsFunc         func(ctx context.Context, containerID string, stream bool) (container.StatsResponseReader, error)
	networkListFunc   func(ctx context.Context, options network.ListOptions) ([]network.Summary, error)
	networkCreateFunc func(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error)
	pingFunc          func(ctx context.Context) (types.Ping, error)
}

func (f *fakeDockerAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	if f.createFunc != nil {
		return f.createFunc(ctx, config, hostConfig, networkingConfig, platform, containerName)
	}
	return container.CreateResponse{}, nil
}

func (f *fakeDockerAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	if f.startFunc != nil {
		return f.startFunc(ctx, containerID, options)
	}
	return nil
}

func (f *fakeDockerAPI) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	if f.stopFunc != nil {
		return f.stopFunc(ctx, containerID, options)
	}
	return nil
}

func (f *fakeDockerAPI) ContainerRestart(ctx context.Context, containerID string, options container.StopOptions) error {
	if f.restartFunc != nil {
		return f.restartFunc(ctx, containerID, options)
	}
	return nil
}

func (f *fakeDockerAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	if f.removeFunc != nil {
		return f.removeFunc(ctx, containerID, options)
	}
	return nil
}

func (f *fakeDockerAPI) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	if f.inspectFunc != nil {
		return f.inspectFunc(ctx, containerID)
	}
	return container.InspectResponse{}, nil
}

func (f *fakeDockerAPI) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	if f.listFunc != nil {
		return f.listFunc(ctx, options)
	}
	return nil, nil
}

func (f *fakeDockerAPI) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	if f.logsFunc != nil {
		return f.logsFunc(ctx, containerID, options)
	}
	return io.NopCloser(nil), nil
}

func (f *fakeDockerAPI) ContainerStats(ctx context.Context, containerID string, stream bool) (container.StatsResponseReader, error) {
	if f.statsFunc != nil {
		return f.statsFunc(ctx, containerID, stream)
	}
	return container.StatsResponseReader{}, nil
}

func (f *fakeDockerAPI) NetworkList(ctx context.Context, options network.ListOptions) ([]network.Summary, error) {
	if f.networkListFunc != nil {
		return f.networkListFunc(ctx, options)
	}
	return nil, nil
}

func (f *fakeDockerAPI) NetworkCreate(ctx context.Context, name string, options network.CreateOptions) (network.CreateResponse, error) {
	if f.networkCreateFunc != nil {
		return f.networkCreateFunc(ctx, name, options)
	}
	return network.CreateResponse{}, nil
}

func (f *fakeDockerAPI) Ping(ctx context.Context) (types.Ping, error) {
	if f.pingFunc != nil {
		return f.pingFunc(ctx)
	}
	return types.Ping{}, nil
}

// newTestClient builds a Client over the fake with settle waits disabled.
func newTestClient(api *fakeDockerAPI) *Client {
	return &Client{
		api:         api,
		networkName: "langconnect-network",
	}
}

// notFoundErr fabricates the daemon's not-found error for a container id.
func notFoundErr(id string) error {
	return fmt.Errorf("No such container: %s: %w", id, cerrdefs.ErrNotFound)
}
