package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"

	"github.com/langconnect/mcpd/pkg/container/runtime"
	"github.com/langconnect/mcpd/pkg/core"
	"github.com/langconnect/mcpd/pkg/labels"
	"github.com/langconnect/mcpd/pkg/logger"
)

// Environment keys the supervisor sets on every MCP container. They override
// user-supplied values of the same name.
const (
	EnvServerName       = "MCP_SERVER_NAME"
	EnvServerID         = "MCP_SERVER_ID"
	EnvTransport        = "MCP_TRANSPORT"
	EnvPort             = "MCP_PORT"
	EnvMiddlewareConfig = "MCP_MIDDLEWARE_CONFIG"
)

// cpuPeriod is the CFS scheduling period the CPU quota is expressed against.
const cpuPeriod = 100000

// Create materializes a container for the server without starting it. A
// container already holding the server's name is force-removed first. The
// returned status is stopped on success; failures come back as an error
// status whose message the registry records verbatim.
func (c *Client) Create(ctx context.Context, serverID string, cfg *core.ServerConfig) (string, core.ServerStatus) {
	name := cfg.ContainerName()

	existing, err := c.findByName(ctx, name)
	if err != nil {
		return "", errorStatus(serverID, "", err.Error())
	}
	if existing != "" {
		logger.Infof("Replacing existing container %s (%s)", name, existing)
		c.Remove(ctx, existing, true)
	}

	config, hostConfig, buildErr := c.buildContainerConfig(serverID, cfg)
	if buildErr != nil {
		logger.Errorf("Failed to build container config for %s: %v", name, buildErr)
		return "", errorStatus(serverID, "", buildErr.Error())
	}

	networking := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			c.networkName: {},
		},
	}

	resp, err := c.api.ContainerCreate(ctx, config, hostConfig, networking, nil, name)
	if err != nil {
		// Create answers not-found when the image is absent.
		if client.IsErrNotFound(err) {
			err = runtime.NewContainerError(runtime.ErrImageNotFound, "", cfg.DockerImage)
		}
		if runtime.IsImageNotFound(err) {
			logger.Errorf("Docker image not found: %s", cfg.DockerImage)
			return "", errorStatus(serverID, "", fmt.Sprintf("Docker image not found: %s", cfg.DockerImage))
		}
		logger.Errorf("Failed to create container %s: %v", name, err)
		return "", errorStatus(serverID, "", err.Error())
	}

	logger.Infof("Created container %s (%s)", name, resp.ID)
	return resp.ID, core.ServerStatus{
		ServerID:          serverID,
		State:             core.StateStopped,
		ContainerID:       resp.ID,
		HealthCheckPassed: false,
	}
}

// buildContainerConfig translates a server configuration into Docker
// primitives: environment, labels, port publication, and resource limits.
func (c *Client) buildContainerConfig(
	serverID string,
	cfg *core.ServerConfig,
) (*container.Config, *container.HostConfig, error) {
	env, err := buildEnvironment(serverID, cfg)
	if err != nil {
		return nil, nil, err
	}

	containerLabels := make(map[string]string, len(cfg.Labels)+3)
	for k, v := range cfg.Labels {
		containerLabels[k] = v
	}
	labels.AddStandardLabels(containerLabels, serverID, cfg.Name)

	port, err := nat.NewPort("tcp", strconv.Itoa(cfg.Port))
	if err != nil {
		return nil, nil, fmt.Errorf("invalid port %d: %w", cfg.Port, err)
	}

	memory, err := units.RAMInBytes(cfg.MemoryLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid memory limit %q: %w", cfg.MemoryLimit, err)
	}

	config := &container.Config{
		Image:        cfg.DockerImage,
		Env:          env,
		Labels:       containerLabels,
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}

	hostConfig := &container.HostConfig{
		Binds: cfg.Volumes,
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostPort: strconv.Itoa(cfg.Port)}},
		},
		RestartPolicy: container.RestartPolicy{
			Name: container.RestartPolicyMode(cfg.RestartPolicy),
		},
		Resources: container.Resources{
			Memory:    memory,
			CPUQuota:  int64(math.Round(cfg.CPULimit * cpuPeriod)),
			CPUPeriod: cpuPeriod,
		},
	}

	return config, hostConfig, nil
}

// buildEnvironment merges the user environment under the fixed system keys
// (system wins) and serializes the middleware configuration when present.
func buildEnvironment(serverID string, cfg *core.ServerConfig) ([]string, error) {
	merged := make(map[string]string, len(cfg.Environment)+5)
	for k, v := range cfg.Environment {
		merged[k] = v
	}
	merged[EnvServerName] = cfg.Name
	merged[EnvServerID] = serverID
	merged[EnvTransport] = string(cfg.Transport)
	merged[EnvPort] = strconv.Itoa(cfg.Port)

	if len(cfg.MiddlewareConfig) > 0 {
		raw, err := json.Marshal(cfg.MiddlewareConfig)
		if err != nil {
			return nil, fmt.Errorf("encoding middleware config: %w", err)
		}
		merged[EnvMiddlewareConfig] = string(raw)
	}

	env := make([]string, 0, len(merged))
	for k, v := range merged {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env, nil
}

// Start starts the container, waits briefly for it to settle, and reports
// the state the runtime actually reached.
func (c *Client) Start(ctx context.Context, containerID string) core.ServerStatus {
	info, err := c.inspect(ctx, containerID)
	if err != nil {
		if runtime.IsContainerNotFound(err) {
			return errorStatus("", "", "Container not found")
		}
		logger.Errorf("Failed to inspect container %s: %v", containerID, err)
		return errorStatus("", "", err.Error())
	}
	serverID := labels.GetServerID(info.Config.Labels)

	if err := c.api.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		logger.Errorf("Failed to start container %s: %v", containerID, err)
		return errorStatus(serverID, containerID, err.Error())
	}

	settle(ctx, c.startSettle)

	info, err = c.api.ContainerInspect(ctx, containerID)
	if err != nil {
		logger.Errorf("Failed to inspect container %s after start: %v", containerID, err)
		return errorStatus(serverID, containerID, err.Error())
	}

	if info.State != nil && info.State.Status == "running" {
		now := time.Now().UTC()
		return core.ServerStatus{
			ServerID:          serverID,
			State:             core.StateRunning,
			ContainerID:       info.ID,
			StartedAt:         &now,
			HealthCheckPassed: false,
		}
	}

	return errorStatus(serverID, info.ID,
		fmt.Sprintf("Container failed to start: %s", inspectState(info)))
}

// Stop stops the container within the grace period.
func (c *Client) Stop(ctx context.Context, containerID string, timeout time.Duration) core.ServerStatus {
	info, err := c.inspect(ctx, containerID)
	if err != nil {
		if runtime.IsContainerNotFound(err) {
			return errorStatus("", "", "Container not found")
		}
		logger.Errorf("Failed to inspect container %s: %v", containerID, err)
		return errorStatus("", "", err.Error())
	}
	serverID := labels.GetServerID(info.Config.Labels)

	seconds := int(timeout.Seconds())
	if err := c.api.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		logger.Errorf("Failed to stop container %s: %v", containerID, err)
		return errorStatus(serverID, containerID, err.Error())
	}

	now := time.Now().UTC()
	return core.ServerStatus{
		ServerID:    serverID,
		State:       core.StateStopped,
		ContainerID: info.ID,
		StoppedAt:   &now,
	}
}

// Restart restarts the container within the grace period and reports the
// state it settles in.
func (c *Client) Restart(ctx context.Context, containerID string, timeout time.Duration) core.ServerStatus {
	info, err := c.inspect(ctx, containerID)
	if err != nil {
		if runtime.IsContainerNotFound(err) {
			return errorStatus("", "", "Container not found")
		}
		logger.Errorf("Failed to inspect container %s: %v", containerID, err)
		return errorStatus("", "", err.Error())
	}
	serverID := labels.GetServerID(info.Config.Labels)

	seconds := int(timeout.Seconds())
	if err := c.api.ContainerRestart(ctx, containerID, container.StopOptions{Timeout: &seconds}); err != nil {
		logger.Errorf("Failed to restart container %s: %v", containerID, err)
		return errorStatus(serverID, containerID, err.Error())
	}

	settle(ctx, c.restartSettle)

	info, err = c.api.ContainerInspect(ctx, containerID)
	if err != nil {
		logger.Errorf("Failed to inspect container %s after restart: %v", containerID, err)
		return errorStatus(serverID, containerID, err.Error())
	}

	if info.State != nil && info.State.Status == "running" {
		now := time.Now().UTC()
		return core.ServerStatus{
			ServerID:          serverID,
			State:             core.StateRunning,
			ContainerID:       info.ID,
			StartedAt:         &now,
			HealthCheckPassed: false,
		}
	}

	return errorStatus(serverID, info.ID,
		fmt.Sprintf("Container failed to restart: %s", inspectState(info)))
}

// Remove deletes the container. A container that is already gone counts as
// removed.
func (c *Client) Remove(ctx context.Context, containerID string, force bool) bool {
	err := c.api.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force})
	if err != nil {
		if client.IsErrNotFound(err) {
			return true
		}
		logger.Errorf("Failed to remove container %s: %v", containerID, err)
		return false
	}

	logger.Infof("Removed container %s", containerID)
	return true
}

// errorStatus builds an error-state status carrying the failure message.
func errorStatus(serverID, containerID, message string) core.ServerStatus {
	return core.ServerStatus{
		ServerID:     serverID,
		State:        core.StateError,
		ContainerID:  containerID,
		ErrorMessage: message,
	}
}

// inspectState returns the runtime's state word, or "unknown" when the
// inspect response carries no state.
func inspectState(info container.InspectResponse) string {
	if info.State == nil {
		return "unknown"
	}
	return info.State.Status
}
