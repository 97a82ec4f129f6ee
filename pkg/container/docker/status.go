package docker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"

	"github.com/langconnect/mcpd/pkg/container/runtime"
	"github.com/langconnect/mcpd/pkg/core"
	"github.com/langconnect/mcpd/pkg/labels"
	"github.com/langconnect/mcpd/pkg/logger"
)

// Status inspects the container and returns its mapped lifecycle state with
// a fresh resource sample and health verdict. A missing container returns
// (nil, nil) so callers can tell "no container" apart from a failed call.
func (c *Client) Status(ctx context.Context, containerID string) (*core.ServerStatus, error) {
	info, err := c.inspect(ctx, containerID)
	if err != nil {
		if runtime.IsContainerNotFound(err) {
			return nil, nil
		}
		return nil, runtime.NewContainerError(err, containerID,
			fmt.Sprintf("failed to inspect container: %v", err))
	}

	now := time.Now().UTC()
	status := &core.ServerStatus{
		ServerID:        labels.GetServerID(info.Config.Labels),
		State:           runtime.MapState(inspectState(info)),
		ContainerID:     info.ID,
		LastHealthCheck: &now,
	}

	if info.State != nil {
		status.StartedAt = parseDockerTime(info.State.StartedAt)
		status.StoppedAt = parseDockerTime(info.State.FinishedAt)
		if status.State == core.StateError && info.State.Error != "" {
			status.ErrorMessage = info.State.Error
		}
	}

	healthy, _ := healthVerdict(info)
	status.HealthCheckPassed = healthy

	if status.State == core.StateRunning {
		usage, statsErr := c.sampleStats(ctx, containerID)
		if statsErr != nil {
			logger.Debugf("Failed to sample stats for container %s: %v", containerID, statsErr)
		} else {
			status.ResourceUsage = usage
		}
	}

	return status, nil
}

// Healthy reports the container's health verdict and, when unhealthy, a
// human-readable reason.
func (c *Client) Healthy(ctx context.Context, containerID string) (bool, string) {
	info, err := c.inspect(ctx, containerID)
	if err != nil {
		if runtime.IsContainerNotFound(err) {
			return false, "Container not found"
		}
		logger.Errorf("Failed to inspect container %s: %v", containerID, err)
		return false, fmt.Sprintf("Failed to inspect container: %v", err)
	}
	return healthVerdict(info)
}

// healthVerdict derives the health verdict from an inspect response. A
// running container without a native healthcheck is healthy by presumption.
func healthVerdict(info container.InspectResponse) (bool, string) {
	if info.State == nil {
		return false, "Container state unknown"
	}
	if info.State.Status != "running" {
		return false, fmt.Sprintf("Container is %s", info.State.Status)
	}

	health := info.State.Health
	if health == nil || health.Status == container.NoHealthcheck {
		return true, ""
	}
	if health.Status == container.Healthy {
		return true, ""
	}

	reason := fmt.Sprintf("Health check %s", health.Status)
	if n := len(health.Log); n > 0 && health.Log[n-1] != nil {
		if out := strings.TrimSpace(health.Log[n-1].Output); out != "" {
			reason = fmt.Sprintf("Health check %s: %s", health.Status, out)
		}
	}
	return false, reason
}

// parseDockerTime parses a timestamp from an inspect response. Docker
// reports unset times as the zero instant; those come back as nil.
func parseDockerTime(value string) *time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil || t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
