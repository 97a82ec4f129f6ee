package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"

	"github.com/langconnect/mcpd/pkg/container/runtime"
	"github.com/langconnect/mcpd/pkg/labels"
	"github.com/langconnect/mcpd/pkg/logger"
)

// ensureNetwork creates the shared bridge network for MCP containers if it
// does not exist yet. The name filter matches substrings, so the result set
// is re-checked for an exact match.
func (c *Client) ensureNetwork(ctx context.Context) error {
	networks, err := c.api.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", c.networkName)),
	})
	if err != nil {
		return runtime.NewContainerError(err, "", fmt.Sprintf("failed to list networks: %v", err))
	}
	for _, nw := range networks {
		if nw.Name == c.networkName {
			return nil
		}
	}

	logger.Infof("Creating Docker network: %s", c.networkName)
	_, err = c.api.NetworkCreate(ctx, c.networkName, network.CreateOptions{
		Driver: "bridge",
		Labels: labels.NetworkLabels(),
	})
	if err != nil {
		return runtime.NewContainerError(err, "", fmt.Sprintf("failed to create network %s: %v", c.networkName, err))
	}

	return nil
}
