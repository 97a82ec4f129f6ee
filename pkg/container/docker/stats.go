package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/docker/docker/api/types/container"

	"github.com/langconnect/mcpd/pkg/core"
)

const bytesPerMB = 1024 * 1024

// sampleStats takes a one-shot stats reading from the daemon and converts it
// into resource percentages.
func (c *Client) sampleStats(ctx context.Context, containerID string) (*core.ResourceUsage, error) {
	reader, err := c.api.ContainerStats(ctx, containerID, false)
	if err != nil {
		return nil, fmt.Errorf("reading container stats: %w", err)
	}
	defer func() { _ = reader.Body.Close() }()

	var stats container.StatsResponse
	if err := json.NewDecoder(reader.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("decoding container stats: %w", err)
	}

	return computeUsage(&stats), nil
}

// computeUsage turns a raw stats sample into a resource usage snapshot. CPU
// percent comes from the delta between the sample and its predecessor; a
// non-positive system delta yields zero rather than a division artifact.
func computeUsage(stats *container.StatsResponse) *core.ResourceUsage {
	cpuDelta := float64(stats.CPUStats.CPUUsage.TotalUsage) - float64(stats.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(stats.CPUStats.SystemUsage) - float64(stats.PreCPUStats.SystemUsage)

	cpuPercent := 0.0
	if systemDelta > 0 {
		cpuPercent = cpuDelta / systemDelta * 100
	}

	usage := float64(stats.MemoryStats.Usage)
	limit := float64(stats.MemoryStats.Limit)
	memPercent := 0.0
	if limit > 0 {
		memPercent = usage / limit * 100
	}

	return &core.ResourceUsage{
		CPUPercent:    round2(cpuPercent),
		MemoryUsageMB: round2(usage / bytesPerMB),
		MemoryLimitMB: round2(limit / bytesPerMB),
		MemoryPercent: round2(memPercent),
	}
}

// round2 rounds to two decimal places.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
