package servers

import (
	"context"
	"time"

	"github.com/langconnect/mcpd/pkg/logger"
)

// Monitor periodically reconciles registry records against the container
// runtime so the registry tracks containers that crash, vanish, or flip
// health outside an API call.
type Monitor struct {
	manager  *Manager
	interval time.Duration
}

// NewMonitor builds a monitor that sweeps every interval. A non-positive
// interval disables it.
func NewMonitor(manager *Manager, interval time.Duration) *Monitor {
	return &Monitor{manager: manager, interval: interval}
}

// Run sweeps until ctx is cancelled. The first sweep happens one interval
// after start. Sweep failures are logged; the loop keeps going.
func (m *Monitor) Run(ctx context.Context) error {
	if m.interval <= 0 {
		logger.Info("Container monitor disabled")
		return nil
	}

	logger.Infof("Container monitor sweeping every %s", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Container monitor stopped")
			return nil
		case <-ticker.C:
			if err := m.manager.CleanupOrphans(ctx); err != nil {
				logger.Errorf("Monitor sweep failed: %v", err)
			}
		}
	}
}
