package experiment

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/model-bridge/backend/pkg/logger"
)

// Expirer periodically completes experiments that are past their expiry.
type Expirer struct {
	manager  *Manager
	interval time.Duration
}

func NewExpirer(manager *Manager, interval time.Duration) *Expirer {
	return &Expirer{
		manager:  manager,
		interval: interval,
	}
}

// Run sweeps until ctx is cancelled. A non-positive interval disables it.
func (e *Expirer) Run(ctx context.Context) {
	if e.interval <= 0 {
		logger.Info("Experiment expiry sweeper disabled")
		return
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	logger.Info("Experiment expiry sweeper started", zap.Duration("interval", e.interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Experiment expiry sweeper stopped")
			return
		case <-ticker.C:
			e.sweep(ctx)
		}
	}
}

func (e *Expirer) sweep(ctx context.Context) {
	n, err := e.manager.ExpireDue(ctx)
	if err != nil {
		logger.Error("Failed to expire experiments", zap.Error(err))
		return
	}
	if n > 0 {
		logger.Info("Expired experiments completed", zap.Int("count", n))
	}
}
