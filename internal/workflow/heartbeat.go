package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"rythmo/internal/logging"
	"rythmo/internal/store"
)

// HeartbeatMonitor keeps the lease of running jobs fresh.
type HeartbeatMonitor struct {
	store    *store.Store
	logger   *slog.Logger
	interval time.Duration
	timeout  time.Duration
}

// NewHeartbeatMonitor creates a new monitor.
func NewHeartbeatMonitor(st *store.Store, logger *slog.Logger, interval, timeout time.Duration) *HeartbeatMonitor {
	return &HeartbeatMonitor{
		store:    st,
		logger:   logger,
		interval: interval,
		timeout:  timeout,
	}
}

// Timeout is how old a lease may get before the job counts as abandoned.
func (h *HeartbeatMonitor) Timeout() time.Duration {
	return h.timeout
}

// StartLoop refreshes the lease of runID until ctx ends. onLost runs once when
// the slot stops belonging to the run, so the job notices without waiting for
// its next checkpoint.
func (h *HeartbeatMonitor) StartLoop(ctx context.Context, wg *sync.WaitGroup, key store.JobKey, runID string, onLost func()) {
	defer wg.Done()
	if h.interval <= 0 {
		return
	}
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, h.logger.With(logging.String("component", "workflow-heartbeat")))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := h.store.TouchHeartbeat(ctx, key, runID)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Debug("heartbeat update cancelled")
				} else {
					logger.Warn("heartbeat update failed", logging.Error(err))
				}
				continue
			}
			if !ok {
				logger.Debug("heartbeat lease lost")
				if onLost != nil {
					onLost()
				}
				return
			}
		}
	}
}
