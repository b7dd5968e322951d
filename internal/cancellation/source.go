package cancellation

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"rythmo/internal/logging"
	"rythmo/internal/services"
	"rythmo/internal/store"
)

// Source is the running job's view of its cancellation flag.
type Source struct {
	gate     *Gate
	key      store.JobKey
	runID    string
	interval time.Duration
	cancel   context.CancelCauseFunc

	cancelled atomic.Bool
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
}

// Cancelled reports the last observed state without touching the store.
func (s *Source) Cancelled() bool {
	return s.cancelled.Load()
}

// Check is a checkpoint: it re-reads the slot and returns
// services.ErrCancelled when the run must stop.
func (s *Source) Check(ctx context.Context) error {
	if s.cancelled.Load() {
		return services.ErrCancelled
	}
	cancelled, err := s.gate.IsCancelled(ctx, s.key, s.runID)
	if err != nil {
		if cause := context.Cause(ctx); cause != nil {
			return cause
		}
		return services.Wrap(services.ErrTransient, "checkpoint", "read job state", "cancellation check failed", err)
	}
	if cancelled {
		s.trip()
		return services.ErrCancelled
	}
	return nil
}

// Stop ends background refreshes. The run context is released as well.
func (s *Source) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
		s.gate.unregister(s)
		s.cancel(context.Canceled)
	})
}

func (s *Source) trip() {
	if s.cancelled.CompareAndSwap(false, true) {
		s.gate.logger.Info("cancellation observed",
			logging.Int64(logging.FieldProjectID, s.key.ProjectID),
			logging.String(logging.FieldFeature, string(s.key.Feature)),
			logging.String(logging.FieldRunID, s.runID),
		)
	}
	s.cancel(services.ErrCancelled)
}

func (s *Source) wakeUp() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Source) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-s.wake:
		}
		readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		cancelled, err := s.gate.IsCancelled(readCtx, s.key, s.runID)
		cancel()
		if err != nil {
			s.gate.logger.Debug("cancellation refresh failed", logging.Error(err))
			continue
		}
		if cancelled {
			s.trip()
			return
		}
	}
}
