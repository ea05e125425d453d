package sync

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Scheduler drives the controller: a short timer for incremental syncs
// and a slower one for a bounded repair resync that covers gaps the
// short window can miss.
type Scheduler struct {
	controller     *Controller
	interval       time.Duration
	repairEvery    time.Duration
	repairLookback time.Duration
	logger         *zap.Logger
	cancel         context.CancelFunc
}

// NewScheduler creates a scheduler. repairEvery <= 0 disables the
// repair pass.
func NewScheduler(c *Controller, interval, repairEvery, repairLookback time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		controller:     c,
		interval:       interval,
		repairEvery:    repairEvery,
		repairLookback: repairLookback,
		logger:         logger,
	}
}

// Start launches the timer loop in the background.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the timer loop.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	repairEvery := s.repairEvery
	if repairEvery <= 0 {
		// Effectively never fires; keeps the select shape simple.
		repairEvery = 24 * 365 * time.Hour
	}
	repair := time.NewTicker(repairEvery)
	defer repair.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.controller.Incremental(ctx); err != nil {
				s.logger.Warn("scheduled incremental sync failed", zap.Error(err))
			}
		case <-repair.C:
			if _, err := s.controller.Full(ctx, s.repairLookback); err != nil {
				s.logger.Warn("scheduled repair resync failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
