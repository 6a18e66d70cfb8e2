package booking

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper runs Coordinator.Recover on an interval until its context ends.
type Sweeper struct {
	Coordinator *Coordinator
	Interval    time.Duration
	Log         *logrus.Entry
}

// Run blocks until ctx is cancelled.  It always returns nil so it can sit
// in an errgroup next to the HTTP server.
func (s *Sweeper) Run(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	log := s.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rep, err := s.Coordinator.Recover(ctx)
			if err != nil && ctx.Err() == nil {
				log.WithError(err).Error("recovery pass failed")
			}
			if rep != (RecoveryReport{}) {
				log.WithFields(logrus.Fields{
					"rolled_forward": rep.RolledForward,
					"compensated":    rep.Compensated,
					"postponed":      rep.Postponed,
					"holds_released": rep.HoldsReleased,
				}).Info("recovery pass")
			}
		}
	}
}
