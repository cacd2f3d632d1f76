// service.go — Cron wrapper running the processor on a fixed cadence.
package retryqueue

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Service runs ProcessOnce on a schedule until stopped.
type Service struct {
	processor *Processor
	cron      *cron.Cron
	logger    *zap.Logger
}

// NewService wires the processor to a cron ticking every interval.
func NewService(processor *Processor, interval time.Duration, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		processor: processor,
		cron:      cron.New(),
		logger:    logger,
	}
	_, err := s.cron.AddFunc("@every "+interval.String(), func() {
		stats, err := processor.ProcessOnce(context.Background())
		if err != nil {
			logger.Error("retry pass failed", zap.Error(err))
			return
		}
		if stats.Fetched > 0 {
			logger.Info("retry pass finished",
				zap.Int("fetched", stats.Fetched),
				zap.Int("resolved", stats.Resolved),
				zap.Int("requeued", stats.Requeued),
				zap.Int("permanent", stats.Permanent),
				zap.Int("skipped", stats.Skipped))
		}
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the schedule.
func (s *Service) Start() {
	s.cron.Start()
	s.logger.Info("retry-queue service started")
}

// Stop halts the schedule and waits for a running pass to finish.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("retry-queue service stopped")
}
