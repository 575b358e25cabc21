// Package scheduler runs the periodic digest job.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"bunny-chatter/internal/logging"
)

// Scheduler runs a report function on a cron schedule in UTC.
type Scheduler struct {
	cron       *cron.Cron
	spec       string
	ctx        context.Context
	cancel     context.CancelFunc
	reportFunc func(ctx context.Context) error
	log        *logging.Logger
}

func New(spec string, log *logging.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		spec:   spec,
		ctx:    ctx,
		cancel: cancel,
		log:    log.Sub("scheduler"),
	}
}

func (s *Scheduler) SetReportFunction(f func(ctx context.Context) error) {
	s.reportFunc = f
}

// Start registers the report job and starts the cron loop. Without a
// report function or a schedule it does nothing.
func (s *Scheduler) Start() error {
	if s.reportFunc == nil || s.spec == "" {
		s.log.Info().Msg("digest disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, s.runReport); err != nil {
		return fmt.Errorf("scheduler: schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.log.Info().Str("schedule", s.spec).Msg("scheduler started")
	return nil
}

func (s *Scheduler) runReport() {
	s.log.Info().Msg("digest triggered")
	if err := s.reportFunc(s.ctx); err != nil {
		s.log.Error().Err(err).Msg("digest failed")
	}
}

// Stop cancels the job context and waits for a running job to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) IsRunning() bool {
	return s.cron != nil && len(s.cron.Entries()) > 0
}
