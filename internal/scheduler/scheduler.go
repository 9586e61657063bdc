// Package scheduler runs the recurring-invoice sweep on a fixed interval.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/diewo77/invoiceflow/internal/billing"
)

// CycleRunner is the single entry point the trigger fires. Implemented by
// billing.Recurring.
type CycleRunner interface {
	RunCycle(ctx context.Context, now time.Time) billing.CycleReport
}

// Scheduler invokes a CycleRunner at a fixed interval. Ticks never overlap:
// if a cycle is still running when the next tick fires, that tick is skipped
// rather than run concurrently, since same-template double-processing would
// break the number-allocation invariant.
type Scheduler struct {
	runner   CycleRunner
	interval time.Duration
	log      *zap.Logger

	running sync.Mutex
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func New(runner CycleRunner, interval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{runner: runner, interval: interval, log: log}
}

// Start launches the background loop. An immediate first sweep runs on
// startup so overdue templates do not wait a full interval after a restart.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("scheduler started", zap.Duration("interval", s.interval))

		s.tick(ctx)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				s.log.Info("scheduler stopped")
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.log.Warn("previous cycle still running, skipping tick")
		return
	}
	defer s.running.Unlock()

	started := time.Now()
	report := s.runner.RunCycle(ctx, started.UTC())
	if report.Due == 0 {
		return
	}
	s.log.Info("recurring cycle finished",
		zap.Int("due", report.Due),
		zap.Int("generated", report.Generated),
		zap.Int("sent", report.Sent),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Strings("errors", report.Errors),
		zap.Duration("took", time.Since(started)))
}
