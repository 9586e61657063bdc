package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/diewo77/invoiceflow/internal/billing"
)

// blockingRunner counts invocations and can hold a cycle open.
type blockingRunner struct {
	calls   atomic.Int32
	release chan struct{}
}

func (r *blockingRunner) RunCycle(ctx context.Context, _ time.Time) billing.CycleReport {
	r.calls.Add(1)
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
		}
	}
	return billing.CycleReport{}
}

func TestScheduler_RunsImmediatelyAndOnTicks(t *testing.T) {
	runner := &blockingRunner{}
	s := New(runner, 20*time.Millisecond, zap.NewNop())

	s.Start(context.Background())
	time.Sleep(70 * time.Millisecond)
	s.Stop()

	if got := runner.calls.Load(); got < 2 {
		t.Errorf("expected at least 2 cycles, got %d", got)
	}
}

// A tick arriving while a cycle is in flight is skipped, never run
// concurrently.
func TestScheduler_SkipsOverlappingTicks(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	s := New(runner, 10*time.Millisecond, zap.NewNop())

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond) // several ticks fire while cycle 1 blocks

	if got := runner.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 cycle while blocked, got %d", got)
	}

	close(runner.release)
	s.Stop()
}

func TestScheduler_StopWaitsForInFlightCycle(t *testing.T) {
	runner := &blockingRunner{release: make(chan struct{})}
	s := New(runner, time.Hour, zap.NewNop())

	s.Start(context.Background())
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}
