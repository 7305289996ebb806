package retry_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/steadyq/steadyq/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAdaptive_WidensUnderHighFailureRate(t *testing.T) {
	base := &retry.Policy{
		Strategy:    retry.Exponential,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		Multiplier:  2,
		MaxAttempts: 3,
	}
	a := retry.NewAdaptivePolicy(base, discardLogger())

	for range 10 {
		a.RecordFailure()
	}

	if a.Delay(0) <= time.Second {
		t.Errorf("Delay(0) = %v, expected widened base after sustained failures", a.Delay(0))
	}
	if a.MaxAttempts() <= 3 {
		t.Errorf("MaxAttempts() = %d, expected raised budget", a.MaxAttempts())
	}
}

func TestAdaptive_BaseDelayCappedAtQuarterMax(t *testing.T) {
	base := &retry.Policy{
		Strategy:    retry.Fixed,
		BaseDelay:   time.Second,
		MaxDelay:    time.Minute,
		MaxAttempts: 3,
	}
	a := retry.NewAdaptivePolicy(base, discardLogger())

	for range 100 {
		a.RecordFailure()
	}

	if got := a.Delay(0); got > 15*time.Second {
		t.Errorf("Delay(0) = %v, widening must cap at MaxDelay/4 (15s)", got)
	}
	if got := a.MaxAttempts(); got > 10 {
		t.Errorf("MaxAttempts() = %d, must cap at 10", got)
	}
}

func TestAdaptive_RelaxesWhenHealthy(t *testing.T) {
	base := &retry.Policy{
		Strategy:    retry.Fixed,
		BaseDelay:   10 * time.Second,
		MaxDelay:    time.Minute,
		MaxAttempts: 6,
	}
	a := retry.NewAdaptivePolicy(base, discardLogger())

	// Enough failures to make the relax branch eligible, then a run of
	// successes to push the rate under 10%.
	for range 11 {
		a.RecordFailure()
	}
	for range 200 {
		a.RecordSuccess()
	}

	if got := a.Delay(0); got >= 10*time.Second {
		t.Errorf("Delay(0) = %v, expected relaxed base once healthy", got)
	}
	if got := a.MaxAttempts(); got >= 6 {
		t.Errorf("MaxAttempts() = %d, expected reduced budget once healthy", got)
	}
}

func TestAdaptive_RelaxFloors(t *testing.T) {
	base := &retry.Policy{
		Strategy:    retry.Fixed,
		BaseDelay:   600 * time.Millisecond,
		MaxDelay:    time.Minute,
		MaxAttempts: 4,
	}
	a := retry.NewAdaptivePolicy(base, discardLogger())

	for range 11 {
		a.RecordFailure()
	}
	for range 2000 {
		a.RecordSuccess()
	}

	if got := a.Delay(0); got < 500*time.Millisecond {
		t.Errorf("Delay(0) = %v, relaxing must floor at 500ms", got)
	}
	if got := a.MaxAttempts(); got < 3 {
		t.Errorf("MaxAttempts() = %d, must floor at 3", got)
	}
}

func TestAdaptive_FailureRate(t *testing.T) {
	a := retry.NewAdaptivePolicy(nil, discardLogger())

	if got := a.FailureRate(); got != 0 {
		t.Errorf("FailureRate() = %v with no samples, want 0", got)
	}

	a.RecordFailure()
	a.RecordFailure()
	a.RecordSuccess()
	a.RecordSuccess()

	if got := a.FailureRate(); got != 0.5 {
		t.Errorf("FailureRate() = %v, want 0.5", got)
	}
}

func TestAdaptive_DoRecordsOutcomes(t *testing.T) {
	base := &retry.Policy{
		Strategy:    retry.Fixed,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Minute,
		MaxAttempts: 2,
	}
	a := retry.NewAdaptivePolicy(base, discardLogger())

	if err := a.Do(context.Background(), func(_ context.Context) error {
		return nil
	}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_ = a.Do(context.Background(), func(_ context.Context) error {
		return timeoutErr{}
	}, nil)

	if got := a.FailureRate(); got != 0.5 {
		t.Errorf("FailureRate() = %v after one success and one failure, want 0.5", got)
	}
}

func TestAdaptive_DoSharesFibonacciMemoSafely(t *testing.T) {
	// Do snapshots the wrapped policy's fields; concurrent jittered-delay
	// reads on the shared policy must stay correct while Do loops.
	base := &retry.Policy{
		Strategy:     retry.Fibonacci,
		BaseDelay:    time.Millisecond,
		MaxDelay:     time.Minute,
		JitterFactor: 0.1,
		MaxAttempts:  4,
	}
	a := retry.NewAdaptivePolicy(base, discardLogger())

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for attempt := range 20 {
				if d := a.DelayWithJitter(attempt); d < 0 {
					t.Errorf("DelayWithJitter(%d) = %v, want >= 0", attempt, d)
				}
			}
		}()
	}

	calls := 0
	err := a.Do(context.Background(), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return timeoutErr{}
		}
		return nil
	}, nil)
	wg.Wait()

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := base.Delay(4); got != 5*time.Millisecond {
		t.Errorf("Delay(4) = %v, want 5ms (fib(5) = 5)", got)
	}
}
