package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBusy = errors.New("busy")

type slowDown struct{ wait time.Duration }

func (e *slowDown) Error() string            { return "slow down" }
func (e *slowDown) RetryHint() time.Duration { return e.wait }

func fastPolicy(budget time.Duration) Policy {
	return Policy{Base: time.Millisecond, Cap: 4 * time.Millisecond, MaxElapsed: budget}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(time.Second), func(err error) bool { return errors.Is(err, errBusy) },
		func(attempt int) error {
			if attempt != calls {
				t.Errorf("attempt = %d, want %d", attempt, calls)
			}
			calls++
			if calls < 3 {
				return errBusy
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Fatalf("want=3 got=%d", calls)
	}
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Do(context.Background(), fastPolicy(time.Second), func(err error) bool { return errors.Is(err, errBusy) },
		func(int) error {
			calls++
			return boom
		})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if calls != 1 {
		t.Fatalf("want=1 got=%d", calls)
	}
}

func TestDoGivesUpWhenBudgetSpent(t *testing.T) {
	calls := 0
	p := Policy{Base: 10 * time.Millisecond, Cap: 40 * time.Millisecond, MaxElapsed: 50 * time.Millisecond}
	err := Do(context.Background(), p, func(error) bool { return true },
		func(int) error {
			calls++
			return errBusy
		})
	if !errors.Is(err, errBusy) {
		t.Fatalf("err = %v, want errBusy", err)
	}
	// waits of 10ms and 20ms fit in 50ms, the 40ms third wait does not
	if calls != 3 {
		t.Fatalf("want=3 got=%d", calls)
	}
}

func TestZeroBudgetIsSingleAttempt(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{Base: time.Millisecond}, func(error) bool { return true },
		func(int) error {
			calls++
			return errBusy
		})
	if calls != 1 {
		t.Fatalf("want=1 got=%d", calls)
	}
}

func TestDoHonorsRetryHint(t *testing.T) {
	calls := 0
	p := Policy{Base: time.Minute, Cap: time.Minute, MaxElapsed: time.Second}
	start := time.Now()
	err := Do(context.Background(), p, func(error) bool { return true },
		func(int) error {
			calls++
			if calls < 3 {
				return &slowDown{wait: time.Millisecond}
			}
			return nil
		})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("elapsed %v, hint ignored", elapsed)
	}
}

func TestBackOffIsCapped(t *testing.T) {
	b := Policy{Base: 200 * time.Millisecond, Cap: 5 * time.Second}.BackOff()
	if got := b.NextBackOff(); got != 200*time.Millisecond {
		t.Errorf("first = %v", got)
	}
	var last time.Duration
	for i := 0; i < 10; i++ {
		last = b.NextBackOff()
	}
	if last != 5*time.Second {
		t.Errorf("after 10 = %v, want cap", last)
	}
}
