package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensOnRateLimits(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker(2, time.Minute)
	cb.now = func() time.Time { return now }

	if cb.OnError(errors.New("boom")) {
		t.Fatalf("plain errors should not trip the default breaker")
	}
	cb.OnError(RateLimitError{Provider: "mock"})
	if opened := cb.OnError(RateLimitError{Provider: "mock"}); !opened {
		t.Fatalf("expected second rate limit to open the breaker")
	}
	if cb.Allow() || cb.State() != BreakerOpen {
		t.Fatalf("expected breaker to be open")
	}
	now = now.Add(time.Minute)
	if !cb.Allow() {
		t.Fatalf("expected breaker to close after cooldown")
	}
}

func TestBreakerCustomTrip(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	cb.TripOn = func(error) bool { return true }
	cb.OnError(errors.New("dial failed"))
	if cb.Allow() {
		t.Fatalf("expected breaker open")
	}
	cb.OnSuccess()
	if !cb.Allow() {
		t.Fatalf("expected success to reset the breaker")
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	policy := NewRetryPolicy(3, time.Millisecond)
	err := policy.Do(context.Background(), func(int) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("unexpected result err=%v calls=%d", err, calls)
	}
}

func TestRetryHonoursRetryable(t *testing.T) {
	calls := 0
	policy := NewRetryPolicy(5, time.Millisecond)
	policy.Retryable = func(err error) bool { return !IsRateLimit(err) }
	err := policy.Do(context.Background(), func(int) error {
		calls++
		return RateLimitError{}
	})
	if !IsRateLimit(err) || calls != 1 {
		t.Fatalf("expected one attempt, got %d (%v)", calls, err)
	}
}

func TestRetryCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewRetryPolicy(2, time.Millisecond).Do(ctx, func(int) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context error, got %v", err)
	}
}
