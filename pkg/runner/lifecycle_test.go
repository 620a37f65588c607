package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type drainFunc func(ctx context.Context) error

func (f drainFunc) Drain(ctx context.Context) error { return f(ctx) }

func TestRunDrainsThenStops(t *testing.T) {
	var order []string
	r := NewLifecycleRunner(drainFunc(func(context.Context) error {
		order = append(order, "drain")
		return nil
	}), Hooks{
		OnStart: func() { order = append(order, "start") },
		OnStop: func(context.Context) error {
			order = append(order, "stop")
			return nil
		},
	}, time.Second)
	r.SetBannerOutput(nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for r.State() != StateRunning {
		if time.Now().After(deadline) {
			t.Fatalf("runner never reached running, state %s", r.State())
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.Join(order, ",") != "start,drain,stop" {
		t.Fatalf("unexpected order %v", order)
	}
	if r.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", r.State())
	}
	if err := r.Run(context.Background()); err == nil {
		t.Fatalf("a stopped runner must not run again")
	}
}

func TestDrainTimeoutIsReported(t *testing.T) {
	r := NewLifecycleRunner(drainFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}), Hooks{}, 20*time.Millisecond)
	r.SetBannerOutput(nil)

	err := r.Stop()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	select {
	case <-r.Done():
	default:
		t.Fatalf("done should be closed after stop")
	}
	if err2 := r.Stop(); !errors.Is(err2, context.DeadlineExceeded) {
		t.Fatalf("second stop should report the same error, got %v", err2)
	}
}

func TestStopHookErrorJoined(t *testing.T) {
	boom := errors.New("close failed")
	r := NewLifecycleRunner(nil, Hooks{OnStop: func(context.Context) error { return boom }}, time.Second)
	if err := r.Stop(); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
}
