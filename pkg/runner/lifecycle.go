package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// LifecycleRunner blocks while the process serves and, on stop, drains
// in-flight work before running the stop hook. Drain and hook share one
// timeout budget.
type LifecycleRunner struct {
	state    atomic.Int32
	ctx      context.Context
	cancel   context.CancelFunc
	onceStop sync.Once
	hooks    Hooks
	drainer  Drainer
	stopErr  error
	timeout  time.Duration
	banner   io.Writer
	stopped  chan struct{}
}

func NewLifecycleRunner(drainer Drainer, hooks Hooks, timeout time.Duration) *LifecycleRunner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &LifecycleRunner{
		ctx:     ctx,
		cancel:  cancel,
		hooks:   hooks,
		drainer: drainer,
		timeout: timeout,
		banner:  os.Stdout,
		stopped: make(chan struct{}),
	}
	r.setState(StateNew)
	return r
}

// SetBannerOutput redirects the banner. Pass nil to suppress it.
func (r *LifecycleRunner) SetBannerOutput(w io.Writer) { r.banner = w }

func (r *LifecycleRunner) Run(ctx context.Context) error {
	if !r.casState(StateNew, StateStarting) {
		return fmt.Errorf("runner: cannot run from state %s", r.State())
	}
	PrintBanner(r.banner)
	if ctx != nil {
		r.ctx, r.cancel = context.WithCancel(ctx)
	}
	if r.hooks.OnStart != nil {
		r.hooks.OnStart()
	}
	r.setState(StateRunning)
	<-r.ctx.Done()
	return r.stop()
}

func (r *LifecycleRunner) Stop() error {
	r.cancel()
	return r.stop()
}

// Done is closed once the runner has fully stopped.
func (r *LifecycleRunner) Done() <-chan struct{} { return r.stopped }

func (r *LifecycleRunner) State() State {
	return State(r.state.Load())
}

func (r *LifecycleRunner) stop() error {
	r.onceStop.Do(func() {
		defer close(r.stopped)
		r.setState(StateDraining)
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		var errs []error
		if r.drainer != nil {
			if err := r.drainer.Drain(ctx); err != nil {
				errs = append(errs, fmt.Errorf("drain: %w", err))
			}
		}
		if r.hooks.OnStop != nil {
			if err := r.hooks.OnStop(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		r.stopErr = errors.Join(errs...)
		r.setState(StateStopped)
	})
	<-r.stopped
	return r.stopErr
}

func (r *LifecycleRunner) casState(from, to State) bool {
	return r.state.CompareAndSwap(int32(from), int32(to))
}

func (r *LifecycleRunner) setState(s State) {
	r.state.Store(int32(s))
}
