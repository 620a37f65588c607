package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/voxstream/pkg/runner"
)

// Runner ties the process lifecycle to the stream registry: stopping it
// refuses new streams and waits for the ones in flight.
type Runner struct {
	lc *runner.LifecycleRunner
}

func NewRunner(registry *StreamRegistry, hooks runner.Hooks, timeout time.Duration) *Runner {
	return &Runner{lc: runner.NewLifecycleRunner(RegistryDrainer(registry), hooks, timeout)}
}

func (r *Runner) Run(ctx context.Context) error { return r.lc.Run(ctx) }
func (r *Runner) Stop() error                   { return r.lc.Stop() }
func (r *Runner) State() runner.State           { return r.lc.State() }

// Lifecycle exposes the underlying runner, e.g. to silence the banner.
func (r *Runner) Lifecycle() *runner.LifecycleRunner { return r.lc }

type DrainerFunc func(ctx context.Context) error

func (f DrainerFunc) Drain(ctx context.Context) error { return f(ctx) }

// RegistryDrainer marks registry draining and waits for it to empty or
// for ctx to end.
func RegistryDrainer(registry *StreamRegistry) runner.Drainer {
	return DrainerFunc(func(ctx context.Context) error {
		registry.SetDraining(true)
		if !registry.WaitForEmpty(ctx, 50*time.Millisecond) {
			return fmt.Errorf("pipeline: %d streams still in flight", registry.Count())
		}
		return nil
	})
}
