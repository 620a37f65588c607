package runner

import (
	"bytes"
	"context"
	"io"

	"github.com/dimiro1/banner"
)

type State int

const (
	StateNew State = iota
	StateStarting
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

type Runner interface {
	Run(ctx context.Context) error
	Stop() error
	State() State
}

// Hooks run around the serving phase. OnStop runs after draining, with
// whatever remains of the shutdown budget.
type Hooks struct {
	OnStart func()
	OnStop  func(ctx context.Context) error
}

// Drainer waits for in-flight work. It should return once ctx ends.
type Drainer interface {
	Drain(ctx context.Context) error
}

// EngineVersion is overridden at link time.
var EngineVersion = "dev"

// PrintBanner writes the start-up banner. A nil w disables it.
func PrintBanner(w io.Writer) {
	if w == nil {
		return
	}
	tpl := "{{ .Title \"VOXSTREAM\" \"\" 0 }}\nVersion: " + EngineVersion + "   GoVersion: {{ .GoVersion }}\n"
	banner.Init(w, true, false, bytes.NewBufferString(tpl))
}
