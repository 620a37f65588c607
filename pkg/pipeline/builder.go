package pipeline

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/harunnryd/voxstream/pkg/logging"
	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/speech"
)

const tracerName = "github.com/harunnryd/voxstream/pkg/pipeline"

// Builder assembles an Orchestrator. Anything not set falls back to a
// working default: no speech, a private aggregator and registry, a no-op
// observer and the global tracer.
type Builder struct {
	cfg      Config
	synth    *speech.Synthesizer
	agg      *metrics.Aggregator
	registry *StreamRegistry
	observer metrics.Observer
	tracer   trace.Tracer
	logger   *slog.Logger
}

func NewBuilder(cfg Config) *Builder {
	return &Builder{cfg: cfg}
}

func (b *Builder) WithSynthesizer(s *speech.Synthesizer) *Builder {
	b.synth = s
	return b
}

func (b *Builder) WithAggregator(a *metrics.Aggregator) *Builder {
	b.agg = a
	return b
}

func (b *Builder) WithRegistry(r *StreamRegistry) *Builder {
	b.registry = r
	return b
}

func (b *Builder) WithObserver(o metrics.Observer) *Builder {
	b.observer = o
	return b
}

func (b *Builder) WithTracer(t trace.Tracer) *Builder {
	b.tracer = t
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) Build() *Orchestrator {
	o := &Orchestrator{
		cfg:      b.cfg.withDefaults(),
		synth:    b.synth,
		agg:      b.agg,
		registry: b.registry,
		observer: b.observer,
		tracer:   b.tracer,
		logger:   logging.NewComponentLogger(b.logger, "orchestrator"),
	}
	if o.agg == nil {
		o.agg = metrics.NewAggregator(metrics.AggregatorOptions{Logger: b.logger})
	}
	if o.registry == nil {
		o.registry = NewStreamRegistry()
	}
	if o.observer == nil {
		o.observer = metrics.NoopObserver{}
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o
}
