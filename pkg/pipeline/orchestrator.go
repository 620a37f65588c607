package pipeline

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/harunnryd/voxstream/pkg/aggregators"
	"github.com/harunnryd/voxstream/pkg/errorsx"
	"github.com/harunnryd/voxstream/pkg/metrics"
	"github.com/harunnryd/voxstream/pkg/redact"
	"github.com/harunnryd/voxstream/pkg/speech"
	"github.com/harunnryd/voxstream/pkg/transports/sse"
)

// Close reasons written in the terminal close event.
const (
	CloseComplete = "complete"
	CloseError    = "error"
	CloseCanceled = "canceled"
)

// Orchestrator drives generators into channels. One Orchestrator serves
// every stream of the process; all per-stream state lives in Stream.
type Orchestrator struct {
	cfg      Config
	synth    *speech.Synthesizer
	agg      *metrics.Aggregator
	registry *StreamRegistry
	observer metrics.Observer
	tracer   trace.Tracer
	logger   *slog.Logger
}

func (o *Orchestrator) Registry() *StreamRegistry      { return o.registry }
func (o *Orchestrator) Aggregator() *metrics.Aggregator { return o.agg }

type pulled struct {
	unit Unit
	err  error
}

// stream is the state of one Stream call. It is only touched by the
// goroutine running Stream.
type stream struct {
	id       string
	clientID string
	opts     StreamOptions
	log      *slog.Logger
	ch       Channel

	started    time.Time
	firstToken time.Time
	firstAudio time.Time
	tokens     int
	sentences  int
	chunks     int
	text       strings.Builder

	detector *aggregators.SentenceDetector
	markers  *MarkerScanner

	session   *speech.Session
	speechErr chan error
	audioOff  bool

	unitSuggestions   []string
	haveUnitSuggest   bool
	inlineSuggestions []string
}

// Stream pulls gen to exhaustion and writes the response to ch. Text is
// forwarded as it arrives; complete sentences go to speech when audio is
// on, and their audio is interleaved as it becomes ready. Only generator
// failures are returned; speech, cache and channel trouble degrade the
// stream instead. Cleanup runs on every path.
func (o *Orchestrator) Stream(ctx context.Context, gen Generator, ch Channel, opts StreamOptions) (err error) {
	st := o.newStream(ch, opts)

	ctx, span := o.tracer.Start(ctx, "voxstream.stream", trace.WithAttributes(
		attribute.String("voxstream.stream_id", st.id),
		attribute.Bool("voxstream.audio", st.opts.Audio),
		attribute.String("voxstream.language", st.opts.Language),
	))
	defer span.End()

	if err := o.registry.Add(StreamInfo{
		ID:       st.id,
		ClientID: st.clientID,
		Audio:    st.opts.Audio,
		Language: st.opts.Language,
		Started:  st.started,
	}); err != nil {
		st.log.Warn("stream rejected", "error", err)
		ch.Send(sse.EventError, sse.ErrorPayload{Message: "server is not accepting streams", CanRetry: true})
		ch.Close(CloseError)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	o.agg.UpdateActiveCount(int(o.registry.Count()))
	o.record(st, metrics.EventStreamStart, 0)
	st.log.Debug("stream started", "audio", st.opts.Audio, "language", st.opts.Language)

	pumpCtx, stopPump := context.WithCancel(ctx)
	defer func() {
		stopPump()
		o.cleanup(ctx, st, gen)
	}()

	if st.opts.Audio {
		o.openSpeech(ctx, st)
	}

	units := make(chan pulled)
	go pump(pumpCtx, gen, units)

	for {
		select {
		case <-ctx.Done():
			o.abort(st, ctx.Err())
			return nil
		case <-ch.Done():
			o.abort(st, nil)
			return nil
		case serr := <-st.speechErr:
			o.degradeSpeech(st, serr)
		case <-st.ready():
			o.forwardAudio(st)
		case p := <-units:
			if !ch.IsAlive() {
				o.abort(st, nil)
				return nil
			}
			if errors.Is(p.err, io.EOF) {
				o.finish(ctx, st)
				return nil
			}
			if p.err != nil {
				if ctx.Err() != nil {
					o.abort(st, ctx.Err())
					return nil
				}
				err = errorsx.Wrap(p.err, errorsx.ReasonGeneratorStream)
				o.fail(st, err)
				span.RecordError(err)
				span.SetStatus(codes.Error, "generator failed")
				return err
			}
			if done := o.handle(ctx, st, p.unit); done {
				o.finish(ctx, st)
				return nil
			}
		}
	}
}

func (o *Orchestrator) newStream(ch Channel, opts StreamOptions) *stream {
	if opts.StreamID == "" {
		opts.StreamID = uuid.NewString()
	}
	if opts.Language == "" {
		opts.Language = o.cfg.DefaultLanguage
	}
	if opts.Gender == "" {
		opts.Gender = o.cfg.DefaultGender
	}
	st := &stream{
		id:       opts.StreamID,
		clientID: opts.ClientID,
		opts:     opts,
		ch:       ch,
		started:  time.Now(),
		detector: aggregators.NewSentenceDetector(o.cfg.Detector),
		log:      o.logger.With(slog.String("stream_id", opts.StreamID)),
	}
	if o.cfg.InlineMarkers {
		st.markers = NewMarkerScanner()
	}
	return st
}

// pump feeds units to the stream loop until the generator ends or ctx is
// canceled. It stops after the first error or io.EOF.
func pump(ctx context.Context, gen Generator, out chan<- pulled) {
	for {
		u, err := gen.Next(ctx)
		select {
		case out <- pulled{unit: u, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil || u.Type == UnitComplete {
			return
		}
	}
}

// ready is nil, and so never selected, when no speech session is live.
func (st *stream) ready() <-chan struct{} {
	if st.session == nil {
		return nil
	}
	return st.session.Ready()
}

// handle processes one unit and reports whether the stream is complete.
func (o *Orchestrator) handle(ctx context.Context, st *stream, u Unit) bool {
	switch u.Type {
	case UnitText:
		o.handleText(ctx, st, u.Text)
	case UnitMetadata:
		st.ch.Send(sse.EventMetadata, u.Data)
	case UnitProductContext:
		st.ch.Send(sse.EventMetadata, map[string]any{"productContext": u.Data})
	case UnitSuggestions:
		st.unitSuggestions = append(st.unitSuggestions[:0], u.Items...)
		st.haveUnitSuggest = true
	case UnitComplete:
		return true
	default:
		st.log.Debug("unknown unit ignored", "type", string(u.Type))
	}
	return false
}

func (o *Orchestrator) handleText(ctx context.Context, st *stream, text string) {
	if text == "" {
		return
	}
	if st.firstToken.IsZero() {
		st.firstToken = time.Now()
		o.record(st, metrics.EventFirstToken, millisSince(st.started, st.firstToken))
	}
	st.tokens++

	if st.markers != nil {
		var found []Marker
		text, found = st.markers.Feed(text)
		o.applyMarkers(st, found)
	}
	o.emitText(ctx, st, text)
}

func (o *Orchestrator) emitText(ctx context.Context, st *stream, text string) {
	if text == "" {
		return
	}
	st.text.WriteString(text)
	st.ch.Send(sse.EventText, sse.TextPayload{Content: text})

	st.detector.AddUnit(text)
	if st.detector.HasCompleteSentence() {
		o.speak(ctx, st, st.detector.ExtractSentence())
	}
}

func (o *Orchestrator) applyMarkers(st *stream, found []Marker) {
	for _, m := range found {
		switch m.Kind {
		case MarkerIntent:
			st.ch.Send(sse.EventMetadata, map[string]any{"intent": m.Intent})
		case MarkerSuggestions:
			st.inlineSuggestions = append(st.inlineSuggestions, m.Items...)
		}
	}
}

// speak counts a completed sentence and submits it for audio.
func (o *Orchestrator) speak(ctx context.Context, st *stream, sentence string) {
	if sentence == "" {
		return
	}
	st.sentences++
	ev := metrics.NewEvent(metrics.EventSentence, st.id, float64(st.sentences))
	ev.Fields = map[string]any{"text": redact.Preview(sentence, 80)}
	o.observer.RecordEvent(ev)

	if st.session == nil || st.audioOff || !st.session.Alive() {
		return
	}
	h, err := st.session.Submit(ctx, sentence)
	switch {
	case errors.Is(err, speech.ErrNothingToSay):
	case err != nil:
		// The session reports its own death through speechErr.
		st.log.Debug("sentence not submitted", "error", err)
	default:
		st.log.Debug("sentence submitted", "sentence", h.Index, "from_cache", h.FromCache)
	}
}

// forwardAudio writes every audio chunk that is ready, in sentence order.
func (o *Orchestrator) forwardAudio(st *stream) {
	if st.session == nil {
		return
	}
	for _, c := range st.session.Drain() {
		if len(c.Data) == 0 {
			continue
		}
		if st.firstAudio.IsZero() {
			st.firstAudio = time.Now()
			o.record(st, metrics.EventFirstAudio, millisSince(st.started, st.firstAudio))
		}
		st.chunks++
		ok := st.ch.Send(sse.EventAudio, sse.AudioPayload{
			Chunk:     base64.StdEncoding.EncodeToString(c.Data),
			Sequence:  st.chunks,
			Sentence:  c.Sentence,
			Final:     c.Last,
			FromCache: c.FromCache,
		})
		if !ok {
			return
		}
		o.record(st, metrics.EventAudioChunk, float64(len(c.Data)))
	}
}

func (o *Orchestrator) openSpeech(ctx context.Context, st *stream) {
	if o.synth == nil {
		st.audioOff = true
		st.ch.Send(sse.EventWarning, sse.WarningPayload{Message: "audio is not available", Code: string(errorsx.ReasonSpeechConnect)})
		return
	}
	st.speechErr = make(chan error, 1)
	sess, err := o.synth.Open(ctx, speech.OpenOptions{
		StreamID: st.id,
		Language: st.opts.Language,
		Gender:   st.opts.Gender,
		OnError: func(err error) {
			select {
			case st.speechErr <- err:
			default:
			}
		},
	})
	if err != nil {
		st.audioOff = true
		reason := errorsx.Reason(err)
		if reason == errorsx.ReasonSpeechCircuitOpen {
			o.record(st, metrics.EventBreakerDenied, 1)
		}
		st.log.Warn("speech unavailable, continuing with text only",
			"reason_code", string(reason), "error", err)
		o.agg.RecordWarning(st.id, string(reason), err)
		st.ch.Send(sse.EventWarning, sse.WarningPayload{Message: "audio is temporarily unavailable", Code: string(reason)})
		return
	}
	st.session = sess
	o.record(st, metrics.EventSpeechOpen, 1)
	st.ch.Send(sse.EventStatus, sse.StatusPayload{Message: "audio enabled"})
}

// degradeSpeech turns audio off after the session died. Audio already
// complete keeps flowing; the rest of the stream is text only.
func (o *Orchestrator) degradeSpeech(st *stream, err error) {
	if st.audioOff {
		return
	}
	st.audioOff = true
	reason := errorsx.Reason(err)
	st.log.Warn("speech failed, continuing with text only", "reason_code", string(reason), "error", err)
	o.agg.RecordWarning(st.id, string(reason), err)
	o.forwardAudio(st)
	st.ch.Send(sse.EventWarning, sse.WarningPayload{Message: "audio interrupted, continuing with text only", Code: string(reason)})
	st.ch.Send(sse.EventStatus, sse.StatusPayload{Message: "audio disabled"})
}

// finish flushes what is buffered, waits for outstanding audio, then
// reports completion.
func (o *Orchestrator) finish(ctx context.Context, st *stream) {
	if st.markers != nil {
		rest, found := st.markers.Flush()
		o.applyMarkers(st, found)
		if rest != "" {
			st.text.WriteString(rest)
			st.ch.Send(sse.EventText, sse.TextPayload{Content: rest})
			st.detector.AddUnit(rest)
		}
	}
	o.speak(ctx, st, st.detector.Flush())
	o.drainAudio(ctx, st)
	// A session that died while its handles were being drained has its
	// error waiting here.
	select {
	case serr := <-st.speechErr:
		o.degradeSpeech(st, serr)
	default:
	}

	if !st.ch.IsAlive() {
		o.abort(st, nil)
		return
	}

	items := st.inlineSuggestions
	if st.haveUnitSuggest {
		items = st.unitSuggestions
	}
	if final := FinalizeSuggestions(items, o.cfg.MaxSuggestions); len(final) > 0 {
		st.ch.Send(sse.EventSuggestions, sse.SuggestionsPayload{Items: final, Count: len(final)})
	}

	elapsed := time.Since(st.started)
	words := len(strings.Fields(st.text.String()))
	st.ch.Send(sse.EventComplete, sse.CompletePayload{
		Success:           true,
		Duration:          elapsed.Milliseconds(),
		WordCount:         words,
		SentenceCount:     st.sentences,
		AudioChunks:       st.chunks,
		FirstTokenLatency: latency(st.started, st.firstToken),
		FirstAudioLatency: latency(st.started, st.firstAudio),
	})
	stats := metrics.StreamStats{
		SessionID:     st.id,
		ClientID:      st.clientID,
		Duration:      elapsed,
		WordCount:     words,
		Tokens:        st.tokens,
		Sentences:     st.sentences,
		AudioChunks:   st.chunks,
		ResponseBytes: st.ch.BytesSent(),
	}
	if !st.firstToken.IsZero() {
		stats.FirstTokenLatency = st.firstToken.Sub(st.started)
	}
	if !st.firstAudio.IsZero() {
		stats.FirstAudioLatency = st.firstAudio.Sub(st.started)
	}
	st.ch.Close(CloseComplete)
	o.agg.RecordSuccess(stats)
	st.log.Info("stream complete",
		"duration_ms", elapsed.Milliseconds(),
		"tokens", st.tokens,
		"sentences", st.sentences,
		"audio_chunks", st.chunks)
}

// drainAudio forwards audio for sentences already submitted, bounded by
// the drain timeout.
func (o *Orchestrator) drainAudio(ctx context.Context, st *stream) {
	if st.session == nil {
		return
	}
	o.forwardAudio(st)
	if st.audioOff || st.session.Pending() == 0 {
		return
	}
	timer := time.NewTimer(o.cfg.AudioDrainTimeout)
	defer timer.Stop()
	for st.session.Pending() > 0 && !st.audioOff {
		select {
		case <-st.session.Ready():
			o.forwardAudio(st)
		case serr := <-st.speechErr:
			o.degradeSpeech(st, serr)
		case <-timer.C:
			missing := st.session.Pending()
			st.log.Warn("audio drain timed out", "pending_sentences", missing)
			o.agg.RecordWarning(st.id, string(errorsx.ReasonSpeechTimeout), errors.New("audio drain timed out"))
			st.ch.Send(sse.EventWarning, sse.WarningPayload{Message: "some audio could not be delivered in time", Code: string(errorsx.ReasonSpeechTimeout)})
			return
		case <-st.ch.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// fail reports a generator failure to the client and to metrics.
func (o *Orchestrator) fail(st *stream, err error) {
	st.log.Error("stream failed", "reason_code", string(errorsx.Reason(err)), "error", err)
	st.ch.Send(sse.EventError, sse.ErrorPayload{Message: redact.Text(err.Error()), CanRetry: true})
	st.ch.Close(CloseError)
	o.agg.RecordStreamError(st.id, string(errorsx.Reason(err)), err)
}

// abort handles a stream whose client went away or whose context ended.
// Nothing is sent to a departed client.
func (o *Orchestrator) abort(st *stream, cause error) {
	if cause != nil && st.ch.IsAlive() {
		st.ch.Close(CloseCanceled)
	}
	st.log.Info("stream aborted", "cause", errString(cause), "tokens", st.tokens)
	o.agg.RecordAborted(st.id)
}

// cleanup releases everything the stream holds. It runs exactly once per
// Stream call, whatever the outcome.
func (o *Orchestrator) cleanup(ctx context.Context, st *stream, gen Generator) {
	if err := closeGenerator(gen); err != nil {
		st.log.Debug("generator close failed", "error", err)
	}
	if st.session != nil {
		st.session.Close(context.WithoutCancel(ctx))
	}
	st.detector.Reset()
	if st.markers != nil {
		st.markers.Reset()
	}
	o.registry.Remove(st.id)
	o.agg.UpdateActiveCount(int(o.registry.Count()))
}

func (o *Orchestrator) record(st *stream, name string, value float64) {
	ev := metrics.NewEvent(name, st.id, value)
	if st.clientID != "" {
		ev.Tags[metrics.TagClientID] = st.clientID
	}
	o.observer.RecordEvent(ev)
}

func millisSince(start, t time.Time) float64 {
	return float64(t.Sub(start)) / float64(time.Millisecond)
}

func latency(start, t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.Sub(start).Milliseconds()
	return &ms
}

func errString(err error) string {
	if err == nil {
		return "peer_disconnected"
	}
	return err.Error()
}
