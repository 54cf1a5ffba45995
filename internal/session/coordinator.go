// Package session runs the per-connection turn state machine: it buffers
// audio until end-of-speech, then transcribes, routes and streams the reply.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/satriahrh/voicegate/domain"
	"github.com/satriahrh/voicegate/domain/entities"
	"github.com/satriahrh/voicegate/domain/repositories"
	"github.com/satriahrh/voicegate/internal/audio"
	"github.com/satriahrh/voicegate/internal/metrics"
	"github.com/satriahrh/voicegate/internal/response"
	"github.com/satriahrh/voicegate/internal/router"
	"github.com/satriahrh/voicegate/internal/transcription"
)

const (
	tracerName     = "github.com/satriahrh/voicegate/internal/session"
	apologyTimeout = 5 * time.Second
	// drainTimeout bounds how long Close waits for queued events.
	drainTimeout = 2 * time.Second
)

// Config holds per-session settings.
type Config struct {
	Audio audio.Config `yaml:"audio"`
	// TurnTimeout bounds a turn from start to the last chunk. Zero disables it.
	TurnTimeout time.Duration `yaml:"turn_timeout"`
	// FrameQueue is how many converted frames may wait for the transcriber.
	FrameQueue int `yaml:"frame_queue"`
}

func DefaultConfig() Config {
	return Config{
		Audio:       audio.DefaultConfig(),
		TurnTimeout: 2 * time.Minute,
		FrameQueue:  512,
	}
}

func (c Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return err
	}
	if c.TurnTimeout < 0 {
		return fmt.Errorf("turn timeout must not be negative, got %v", c.TurnTimeout)
	}
	if c.FrameQueue < 1 {
		return fmt.Errorf("frame queue must be positive, got %d", c.FrameQueue)
	}
	return nil
}

// Pipeline is the set of stages a turn runs through. The stages are
// stateless and may be shared by every session.
type Pipeline struct {
	Stage    *transcription.Stage
	Router   *router.Router
	Streamer *response.Streamer
}

// Option customizes a Coordinator.
type Option func(*Coordinator)

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithTracerProvider overrides the global otel tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Coordinator) { c.tracer = tp.Tracer(tracerName) }
}

// Coordinator owns one session. Its methods are called from the transport
// receive path and never block on a backend or on the client; events are
// queued and delivered in order by an outbox. The turn itself runs in a
// separate goroutine that is tagged with a turn id, so a turn that was
// stopped can no longer change state or history.
type Coordinator struct {
	pipeline Pipeline
	sink     Sink
	out      *outbox
	cfg      Config
	metrics  *metrics.Collector
	tracer   trace.Tracer
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed sync.Once

	mu         sync.Mutex
	session    *entities.Session
	buffer     *audio.FrameBuffer
	state      entities.SessionState
	turnID     uint64
	cancelTurn context.CancelFunc
	frames     chan entities.AudioFrame
}

// NewCoordinator creates an idle coordinator for session. Cancelling ctx
// closes the session.
func NewCoordinator(ctx context.Context, session *entities.Session, pipeline Pipeline, sink Sink, cfg Config, logger *zap.Logger, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(ctx)
	c := &Coordinator{
		pipeline: pipeline,
		sink:     sink,
		cfg:      cfg,
		tracer:   otel.Tracer(tracerName),
		logger: logger.With(
			zap.String("sessionID", session.ID),
			zap.String("deviceID", session.DeviceID)),
		ctx:     ctx,
		cancel:  cancel,
		session: session,
		buffer:  audio.NewFrameBuffer(cfg.Audio),
		state:   entities.StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.out = newOutbox(sink, c.logger)
	session.State = entities.StateIdle
	c.metrics.SessionOpened()
	return c
}

// Start begins listening for a new turn with audio in format.
func (c *Coordinator) Start(format entities.Format) error {
	if err := format.Validate(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case entities.StateClosed:
		return domain.ErrTransportClosed
	case entities.StateIdle:
	default:
		return fmt.Errorf("%w: start while %s", domain.ErrMalformedInput, c.state)
	}

	c.session.Format = format
	c.session.Touch()
	// Frames left over from the previous turn are discarded here.
	c.buffer.Reset()
	c.turnID++
	id := c.turnID

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.cfg.TurnTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, c.cfg.TurnTimeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	c.cancelTurn = cancel
	c.frames = make(chan entities.AudioFrame, c.cfg.FrameQueue)
	c.transitionLocked(entities.StateListening)

	c.wg.Add(1)
	go c.runTurn(ctx, id, c.frames)
	return nil
}

// PushAudio feeds one client frame into the current turn. Frames outside
// Listening are dropped.
func (c *Coordinator) PushAudio(frame entities.AudioFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case entities.StateClosed:
		return domain.ErrTransportClosed
	case entities.StateListening:
	case entities.StateIdle:
		c.metrics.FrameDropped("idle")
		return fmt.Errorf("%w: audio before start", domain.ErrMalformedInput)
	default:
		c.metrics.FrameDropped("after_end_of_speech")
		return nil
	}

	c.session.Touch()
	detected, err := c.buffer.Push(frame)
	if err != nil {
		c.metrics.FrameDropped("malformed")
		return err
	}
	converted, err := c.buffer.Drain()
	if err != nil {
		c.metrics.FrameDropped("malformed")
		return fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}
	for _, f := range converted {
		select {
		case c.frames <- f:
		default:
			c.metrics.FrameDropped("backpressure")
			c.logger.Warn("Transcriber is falling behind, dropping frame", zap.Uint32("seq", f.Seq))
		}
	}
	if detected {
		c.endOfSpeechLocked("silence")
	}
	return nil
}

// EndOfSpeech ends listening on the client's request. It is ignored outside
// Listening.
func (c *Coordinator) EndOfSpeech() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case entities.StateClosed:
		return domain.ErrTransportClosed
	case entities.StateListening:
		c.endOfSpeechLocked("client")
	default:
		c.logger.Debug("Ignoring end_of_speech", zap.String("state", string(c.state)))
	}
	return nil
}

// Stop cancels the turn in flight and returns to Idle. Stopping an idle
// session does nothing.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case entities.StateClosed:
		return domain.ErrTransportClosed
	case entities.StateIdle:
		return nil
	}

	c.turnID++
	if c.cancelTurn != nil {
		c.cancelTurn()
		c.cancelTurn = nil
	}
	c.transitionLocked(entities.StateIdle)
	c.metrics.RecordTurn("cancelled")
	c.logger.Info("Turn stopped by client")
	return nil
}

// Close cancels everything and waits for the turn goroutine to exit. It is
// safe to call more than once.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.state != entities.StateClosed {
		c.turnID++
		c.setStateLocked(entities.StateClosed)
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
	c.out.close(drainTimeout)
	c.closed.Do(func() {
		c.metrics.SessionClosed()
		c.logger.Info("Session closed")
	})
}

// Done is closed once the session is closed, including when the coordinator
// closes itself after a fatal error.
func (c *Coordinator) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *Coordinator) SessionID() string {
	return c.session.ID
}

func (c *Coordinator) State() entities.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Format is the wire format of the current or last turn.
func (c *Coordinator) Format() entities.Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Format
}

func (c *Coordinator) History() []entities.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.History()
}

func (c *Coordinator) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.LastActiveAt
}

func (c *Coordinator) endOfSpeechLocked(reason string) {
	close(c.frames)
	c.transitionLocked(entities.StateTranscribing)
	c.notifyLocked(Event{Type: EventProcessingSpeech})
	c.logger.Debug("End of speech", zap.String("reason", reason))
}

func (c *Coordinator) transitionLocked(to entities.SessionState) bool {
	from := c.state
	if !CanTransition(from, to) {
		c.logger.Error("Invalid state transition",
			zap.String("from", string(from)),
			zap.String("to", string(to)))
		return false
	}
	c.setStateLocked(to)
	c.notifyLocked(Event{Type: EventState, State: to})
	return true
}

func (c *Coordinator) setStateLocked(to entities.SessionState) {
	from := c.state
	c.state = to
	c.session.State = to
	c.metrics.RecordTransition(string(from), string(to))
	c.logger.Debug("State changed",
		zap.String("from", string(from)),
		zap.String("state", string(to)))
}

func (c *Coordinator) notifyLocked(ev Event) {
	ev.SessionID = c.session.ID
	c.out.push(ev)
}

// sendChunk delivers chunk after every event queued before it.
func (c *Coordinator) sendChunk(ctx context.Context, chunk entities.ResponseChunk) error {
	if err := c.out.flush(ctx); err != nil {
		return err
	}
	return c.sink.SendChunk(ctx, chunk)
}

// emit sends ev only if turn id is still the current one.
func (c *Coordinator) emit(id uint64, ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != c.turnID {
		return
	}
	c.notifyLocked(ev)
}

func (c *Coordinator) current(id uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return id == c.turnID
}

// advance moves a current turn from one state to the next.
func (c *Coordinator) advance(id uint64, from, to entities.SessionState) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != c.turnID || c.state != from {
		return false
	}
	return c.transitionLocked(to)
}

func (c *Coordinator) endTurnLocked(outcome string) {
	c.transitionLocked(entities.StateIdle)
	if c.cancelTurn != nil {
		c.cancelTurn()
		c.cancelTurn = nil
	}
	c.metrics.RecordTurn(outcome)
}

func (c *Coordinator) runTurn(ctx context.Context, id uint64, frames <-chan entities.AudioFrame) {
	defer c.wg.Done()

	ctx, span := c.tracer.Start(ctx, "session.turn",
		trace.WithAttributes(attribute.String("session.id", c.session.ID)))
	defer span.End()

	final, err := c.transcribe(ctx, id, frames)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.fail(id, "transcription", err, nil, 0)
		return
	}

	history, ok := c.commitTranscript(id, final)
	if !ok {
		return
	}

	_, routeSpan := c.tracer.Start(ctx, "session.route")
	label := c.pipeline.Router.Route(final, history)
	responder, err := c.pipeline.Router.Dispatch(label)
	label = c.pipeline.Router.Resolve(label)
	routeSpan.SetAttributes(attribute.String("intent.label", string(label)))
	routeSpan.End()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		c.fatal(id, err)
		return
	}
	c.metrics.RecordIntent(string(label))
	c.logger.Info("Routed turn", zap.Uint64("turn", id), zap.String("label", string(label)))

	if !c.advance(id, entities.StateRouting, entities.StateResponding) {
		return
	}

	text, sent, err := c.respond(ctx, id, responder, final, history)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if !c.recordReply(id, label, text, false) {
			return
		}
		c.fail(id, "response", err, responder, sent)
		return
	}
	c.recordReply(id, label, text, true)
}

func (c *Coordinator) transcribe(ctx context.Context, id uint64, frames <-chan entities.AudioFrame) (entities.Transcript, error) {
	ctx, span := c.tracer.Start(ctx, "session.transcribe")
	defer span.End()
	started := time.Now()

	run := c.pipeline.Stage.Transcribe(ctx, frames)
	var (
		final entities.Transcript
		got   bool
	)
	for tr := range run.Transcripts() {
		if tr.Final {
			final, got = tr, true
			continue
		}
		c.emit(id, Event{Type: EventTranscription, Text: tr.Text, Confidence: tr.Confidence})
	}
	c.metrics.ObserveStage("transcribe", time.Since(started))

	if err := run.Err(); err != nil {
		span.RecordError(err)
		return final, err
	}
	if !got {
		return final, fmt.Errorf("%w: no final transcript", domain.ErrBackendUnavailable)
	}
	span.SetAttributes(attribute.Int("transcript.runes", len([]rune(final.Text))))
	return final, nil
}

// commitTranscript ends Transcribing. It returns the history before this
// turn and false when the turn is over.
func (c *Coordinator) commitTranscript(id uint64, final entities.Transcript) ([]entities.Turn, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != c.turnID || c.state != entities.StateTranscribing {
		return nil, false
	}

	if final.Text == "" {
		c.notifyLocked(Event{Type: EventNotice, Code: CodeNoSpeech, Text: MessageNoSpeech})
		c.notifyLocked(Event{Type: EventProcessingComplete})
		c.endTurnLocked("no_speech")
		return nil, false
	}

	history := c.session.History()
	c.notifyLocked(Event{Type: EventTranscription, Text: final.Text, Final: true, Confidence: final.Confidence})
	c.session.AppendTurn(entities.SpeakerUser, final.Text)
	c.transitionLocked(entities.StateRouting)
	return history, true
}

func (c *Coordinator) respond(ctx context.Context, id uint64, responder repositories.Responder, final entities.Transcript, history []entities.Turn) (string, int, error) {
	ctx, span := c.tracer.Start(ctx, "session.respond")
	defer span.End()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	started := time.Now()

	stream := c.pipeline.Streamer.Stream(ctx, responder, final, history)
	sent := 0
	for chunk := range stream.Chunks() {
		if ctx.Err() != nil || !c.current(id) {
			cancel()
			continue
		}
		if err := c.sendChunk(ctx, chunk); err != nil {
			c.logger.Debug("Failed to send chunk", zap.Int("seq", chunk.Seq), zap.Error(err))
			cancel()
			continue
		}
		sent++
	}
	c.metrics.ObserveStage("respond", time.Since(started))
	span.SetAttributes(attribute.Int("response.chunks", sent))

	if err := stream.Err(); err != nil {
		span.RecordError(err)
		return stream.Text(), sent, err
	}
	if err := ctx.Err(); err != nil {
		return stream.Text(), sent, err
	}
	return stream.Text(), sent, nil
}

// recordReply appends the assistant turn. A complete reply also finishes the
// turn; a partial one leaves that to fail.
func (c *Coordinator) recordReply(id uint64, label entities.IntentLabel, text string, complete bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id != c.turnID {
		return false
	}
	c.session.AppendTurn(string(label), text)
	if text != "" {
		c.notifyLocked(Event{Type: EventAgentResponse, Text: text, Agent: string(label)})
	}
	if complete {
		c.notifyLocked(Event{Type: EventProcessingComplete})
		c.endTurnLocked("completed")
	}
	return true
}

// fail ends a turn after a stage error. Cancellation by Stop or Close is not
// a failure; the turn is simply abandoned.
func (c *Coordinator) fail(id uint64, stage string, err error, responder repositories.Responder, nextSeq int) {
	if errors.Is(err, context.Canceled) || !c.current(id) {
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: turn timed out: %v", domain.ErrBackendUnavailable, err)
	}

	code, text := CodeTranscriptionFailed, MessageCouldNotHear
	if stage == "response" {
		code, text = CodeResponseFailed, MessageApology
	}
	c.metrics.RecordBackendError(stage)
	c.logger.Warn("Turn failed", zap.Uint64("turn", id), zap.String("stage", stage), zap.Error(err))

	c.emit(id, Event{Type: EventError, Code: code, Text: text})
	c.apologize(id, responder, text, nextSeq)

	c.mu.Lock()
	defer c.mu.Unlock()
	if id != c.turnID {
		return
	}
	c.notifyLocked(Event{Type: EventProcessingComplete})
	c.endTurnLocked("failed")
}

// apologize voices text with responder, or with the default responder when
// nil. It is best effort.
func (c *Coordinator) apologize(id uint64, responder repositories.Responder, text string, seq int) {
	if responder == nil {
		var err error
		responder, err = c.pipeline.Router.Dispatch(c.pipeline.Router.Default())
		if err != nil {
			return
		}
	}
	ctx, cancel := context.WithTimeout(c.ctx, apologyTimeout)
	defer cancel()

	pcm, err := responder.Synthesize(ctx, text)
	if err != nil || len(pcm) == 0 {
		c.logger.Debug("Apology synthesis failed", zap.Error(err))
		return
	}
	if !c.current(id) {
		return
	}
	if err := c.sendChunk(ctx, entities.ResponseChunk{Seq: seq, Audio: pcm}); err != nil {
		c.logger.Debug("Failed to send apology audio", zap.Error(err))
	}
}

// fatal closes the session after a configuration error. The error event is
// delivered before Done fires.
func (c *Coordinator) fatal(id uint64, err error) {
	c.mu.Lock()
	if id != c.turnID {
		c.mu.Unlock()
		return
	}
	c.logger.Error("Routing failed, closing session", zap.Error(err))
	c.notifyLocked(Event{Type: EventError, Code: CodeFatal, Text: MessageApology})
	c.transitionLocked(entities.StateClosed)
	c.turnID++
	c.metrics.RecordTurn("failed")
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	c.out.flush(ctx)
	c.cancel()
}
