// Package session runs one WebSocket connection from raw client audio to
// spoken replies.
//
// A [Controller] owns the per-connection state: the pending byte remainder,
// the voice activity machine and the utterance accumulator. Frames are
// processed strictly in order and turns are strictly serial: the pipeline
// for turn N finishes, and its results are sent, before any frame of turn
// N+1 is looked at. A disconnect cancels the in-flight turn and discards
// anything not yet flushed. Delivered turns are recorded on a separate
// goroutine and outlive the connection.
//
// [Handler] upgrades HTTP requests to WebSocket connections and runs a
// controller for each, registered with a [Manager].
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voiceturn/internal/activity"
	"github.com/MrWong99/voiceturn/internal/pipeline"
	"github.com/MrWong99/voiceturn/internal/utterance"
	"github.com/MrWong99/voiceturn/pkg/audio"
	"github.com/MrWong99/voiceturn/pkg/provider/vad"
)

const (
	// DefaultQueueSize bounds the messages read ahead of processing.
	DefaultQueueSize = 64

	// DefaultSilenceDuration is the trailing silence that completes a turn.
	DefaultSilenceDuration = 1500 * time.Millisecond

	// DefaultRecordTimeout bounds a single Recorder call.
	DefaultRecordTimeout = 10 * time.Second
)

// errPeerClosed ends the read loop when the client goes away cleanly. It is
// an error so the errgroup cancels processing.
var errPeerClosed = errors.New("session: peer closed connection")

// Transport is the message-oriented connection a controller talks over.
// [*websocket.Conn] satisfies it.
type Transport interface {
	Read(ctx context.Context) (websocket.MessageType, []byte, error)
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
}

var _ Transport = (*websocket.Conn)(nil)

// Processor turns a completed utterance into pipeline results.
// [*pipeline.Orchestrator] satisfies it.
type Processor interface {
	Process(ctx context.Context, turn utterance.Turn) pipeline.Result
}

var _ Processor = (*pipeline.Orchestrator)(nil)

// Recorder persists finished turns.
type Recorder interface {
	Record(ctx context.Context, sessionID string, turn utterance.Turn, res pipeline.Result) error
}

// Config holds the per-connection audio and turn-taking parameters. Zero
// fields fall back to defaults.
type Config struct {
	Format          audio.Format
	Activity        activity.Config
	SilenceDuration time.Duration
	QueueSize       int
	RecordTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Format.SampleRate <= 0 {
		c.Format.SampleRate = audio.DefaultSampleRate
	}
	if c.Format.FrameMs <= 0 {
		c.Format.FrameMs = audio.DefaultFrameMs
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = DefaultSilenceDuration
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.RecordTimeout <= 0 {
		c.RecordTimeout = DefaultRecordTimeout
	}
	return c
}

// VADConfig describes the frames a controller with this config feeds its
// classifier. The decision threshold is left to the engine, which takes it
// from its provider options.
func (c Config) VADConfig() vad.Config {
	c = c.withDefaults()
	return vad.Config{
		SampleRate:  c.Format.SampleRate,
		FrameSizeMs: c.Format.FrameMs,
	}
}

// Controller drives one connection. Create it with [NewController] and call
// [Controller.Run] once.
type Controller struct {
	id        string
	cfg       Config
	transport Transport
	processor Processor
	recorder  Recorder
	logger    *slog.Logger

	// Owned by the processing goroutine.
	machine  *activity.Machine
	acc      *utterance.Accumulator
	pending  []byte
	reported bool

	// records feeds the recording goroutine. Nil without a recorder.
	records chan record
}

// record is a delivered turn waiting to be persisted.
type record struct {
	turn utterance.Turn
	res  pipeline.Result
}

// Option configures a Controller.
type Option func(*Controller)

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(c *Controller) { c.id = id }
}

// WithRecorder hands every processed turn to r.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithLogger sets the base logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// NewController creates a controller reading audio from t, classifying
// frames with classifier and handing turns to p.
func NewController(t Transport, classifier vad.Classifier, p Processor, cfg Config, opts ...Option) (*Controller, error) {
	if t == nil {
		return nil, errors.New("session: transport must not be nil")
	}
	if classifier == nil {
		return nil, errors.New("session: classifier must not be nil")
	}
	if p == nil {
		return nil, errors.New("session: processor must not be nil")
	}
	c := &Controller{
		cfg:       cfg.withDefaults(),
		transport: t,
		processor: p,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	c.logger = c.logger.With("session_id", c.id)
	c.machine = activity.New(classifier, c.cfg.Activity, activity.WithLogger(c.logger))
	c.acc = utterance.New(c.cfg.Format, c.cfg.SilenceDuration)
	return c, nil
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Run reads and processes messages until the peer disconnects, a write
// fails or ctx is cancelled. A clean close by the peer returns nil.
// Unflushed audio is discarded in every case. Run returns after queued turn
// records are written.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info("session: started", "frame_ms", c.cfg.Format.FrameMs, "flush_after", c.acc.FlushAfter())

	recorded := make(chan struct{})
	if c.recorder != nil {
		c.records = make(chan record, c.cfg.QueueSize)
		go c.recordLoop(context.WithoutCancel(ctx), recorded)
	} else {
		close(recorded)
	}

	queue := make(chan []byte, c.cfg.QueueSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.readLoop(gctx, queue) })
	g.Go(func() error { return c.processLoop(gctx, queue) })
	err := g.Wait()

	// Turns already delivered to the client are still persisted.
	if c.records != nil {
		close(c.records)
	}
	<-recorded

	if n := c.acc.Len(); n > 0 {
		c.logger.Debug("session: discarding unflushed audio", "bytes", n)
	}
	c.acc.Reset()
	c.machine.Reset()
	c.pending = nil

	if errors.Is(err, errPeerClosed) {
		c.logger.Info("session: closed by peer")
		return nil
	}
	c.logger.Info("session: ended", "err", err)
	return err
}

// readLoop never closes queue: the processing loop stops on cancellation
// only, so nothing queued after a disconnect is processed.
func (c *Controller) readLoop(ctx context.Context, queue chan<- []byte) error {
	for {
		typ, data, err := c.transport.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if isPeerClose(err) {
				return errPeerClosed
			}
			return fmt.Errorf("session: read: %w", err)
		}
		if typ != websocket.MessageBinary {
			c.logger.Debug("session: ignoring text message", "bytes", len(data))
			continue
		}
		if len(data) == 0 {
			c.logger.Warn("session: rejected empty audio message")
			continue
		}
		select {
		case queue <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Controller) processLoop(ctx context.Context, queue <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-queue:
			if err := c.handleAudio(ctx, data); err != nil {
				return err
			}
		}
	}
}

// handleAudio runs one client message through the frame codec, the activity
// machine and the accumulator. A flushed turn is processed before
// handleAudio returns, so later frames wait for it.
func (c *Controller) handleAudio(ctx context.Context, data []byte) error {
	pcm, enc := audio.Normalize(data)
	if enc == audio.EncodingFloat32 {
		c.logger.Debug("session: float32 audio converted", "bytes", len(data))
	}
	buf := append(c.pending, pcm...)
	frames, rest := c.cfg.Format.Split(buf)

	for frame := range frames {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.handleFrame(ctx, frame); err != nil {
			return err
		}
	}
	// rest aliases the whole message; keep only the tail.
	c.pending = append([]byte(nil), rest...)
	return nil
}

func (c *Controller) handleFrame(ctx context.Context, frame []byte) error {
	res := c.machine.Process(frame)
	if res.Transition == activity.Started && !c.reported {
		c.reported = true
		if err := c.sendJSON(ctx, vadMessage(StatusActive)); err != nil {
			return err
		}
	}

	if res.Speech {
		c.acc.OnVoiceActive(frame)
		return nil
	}
	turn, ok := c.acc.OnSilence(frame)
	if !ok {
		return nil
	}
	// The flush can come before the machine releases speech. Each turn
	// starts from not-speaking so the next one reports active again.
	c.machine.Reset()
	return c.handleTurn(ctx, turn)
}

func (c *Controller) handleTurn(ctx context.Context, turn utterance.Turn) error {
	log := c.logger.With("turn_id", turn.ID)
	log.Debug("session: utterance flushed", "frames", turn.Frames, "duration", turn.Duration())

	if c.reported {
		c.reported = false
		if err := c.sendJSON(ctx, vadMessage(StatusInactive)); err != nil {
			return err
		}
	}

	res := c.processor.Process(ctx, turn)
	if ctx.Err() != nil {
		log.Debug("session: dropping results of cancelled turn")
		return ctx.Err()
	}

	if res.HasTranscript() {
		if err := c.sendJSON(ctx, Message{Type: TypeTranscription, Text: res.Transcript}); err != nil {
			return err
		}
	}
	if res.HasReply() {
		if err := c.sendJSON(ctx, Message{Type: TypeChatResponse, Text: res.Reply}); err != nil {
			return err
		}
	}
	if res.HasAudio() {
		if err := c.transport.Write(ctx, websocket.MessageBinary, res.Audio); err != nil {
			return fmt.Errorf("session: write audio: %w", err)
		}
	}
	log.Info("session: turn done", "outcome", res.Outcome())

	c.enqueueRecord(turn, res)
	return nil
}

// enqueueRecord hands a turn to the recording goroutine without waiting.
// A turn is dropped when the recorder is too far behind.
func (c *Controller) enqueueRecord(turn utterance.Turn, res pipeline.Result) {
	if c.records == nil || !res.HasTranscript() {
		return
	}
	select {
	case c.records <- record{turn: turn, res: res}:
	default:
		c.logger.Warn("session: recorder backlog full, turn not recorded", "turn_id", turn.ID)
	}
}

// recordLoop persists queued turns until records is closed. ctx is detached
// from the connection, so each write is bounded by RecordTimeout only.
func (c *Controller) recordLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	for r := range c.records {
		rctx, cancel := context.WithTimeout(ctx, c.cfg.RecordTimeout)
		if err := c.recorder.Record(rctx, c.id, r.turn, r.res); err != nil {
			c.logger.Warn("session: failed to record turn", "turn_id", r.turn.ID, "err", err)
		}
		cancel()
	}
}

func (c *Controller) sendJSON(ctx context.Context, m Message) error {
	data, err := m.encode()
	if err != nil {
		return fmt.Errorf("session: encode %s message: %w", m.Type, err)
	}
	if err := c.transport.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("session: write %s message: %w", m.Type, err)
	}
	return nil
}

func isPeerClose(err error) bool {
	if errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return false
}
