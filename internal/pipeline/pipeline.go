package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/redglass/livebridge/internal/capture"
	"github.com/redglass/livebridge/internal/observe"
	"github.com/redglass/livebridge/pkg/media"
	"github.com/redglass/livebridge/pkg/provider/live"
	"github.com/redglass/livebridge/pkg/stream"
)

// DefaultQueueCapacity bounds the outbound queue so stale media is dropped
// by backpressure instead of piling up behind a slow connection.
const DefaultQueueCapacity = 5

// State is the lifecycle phase of a [Pipeline].
type State int32

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateStopping
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateStarting:
		return "STARTING"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	default:
		return "UNKNOWN"
	}
}

// Message is one user turn submitted to a running pipeline. Frame, when set,
// is sent as realtime input ahead of the text.
type Message struct {
	Text  string
	Frame *media.MediaFrame
}

// Config holds everything a pipeline run needs. Provider, Messages, and
// Sink are required; Mic, Speaker, and Video are each optional.
type Config struct {
	Provider live.Provider
	Session  live.SessionConfig

	// Messages is the primary intake. Closing it ends the run.
	Messages <-chan Message

	Sink    Sink
	Mic     capture.AudioDevice
	Speaker capture.AudioOutput
	Video   capture.Source

	// QueueCapacity bounds the outbound queue. Default [DefaultQueueCapacity].
	QueueCapacity int

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Pipeline drives one conversation at a time. A pipeline can be reused for
// consecutive runs but never concurrent ones.
type Pipeline struct {
	cfg Config
	log *slog.Logger
	met *observe.Metrics

	state atomic.Int32

	mu       sync.Mutex
	playback *stream.PlaybackQueue[[]byte]
	cancel   context.CancelFunc
}

// New validates the config and builds a pipeline in the idle state.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("pipeline: provider is required")
	}
	if cfg.Messages == nil {
		return nil, fmt.Errorf("pipeline: message channel is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("pipeline: sink is required")
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultQueueCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	return &Pipeline{cfg: cfg, log: cfg.Logger, met: cfg.Metrics}, nil
}

// State reports the current lifecycle phase.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// Run connects a live session and pumps it until the message channel closes,
// the context is cancelled, or a task fails. Cancellation is a clean ending:
// Run returns nil for it.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) {
		return fmt.Errorf("pipeline: cannot start while %s", p.State())
	}
	defer p.state.Store(int32(StateIdle))

	sess, err := p.cfg.Provider.Connect(ctx, p.cfg.Session)
	if err != nil {
		return fmt.Errorf("pipeline: connect session: %w", err)
	}
	defer sess.Close()

	out := stream.NewBounded[media.OutboundItem](p.cfg.QueueCapacity)
	playback := stream.NewPlaybackQueue[[]byte]()

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	p.mu.Lock()
	p.playback = playback
	p.cancel = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.playback = nil
		p.cancel = nil
		p.mu.Unlock()
	}()

	transcoder := NewTranscoder(sess)
	p.state.Store(int32(StateRunning))
	p.log.Info("pipeline running",
		"model", p.cfg.Session.Model,
		"video", p.videoName(),
		"mic", p.cfg.Mic != nil,
		"queue_capacity", p.cfg.QueueCapacity)

	g.Go(func() error { return p.intake(runCtx, cancel, sess) })
	g.Go(func() error { return p.sendRealtime(runCtx, out, transcoder) })
	g.Go(func() error { return p.receive(runCtx, cancel, sess, playback) })
	if p.cfg.Mic != nil {
		rate := p.cfg.Session.SendSampleRate
		if rate == 0 {
			rate = live.SendSampleRate
		}
		g.Go(func() error {
			return p.runSource(runCtx, capture.NewMicSource(p.cfg.Mic, rate), out)
		})
	}
	if p.cfg.Video != nil {
		g.Go(func() error { return p.runSource(runCtx, p.cfg.Video, out) })
	}
	if p.cfg.Speaker != nil {
		g.Go(func() error { return p.playAudio(runCtx, playback) })
	}

	err = g.Wait()
	p.state.Store(int32(StateStopping))
	playback.Close()
	out.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		p.log.Error("pipeline failed", "error", err)
		return err
	}
	p.log.Info("pipeline stopped")
	return nil
}

// Stop requests a cooperative shutdown of the current run. It returns
// immediately; Run unwinds and returns on its own goroutine.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		return fmt.Errorf("pipeline: not running")
	}
	cancel()
	return nil
}

// Interrupt discards all queued, unplayed audio and reports how many chunks
// were dropped. A no-op outside a run.
func (p *Pipeline) Interrupt() int {
	p.mu.Lock()
	playback := p.playback
	p.mu.Unlock()
	if playback == nil {
		return 0
	}
	dropped := playback.Drain()
	p.met.RecordInterrupt(context.Background(), dropped)
	p.log.Info("playback interrupted", "discarded", dropped)
	return dropped
}

// intake forwards user messages to the session. The message channel closing
// is the normal end of a run: intake cancels the whole group on the way out.
func (p *Pipeline) intake(ctx context.Context, cancel context.CancelFunc, sess live.Session) error {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-p.cfg.Messages:
			if !ok {
				p.log.Debug("message intake closed")
				return nil
			}
			if msg.Frame != nil {
				if err := sess.SendMedia(msg.Frame.MIMEType, msg.Frame.Data); err != nil {
					return fmt.Errorf("send message frame: %w", err)
				}
			}
			text := msg.Text
			if text == "" {
				text = "."
			}
			if err := sess.SendText(text, true); err != nil {
				return fmt.Errorf("send message text: %w", err)
			}
		}
	}
}

// sendRealtime moves items from the outbound queue onto the session.
func (p *Pipeline) sendRealtime(ctx context.Context, out *stream.Bounded[media.OutboundItem], tr *Transcoder) error {
	for {
		item, err := out.Get(ctx)
		if err != nil {
			if errors.Is(err, stream.ErrClosed) {
				return nil
			}
			return err
		}
		if err := tr.Send(item); err != nil {
			return fmt.Errorf("send realtime input: %w", err)
		}
		p.met.OutboundQueueDepth.Record(ctx, int64(out.Len()))
	}
}

// runSource drives one capture source into the outbound queue. Device
// failures end the source, not the conversation.
func (p *Pipeline) runSource(ctx context.Context, src capture.Source, out *stream.Bounded[media.OutboundItem]) error {
	emit := func(ctx context.Context, item media.OutboundItem) error {
		if err := out.Put(ctx, item); err != nil {
			return err
		}
		switch item.(type) {
		case media.AudioChunk:
			p.met.AudioChunksSent.Add(ctx, 1)
		case media.MediaFrame:
			p.met.RecordFrame(ctx, src.Name())
		}
		return nil
	}
	err := src.Run(ctx, emit)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, stream.ErrClosed) {
		p.log.Error("capture source failed", "source", src.Name(), "error", err)
	}
	return nil
}

// receive consumes session events: audio goes to playback and the sink,
// text to the sink, and a completed turn drains whatever audio the turn
// left unplayed. The event channel closing ends the run.
func (p *Pipeline) receive(ctx context.Context, cancel context.CancelFunc, sess live.Session, playback *stream.PlaybackQueue[[]byte]) error {
	defer cancel()
	events := sess.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				if err := sess.Err(); err != nil {
					return fmt.Errorf("session ended: %w", err)
				}
				p.log.Debug("session ended cleanly")
				return nil
			}
			p.met.RecordSessionEvent(ctx, ev.Kind.String())
			switch ev.Kind {
			case live.EventAudio:
				_ = playback.Enqueue(ev.Data)
				p.cfg.Sink.Audio(ev.Data)
			case live.EventText:
				p.cfg.Sink.Text(ev.Text)
			case live.EventTurnComplete:
				if dropped := playback.Drain(); dropped > 0 {
					p.met.RecordInterrupt(ctx, dropped)
					p.log.Debug("discarded unplayed audio", "chunks", dropped)
				}
				p.met.TurnsCompleted.Add(ctx, 1)
				p.cfg.Sink.TurnComplete()
			}
		}
	}
}

// playAudio writes playback chunks to the audio output. The output device is
// closed when the task ends, mirroring how capture sources own their devices.
func (p *Pipeline) playAudio(ctx context.Context, playback *stream.PlaybackQueue[[]byte]) error {
	defer p.cfg.Speaker.Close()
	for {
		data, err := playback.Next(ctx)
		if err != nil {
			if errors.Is(err, stream.ErrClosed) {
				return nil
			}
			return err
		}
		if err := p.cfg.Speaker.Write(data); err != nil {
			p.log.Error("audio output write failed", "error", err)
			return nil
		}
	}
}

func (p *Pipeline) videoName() string {
	if p.cfg.Video == nil {
		return "none"
	}
	return p.cfg.Video.Name()
}
