package relay

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/redglass/livebridge/internal/capture"
	"github.com/redglass/livebridge/internal/mcp"
	"github.com/redglass/livebridge/internal/observe"
	"github.com/redglass/livebridge/internal/pipeline"
	"github.com/redglass/livebridge/pkg/media"
	"github.com/redglass/livebridge/pkg/provider/live"
)

// maxCommandSize caps one command line. Message commands can carry base64
// images, so be generous.
const maxCommandSize = 10 * 1024 * 1024

// toolHost is what the relay needs from the tool registry. Satisfied by
// [*mcp.Registry]; tests substitute fakes.
type toolHost interface {
	AddServer(ctx context.Context, cfg mcp.ServerConfig) ([]mcp.ToolDescriptor, error)
	RemoveServer(name string) error
	ExecuteTool(ctx context.Context, server, tool string, args map[string]any) mcp.Result
	AllTools() map[string]mcp.AggregateTool
	ServerTools(name string) ([]mcp.ToolDescriptor, error)
	ServerStatus(name string) (mcp.Status, error)
	AllStatus() map[string]mcp.Status
}

var _ toolHost = (*mcp.Registry)(nil)

// runner is the pipeline surface the relay drives. Satisfied by
// [*pipeline.Pipeline]; tests substitute fakes.
type runner interface {
	Run(ctx context.Context) error
	Stop() error
	Interrupt() int
	State() pipeline.State
}

var _ runner = (*pipeline.Pipeline)(nil)

// Config holds the relay's dependencies. Input, Output, Provider, and Tools
// are required. The device factories are each optional: a nil factory means
// the corresponding capture path is unavailable.
type Config struct {
	Input  io.Reader
	Output io.Writer

	Provider live.Provider
	Session  live.SessionConfig
	Tools    toolHost

	NewMic     func() (capture.AudioDevice, error)
	NewSpeaker func() (capture.AudioOutput, error)
	NewVideo   func(mode string) (capture.Source, error)

	QueueCapacity int
	Logger        *slog.Logger
	Metrics       *observe.Metrics
}

// Relay reads controller commands, drives the pipeline and the tool
// registry, and emits response events. One command is handled at a time, in
// arrival order.
type Relay struct {
	cfg     Config
	log     *slog.Logger
	met     *observe.Metrics
	emitter *Emitter
	sink    *relaySink

	newRunner func(pipeline.Config) (runner, error)

	mu       sync.Mutex
	active   runner
	messages chan pipeline.Message
	wg       sync.WaitGroup
}

// New validates the config and builds a relay.
func New(cfg Config) (*Relay, error) {
	if cfg.Input == nil || cfg.Output == nil {
		return nil, fmt.Errorf("relay: input and output are required")
	}
	if cfg.Provider == nil {
		return nil, fmt.Errorf("relay: provider is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("relay: tool host is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	emitter := NewEmitter(cfg.Output)
	r := &Relay{
		cfg:     cfg,
		log:     cfg.Logger,
		met:     cfg.Metrics,
		emitter: emitter,
		sink:    newRelaySink(emitter),
	}
	r.newRunner = func(pc pipeline.Config) (runner, error) {
		return pipeline.New(pc)
	}
	return r, nil
}

// Run reads commands until the input stream ends. EOF on the command stream
// is the controller hanging up: the relay stops the active conversation and
// returns. Note that cancelling ctx stops command handling but cannot
// unblock a pending read on Input; closing Input is the reliable way to end
// the relay.
func (r *Relay) Run(ctx context.Context) error {
	_ = r.emitter.Emit("ready", nil)
	r.log.Info("relay ready")

	sc := bufio.NewScanner(r.cfg.Input)
	sc.Buffer(make([]byte, 64*1024), maxCommandSize)
	for sc.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		cmd, err := Decode(line)
		if err != nil {
			r.log.Warn("bad command", "error", err)
			_ = r.emitter.Error(err.Error())
			continue
		}
		r.dispatch(ctx, cmd)
	}

	r.shutdown()
	if err := sc.Err(); err != nil {
		return fmt.Errorf("relay: read commands: %w", err)
	}
	r.log.Info("relay stopped")
	return nil
}

func (r *Relay) dispatch(ctx context.Context, cmd Command) {
	switch c := cmd.(type) {
	case StartCommand:
		r.handleStart(ctx, c)
	case StopCommand:
		r.handleStop()
	case MessageCommand:
		r.handleMessage(ctx, c)
	case InterruptCommand:
		r.handleInterrupt()
	case StartTranscriptionCommand:
		r.sink.startTranscription()
	case StopTranscriptionCommand:
		r.sink.stopTranscription()
	case AddServerCommand:
		r.handleAddServer(ctx, c)
	case RemoveServerCommand:
		r.handleRemoveServer(ctx, c)
	case GetToolsCommand:
		_ = r.emitter.Emit("mcp_tools_response", map[string]any{
			"tools": r.cfg.Tools.AllTools(),
		})
	case GetServerToolsCommand:
		tools, err := r.cfg.Tools.ServerTools(c.Server)
		if err != nil {
			_ = r.emitter.Error(err.Error())
			return
		}
		_ = r.emitter.Emit("mcp_server_tools_response", map[string]any{
			"server": c.Server,
			"tools":  tools,
		})
	case ExecuteToolCommand:
		r.handleExecuteTool(ctx, c)
	case GetStatusCommand:
		r.handleStatus(c)
	}
}

func (r *Relay) handleStart(ctx context.Context, c StartCommand) {
	r.mu.Lock()
	running := r.active != nil
	r.mu.Unlock()
	if running {
		_ = r.emitter.Error("conversation already running")
		return
	}

	var mic capture.AudioDevice
	var speaker capture.AudioOutput
	var err error
	if r.cfg.NewMic != nil {
		if mic, err = r.cfg.NewMic(); err != nil {
			_ = r.emitter.Error(fmt.Sprintf("open microphone: %v", err))
			return
		}
	}
	if r.cfg.NewSpeaker != nil {
		if speaker, err = r.cfg.NewSpeaker(); err != nil {
			if mic != nil {
				_ = mic.Close()
			}
			_ = r.emitter.Error(fmt.Sprintf("open audio output: %v", err))
			return
		}
	}
	video, err := r.buildVideo(c.Mode)
	if err != nil {
		if mic != nil {
			_ = mic.Close()
		}
		if speaker != nil {
			_ = speaker.Close()
		}
		_ = r.emitter.Error(fmt.Sprintf("open video source: %v", err))
		return
	}

	messages := make(chan pipeline.Message, 8)
	p, err := r.newRunner(pipeline.Config{
		Provider:      r.cfg.Provider,
		Session:       r.cfg.Session,
		Messages:      messages,
		Sink:          r.sink,
		Mic:           mic,
		Speaker:       speaker,
		Video:         video,
		QueueCapacity: r.cfg.QueueCapacity,
		Logger:        r.log,
		Metrics:       r.met,
	})
	if err != nil {
		if mic != nil {
			_ = mic.Close()
		}
		if speaker != nil {
			_ = speaker.Close()
		}
		_ = r.emitter.Error(fmt.Sprintf("start conversation: %v", err))
		return
	}

	r.mu.Lock()
	r.active = p
	r.messages = messages
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		runErr := p.Run(ctx)

		r.mu.Lock()
		if r.active == p {
			r.active = nil
			r.messages = nil
		}
		r.mu.Unlock()

		if runErr != nil {
			_ = r.emitter.Error(fmt.Sprintf("conversation failed: %v", runErr))
		}
		_ = r.emitter.Emit("status", map[string]any{"state": "stopped"})
	}()

	_ = r.emitter.Emit("status", map[string]any{"state": "started", "video": c.Mode})
}

func (r *Relay) handleStop() {
	r.mu.Lock()
	p := r.active
	messages := r.messages
	r.messages = nil
	r.mu.Unlock()

	if p == nil {
		_ = r.emitter.Error("no active conversation")
		return
	}
	// Closing the intake is the clean stop; the run goroutine emits the
	// stopped status once the pipeline unwinds.
	if messages != nil {
		close(messages)
	}
}

func (r *Relay) handleMessage(ctx context.Context, c MessageCommand) {
	r.mu.Lock()
	messages := r.messages
	r.mu.Unlock()
	if messages == nil {
		_ = r.emitter.Error("no active conversation")
		return
	}

	msg := pipeline.Message{Text: c.Text}
	if len(c.Image) > 0 {
		msg.Frame = &media.MediaFrame{
			MIMEType:   c.ImageMIME,
			Data:       c.Image,
			CapturedAt: time.Now(),
		}
	}
	select {
	case messages <- msg:
	case <-ctx.Done():
	}
}

// handleStatus answers mcp_get_status: one server's status when a name was
// given, every server's otherwise. An unknown name is reported inside the
// response, as the controller expects a status reply for every query.
func (r *Relay) handleStatus(c GetStatusCommand) {
	if c.Server == "" {
		_ = r.emitter.Emit("mcp_status_response", r.cfg.Tools.AllStatus())
		return
	}
	st, err := r.cfg.Tools.ServerStatus(c.Server)
	if err != nil {
		_ = r.emitter.Emit("mcp_status_response", map[string]any{"error": err.Error()})
		return
	}
	_ = r.emitter.Emit("mcp_status_response", st)
}

func (r *Relay) handleInterrupt() {
	r.mu.Lock()
	p := r.active
	r.mu.Unlock()
	if p == nil {
		_ = r.emitter.Error("no active conversation")
		return
	}
	dropped := p.Interrupt()
	_ = r.emitter.Emit("status", map[string]any{"state": "interrupted", "discarded": dropped})
}

func (r *Relay) handleAddServer(ctx context.Context, c AddServerCommand) {
	tools, err := r.cfg.Tools.AddServer(ctx, mcp.ServerConfig{
		Name:    c.Name,
		Command: c.Command,
		Args:    c.Args,
		Env:     c.Env,
	})
	if err != nil {
		_ = r.emitter.Error(err.Error())
		return
	}
	r.met.ActiveToolServers.Add(ctx, 1)
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	_ = r.emitter.Emit("mcp_server_added", map[string]any{
		"server": c.Name,
		"tools":  names,
	})
}

func (r *Relay) handleRemoveServer(ctx context.Context, c RemoveServerCommand) {
	if err := r.cfg.Tools.RemoveServer(c.Name); err != nil {
		_ = r.emitter.Error(err.Error())
		return
	}
	r.met.ActiveToolServers.Add(ctx, -1)
	_ = r.emitter.Emit("mcp_server_removed", map[string]any{"server": c.Name})
}

func (r *Relay) handleExecuteTool(ctx context.Context, c ExecuteToolCommand) {
	start := time.Now()
	res := r.cfg.Tools.ExecuteTool(ctx, c.Server, c.Tool, c.Params)
	elapsed := time.Since(start)

	status := "ok"
	if !res.Success {
		status = "error"
	}
	r.met.ToolExecutionDuration.Record(ctx, elapsed.Seconds())
	r.met.RecordToolCall(ctx, c.Server, c.Tool, status)
	r.log.Info("tool executed",
		"server", c.Server,
		"tool", c.Tool,
		"status", status,
		"duration", elapsed)

	_ = r.emitter.Emit("mcp_tool_result", res)
}

// buildVideo resolves the start command's video mode into a capture source,
// wrapped so every encoded frame is also previewed to the controller.
func (r *Relay) buildVideo(mode string) (capture.Source, error) {
	if mode == "" || mode == "none" {
		return nil, nil
	}
	if r.cfg.NewVideo == nil {
		return nil, fmt.Errorf("no %s capture configured", mode)
	}
	src, err := r.cfg.NewVideo(mode)
	if err != nil || src == nil {
		return nil, err
	}
	return &previewSource{inner: src, emitter: r.emitter, event: mode + "_frame"}, nil
}

// shutdown stops the active conversation and waits for its pipeline to
// unwind.
func (r *Relay) shutdown() {
	r.mu.Lock()
	p := r.active
	messages := r.messages
	r.messages = nil
	r.mu.Unlock()

	if messages != nil {
		close(messages)
	}
	if p != nil {
		_ = p.Stop()
	}
	r.wg.Wait()
}

// previewSource tees encoded frames to the controller on their way to the
// outbound queue.
type previewSource struct {
	inner   capture.Source
	emitter *Emitter
	event   string
}

func (s *previewSource) Name() string { return s.inner.Name() }

func (s *previewSource) Run(ctx context.Context, emit capture.EmitFunc) error {
	return s.inner.Run(ctx, func(ctx context.Context, item media.OutboundItem) error {
		if frame, ok := item.(media.MediaFrame); ok {
			_ = s.emitter.Emit(s.event, map[string]any{
				"mime_type": frame.MIMEType,
				"data":      frame.Data,
			})
		}
		return emit(ctx, item)
	})
}
