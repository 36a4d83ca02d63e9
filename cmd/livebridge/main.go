// Command livebridge bridges local audio and video capture into a realtime
// conversational AI session and hosts tool server processes on behalf of an
// external controller.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/redglass/livebridge/internal/capture"
	"github.com/redglass/livebridge/internal/config"
	"github.com/redglass/livebridge/internal/health"
	"github.com/redglass/livebridge/internal/mcp"
	"github.com/redglass/livebridge/internal/observe"
	"github.com/redglass/livebridge/internal/pipeline"
	"github.com/redglass/livebridge/internal/relay"
	"github.com/redglass/livebridge/pkg/provider/live"
	"github.com/redglass/livebridge/pkg/provider/live/gemini"
)

const version = "0.1.0"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (built-in defaults when empty)")
	mode := flag.String("mode", "relay", "run mode: relay, camera, screen, or none")
	flag.Parse()

	switch *mode {
	case "relay", "camera", "screen", "none":
	default:
		fmt.Fprintf(os.Stderr, "livebridge: unknown mode %q (want relay, camera, screen, or none)\n", *mode)
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "livebridge: %v\n", err)
			return 1
		}
		cfg = loaded
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// Logs go to stderr: in relay mode stdout carries the event stream.
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("livebridge starting",
		"version", version,
		"mode", *mode,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Tool servers ──────────────────────────────────────────────────────────
	registry := mcp.NewRegistry(mcp.WithRegistryLogger(logger))
	defer registry.Close()
	for _, srv := range cfg.MCP.Servers {
		_, err := registry.AddServer(ctx, mcp.ServerConfig{
			Name:    srv.Name,
			Command: srv.Command,
			Args:    srv.Args,
			Env:     srv.Env,
		})
		if err != nil {
			// A broken tool server must not take the bridge down.
			slog.Error("tool server failed to start", "server", srv.Name, "err", err)
			continue
		}
		metrics.ActiveToolServers.Add(ctx, 1)
	}

	// ── Diagnostics endpoint ──────────────────────────────────────────────────
	if cfg.Server.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		health.New(health.ToolServers(registry)).Register(mux)
		srv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: mux}
		defer srv.Close()
		go func() {
			slog.Info("diagnostics endpoint listening", "addr", cfg.Server.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("diagnostics endpoint failed", "err", err)
			}
		}()
	}

	// ── Live provider ─────────────────────────────────────────────────────────
	apiKey := cfg.Session.ResolveAPIKey()
	if apiKey == "" {
		slog.Error("no API key: set session.api_key or GEMINI_API_KEY")
		return 1
	}
	var provOpts []gemini.Option
	if cfg.Session.BaseURL != "" {
		provOpts = append(provOpts, gemini.WithBaseURL(cfg.Session.BaseURL))
	}
	provider := gemini.New(apiKey, provOpts...)
	sessionCfg := live.SessionConfig{
		Model:              cfg.Session.Model,
		ResponseModalities: cfg.Session.ResponseModalities,
		MediaResolution:    cfg.Session.MediaResolution,
		SystemInstruction:  cfg.Session.SystemInstruction,
		Voice:              cfg.Session.Voice,
		SendSampleRate:     cfg.Capture.SendSampleRate,
	}

	if *mode == "relay" {
		return runRelay(ctx, cfg, provider, sessionCfg, registry, logger, metrics)
	}
	return runStandalone(ctx, cfg, provider, sessionCfg, *mode, logger, metrics)
}

// ── Relay mode ────────────────────────────────────────────────────────────────

// runRelay serves the controller protocol on stdio until stdin closes.
func runRelay(ctx context.Context, cfg *config.Config, provider live.Provider, sessionCfg live.SessionConfig, registry *mcp.Registry, logger *slog.Logger, metrics *observe.Metrics) int {
	r, err := relay.New(relay.Config{
		Input:         os.Stdin,
		Output:        os.Stdout,
		Provider:      provider,
		Session:       sessionCfg,
		Tools:         registry,
		NewMic:        micFactory(cfg),
		NewSpeaker:    speakerFactory(cfg),
		NewVideo:      videoFactory(cfg),
		QueueCapacity: cfg.Capture.QueueCapacity,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		slog.Error("failed to build relay", "err", err)
		return 1
	}
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("relay error", "err", err)
		return 1
	}
	return 0
}

// ── Standalone mode ───────────────────────────────────────────────────────────

// runStandalone drives one conversation from the terminal: lines typed at
// the prompt become user turns, "q" quits.
func runStandalone(ctx context.Context, cfg *config.Config, provider live.Provider, sessionCfg live.SessionConfig, mode string, logger *slog.Logger, metrics *observe.Metrics) int {
	var mic capture.AudioDevice
	var speaker capture.AudioOutput
	var video capture.Source

	if factory := micFactory(cfg); factory != nil {
		dev, err := factory()
		if err != nil {
			slog.Error("failed to open microphone", "err", err)
			return 1
		}
		mic = dev
	}
	if factory := speakerFactory(cfg); factory != nil {
		dev, err := factory()
		if err != nil {
			slog.Error("failed to open audio output", "err", err)
			return 1
		}
		speaker = dev
	}
	if mode != "none" {
		src, err := videoFactory(cfg)(mode)
		if err != nil {
			slog.Error("failed to open video source", "mode", mode, "err", err)
			return 1
		}
		video = src
	}

	messages := make(chan pipeline.Message)
	p, err := pipeline.New(pipeline.Config{
		Provider:      provider,
		Session:       sessionCfg,
		Messages:      messages,
		Sink:          pipeline.NewTerminalSink(os.Stdout),
		Mic:           mic,
		Speaker:       speaker,
		Video:         video,
		QueueCapacity: cfg.Capture.QueueCapacity,
		Logger:        logger,
		Metrics:       metrics,
	})
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		return 1
	}

	go func() {
		defer close(messages)
		sc := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("message > ")
			if !sc.Scan() {
				return
			}
			text := strings.TrimSpace(sc.Text())
			if text == "q" {
				return
			}
			select {
			case messages <- pipeline.Message{Text: text}:
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := p.Run(ctx); err != nil {
		slog.Error("pipeline error", "err", err)
		return 1
	}
	return 0
}

// ── Device wiring ─────────────────────────────────────────────────────────────

func micFactory(cfg *config.Config) func() (capture.AudioDevice, error) {
	argv := cfg.Capture.MicCommand
	if len(argv) == 0 {
		return nil
	}
	chunkBytes := cfg.Capture.ChunkSize * 2 // 16-bit mono samples
	return func() (capture.AudioDevice, error) {
		return capture.StartCommandAudioInput(argv, chunkBytes)
	}
}

func speakerFactory(cfg *config.Config) func() (capture.AudioOutput, error) {
	argv := cfg.Capture.PlaybackCommand
	if len(argv) == 0 {
		return nil
	}
	return func() (capture.AudioOutput, error) {
		return capture.StartCommandAudioOutput(argv)
	}
}

func videoFactory(cfg *config.Config) func(mode string) (capture.Source, error) {
	return func(mode string) (capture.Source, error) {
		switch mode {
		case "camera":
			if len(cfg.Capture.CameraCommand) == 0 {
				return nil, fmt.Errorf("capture.camera_command is not configured")
			}
			dev, err := capture.NewCommandFrameDevice(cfg.Capture.CameraCommand)
			if err != nil {
				return nil, err
			}
			return capture.NewCameraSource(dev, cfg.Capture.VideoInterval, cfg.Capture.CameraMaxDim), nil
		case "screen":
			if len(cfg.Capture.ScreenCommand) == 0 {
				return nil, fmt.Errorf("capture.screen_command is not configured")
			}
			dev, err := capture.NewCommandFrameDevice(cfg.Capture.ScreenCommand)
			if err != nil {
				return nil, err
			}
			src := capture.NewScreenSource(dev, cfg.Capture.VideoInterval, cfg.Capture.ScreenMaxWidth)
			src.SetJPEGQuality(cfg.Capture.JPEGQuality)
			return src, nil
		default:
			return nil, fmt.Errorf("unknown video mode %q", mode)
		}
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
