// Package capture produces the outbound media items for the streaming
// pipeline: JPEG frames polled from a camera or screen device on a fixed
// cadence, and gapless fixed-size PCM chunks read from a microphone device.
//
// The device interfaces at the bottom of this file are the capture boundary:
// implementations wrap whatever grabs pixels or samples on the host (see
// device.go for subprocess-backed implementations). Sources own their device
// and close it when their run loop exits.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/redglass/livebridge/pkg/media"
)

// Defaults mirroring the capture tuning of the upstream service.
const (
	// DefaultInterval is the delay between camera/screen frames.
	DefaultInterval = time.Second

	// DefaultCameraMaxDim bounds both camera frame dimensions.
	DefaultCameraMaxDim = 1024

	// DefaultScreenMaxWidth bounds the screen frame width.
	DefaultScreenMaxWidth = 640

	// DefaultJPEGQuality is used for screen frames, which compress well at
	// lower quality because they are mostly flat UI regions.
	DefaultJPEGQuality = 75

	// DefaultChunkFrames is the number of samples per microphone chunk.
	DefaultChunkFrames = 1024
)

// VideoDevice reads raw frames from a camera or screen grabber.
// ReadFrame blocks until a frame is available. It returns io.EOF when the
// device has no more frames (clean end of stream).
type VideoDevice interface {
	ReadFrame() (image.Image, error)
	Close() error
}

// AudioDevice reads fixed-size PCM chunks from an input stream.
// ReadChunk blocks until a full chunk is available and returns io.EOF at
// end of stream.
type AudioDevice interface {
	ReadChunk() ([]byte, error)
	Close() error
}

// AudioOutput accepts PCM chunks for playback (16-bit mono).
type AudioOutput interface {
	Write(pcm []byte) error
	Close() error
}

// EmitFunc hands one finished item to the pipeline, typically bound to the
// outbound queue's Put. It blocks while the queue is full (backpressure) and
// returns an error only on cancellation or queue closure.
type EmitFunc func(ctx context.Context, item media.OutboundItem) error

// Source is one capture producer. Run blocks until the source ends: context
// cancellation, clean end of stream, or a device failure. A device failure
// is local to the source — Run returns the error and the caller decides how
// to report it; sibling sources are unaffected.
type Source interface {
	// Name identifies the source in logs and status events.
	Name() string

	// Run produces items until ctx is cancelled or the device ends.
	// The device is closed before Run returns.
	Run(ctx context.Context, emit EmitFunc) error
}

// ── Camera / screen ───────────────────────────────────────────────────────────

// FrameSource polls a VideoDevice on a fixed cadence and emits JPEG-encoded
// [media.MediaFrame] items, downscaled to bound payload size.
type FrameSource struct {
	name     string
	dev      VideoDevice
	interval time.Duration
	scale    scaleMode
	maxDim   int
	quality  int
}

// NewCameraSource creates a source that polls dev once per interval and
// downscales frames so neither dimension exceeds maxDim.
func NewCameraSource(dev VideoDevice, interval time.Duration, maxDim int) *FrameSource {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxDim <= 0 {
		maxDim = DefaultCameraMaxDim
	}
	return &FrameSource{
		name:     "camera",
		dev:      dev,
		interval: interval,
		scale:    scaleFit,
		maxDim:   maxDim,
		quality:  jpegDefaultQuality,
	}
}

// NewScreenSource creates a source that polls dev once per interval and
// downscales frames to at most maxWidth pixels wide, preserving aspect ratio.
func NewScreenSource(dev VideoDevice, interval time.Duration, maxWidth int) *FrameSource {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if maxWidth <= 0 {
		maxWidth = DefaultScreenMaxWidth
	}
	return &FrameSource{
		name:     "screen",
		dev:      dev,
		interval: interval,
		scale:    scaleWidth,
		maxDim:   maxWidth,
		quality:  DefaultJPEGQuality,
	}
}

// Name implements [Source].
func (s *FrameSource) Name() string { return s.name }

// SetJPEGQuality overrides the encoder quality (1–100). Values outside the
// range are ignored.
func (s *FrameSource) SetJPEGQuality(q int) {
	if q >= 1 && q <= 100 {
		s.quality = q
	}
}

// Run implements [Source]. Frames are read, downscaled, JPEG-encoded and
// emitted, with the configured delay between captures. The device read is
// the blocking step; the delay bounds outbound bandwidth.
func (s *FrameSource) Run(ctx context.Context, emit EmitFunc) error {
	defer s.dev.Close()

	for {
		img, err := s.dev.ReadFrame()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("capture: %s: read frame: %w", s.name, err)
		}

		data, err := encodeJPEG(img, s.scale, s.maxDim, s.quality)
		if err != nil {
			return fmt.Errorf("capture: %s: encode: %w", s.name, err)
		}

		frame := media.MediaFrame{
			MIMEType:   "image/jpeg",
			Data:       data,
			CapturedAt: time.Now(),
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.interval):
		}

		if err := emit(ctx, frame); err != nil {
			return err
		}
	}
}

// ── Microphone ────────────────────────────────────────────────────────────────

// MicSource reads fixed-size PCM chunks continuously — audio must be gapless,
// so there is no artificial delay between reads.
type MicSource struct {
	dev        AudioDevice
	sampleRate int
}

// NewMicSource creates a microphone source emitting chunks tagged with
// sampleRate.
func NewMicSource(dev AudioDevice, sampleRate int) *MicSource {
	return &MicSource{dev: dev, sampleRate: sampleRate}
}

// Name implements [Source].
func (s *MicSource) Name() string { return "microphone" }

// Run implements [Source].
func (s *MicSource) Run(ctx context.Context, emit EmitFunc) error {
	defer s.dev.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pcm, err := s.dev.ReadChunk()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("capture: microphone: read chunk: %w", err)
		}

		if err := emit(ctx, media.AudioChunk{PCM: pcm, SampleRate: s.sampleRate}); err != nil {
			return err
		}
	}
}
