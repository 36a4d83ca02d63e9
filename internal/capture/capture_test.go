package capture

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redglass/livebridge/pkg/media"
)

// ──────────────────────────────────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────────────────────────────────

// fakeVideoDevice serves a fixed number of frames then io.EOF.
type fakeVideoDevice struct {
	frames int
	img    image.Image
	reads  atomic.Int32
	closed atomic.Bool
}

func newFakeVideoDevice(frames, w, h int) *fakeVideoDevice {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.RGBA{R: uint8(x), A: 255})
	}
	return &fakeVideoDevice{frames: frames, img: img}
}

func (d *fakeVideoDevice) ReadFrame() (image.Image, error) {
	if int(d.reads.Add(1)) > d.frames {
		return nil, io.EOF
	}
	return d.img, nil
}

func (d *fakeVideoDevice) Close() error {
	d.closed.Store(true)
	return nil
}

// failingVideoDevice errors on the first read.
type failingVideoDevice struct{ closed atomic.Bool }

func (d *failingVideoDevice) ReadFrame() (image.Image, error) {
	return nil, errors.New("device unplugged")
}

func (d *failingVideoDevice) Close() error {
	d.closed.Store(true)
	return nil
}

// fakeAudioDevice serves a fixed number of chunks then io.EOF.
type fakeAudioDevice struct {
	chunks int
	reads  atomic.Int32
	closed atomic.Bool
}

func (d *fakeAudioDevice) ReadChunk() ([]byte, error) {
	n := int(d.reads.Add(1))
	if n > d.chunks {
		return nil, io.EOF
	}
	return []byte{byte(n)}, nil
}

func (d *fakeAudioDevice) Close() error {
	d.closed.Store(true)
	return nil
}

// collector is an EmitFunc recording every item.
func collector(items *[]media.OutboundItem) EmitFunc {
	return func(_ context.Context, item media.OutboundItem) error {
		*items = append(*items, item)
		return nil
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────────────────────────────────

// TestCameraSourceEmitsJPEGFrames verifies downscaled JPEG frames reach the
// emit callback and the device is closed on clean end of stream.
func TestCameraSourceEmitsJPEGFrames(t *testing.T) {
	t.Parallel()
	dev := newFakeVideoDevice(2, 2048, 512)
	src := NewCameraSource(dev, time.Millisecond, 1024)

	var items []media.OutboundItem
	if err := src.Run(context.Background(), collector(&items)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(items) != 2 {
		t.Fatalf("emitted %d items, want 2", len(items))
	}
	frame, ok := items[0].(media.MediaFrame)
	if !ok {
		t.Fatalf("item type = %T, want media.MediaFrame", items[0])
	}
	if frame.MIMEType != "image/jpeg" {
		t.Errorf("MIMEType = %q, want image/jpeg", frame.MIMEType)
	}
	if len(frame.Data) == 0 {
		t.Error("empty frame payload")
	}
	if frame.CapturedAt.IsZero() {
		t.Error("CapturedAt not set")
	}
	if !dev.closed.Load() {
		t.Error("device not closed after Run")
	}
}

// TestFrameSourceDeviceFailure verifies a device error ends the source with
// an error while still releasing the device.
func TestFrameSourceDeviceFailure(t *testing.T) {
	t.Parallel()
	dev := &failingVideoDevice{}
	src := NewCameraSource(dev, time.Millisecond, 1024)

	var items []media.OutboundItem
	err := src.Run(context.Background(), collector(&items))
	if err == nil {
		t.Fatal("Run succeeded on a failing device")
	}
	if len(items) != 0 {
		t.Errorf("emitted %d items from a failing device, want 0", len(items))
	}
	if !dev.closed.Load() {
		t.Error("device not closed after failure")
	}
}

// TestFrameSourceCancellation verifies the capture loop observes context
// cancellation during the inter-frame delay.
func TestFrameSourceCancellation(t *testing.T) {
	t.Parallel()
	dev := newFakeVideoDevice(1000, 8, 8)
	src := NewScreenSource(dev, time.Hour, 640)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- src.Run(ctx, func(context.Context, media.OutboundItem) error { return nil })
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	if !dev.closed.Load() {
		t.Error("device not closed after cancellation")
	}
}

// TestMicSourceEmitsChunksInOrder verifies gapless chunk emission, ordering
// and the sample-rate tag.
func TestMicSourceEmitsChunksInOrder(t *testing.T) {
	t.Parallel()
	dev := &fakeAudioDevice{chunks: 3}
	src := NewMicSource(dev, 16000)

	var items []media.OutboundItem
	if err := src.Run(context.Background(), collector(&items)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(items) != 3 {
		t.Fatalf("emitted %d items, want 3", len(items))
	}
	for i, item := range items {
		chunk, ok := item.(media.AudioChunk)
		if !ok {
			t.Fatalf("item %d type = %T, want media.AudioChunk", i, item)
		}
		if chunk.SampleRate != 16000 {
			t.Errorf("item %d SampleRate = %d, want 16000", i, chunk.SampleRate)
		}
		if len(chunk.PCM) != 1 || chunk.PCM[0] != byte(i+1) {
			t.Errorf("item %d PCM = %v, want [%d]", i, chunk.PCM, i+1)
		}
	}
	if !dev.closed.Load() {
		t.Error("device not closed after Run")
	}
}
