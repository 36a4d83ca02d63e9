package capture

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os/exec"
	"sync"

	// Register decoders for the formats frame-grab commands emit.
	_ "image/jpeg"
	_ "image/png"
)

// The devices in this file are thin subprocess wrappers around host capture
// tooling (ffmpeg, arecord, aplay, screenshot utilities, …). They exist so
// the binary works on stock systems without cgo device bindings; anything
// implementing the device interfaces in capture.go can replace them.

// ── Video: one command invocation per frame ───────────────────────────────────

// CommandFrameDevice grabs one frame per ReadFrame by running argv and
// decoding the image written to its stdout. Suited to the pipeline's slow
// (~1 frame/s) cadence, where per-invocation process cost is negligible.
type CommandFrameDevice struct {
	argv []string

	mu     sync.Mutex
	closed bool
}

// NewCommandFrameDevice creates a device running argv for every frame.
func NewCommandFrameDevice(argv []string) (*CommandFrameDevice, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("capture: frame command must not be empty")
	}
	return &CommandFrameDevice{argv: argv}, nil
}

// ReadFrame runs the frame command once and decodes its stdout.
// After Close it returns io.EOF.
func (d *CommandFrameDevice) ReadFrame() (image.Image, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, io.EOF
	}

	out, err := exec.Command(d.argv[0], d.argv[1:]...).Output()
	if err != nil {
		return nil, fmt.Errorf("capture: frame command %q: %w", d.argv[0], err)
	}

	img, _, err := image.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("capture: decode frame from %q: %w", d.argv[0], err)
	}
	return img, nil
}

// Close marks the device closed. Idempotent.
func (d *CommandFrameDevice) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// ── Audio input: long-running command streaming PCM to stdout ─────────────────

// CommandAudioInput reads fixed-size PCM chunks from the stdout of a
// long-running capture command (e.g. arecord or ffmpeg writing s16le).
type CommandAudioInput struct {
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	chunkSize int

	closeOnce sync.Once
}

// StartCommandAudioInput spawns argv and reads chunkSize-byte chunks from
// its stdout.
func StartCommandAudioInput(argv []string, chunkSize int) (*CommandAudioInput, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("capture: audio input command must not be empty")
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkFrames * 2 // 16-bit mono
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: audio input stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start audio input %q: %w", argv[0], err)
	}
	return &CommandAudioInput{cmd: cmd, stdout: stdout, chunkSize: chunkSize}, nil
}

// ReadChunk blocks until one full chunk is available. A short read at
// process exit is discarded and reported as io.EOF.
func (d *CommandAudioInput) ReadChunk() ([]byte, error) {
	buf := make([]byte, d.chunkSize)
	if _, err := io.ReadFull(d.stdout, buf); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, io.EOF
		}
		return nil, err
	}
	return buf, nil
}

// Close terminates the capture process. Idempotent.
func (d *CommandAudioInput) Close() error {
	d.closeOnce.Do(func() {
		_ = d.stdout.Close()
		_ = d.cmd.Process.Kill()
		_ = d.cmd.Wait()
	})
	return nil
}

// ── Audio output: long-running command consuming PCM on stdin ─────────────────

// CommandAudioOutput writes PCM chunks to the stdin of a long-running
// playback command (e.g. aplay -f S16_LE -r 24000 -c 1).
type CommandAudioOutput struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	closeOnce sync.Once
}

// StartCommandAudioOutput spawns argv for playback.
func StartCommandAudioOutput(argv []string) (*CommandAudioOutput, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("capture: audio output command must not be empty")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("capture: audio output stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("capture: start audio output %q: %w", argv[0], err)
	}
	return &CommandAudioOutput{cmd: cmd, stdin: stdin}, nil
}

// Write implements [AudioOutput].
func (d *CommandAudioOutput) Write(pcm []byte) error {
	_, err := d.stdin.Write(pcm)
	return err
}

// Close closes the playback stream and waits for the process. Idempotent.
func (d *CommandAudioOutput) Close() error {
	d.closeOnce.Do(func() {
		_ = d.stdin.Close()
		_ = d.cmd.Wait()
	})
	return nil
}
