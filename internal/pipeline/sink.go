package pipeline

import (
	"fmt"
	"io"
	"sync"
)

// Sink receives conversation output from a running pipeline. Implementations
// decide where it goes: a terminal, a controller event stream, a transcript
// buffer. Methods are called from the pipeline's receive task only, but
// implementations should still be safe for concurrent use so they can be
// shared with other writers.
type Sink interface {
	// Audio delivers one chunk of synthesised PCM output.
	Audio(data []byte)

	// Text delivers one incremental text fragment of the current turn.
	Text(delta string)

	// TurnComplete marks the end of one model turn.
	TurnComplete()
}

// TerminalSink prints text deltas to a writer as they arrive and breaks the
// line when the turn completes. Audio is ignored; playback handles it.
type TerminalSink struct {
	mu sync.Mutex
	w  io.Writer
}

var _ Sink = (*TerminalSink)(nil)

// NewTerminalSink builds a sink printing to w.
func NewTerminalSink(w io.Writer) *TerminalSink {
	return &TerminalSink{w: w}
}

func (s *TerminalSink) Audio([]byte) {}

func (s *TerminalSink) Text(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprint(s.w, delta)
}

func (s *TerminalSink) TurnComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.w)
}
