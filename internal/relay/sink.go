package relay

import (
	"strings"
	"sync"

	"github.com/redglass/livebridge/internal/pipeline"
)

// relaySink forwards conversation output to the controller as events.
// Between start_transcription and stop_transcription, text deltas are
// buffered and surfaced as transcription events instead of plain text.
type relaySink struct {
	emitter *Emitter

	mu           sync.Mutex
	transcribing bool
	parts        []string
}

var _ pipeline.Sink = (*relaySink)(nil)

func newRelaySink(emitter *Emitter) *relaySink {
	return &relaySink{emitter: emitter}
}

func (s *relaySink) Audio(data []byte) {
	_ = s.emitter.Emit("audio", map[string]any{"data": data})
}

func (s *relaySink) Text(delta string) {
	s.mu.Lock()
	transcribing := s.transcribing
	if transcribing {
		s.parts = append(s.parts, delta)
	}
	s.mu.Unlock()

	if transcribing {
		_ = s.emitter.Emit("transcription_partial", map[string]any{"text": delta})
		return
	}
	_ = s.emitter.Emit("text", map[string]any{"text": delta})
}

func (s *relaySink) TurnComplete() {
	_ = s.emitter.Emit("turn_complete", map[string]any{"completed": true})
}

// startTranscription begins a fresh buffer. Restarting mid-transcription
// discards what was buffered so far.
func (s *relaySink) startTranscription() {
	s.mu.Lock()
	s.transcribing = true
	s.parts = nil
	s.mu.Unlock()
	_ = s.emitter.Emit("transcription_started", map[string]any{"message": "transcription enabled"})
}

// stopTranscription emits the space-joined transcript and ends buffering. A
// stop without a matching start emits an empty transcript.
func (s *relaySink) stopTranscription() {
	s.mu.Lock()
	final := strings.Join(s.parts, " ")
	s.transcribing = false
	s.parts = nil
	s.mu.Unlock()

	_ = s.emitter.Emit("transcription_final", map[string]any{"text": final})
	_ = s.emitter.Emit("transcription_stopped", struct{}{})
}
