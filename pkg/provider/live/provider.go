// Package live defines the Provider interface for realtime conversational AI
// backends.
//
// A live provider wraps a bidirectional streaming AI service that accepts raw
// audio and image input and returns synthesised audio plus incremental text in
// a single stateful session. The central abstraction is [Session]: a
// multiplexed handle carrying realtime input upstream and a flattened event
// stream downstream. Sessions are long-lived (seconds to minutes).
//
// All implementations must be safe for concurrent use.
package live

import "context"

// Standard PCM parameters for the realtime audio path: 16-bit signed
// little-endian mono throughout, 16 kHz on the send side and 24 kHz on the
// receive side.
const (
	SendSampleRate    = 16000
	ReceiveSampleRate = 24000
)

// EventKind tags the variants of [Event].
type EventKind int

const (
	// EventAudio carries a chunk of synthesised PCM output in Event.Data.
	EventAudio EventKind = iota

	// EventText carries an incremental text fragment in Event.Text.
	EventText

	// EventTurnComplete marks the end of one model turn. Any audio emitted
	// before it that has not yet played belongs to an interrupted turn and
	// should be discarded by the consumer.
	EventTurnComplete
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "AUDIO"
	case EventText:
		return "TEXT"
	case EventTurnComplete:
		return "TURN_COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// Event is one inbound fragment from the session. Exactly one of Data or
// Text is populated, depending on Kind; both are empty for EventTurnComplete.
type Event struct {
	Kind EventKind
	Data []byte
	Text string
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Model selects the realtime model, e.g. "models/gemini-2.0-flash-exp".
	// Empty selects the provider default.
	Model string

	// ResponseModalities lists the output kinds requested from the model,
	// e.g. ["AUDIO", "TEXT"]. Empty selects the provider default.
	ResponseModalities []string

	// MediaResolution is a provider hint for inbound image processing,
	// e.g. "MEDIA_RESOLUTION_MEDIUM". Empty selects the provider default.
	MediaResolution string

	// SystemInstruction is the optional system-level prompt for the session.
	SystemInstruction string

	// Voice selects the synthesised output voice. Empty selects the
	// provider default.
	Voice string

	// SendSampleRate is the sample rate in Hz declared for realtime audio
	// input. Zero selects [SendSampleRate].
	SendSampleRate int
}

// Session represents an open realtime session. It is an interface so that
// pipeline code can be tested against in-memory fakes without a live
// connection.
//
// All methods must be safe for concurrent use. Callers must call Close when
// the session is no longer needed and must drain Events promptly so provider
// receive loops are not stalled.
type Session interface {
	// SendAudio delivers one raw PCM chunk ([SendSampleRate], s16le, mono)
	// as realtime input. Returns an error if the session is closed or the
	// transport rejects the write.
	SendAudio(pcm []byte) error

	// SendMedia delivers one encoded media payload (e.g. a JPEG frame) as
	// realtime input.
	SendMedia(mimeType string, data []byte) error

	// SendText submits a user text turn. When turnComplete is true the model
	// begins responding immediately.
	SendText(text string, turnComplete bool) error

	// Events returns the inbound event stream. The channel is closed when
	// the session ends or a mid-stream error occurs; call [Session.Err]
	// afterwards to distinguish the two.
	Events() <-chan Event

	// Err returns the error that caused the Events channel to close
	// prematurely, or nil if the session ended cleanly.
	Err() error

	// Close terminates the session and releases all resources. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any realtime conversational AI backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Connect establishes a new live session with the given configuration.
	// The returned Session is ready to accept input immediately. The caller
	// owns the Session and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
