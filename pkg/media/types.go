// Package media defines the item types that flow through the LiveBridge
// outbound pipeline: encoded video/screen frames and raw PCM audio chunks,
// unified under the [OutboundItem] tagged union.
//
// Items are immutable once produced. A capture source owns an item until it
// hands it to the outbound queue, after which ownership transfers to the
// pipeline; producers must not retain or mutate the payload afterwards.
package media

import "time"

// MediaFrame is a single encoded image captured from a camera or screen.
type MediaFrame struct {
	// MIMEType identifies the payload encoding, e.g. "image/jpeg".
	MIMEType string

	// Data is the encoded image payload.
	Data []byte

	// CapturedAt marks when the frame was read from the device.
	CapturedAt time.Time
}

// AudioChunk is one fixed-size block of raw PCM microphone audio
// (16-bit signed little-endian, mono).
type AudioChunk struct {
	// PCM is the raw sample data.
	PCM []byte

	// SampleRate in Hz (e.g. 16000 for model input).
	SampleRate int
}

// OutboundItem is the closed union of item kinds accepted by the outbound
// queue. Only [MediaFrame] and [AudioChunk] implement it; classification by
// type switch is therefore exhaustive.
type OutboundItem interface {
	isOutboundItem()
}

func (MediaFrame) isOutboundItem() {}
func (AudioChunk) isOutboundItem() {}
