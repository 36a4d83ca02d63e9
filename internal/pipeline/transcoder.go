// Package pipeline runs one realtime conversation: it pumps captured media
// into a live session, receives the flattened event stream back, and fans
// conversation output to playback and a [Sink].
package pipeline

import (
	"fmt"

	"github.com/redglass/livebridge/pkg/media"
	"github.com/redglass/livebridge/pkg/provider/live"
)

// Transcoder routes outbound items onto a live session by payload kind.
// It carries no state of its own.
type Transcoder struct {
	sess live.Session
}

// NewTranscoder wraps a session for outbound routing.
func NewTranscoder(sess live.Session) *Transcoder {
	return &Transcoder{sess: sess}
}

// Send forwards one outbound item: audio chunks become realtime audio input,
// media frames become realtime image input.
func (t *Transcoder) Send(item media.OutboundItem) error {
	switch v := item.(type) {
	case media.AudioChunk:
		return t.sess.SendAudio(v.PCM)
	case media.MediaFrame:
		return t.sess.SendMedia(v.MIMEType, v.Data)
	default:
		return fmt.Errorf("pipeline: unknown outbound item %T", item)
	}
}
