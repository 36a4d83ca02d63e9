package relay

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"
)

// event is the wire shape of one controller event line.
type event struct {
	Type      string  `json:"type"`
	Data      any     `json:"data,omitempty"`
	Timestamp float64 `json:"timestamp"`
}

// Emitter writes line-delimited JSON events to a controller. Each event
// carries a float timestamp in seconds since the Unix epoch. Writes are
// serialized so event lines never interleave.
type Emitter struct {
	mu  sync.Mutex
	w   io.Writer
	now func() time.Time
}

// NewEmitter builds an emitter writing to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{w: w, now: time.Now}
}

// Emit writes one event line. Data may be nil for bare signals like
// turn_complete.
func (e *Emitter) Emit(typ string, data any) error {
	ev := event{
		Type:      typ,
		Data:      data,
		Timestamp: float64(e.now().UnixNano()) / float64(time.Second),
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("relay: encode %s event: %w", typ, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("relay: write %s event: %w", typ, err)
	}
	return nil
}

// Error emits an error event carrying {"message": msg}.
func (e *Emitter) Error(msg string) error {
	return e.Emit("error", map[string]any{"message": msg})
}
