package gemini_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/redglass/livebridge/pkg/provider/live"
	"github.com/redglass/livebridge/pkg/provider/live/gemini"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startLiveServer launches a test WebSocket server. The handler function
// receives the accepted *websocket.Conn. The server is automatically closed
// when the test finishes.
func startLiveServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one WebSocket text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

// setupEcho reads the client's setup message and acks it.
func setupEcho(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	var msg map[string]any
	readJSON(t, conn, &msg)
	writeJSON(t, conn, map[string]any{"setupComplete": map[string]any{}})
	return msg
}

// collectEvents reads up to n events from the session or fails on timeout.
func collectEvents(t *testing.T, sess live.Session, n int) []live.Event {
	t.Helper()
	var got []live.Event
	deadline := time.After(3 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				t.Fatalf("events channel closed after %d of %d events (err: %v)", len(got), n, sess.Err())
			}
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("timeout after %d of %d events", len(got), n)
		}
	}
	return got
}

// ── Tests ─────────────────────────────────────────────────────────────────────

// TestConnectSendsSetup verifies the setup message carries model, modalities
// and media resolution.
func TestConnectSendsSetup(t *testing.T) {
	t.Parallel()

	setupCh := make(chan map[string]any, 1)
	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		setupCh <- setupEcho(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithModel("models/custom"), gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), live.SessionConfig{Voice: "Puck"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case msg := <-setupCh:
		setup, ok := msg["setup"].(map[string]any)
		if !ok {
			t.Fatalf("setup missing in %v", msg)
		}
		if got := setup["model"]; got != "models/custom" {
			t.Errorf("model = %v, want models/custom", got)
		}
		gen, _ := setup["generationConfig"].(map[string]any)
		if gen == nil {
			t.Fatal("generationConfig missing")
		}
		if got := gen["mediaResolution"]; got != "MEDIA_RESOLUTION_MEDIUM" {
			t.Errorf("mediaResolution = %v, want MEDIA_RESOLUTION_MEDIUM", got)
		}
		mods, _ := gen["responseModalities"].([]any)
		if len(mods) != 2 || mods[0] != "AUDIO" || mods[1] != "TEXT" {
			t.Errorf("responseModalities = %v, want [AUDIO TEXT]", mods)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for setup message")
	}
}

// TestSendAudioEncodesRealtimeChunk verifies the realtime input wire shape
// for PCM audio.
func TestSendAudioEncodesRealtimeChunk(t *testing.T) {
	t.Parallel()

	chunkCh := make(chan map[string]any, 1)
	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		setupEcho(t, conn)
		var msg map[string]any
		readJSON(t, conn, &msg)
		chunkCh <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	pcm := []byte{0x01, 0x02, 0x03, 0x04}
	if err := sess.SendAudio(pcm); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-chunkCh:
		ri, _ := msg["realtimeInput"].(map[string]any)
		if ri == nil {
			t.Fatalf("realtimeInput missing in %v", msg)
		}
		chunks, _ := ri["mediaChunks"].([]any)
		if len(chunks) != 1 {
			t.Fatalf("mediaChunks = %v, want one chunk", chunks)
		}
		chunk := chunks[0].(map[string]any)
		if got := chunk["mimeType"]; got != "audio/pcm;rate=16000" {
			t.Errorf("mimeType = %v, want audio/pcm;rate=16000", got)
		}
		if got := chunk["data"]; got != base64.StdEncoding.EncodeToString(pcm) {
			t.Errorf("data = %v, want base64 of pcm", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for realtime input")
	}
}

// TestSendTextEncodesClientContent verifies the clientContent wire shape.
func TestSendTextEncodesClientContent(t *testing.T) {
	t.Parallel()

	msgCh := make(chan map[string]any, 1)
	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		setupEcho(t, conn)
		var msg map[string]any
		readJSON(t, conn, &msg)
		msgCh <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	if err := sess.SendText("hello", true); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	select {
	case msg := <-msgCh:
		cc, _ := msg["clientContent"].(map[string]any)
		if cc == nil {
			t.Fatalf("clientContent missing in %v", msg)
		}
		if got := cc["turnComplete"]; got != true {
			t.Errorf("turnComplete = %v, want true", got)
		}
		turns, _ := cc["turns"].([]any)
		if len(turns) != 1 {
			t.Fatalf("turns = %v, want one turn", turns)
		}
		turn := turns[0].(map[string]any)
		if got := turn["role"]; got != "user" {
			t.Errorf("role = %v, want user", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for clientContent")
	}
}

// TestReceiveLoopFlattensServerContent verifies the mapping from
// serverContent messages to the event stream, including the turn-complete
// marker and that malformed frames are skipped without corrupting later ones.
func TestReceiveLoopFlattensServerContent(t *testing.T) {
	t.Parallel()

	audio := []byte{0xAA, 0xBB}
	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		setupEcho(t, conn)
		ctx := context.Background()
		// A malformed frame must be skipped.
		_ = conn.Write(ctx, websocket.MessageText, []byte("{not json"))
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{
						map[string]any{"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(audio),
						}},
						map[string]any{"text": "hi "},
					},
				},
			},
		})
		writeJSON(t, conn, map[string]any{
			"serverContent": map[string]any{"turnComplete": true},
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	got := collectEvents(t, sess, 3)

	if got[0].Kind != live.EventAudio || string(got[0].Data) != string(audio) {
		t.Errorf("event 0 = %+v, want audio %v", got[0], audio)
	}
	if got[1].Kind != live.EventText || got[1].Text != "hi " {
		t.Errorf("event 1 = %+v, want text %q", got[1], "hi ")
	}
	if got[2].Kind != live.EventTurnComplete {
		t.Errorf("event 2 = %+v, want turn complete", got[2])
	}
}

// TestCloseIsIdempotent verifies that Close can be called repeatedly and
// closes the event stream.
func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	srv := startLiveServer(t, func(conn *websocket.Conn, _ *http.Request) {
		setupEcho(t, conn)
		<-conn.CloseRead(context.Background()).Done()
	})

	p := gemini.New("key", gemini.WithBaseURL(wsURL(srv)))
	sess, err := p.Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case _, ok := <-sess.Events():
		if ok {
			t.Error("Events yielded a value after Close")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Events not closed after Close")
	}

	if err := sess.SendAudio([]byte{1}); err == nil {
		t.Error("SendAudio after Close succeeded, want error")
	}
}

// TestConnectFailsOnBadAddress verifies a dial failure is surfaced.
func TestConnectFailsOnBadAddress(t *testing.T) {
	t.Parallel()
	p := gemini.New("key", gemini.WithBaseURL("ws://127.0.0.1:1"))
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := p.Connect(ctx, live.SessionConfig{}); err == nil {
		t.Fatal("Connect succeeded against a dead address")
	}
}
