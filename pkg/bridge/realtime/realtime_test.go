package realtime_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/talkwire/talkwire/pkg/audio"
	"github.com/talkwire/talkwire/pkg/audio/pcm"
	"github.com/talkwire/talkwire/pkg/bridge"
	"github.com/talkwire/talkwire/pkg/bridge/realtime"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func startRealtimeServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
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

func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func waitEvent(t *testing.T, conn bridge.Conn) bridge.Event {
	t.Helper()
	select {
	case evt, ok := <-conn.Events():
		if !ok {
			t.Fatal("event stream closed while waiting for an event")
		}
		return evt
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return bridge.Event{}
	}
}

// ── Connect ───────────────────────────────────────────────────────────────────

func TestConnect_SendsSessionUpdateWithVoiceAndFormats(t *testing.T) {
	t.Parallel()

	type sessionUpdateMsg struct {
		Type    string `json:"type"`
		Session struct {
			Voice             string `json:"voice"`
			InputAudioFormat  string `json:"input_audio_format"`
			OutputAudioFormat string `json:"output_audio_format"`
		} `json:"session"`
	}

	authHeader := make(chan string, 1)
	modelInURL := make(chan string, 1)
	received := make(chan sessionUpdateMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, r *http.Request) {
		authHeader <- r.Header.Get("Authorization")
		modelInURL <- r.URL.Query().Get("model")
		var msg sessionUpdateMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	b := realtime.New("my-api-key", realtime.WithBaseURL(wsURL(srv)), realtime.WithModel("gpt-4o-mini-realtime"))
	conn, err := b.Connect(context.Background(), bridge.Params{SessionID: "sess-1", Voice: "sage"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	select {
	case auth := <-authHeader:
		if auth != "Bearer my-api-key" {
			t.Errorf("Authorization = %q; want Bearer my-api-key", auth)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}

	select {
	case m := <-modelInURL:
		if m != "gpt-4o-mini-realtime" {
			t.Errorf("model in URL = %q; want gpt-4o-mini-realtime", m)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}

	select {
	case msg := <-received:
		if msg.Type != "session.update" {
			t.Errorf("type = %q; want session.update", msg.Type)
		}
		if msg.Session.Voice != "sage" {
			t.Errorf("voice = %q; want sage", msg.Session.Voice)
		}
		if msg.Session.InputAudioFormat != "pcm16" || msg.Session.OutputAudioFormat != "pcm16" {
			t.Errorf("audio formats = %+v; want pcm16 both ways", msg.Session)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for session.update")
	}
}

// ── Outbound audio ────────────────────────────────────────────────────────────

func TestSendAudio_AppendsToInputBuffer(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}

	received := make(chan appendMsg, 1)

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)
		var msg appendMsg
		readJSON(t, conn, &msg)
		received <- msg
		<-conn.CloseRead(context.Background()).Done()
	})

	b := realtime.New("key", realtime.WithBaseURL(wsURL(srv)))
	conn, err := b.Connect(context.Background(), bridge.Params{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	raw := pcm.FloatToPCM16(make([]float32, 2048))
	if err := conn.SendAudio(audio.Frame{Data: raw, SampleRate: audio.TargetSampleRate}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case msg := <-received:
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q; want input_audio_buffer.append", msg.Type)
		}
		decoded, err := pcm.DecodeTransport(msg.Audio)
		if err != nil {
			t.Fatalf("audio not valid transport encoding: %v", err)
		}
		if len(decoded) != len(raw) {
			t.Errorf("audio bytes = %d; want %d", len(decoded), len(raw))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for input_audio_buffer.append")
	}
}

// ── Inbound events ────────────────────────────────────────────────────────────

func TestReceive_AccumulatesTranscriptDeltasIntoFullState(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)

		writeJSON(t, conn, map[string]any{"type": "session.created"})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "response_id": "r1", "delta": "Hel"})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.delta", "response_id": "r1", "delta": "lo"})
		writeJSON(t, conn, map[string]any{"type": "response.audio_transcript.done", "response_id": "r1"})
		<-conn.CloseRead(context.Background()).Done()
	})

	b := realtime.New("key", realtime.WithBaseURL(wsURL(srv)))
	conn, err := b.Connect(context.Background(), bridge.Params{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if evt := waitEvent(t, conn); evt.Kind != bridge.EventReady {
		t.Fatalf("first event = %+v; want ready", evt)
	}

	// Each provider delta becomes a full-state interim, not an append.
	first := waitEvent(t, conn)
	if first.Kind != bridge.EventTranscript || first.Text != "Hel" || first.Final {
		t.Errorf("first transcript = %+v; want interim Hel", first)
	}
	second := waitEvent(t, conn)
	if second.Text != "Hello" || second.Final {
		t.Errorf("second transcript = %+v; want interim Hello (accumulated)", second)
	}
	final := waitEvent(t, conn)
	if final.Text != "Hello" || !final.Final || final.ResponseID != "r1" {
		t.Errorf("final transcript = %+v; want final Hello for r1", final)
	}
	if final.Role != "assistant" {
		t.Errorf("role = %q; want assistant", final.Role)
	}
}

func TestReceive_UserTranscriptAndAudioDelta(t *testing.T) {
	t.Parallel()

	pcmBytes := pcm.FloatToPCM16([]float32{0.5, -0.5})

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)

		writeJSON(t, conn, map[string]any{"type": "session.created"})
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_started"})
		writeJSON(t, conn, map[string]any{"type": "input_audio_buffer.speech_stopped"})
		writeJSON(t, conn, map[string]any{
			"type":       "conversation.item.input_audio_transcription.completed",
			"item_id":    "item-1",
			"transcript": "what time is it",
		})
		writeJSON(t, conn, map[string]any{"type": "response.audio.delta", "delta": pcm.EncodeTransport(pcmBytes)})
		writeJSON(t, conn, map[string]any{"type": "error", "error": map[string]any{"message": "rate limited"}})
		<-conn.CloseRead(context.Background()).Done()
	})

	b := realtime.New("key", realtime.WithBaseURL(wsURL(srv)))
	conn, err := b.Connect(context.Background(), bridge.Params{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if evt := waitEvent(t, conn); evt.Kind != bridge.EventReady {
		t.Fatalf("first event = %+v; want ready", evt)
	}
	if evt := waitEvent(t, conn); evt.Kind != bridge.EventSpeechStarted {
		t.Errorf("event = %+v; want speech_started", evt)
	}
	if evt := waitEvent(t, conn); evt.Kind != bridge.EventSpeechStopped {
		t.Errorf("event = %+v; want speech_stopped", evt)
	}

	user := waitEvent(t, conn)
	if user.Kind != bridge.EventTranscript || !user.Final || user.Role != "user" {
		t.Errorf("user transcript = %+v; want final user event", user)
	}
	if user.Text != "what time is it" || user.ResponseID != "item-1" {
		t.Errorf("user transcript fields = %+v", user)
	}

	if evt := waitEvent(t, conn); evt.Kind != bridge.EventAudio {
		t.Errorf("event = %+v; want audio", evt)
	} else if len(evt.Audio) != len(pcmBytes) {
		t.Errorf("audio bytes = %d; want %d", len(evt.Audio), len(pcmBytes))
	}

	if evt := waitEvent(t, conn); evt.Kind != bridge.EventError || evt.Err == nil {
		t.Errorf("event = %+v; want error", evt)
	} else if !strings.Contains(evt.Err.Error(), "rate limited") {
		t.Errorf("err = %v; want rate limited detail", evt.Err)
	}
}

func TestReceive_TextResponseIsMessageEvent(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)

		writeJSON(t, conn, map[string]any{"type": "session.created"})
		// Text deltas are skipped; only the completed text is relayed.
		writeJSON(t, conn, map[string]any{"type": "response.text.delta", "response_id": "r9", "delta": "I can"})
		writeJSON(t, conn, map[string]any{
			"type":        "response.text.done",
			"response_id": "r9",
			"text":        "I cannot hear you right now.",
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	b := realtime.New("key", realtime.WithBaseURL(wsURL(srv)))
	conn, err := b.Connect(context.Background(), bridge.Params{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if evt := waitEvent(t, conn); evt.Kind != bridge.EventReady {
		t.Fatalf("first event = %+v; want ready", evt)
	}

	msg := waitEvent(t, conn)
	if msg.Kind != bridge.EventMessage {
		t.Fatalf("event = %+v; want message", msg)
	}
	if msg.Text != "I cannot hear you right now." || msg.ResponseID != "r9" {
		t.Errorf("message fields = %+v", msg)
	}
}

func TestClose_IsIdempotentAndClosesStream(t *testing.T) {
	t.Parallel()

	srv := startRealtimeServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var update map[string]any
		readJSON(t, conn, &update)
		<-conn.CloseRead(context.Background()).Done()
	})

	b := realtime.New("key", realtime.WithBaseURL(wsURL(srv)))
	conn, err := b.Connect(context.Background(), bridge.Params{SessionID: "sess-1"})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if conn.Connected() {
		t.Error("Connected() = true after Close")
	}

	select {
	case _, ok := <-conn.Events():
		if ok {
			t.Error("unexpected event after Close")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for stream close")
	}

	if err := conn.SendAudio(audio.Frame{Data: []byte{0, 0}}); err == nil {
		t.Error("SendAudio after Close succeeded")
	}
}
