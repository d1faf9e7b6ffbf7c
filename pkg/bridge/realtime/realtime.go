// Package realtime implements the bridge interface for OpenAI's Realtime API.
//
// It establishes a bidirectional WebSocket connection to the Realtime
// endpoint and exchanges JSON events according to the Realtime protocol.
// Audio travels as base64-encoded PCM16 chunks. The provider streams
// transcripts as append-only deltas; this package accumulates them per
// response and emits full-state interim events, so consumers see the same
// replace semantics as with the native gateway.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/talkwire/talkwire/pkg/audio"
	"github.com/talkwire/talkwire/pkg/audio/pcm"
	"github.com/talkwire/talkwire/pkg/bridge"
)

var _ bridge.Bridge = (*Bridge)(nil)
var _ bridge.Conn = (*conn)(nil)

const (
	defaultModel   = "gpt-4o-realtime-preview"
	defaultBaseURL = "wss://api.openai.com/v1/realtime"
)

// ── Options ───────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Bridge.
type Option func(*Bridge)

// WithModel sets the Realtime model used for sessions.
func WithModel(model string) Option {
	return func(b *Bridge) { b.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(b *Bridge) { b.baseURL = url }
}

// ── Bridge ────────────────────────────────────────────────────────────────────

// Bridge dials the OpenAI Realtime API.
type Bridge struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a Realtime Bridge with the given API key and options.
func New(apiKey string, opts ...Option) *Bridge {
	b := &Bridge{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Connect establishes a new Realtime session. The provider acknowledges with
// a session.created event once the session.update configuring audio formats
// and voice has been written.
func (b *Bridge) Connect(ctx context.Context, params bridge.Params) (bridge.Conn, error) {
	wsURL := fmt.Sprintf("%s?model=%s", b.baseURL, b.model)

	ws, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + b.apiKey},
			"OpenAI-Beta":   []string{"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:        ws,
		sessionID: params.SessionID,
		events:    make(chan bridge.Event, 64),
		interim:   make(map[string]string),
		ctx:       connCtx,
		cancel:    cancel,
	}
	c.connected.Store(true)

	if err := c.sendSessionUpdate(params.Voice); err != nil {
		cancel()
		ws.Close(websocket.StatusInternalError, "session update failed")
		return nil, fmt.Errorf("realtime: session update: %w", err)
	}

	go c.receiveLoop()

	return c, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Voice             string `json:"voice,omitempty"`
	InputAudioFormat  string `json:"input_audio_format"`
	OutputAudioFormat string `json:"output_audio_format"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64-encoded PCM16
}

// serverErrorDetail represents the nested error object in a Realtime error
// event: {"type":"error","error":{"type":"...","code":"...","message":"..."}}.
type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverEvent struct {
	Type string `json:"type"`

	// response.audio.delta / response.audio_transcript.delta
	Delta      string `json:"delta,omitempty"`
	ResponseID string `json:"response_id,omitempty"`

	// conversation.item.input_audio_transcription.completed
	Transcript string `json:"transcript,omitempty"`
	ItemID     string `json:"item_id,omitempty"`

	// response.text.done
	Text string `json:"text,omitempty"`

	// error event
	Error *serverErrorDetail `json:"error,omitempty"`
}

// ── conn ──────────────────────────────────────────────────────────────────────

type conn struct {
	ws        *websocket.Conn
	sessionID string
	events    chan bridge.Event

	connected atomic.Bool

	wmu sync.Mutex

	mu     sync.Mutex
	closed bool

	// interim accumulates transcript deltas per response until the matching
	// done event arrives.
	interim map[string]string

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSessionUpdate configures voice and the fixed PCM16 audio formats.
func (c *conn) sendSessionUpdate(voice string) error {
	return c.writeJSON(sessionUpdateMessage{
		Type: "session.update",
		Session: sessionParams{
			Voice:             voice,
			InputAudioFormat:  "pcm16",
			OutputAudioFormat: "pcm16",
		},
	})
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *conn) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.Write(c.ctx, websocket.MessageText, data)
}

// SendAudio delivers one captured frame as an input_audio_buffer.append event.
func (c *conn) SendAudio(frame audio.Frame) error {
	if c.isClosed() {
		return fmt.Errorf("realtime: session closed")
	}
	return c.writeJSON(appendAudioMessage{
		Type:  "input_audio_buffer.append",
		Audio: pcm.EncodeTransport(frame.Data),
	})
}

// SendHeartbeat keeps the transport alive. The Realtime protocol has no
// application-level heartbeat, so this maps to a WebSocket ping.
func (c *conn) SendHeartbeat() error {
	if c.isClosed() {
		return fmt.Errorf("realtime: session closed")
	}
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	return c.ws.Ping(ctx)
}

// Events returns the backend event stream.
func (c *conn) Events() <-chan bridge.Event { return c.events }

// Connected reports whether the transport is usable.
func (c *conn) Connected() bool { return c.connected.Load() }

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// receiveLoop reads provider events and dispatches them. It owns the events
// channel and closes it on exit.
func (c *conn) receiveLoop() {
	defer close(c.events)
	defer c.connected.Store(false)

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}

		c.handleServerEvent(&evt)
	}
}

func (c *conn) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "session.created":
		c.emit(bridge.Event{Kind: bridge.EventReady, SessionID: c.sessionID})

	case "response.audio.delta":
		if evt.Delta == "" {
			return
		}
		raw, err := pcm.DecodeTransport(evt.Delta)
		if err != nil || len(raw) == 0 {
			return
		}
		c.emit(bridge.Event{Kind: bridge.EventAudio, Audio: raw})

	case "response.audio_transcript.delta":
		if evt.Delta == "" {
			return
		}
		c.mu.Lock()
		c.interim[evt.ResponseID] += evt.Delta
		text := c.interim[evt.ResponseID]
		c.mu.Unlock()

		c.emit(bridge.Event{
			Kind:       bridge.EventTranscript,
			ResponseID: evt.ResponseID,
			Text:       text,
			Role:       "assistant",
		})

	case "response.audio_transcript.done":
		c.mu.Lock()
		text := c.interim[evt.ResponseID]
		delete(c.interim, evt.ResponseID)
		c.mu.Unlock()

		if text == "" && evt.Transcript == "" {
			return
		}
		if evt.Transcript != "" {
			text = evt.Transcript
		}
		c.emit(bridge.Event{
			Kind:       bridge.EventTranscript,
			ResponseID: evt.ResponseID,
			Text:       text,
			Final:      true,
			Role:       "assistant",
		})

	case "response.text.done":
		// Text-only responses arrive outside the audio transcript stream;
		// the deltas are skipped and the completed text is relayed once.
		if evt.Text == "" {
			return
		}
		c.emit(bridge.Event{
			Kind:       bridge.EventMessage,
			ResponseID: evt.ResponseID,
			Text:       evt.Text,
		})

	case "conversation.item.input_audio_transcription.completed":
		if evt.Transcript == "" {
			return
		}
		c.emit(bridge.Event{
			Kind:       bridge.EventTranscript,
			ResponseID: evt.ItemID,
			Text:       evt.Transcript,
			Final:      true,
			Role:       "user",
		})

	case "input_audio_buffer.speech_started":
		c.emit(bridge.Event{Kind: bridge.EventSpeechStarted})

	case "input_audio_buffer.speech_stopped":
		c.emit(bridge.Event{Kind: bridge.EventSpeechStopped})

	case "error":
		msg := "unknown error"
		if evt.Error != nil && evt.Error.Message != "" {
			msg = evt.Error.Message
		}
		c.emit(bridge.Event{Kind: bridge.EventError, Err: fmt.Errorf("realtime: %s", msg)})
	}
}

func (c *conn) emit(evt bridge.Event) {
	select {
	case c.events <- evt:
	case <-c.ctx.Done():
	}
}

// Close terminates the session and releases the transport. Idempotent.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		c.connected.Store(false)
		c.cancel()
		c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
