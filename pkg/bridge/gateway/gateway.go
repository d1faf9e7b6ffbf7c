// Package gateway implements the bridge interface for the native talkwire
// voice gateway protocol.
//
// The gateway speaks a JSON envelope protocol over a single WebSocket: the
// client announces itself with session.connect, streams base64 PCM16 audio
// chunks and heartbeats, and receives session.ready, message, audio.delta and
// transcript.delta frames back. Every message is one text frame.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/talkwire/talkwire/internal/wire"
	"github.com/talkwire/talkwire/pkg/audio"
	"github.com/talkwire/talkwire/pkg/audio/pcm"
	"github.com/talkwire/talkwire/pkg/bridge"
)

var _ bridge.Bridge = (*Bridge)(nil)
var _ bridge.Conn = (*conn)(nil)

// Option is a functional option for configuring a Bridge.
type Option func(*Bridge)

// WithEventBuffer overrides the event channel depth.
func WithEventBuffer(depth int) Option {
	return func(b *Bridge) {
		if depth > 0 {
			b.eventDepth = depth
		}
	}
}

// Bridge dials a talkwire voice gateway.
type Bridge struct {
	url        string
	token      string
	eventDepth int
}

// New creates a Bridge for the gateway at url, authenticating with the given
// bearer token.
func New(url, token string, opts ...Option) *Bridge {
	b := &Bridge{
		url:        url,
		token:      token,
		eventDepth: 64,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Connect dials the gateway and announces the session. The returned Conn
// emits events as soon as the gateway acknowledges with session.ready.
func (b *Bridge) Connect(ctx context.Context, params bridge.Params) (bridge.Conn, error) {
	ws, _, err := websocket.Dial(ctx, b.url, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + b.token},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	c := &conn{
		ws:        ws,
		sessionID: params.SessionID,
		events:    make(chan bridge.Event, b.eventDepth),
		ctx:       connCtx,
		cancel:    cancel,
	}
	c.connected.Store(true)

	err = c.writeWire(wire.SessionConnect{
		SessionID:     params.SessionID,
		ParticipantID: params.ParticipantID,
		Preferences:   wire.Preferences{Voice: params.Voice},
	})
	if err != nil {
		cancel()
		ws.Close(websocket.StatusInternalError, "connect failed")
		return nil, fmt.Errorf("gateway: session connect: %w", err)
	}

	go c.receiveLoop()

	return c, nil
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

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// writeWire encodes msg and writes it as one text frame.
func (c *conn) writeWire(msg any) error {
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.ws.Write(c.ctx, websocket.MessageText, data)
}

// SendAudio delivers one captured frame as an audio.chunk message.
func (c *conn) SendAudio(frame audio.Frame) error {
	if c.isClosed() {
		return errors.New("gateway: session closed")
	}
	return c.writeWire(wire.AudioChunk{
		SessionID: c.sessionID,
		Payload:   pcm.EncodeTransport(frame.Data),
		Timestamp: frame.Timestamp.Milliseconds(),
	})
}

// SendHeartbeat sends a heartbeat message.
func (c *conn) SendHeartbeat() error {
	if c.isClosed() {
		return errors.New("gateway: session closed")
	}
	return c.writeWire(wire.Heartbeat{SessionID: c.sessionID})
}

// Events returns the gateway event stream.
func (c *conn) Events() <-chan bridge.Event { return c.events }

// Connected reports whether the transport is usable.
func (c *conn) Connected() bool { return c.connected.Load() }

func (c *conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// receiveLoop reads gateway frames and dispatches them as events. It owns
// the events channel and closes it on exit.
func (c *conn) receiveLoop() {
	defer close(c.events)
	defer c.connected.Store(false)

	for {
		_, data, err := c.ws.Read(c.ctx)
		if err != nil {
			return
		}

		msg, err := wire.Decode(data)
		if err != nil {
			// Unknown frames are skipped so protocol additions do not kill
			// running sessions.
			continue
		}

		switch m := msg.(type) {
		case wire.SessionReady:
			c.emit(bridge.Event{Kind: bridge.EventReady, SessionID: m.SessionID})

		case wire.Message:
			c.emit(bridge.Event{Kind: bridge.EventMessage, Text: m.Text})

		case wire.AudioDelta:
			raw, err := pcm.DecodeTransport(m.Payload)
			if err != nil || len(raw) == 0 {
				continue
			}
			c.emit(bridge.Event{Kind: bridge.EventAudio, Audio: raw})

		case wire.TranscriptDelta:
			c.emit(bridge.Event{
				Kind:       bridge.EventTranscript,
				ResponseID: m.ResponseID,
				Text:       m.Text,
				Final:      m.IsFinal,
				Role:       m.Role,
			})

		case wire.Error:
			c.emit(bridge.Event{Kind: bridge.EventError, Err: fmt.Errorf("gateway: %s", m.Message)})

		case wire.SessionEnded:
			c.emit(bridge.Event{Kind: bridge.EventEnded, Reason: m.Reason})
			return
		}
	}
}

func (c *conn) emit(evt bridge.Event) {
	select {
	case c.events <- evt:
	case <-c.ctx.Done():
	}
}

// Close announces the teardown with session.disconnect and releases the
// transport. Idempotent.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		// Best effort: the gateway may already be gone.
		_ = c.writeWire(wire.SessionDisconnect{SessionID: c.sessionID})

		c.connected.Store(false)
		c.cancel()
		c.ws.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
