// Package mock provides a scriptable in-memory bridge for tests.
//
// A test obtains the Conn created by Connect via [Bridge.LastConn], feeds
// backend behaviour with [Conn.Emit] and [Conn.DropTransport], and inspects
// what the core sent with [Conn.SentAudio] and [Conn.Heartbeats].
package mock

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/talkwire/talkwire/pkg/audio"
	"github.com/talkwire/talkwire/pkg/bridge"
)

var _ bridge.Bridge = (*Bridge)(nil)
var _ bridge.Conn = (*Conn)(nil)

// Bridge is a scriptable bridge.
type Bridge struct {
	// FailConnect, when set, makes Connect return this error.
	FailConnect error

	// ConnectDelay, when set, makes Connect block until ctx is done or the
	// channel is closed. Used to test connect cancellation.
	ConnectDelay chan struct{}

	mu    sync.Mutex
	conns []*Conn
}

// Connect implements [bridge.Bridge].
func (b *Bridge) Connect(ctx context.Context, params bridge.Params) (bridge.Conn, error) {
	if b.ConnectDelay != nil {
		select {
		case <-b.ConnectDelay:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if b.FailConnect != nil {
		return nil, b.FailConnect
	}

	c := &Conn{
		Params: params,
		events: make(chan bridge.Event, 64),
	}
	c.connected.Store(true)

	b.mu.Lock()
	b.conns = append(b.conns, c)
	b.mu.Unlock()
	return c, nil
}

// LastConn returns the most recently created Conn, or nil.
func (b *Bridge) LastConn() *Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

// Conns returns how many sessions have been established.
func (b *Bridge) Conns() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// Conn is the session handle created by [Bridge.Connect].
type Conn struct {
	// Params echoes what Connect received.
	Params bridge.Params

	// FailSendAudio, when set, makes SendAudio return this error.
	FailSendAudio error

	events    chan bridge.Event
	connected atomic.Bool

	mu         sync.Mutex
	sent       []audio.Frame
	heartbeats int
	closes     int
	dropOnce   sync.Once
}

// SendAudio implements [bridge.Conn], recording the frame.
func (c *Conn) SendAudio(frame audio.Frame) error {
	if c.FailSendAudio != nil {
		return c.FailSendAudio
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, frame.Clone())
	return nil
}

// SendHeartbeat implements [bridge.Conn], counting the beat.
func (c *Conn) SendHeartbeat() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heartbeats++
	return nil
}

// Events implements [bridge.Conn].
func (c *Conn) Events() <-chan bridge.Event { return c.events }

// Connected implements [bridge.Conn].
func (c *Conn) Connected() bool { return c.connected.Load() }

// Close implements [bridge.Conn]. It drops the transport like a real
// teardown would.
func (c *Conn) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	c.DropTransport()
	return nil
}

// Emit delivers one backend event to the core.
func (c *Conn) Emit(evt bridge.Event) {
	c.events <- evt
}

// End emits an orderly EventEnded and closes the stream.
func (c *Conn) End(reason string) {
	c.Emit(bridge.Event{Kind: bridge.EventEnded, Reason: reason})
	c.DropTransport()
}

// DropTransport simulates the transport dropping: the event stream closes
// without a preceding EventEnded.
func (c *Conn) DropTransport() {
	c.dropOnce.Do(func() {
		c.connected.Store(false)
		close(c.events)
	})
}

// SentAudio returns every frame the core sent.
func (c *Conn) SentAudio() []audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]audio.Frame, len(c.sent))
	copy(out, c.sent)
	return out
}

// Heartbeats returns how many heartbeats the core sent.
func (c *Conn) Heartbeats() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.heartbeats
}

// Closes returns how many times Close has been called.
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
