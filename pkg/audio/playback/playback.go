// Package playback decodes inbound audio frames and schedules them for
// low-latency rendering on the output device.
//
// The player is deliberately lossy under failure: when the device is not
// ready, the error is reported once and subsequent frames are dropped until
// [Player.Rearm] — bounded staleness beats unbounded buffering on a realtime
// path. At most one player may hold the output device per process.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/talkwire/talkwire/pkg/audio"
	"github.com/talkwire/talkwire/pkg/audio/pcm"
)

var (
	// ErrDeviceUnavailable is returned when the output device cannot be
	// acquired. Non-fatal to the session: playback stays silent.
	ErrDeviceUnavailable = errors.New("playback: device unavailable")

	// ErrPlaybackActive is returned when a second player tries to acquire
	// the output device while one is already running.
	ErrPlaybackActive = errors.New("playback: another player is already active")

	// ErrBufferFull signals that the output's bounded buffer is full. The
	// frame is dropped; this is backpressure, not a device failure.
	ErrBufferFull = errors.New("playback: output buffer full")
)

// playerActive enforces the one-active-player-per-process rule.
var playerActive atomic.Bool

// Output abstracts a platform audio sink rendering normalized float samples
// at the fixed transport rate. Implementations must bound their internal
// buffering and reject writes with [ErrBufferFull] once the bound is hit.
type Output interface {
	// Start acquires the device. Idempotent.
	Start() error

	// Write schedules samples for rendering. Must not block on the render
	// path; returns ErrBufferFull when the bounded buffer is exhausted.
	Write(samples []float32) error

	// Close releases the device. Idempotent.
	Close() error
}

// Option is a functional option for [New].
type Option func(*Player)

// WithErrorHandler sets the callback invoked when the player disarms after a
// device failure. The callback fires at most once per armed period.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Player) { p.onError = fn }
}

// Player renders inbound frames on an [Output].
type Player struct {
	out     Output
	onError func(error)

	mu      sync.Mutex
	started bool
	armed   bool

	droppedFrames atomic.Int64
}

// New creates a player over out. The device is not touched until [Player.Start].
func New(out Output, opts ...Option) *Player {
	p := &Player{out: out}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start acquires the output device and arms the player.
func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if !playerActive.CompareAndSwap(false, true) {
		return ErrPlaybackActive
	}
	if err := p.out.Start(); err != nil {
		playerActive.Store(false)
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	p.started = true
	p.armed = true
	return nil
}

// Enqueue decodes one frame and schedules it for rendering. It never blocks:
// malformed frames are dropped and logged, frames arriving while the player
// is disarmed are dropped silently, and a scheduling failure disarms the
// player after reporting the error once.
func (p *Player) Enqueue(frame audio.Frame) {
	samples, err := pcm.PCM16ToFloat(frame.Data)
	if err != nil {
		slog.Warn("playback dropped malformed frame", "bytes", len(frame.Data), "err", err)
		p.droppedFrames.Add(1)
		return
	}

	p.mu.Lock()
	armed := p.started && p.armed
	p.mu.Unlock()
	if !armed {
		p.droppedFrames.Add(1)
		return
	}

	switch err := p.out.Write(samples); {
	case err == nil:
	case errors.Is(err, ErrBufferFull):
		// Bounded-latency policy: drop rather than queue without bound.
		p.droppedFrames.Add(1)
	default:
		p.disarm(err)
		p.droppedFrames.Add(1)
	}
}

// disarm reports the failure once and stops accepting frames until Rearm.
func (p *Player) disarm(err error) {
	p.mu.Lock()
	wasArmed := p.armed
	p.armed = false
	handler := p.onError
	p.mu.Unlock()

	if !wasArmed {
		return
	}
	slog.Error("playback disarmed", "err", err)
	if handler != nil {
		handler(err)
	}
}

// Rearm re-enables frame scheduling after a failure, reacquiring the device
// if necessary. Returns [ErrDeviceUnavailable] when the device still cannot
// be opened.
func (p *Player) Rearm() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return fmt.Errorf("playback: player not started")
	}
	if p.armed {
		return nil
	}
	if err := p.out.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	p.armed = true
	return nil
}

// Dropped returns the number of frames dropped since Start.
func (p *Player) Dropped() int64 { return p.droppedFrames.Load() }

// Close releases the output device. Idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return nil
	}
	p.started = false
	p.armed = false
	playerActive.Store(false)
	if err := p.out.Close(); err != nil {
		return fmt.Errorf("playback: close output: %w", err)
	}
	return nil
}
