// Package capture owns the audio input device and turns its sample stream
// into transport-ready frames.
//
// Two interchangeable strategies sit behind one contract:
//
//   - [StrategyStream] — a background worker accumulates resampled samples
//     into a fixed ring of [audio.StreamBlockSamples] and emits a detached
//     copy each time it fills.
//   - [StrategyCallback] — the device delivers larger blocks
//     ([audio.CallbackBlockSamples]) which are resampled and encoded
//     synchronously inside the callback, with emission handed off to a
//     dedicated goroutine so the device thread never blocks on the consumer.
//
// The strategy is selected at startup from the device's declared
// capabilities, not by exception-driven fallback. At most one engine may hold
// the input device per process.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talkwire/talkwire/pkg/audio"
	"github.com/talkwire/talkwire/pkg/audio/pcm"
	"github.com/talkwire/talkwire/pkg/audio/resample"
)

var (
	// ErrDeviceUnavailable is returned when the input device cannot be
	// acquired (missing hardware, permission denied). Capture is optional:
	// the session degrades to text-only rather than failing.
	ErrDeviceUnavailable = errors.New("capture: device unavailable")

	// ErrCaptureActive is returned when a second engine tries to acquire the
	// input device while one is already running. This is a caller error, not
	// a queueing request.
	ErrCaptureActive = errors.New("capture: another engine is already active")
)

// deviceInUse enforces the one-active-engine-per-process rule.
var deviceInUse atomic.Bool

// StrategyKind selects how samples are moved off the device.
type StrategyKind string

const (
	// StrategyAuto probes the device and picks [StrategyStream] when the
	// worker path is supported, [StrategyCallback] otherwise.
	StrategyAuto StrategyKind = "auto"

	// StrategyStream is the worker-thread streaming strategy.
	StrategyStream StrategyKind = "stream"

	// StrategyCallback is the periodic device-callback strategy.
	StrategyCallback StrategyKind = "callback"
)

// IsValid reports whether k is a recognised strategy kind.
func (k StrategyKind) IsValid() bool {
	switch k {
	case StrategyAuto, StrategyStream, StrategyCallback:
		return true
	}
	return false
}

// OnFrame receives transport-ready frames. It is invoked from an
// engine-owned goroutine, never from the device thread, and never after
// [Engine.Stop] returns.
type OnFrame func(audio.Frame)

// Config configures an [Engine].
type Config struct {
	// SessionID stamps every emitted frame with its owning session.
	SessionID string

	// Strategy selects the capture strategy. Defaults to [StrategyAuto].
	Strategy StrategyKind

	// HandoffDepth is the buffer depth of the device-to-worker handoff
	// channel. Defaults to 16 blocks. When the consumer falls behind, the
	// oldest queued block is dropped first.
	HandoffDepth int
}

// Engine pulls sample blocks from a [Device], resamples them to the fixed
// transport rate, encodes PCM16, and emits [audio.Frame] values via the
// OnFrame callback passed to [Engine.Start].
type Engine struct {
	dev          Device
	sessionID    string
	kind         StrategyKind
	handoffDepth int

	mu      sync.Mutex
	started bool

	blocks chan []float32   // device thread -> worker (stream strategy)
	emit   chan audio.Frame // device thread -> emitter (callback strategy)
	wg     sync.WaitGroup

	// emitted counts target-rate samples already emitted; it is only touched
	// by the goroutine that builds frames, and derives each frame timestamp.
	emitted int64

	// dropped counts handoff blocks discarded under backpressure.
	dropped atomic.Int64
}

// New creates an engine bound to dev. The engine does not touch the device
// until [Engine.Start].
func New(dev Device, cfg Config) *Engine {
	kind := cfg.Strategy
	if kind == "" {
		kind = StrategyAuto
	}
	depth := cfg.HandoffDepth
	if depth <= 0 {
		depth = 16
	}
	return &Engine{
		dev:          dev,
		sessionID:    cfg.SessionID,
		kind:         kind,
		handoffDepth: depth,
	}
}

// Strategy returns the strategy the engine resolved to. Before Start it
// reports the configured kind, which may still be [StrategyAuto].
func (e *Engine) Strategy() StrategyKind { return e.kind }

// Dropped returns the number of sample blocks discarded because the consumer
// could not keep up.
func (e *Engine) Dropped() int64 { return e.dropped.Load() }

// Start acquires the device and begins emitting frames to onFrame.
// It fails with [ErrCaptureActive] if another engine holds the device and
// [ErrDeviceUnavailable] if the device cannot be acquired.
func (e *Engine) Start(onFrame OnFrame) error {
	if onFrame == nil {
		return fmt.Errorf("capture: onFrame must not be nil")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return ErrCaptureActive
	}
	if !deviceInUse.CompareAndSwap(false, true) {
		return ErrCaptureActive
	}

	if e.kind == StrategyAuto {
		e.kind = StrategyCallback
		if e.dev.Capabilities().WorkerStream {
			e.kind = StrategyStream
		}
	}

	var err error
	switch e.kind {
	case StrategyStream:
		err = e.startStream(onFrame)
	case StrategyCallback:
		err = e.startCallback(onFrame)
	default:
		err = fmt.Errorf("capture: unknown strategy %q", e.kind)
	}
	if err != nil {
		deviceInUse.Store(false)
		return err
	}

	e.started = true
	e.emitted = 0
	slog.Info("capture started", "strategy", e.kind, "device_rate", e.dev.SampleRate())
	return nil
}

// startStream wires the worker-thread strategy: the device callback performs
// a non-blocking handoff of each raw block, and a worker goroutine resamples
// and packs the samples into fixed StreamBlockSamples frames.
func (e *Engine) startStream(onFrame OnFrame) error {
	e.blocks = make(chan []float32, e.handoffDepth)
	blocks := e.blocks

	if err := e.dev.Start(func(samples []float32) {
		block := make([]float32, len(samples))
		copy(block, samples)
		for {
			select {
			case blocks <- block:
				return
			default:
			}
			// Handoff full: drop the oldest block, not the freshest.
			select {
			case <-blocks:
				e.dropped.Add(1)
			default:
			}
		}
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	deviceRate := e.dev.SampleRate()
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ring := make([]float32, 0, audio.StreamBlockSamples)
		for block := range blocks {
			resampled, err := resample.Resample(block, deviceRate, audio.TargetSampleRate)
			if err != nil {
				slog.Error("capture resample failed", "err", err)
				continue
			}
			ring = append(ring, resampled...)
			for len(ring) >= audio.StreamBlockSamples {
				e.emitFrame(onFrame, ring[:audio.StreamBlockSamples])
				ring = append(ring[:0], ring[audio.StreamBlockSamples:]...)
			}
		}
	}()

	return nil
}

// startCallback wires the callback strategy: resample and encode happen
// synchronously inside the device callback, but the finished frame is handed
// to an emitter goroutine so the callback never blocks on the consumer.
func (e *Engine) startCallback(onFrame OnFrame) error {
	e.emit = make(chan audio.Frame, e.handoffDepth)
	emit := e.emit

	deviceRate := e.dev.SampleRate()
	var captured int64 // device-thread only

	if err := e.dev.Start(func(samples []float32) {
		resampled, err := resample.Resample(samples, deviceRate, audio.TargetSampleRate)
		if err != nil {
			slog.Error("capture resample failed", "err", err)
			return
		}
		frame := audio.Frame{
			Data:       pcm.FloatToPCM16(resampled),
			SampleRate: audio.TargetSampleRate,
			Timestamp:  time.Duration(captured) * time.Second / audio.TargetSampleRate,
			SessionID:  e.sessionID,
		}
		captured += int64(len(resampled))
		for {
			select {
			case emit <- frame:
				return
			default:
			}
			select {
			case <-emit:
				e.dropped.Add(1)
			default:
			}
		}
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for frame := range emit {
			onFrame(frame)
		}
	}()

	return nil
}

// emitFrame encodes one transport frame from target-rate samples and invokes
// onFrame with an owned buffer. Called only from the stream worker.
func (e *Engine) emitFrame(onFrame OnFrame, samples []float32) {
	frame := audio.Frame{
		Data:       pcm.FloatToPCM16(samples),
		SampleRate: audio.TargetSampleRate,
		Timestamp:  time.Duration(e.emitted) * time.Second / audio.TargetSampleRate,
		SessionID:  e.sessionID,
	}
	e.emitted += int64(len(samples))
	onFrame(frame)
}

// Stop releases the device and tears down the internal routing. When Stop
// returns, the OnFrame callback is guaranteed not to be invoked again.
// Stopping an engine that is not running is a no-op.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}
	e.started = false

	// Stop the device first: after Stop returns the device contract
	// guarantees no further callbacks, so closing the handoff channels below
	// cannot race a send.
	err := e.dev.Stop()

	if e.blocks != nil {
		close(e.blocks)
		e.blocks = nil
	}
	if e.emit != nil {
		close(e.emit)
		e.emit = nil
	}
	e.wg.Wait()

	deviceInUse.Store(false)
	slog.Info("capture stopped", "dropped_blocks", e.dropped.Load())

	if err != nil {
		return fmt.Errorf("capture: release device: %w", err)
	}
	return nil
}
