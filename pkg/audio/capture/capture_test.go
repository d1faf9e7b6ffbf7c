package capture_test

import (
	"errors"
	"testing"
	"time"

	"github.com/talkwire/talkwire/pkg/audio"
	"github.com/talkwire/talkwire/pkg/audio/capture"
	"github.com/talkwire/talkwire/pkg/audio/capture/mock"
)

// The engine enforces a process-wide single-device rule, so these tests run
// sequentially: each starts at most one engine and stops it before returning.

// collectFrames returns an OnFrame callback and a channel carrying everything
// it receives.
func collectFrames(depth int) (capture.OnFrame, <-chan audio.Frame) {
	ch := make(chan audio.Frame, depth)
	return func(f audio.Frame) {
		select {
		case ch <- f:
		default:
		}
	}, ch
}

func waitFrame(t *testing.T, ch <-chan audio.Frame) audio.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for frame")
		return audio.Frame{}
	}
}

func TestEngine_StreamStrategyEmitsFixedBlocks(t *testing.T) {
	dev := &mock.Device{Rate: 48000, Caps: capture.DeviceCaps{WorkerStream: true}}
	eng := capture.New(dev, capture.Config{SessionID: "s1"})

	onFrame, frames := collectFrames(8)
	if err := eng.Start(onFrame); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	if eng.Strategy() != capture.StrategyStream {
		t.Fatalf("Strategy = %q; want stream", eng.Strategy())
	}

	// 2400 samples at 48 kHz resample to exactly one 1200-sample frame.
	dev.Push(make([]float32, 2400))
	frame := waitFrame(t, frames)

	if got := frame.Samples(); got != audio.StreamBlockSamples {
		t.Errorf("frame samples = %d; want %d", got, audio.StreamBlockSamples)
	}
	if frame.SampleRate != audio.TargetSampleRate {
		t.Errorf("frame rate = %d; want %d", frame.SampleRate, audio.TargetSampleRate)
	}
	if frame.SessionID != "s1" {
		t.Errorf("frame session = %q; want s1", frame.SessionID)
	}
	if frame.Timestamp != 0 {
		t.Errorf("first frame timestamp = %v; want 0", frame.Timestamp)
	}

	// Second block: timestamp advances by one frame duration.
	dev.Push(make([]float32, 2400))
	second := waitFrame(t, frames)
	want := time.Duration(audio.StreamBlockSamples) * time.Second / audio.TargetSampleRate
	if second.Timestamp != want {
		t.Errorf("second frame timestamp = %v; want %v", second.Timestamp, want)
	}
}

func TestEngine_StreamStrategyAccumulatesPartialBlocks(t *testing.T) {
	dev := &mock.Device{Rate: 48000, Caps: capture.DeviceCaps{WorkerStream: true}}
	eng := capture.New(dev, capture.Config{Strategy: capture.StrategyStream})

	onFrame, frames := collectFrames(8)
	if err := eng.Start(onFrame); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	// 1200 device samples -> 600 target samples: half a frame, nothing out.
	dev.Push(make([]float32, 1200))
	select {
	case <-frames:
		t.Fatal("frame emitted before the ring filled")
	case <-time.After(50 * time.Millisecond):
	}

	// Second half fills the ring.
	dev.Push(make([]float32, 1200))
	frame := waitFrame(t, frames)
	if got := frame.Samples(); got != audio.StreamBlockSamples {
		t.Errorf("frame samples = %d; want %d", got, audio.StreamBlockSamples)
	}
}

func TestEngine_CallbackStrategyResamplesBlock(t *testing.T) {
	dev := &mock.Device{Rate: 48000, Caps: capture.DeviceCaps{WorkerStream: false}}
	eng := capture.New(dev, capture.Config{SessionID: "s1", Strategy: capture.StrategyAuto})

	onFrame, frames := collectFrames(8)
	if err := eng.Start(onFrame); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	if eng.Strategy() != capture.StrategyCallback {
		t.Fatalf("Strategy = %q; want callback (device lacks worker stream)", eng.Strategy())
	}

	// The documented end-to-end case: 4096 samples at 48 kHz -> 2048 at 24 kHz.
	dev.Push(make([]float32, 4096))
	frame := waitFrame(t, frames)
	if got := frame.Samples(); got != 2048 {
		t.Errorf("frame samples = %d; want 2048", got)
	}
	if got := frame.Samples(); got > audio.CallbackBlockSamples {
		t.Errorf("frame samples = %d exceeds strategy target %d", got, audio.CallbackBlockSamples)
	}
}

func TestEngine_DeviceFailureIsDeviceUnavailable(t *testing.T) {
	dev := &mock.Device{FailStart: errors.New("permission denied")}
	eng := capture.New(dev, capture.Config{})

	err := eng.Start(func(audio.Frame) {})
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("err = %v; want ErrDeviceUnavailable", err)
	}

	// The device slot must be released so a later engine can start.
	dev2 := &mock.Device{Caps: capture.DeviceCaps{WorkerStream: true}}
	eng2 := capture.New(dev2, capture.Config{})
	if err := eng2.Start(func(audio.Frame) {}); err != nil {
		t.Fatalf("second Start after failure: %v", err)
	}
	eng2.Stop()
}

func TestEngine_SecondEngineIsCallerError(t *testing.T) {
	dev := &mock.Device{Caps: capture.DeviceCaps{WorkerStream: true}}
	eng := capture.New(dev, capture.Config{})
	if err := eng.Start(func(audio.Frame) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	other := capture.New(&mock.Device{}, capture.Config{})
	if err := other.Start(func(audio.Frame) {}); !errors.Is(err, capture.ErrCaptureActive) {
		t.Fatalf("err = %v; want ErrCaptureActive", err)
	}
}

func TestEngine_StopReleasesDeviceAndSilencesCallback(t *testing.T) {
	dev := &mock.Device{Rate: 48000, Caps: capture.DeviceCaps{WorkerStream: true}}
	eng := capture.New(dev, capture.Config{})

	onFrame, frames := collectFrames(8)
	if err := eng.Start(onFrame); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if dev.Stops() != 1 {
		t.Errorf("device stops = %d; want 1", dev.Stops())
	}

	// Late pushes after Stop must never reach onFrame.
	dev.Push(make([]float32, 2400))
	select {
	case <-frames:
		t.Fatal("frame delivered after Stop returned")
	case <-time.After(50 * time.Millisecond):
	}

	// Stop is idempotent.
	if err := eng.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if dev.Stops() != 1 {
		t.Errorf("device stops after idempotent Stop = %d; want 1", dev.Stops())
	}
}
