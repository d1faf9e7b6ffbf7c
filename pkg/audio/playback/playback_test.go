package playback_test

import (
	"errors"
	"testing"

	"github.com/talkwire/talkwire/pkg/audio"
	"github.com/talkwire/talkwire/pkg/audio/pcm"
	"github.com/talkwire/talkwire/pkg/audio/playback"
	"github.com/talkwire/talkwire/pkg/audio/playback/mock"
)

// The player enforces a process-wide single-device rule, so these tests run
// sequentially: each starts at most one player and closes it before returning.

func frameOf(samples []float32) audio.Frame {
	return audio.Frame{
		Data:       pcm.FloatToPCM16(samples),
		SampleRate: audio.TargetSampleRate,
	}
}

func TestPlayer_EnqueueSchedulesDecodedSamples(t *testing.T) {
	out := &mock.Output{}
	p := playback.New(out)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close()

	p.Enqueue(frameOf([]float32{0, 0.5, -0.5, 1}))

	writes := out.Writes()
	if len(writes) != 1 {
		t.Fatalf("writes = %d; want 1", len(writes))
	}
	if got := len(writes[0]); got != 4 {
		t.Errorf("scheduled samples = %d; want 4", got)
	}
	// Round-tripped through PCM16, so allow one quantisation step.
	if diff := writes[0][1] - 0.5; diff < -1.0/32768 || diff > 1.0/32768 {
		t.Errorf("sample[1] = %v; want ~0.5", writes[0][1])
	}
}

func TestPlayer_MalformedFrameIsDropped(t *testing.T) {
	out := &mock.Output{}
	p := playback.New(out)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close()

	p.Enqueue(audio.Frame{Data: []byte{0x01, 0x02, 0x03}}) // odd byte count

	if len(out.Writes()) != 0 {
		t.Errorf("malformed frame reached the output")
	}
	if p.Dropped() != 1 {
		t.Errorf("dropped = %d; want 1", p.Dropped())
	}
}

func TestPlayer_DeviceFailureIsDeviceUnavailable(t *testing.T) {
	out := &mock.Output{FailStart: errors.New("no output device")}
	p := playback.New(out)

	if err := p.Start(); !errors.Is(err, playback.ErrDeviceUnavailable) {
		t.Fatalf("err = %v; want ErrDeviceUnavailable", err)
	}

	// The device slot must be released so a later player can start.
	p2 := playback.New(&mock.Output{})
	if err := p2.Start(); err != nil {
		t.Fatalf("second Start after failure: %v", err)
	}
	p2.Close()
}

func TestPlayer_WriteFailureReportsOnceThenDropsUntilRearm(t *testing.T) {
	out := &mock.Output{}
	var reported []error
	p := playback.New(out, playback.WithErrorHandler(func(err error) {
		reported = append(reported, err)
	}))
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close()

	out.SetFailWrite(errors.New("device yanked"))
	p.Enqueue(frameOf(make([]float32, 8)))
	p.Enqueue(frameOf(make([]float32, 8)))
	p.Enqueue(frameOf(make([]float32, 8)))

	if len(reported) != 1 {
		t.Fatalf("error reports = %d; want exactly 1", len(reported))
	}
	if p.Dropped() != 3 {
		t.Errorf("dropped = %d; want 3", p.Dropped())
	}

	// Rearm restores scheduling once the device cooperates again.
	out.SetFailWrite(nil)
	if err := p.Rearm(); err != nil {
		t.Fatalf("Rearm: %v", err)
	}
	p.Enqueue(frameOf(make([]float32, 8)))
	if len(out.Writes()) != 1 {
		t.Errorf("writes after Rearm = %d; want 1", len(out.Writes()))
	}
}

func TestPlayer_BufferFullDropsWithoutDisarming(t *testing.T) {
	out := &mock.Output{FailWrite: playback.ErrBufferFull}
	var reports int
	p := playback.New(out, playback.WithErrorHandler(func(error) { reports++ }))
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close()

	p.Enqueue(frameOf(make([]float32, 8)))
	if reports != 0 {
		t.Errorf("buffer-full backpressure reported as a failure")
	}
	if p.Dropped() != 1 {
		t.Errorf("dropped = %d; want 1", p.Dropped())
	}

	// Still armed: the next frame is written once the buffer drains.
	out.SetFailWrite(nil)
	p.Enqueue(frameOf(make([]float32, 8)))
	if len(out.Writes()) != 1 {
		t.Errorf("writes after buffer drain = %d; want 1", len(out.Writes()))
	}
}

func TestPlayer_SecondPlayerIsCallerError(t *testing.T) {
	p := playback.New(&mock.Output{})
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Close()

	other := playback.New(&mock.Output{})
	if err := other.Start(); !errors.Is(err, playback.ErrPlaybackActive) {
		t.Fatalf("err = %v; want ErrPlaybackActive", err)
	}
}

func TestPlayer_CloseIsIdempotentAndReleasesDevice(t *testing.T) {
	out := &mock.Output{}
	p := playback.New(out)
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if out.Closes() != 1 {
		t.Errorf("output closes = %d; want 1", out.Closes())
	}

	// Frames after Close are dropped, not written.
	p.Enqueue(frameOf(make([]float32, 8)))
	if len(out.Writes()) != 0 {
		t.Errorf("frame written after Close")
	}

	p2 := playback.New(&mock.Output{})
	if err := p2.Start(); err != nil {
		t.Fatalf("Start after Close: %v", err)
	}
	p2.Close()
}
