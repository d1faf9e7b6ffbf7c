package capture

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/talkwire/talkwire/pkg/audio"
	"github.com/talkwire/talkwire/pkg/audio/pcm"
)

// defaultDeviceRate is the capture rate requested from the OS. Most hardware
// runs natively at 48 kHz; the engine downsamples to the transport rate.
const defaultDeviceRate = 48000

// MalgoConfig configures a [MalgoDevice].
type MalgoConfig struct {
	// SampleRate is the rate requested from the device. Defaults to 48000.
	SampleRate int

	// PeriodSamples is the block size requested per device callback.
	// Defaults to [audio.CallbackBlockSamples].
	PeriodSamples int
}

// MalgoDevice is a [Device] backed by miniaudio via gen2brain/malgo. It
// requests S16 mono input and relies on the OS capture path's built-in
// processing (echo cancellation quality is the device's concern, not ours).
type MalgoDevice struct {
	rate   int
	period int

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	stopped bool
}

var _ Device = (*MalgoDevice)(nil)

// NewMalgoDevice creates an unopened malgo-backed input device.
func NewMalgoDevice(cfg MalgoConfig) *MalgoDevice {
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = defaultDeviceRate
	}
	period := cfg.PeriodSamples
	if period <= 0 {
		period = audio.CallbackBlockSamples
	}
	return &MalgoDevice{rate: rate, period: period}
}

// SampleRate implements [Device].
func (d *MalgoDevice) SampleRate() int { return d.rate }

// Capabilities implements [Device]. miniaudio drives its own capture thread,
// so the worker-stream path is always available.
func (d *MalgoDevice) Capabilities() DeviceCaps {
	return DeviceCaps{WorkerStream: true}
}

// Start implements [Device]. It initialises a miniaudio context and capture
// device and begins delivering blocks. Acquisition failures (no device,
// permission denied) surface as plain errors for the engine to classify.
func (d *MalgoDevice) Start(onBlock func(samples []float32)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device != nil {
		return fmt.Errorf("malgo device already started")
	}

	ctxCfg := malgo.ContextConfig{}
	ctxCfg.ThreadPriority = malgo.ThreadPriorityRealtime
	allocCtx, err := malgo.InitContext(nil, ctxCfg, nil)
	if err != nil {
		return fmt.Errorf("init context: %w", err)
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = audio.Channels
	devCfg.SampleRate = uint32(d.rate)
	devCfg.PeriodSizeInFrames = uint32(d.period)

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			samples, err := pcm.PCM16ToFloat(input)
			if err != nil {
				return // truncated period, drop
			}
			onBlock(samples)
		},
	}

	device, err := malgo.InitDevice(allocCtx.Context, devCfg, callbacks)
	if err != nil {
		allocCtx.Uninit()
		allocCtx.Free()
		return fmt.Errorf("init device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		allocCtx.Uninit()
		allocCtx.Free()
		return fmt.Errorf("start device: %w", err)
	}

	d.ctx = allocCtx
	d.device = device
	d.stopped = false
	return nil
}

// Stop implements [Device]. malgo's Device.Stop blocks until the capture
// thread has exited, which gives the no-late-callbacks guarantee.
func (d *MalgoDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.device == nil || d.stopped {
		return nil
	}
	d.stopped = true

	err := d.device.Stop()
	d.device.Uninit()
	d.device = nil

	d.ctx.Uninit()
	d.ctx.Free()
	d.ctx = nil

	if err != nil {
		return fmt.Errorf("stop device: %w", err)
	}
	return nil
}
