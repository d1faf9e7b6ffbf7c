// Package mock provides an in-memory [capture.Device] for tests. Blocks are
// pushed by the test via [Device.Push], standing in for the device thread.
package mock

import (
	"errors"
	"sync"

	"github.com/talkwire/talkwire/pkg/audio/capture"
)

// Device is a scriptable capture device.
type Device struct {
	// Rate is the reported native sample rate. Defaults to 48000 when zero.
	Rate int

	// Caps is returned by Capabilities.
	Caps capture.DeviceCaps

	// FailStart, when set, makes Start return this error (simulates a
	// missing or denied device).
	FailStart error

	mu      sync.Mutex
	onBlock func([]float32)
	started bool
	stops   int
}

var _ capture.Device = (*Device)(nil)

// SampleRate implements [capture.Device].
func (d *Device) SampleRate() int {
	if d.Rate <= 0 {
		return 48000
	}
	return d.Rate
}

// Capabilities implements [capture.Device].
func (d *Device) Capabilities() capture.DeviceCaps { return d.Caps }

// Start implements [capture.Device].
func (d *Device) Start(onBlock func([]float32)) error {
	if d.FailStart != nil {
		return d.FailStart
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("mock device already started")
	}
	d.started = true
	d.onBlock = onBlock
	return nil
}

// Stop implements [capture.Device].
func (d *Device) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	d.onBlock = nil
	d.stops++
	return nil
}

// Push delivers one block to the registered callback, as the device thread
// would. Pushing after Stop is a silent no-op, mirroring real devices.
func (d *Device) Push(samples []float32) {
	d.mu.Lock()
	cb := d.onBlock
	d.mu.Unlock()
	if cb != nil {
		cb(samples)
	}
}

// Stops returns how many times Stop has been called.
func (d *Device) Stops() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}
