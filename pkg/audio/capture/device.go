package capture

// DeviceCaps describes static capabilities of an input device, probed once at
// startup to select the capture strategy.
type DeviceCaps struct {
	// WorkerStream reports whether the device can feed a background worker
	// with small periodic blocks. When false, the engine falls back to the
	// callback strategy with larger blocks.
	WorkerStream bool
}

// Device abstracts a platform audio input. Implementations deliver blocks of
// normalized float samples at the device's native rate.
//
// This interface lives under pkg/ because platform adapters outside this
// repository are expected to implement it.
type Device interface {
	// Start opens the device and begins delivering sample blocks to onBlock.
	// onBlock is invoked on the device's own thread; it must not block.
	// The slice passed to onBlock is only valid for the duration of the call.
	Start(onBlock func(samples []float32)) error

	// SampleRate returns the device's native sample rate in Hz. Valid after
	// construction, before Start.
	SampleRate() int

	// Capabilities returns the device's static capabilities.
	Capabilities() DeviceCaps

	// Stop closes the device. When Stop returns, onBlock is guaranteed not
	// to be invoked again. Stopping a stopped device is a no-op.
	Stop() error
}
