// Package mock provides an in-memory [playback.Output] for tests.
package mock

import (
	"sync"

	"github.com/talkwire/talkwire/pkg/audio/playback"
)

// Output is a scriptable playback sink.
type Output struct {
	// FailStart, when set, makes Start return this error.
	FailStart error

	// FailWrite, when set, makes Write return this error.
	FailWrite error

	mu      sync.Mutex
	started bool
	writes  [][]float32
	closes  int
}

var _ playback.Output = (*Output)(nil)

// Start implements [playback.Output].
func (o *Output) Start() error {
	if o.FailStart != nil {
		return o.FailStart
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = true
	return nil
}

// Write implements [playback.Output].
func (o *Output) Write(samples []float32) error {
	if o.FailWrite != nil {
		return o.FailWrite
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	owned := make([]float32, len(samples))
	copy(owned, samples)
	o.writes = append(o.writes, owned)
	return nil
}

// Close implements [playback.Output].
func (o *Output) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started = false
	o.closes++
	return nil
}

// SetFailWrite swaps the write failure mid-test.
func (o *Output) SetFailWrite(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.FailWrite = err
}

// Writes returns all sample blocks written so far.
func (o *Output) Writes() [][]float32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([][]float32, len(o.writes))
	copy(out, o.writes)
	return out
}

// Closes returns how many times Close has been called.
func (o *Output) Closes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closes
}
