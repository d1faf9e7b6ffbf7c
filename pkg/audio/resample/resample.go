// Package resample converts audio between sample rates by block averaging.
//
// The pipeline only ever downsamples (device rates are at or above the 24 kHz
// transport rate), so upsampling is rejected rather than implemented badly.
// Block averaging applies no phase or anti-aliasing filter — a deliberate
// simplicity/latency tradeoff: the averaging window already attenuates the
// energy above the new Nyquist enough for speech, and a FIR filter would add
// per-block latency the realtime path cannot afford.
package resample

import (
	"errors"
	"fmt"
	"math"
)

// ErrUnsupportedRate is returned when the requested conversion cannot be
// performed: upsampling, or a non-positive rate. This is a programming or
// configuration error and is never silently corrected.
var ErrUnsupportedRate = errors.New("resample: unsupported rate conversion")

// Resample converts samples from inputRate to outputRate.
//
// When the rates match, a fresh copy of the input is returned — the result
// never aliases the source buffer. When outputRate > inputRate the call fails
// with [ErrUnsupportedRate].
//
// Downsampling is O(n) block averaging: output sample i is the mean of the
// input samples in [round(i·ratio), round((i+1)·ratio)) where
// ratio = inputRate/outputRate. An empty bucket emits 0.
func Resample(samples []float32, inputRate, outputRate int) ([]float32, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("%w: %d Hz -> %d Hz", ErrUnsupportedRate, inputRate, outputRate)
	}
	if outputRate == inputRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}
	if outputRate > inputRate {
		return nil, fmt.Errorf("%w: upsampling %d Hz -> %d Hz", ErrUnsupportedRate, inputRate, outputRate)
	}

	ratio := float64(inputRate) / float64(outputRate)
	outLen := int(math.Round(float64(len(samples)) / ratio))
	out := make([]float32, outLen)

	for i := range out {
		start := int(math.Round(float64(i) * ratio))
		end := int(math.Round(float64(i+1) * ratio))
		if end > len(samples) {
			end = len(samples)
		}
		if start >= end {
			continue // empty bucket, emit 0
		}
		var sum float64
		for _, s := range samples[start:end] {
			sum += float64(s)
		}
		out[i] = float32(sum / float64(end-start))
	}

	return out, nil
}
