// Package audio defines the shared audio types and the fixed transport format
// for the talkwire voice pipeline.
//
// Every component downstream of capture operates on the same format: 24 kHz,
// single channel, signed 16-bit little-endian PCM. The constants in this
// package form a compatibility contract with the voice backend — changing them
// breaks the wire protocol, not just local playback.
package audio

import "time"

const (
	// TargetSampleRate is the fixed sample rate, in Hz, of every frame that
	// crosses the transport. Capture resamples down to this rate; playback
	// renders at it.
	TargetSampleRate = 24000

	// Channels is the channel count of the pipeline. Exactly one local
	// participant and one remote voice per session — mono end to end.
	Channels = 1

	// BytesPerSample is the width of one PCM16 sample.
	BytesPerSample = 2

	// StreamBlockSamples is the frame size produced by the stream capture
	// strategy: 1200 samples ≈ 50 ms at 24 kHz.
	StreamBlockSamples = 1200

	// CallbackBlockSamples is the block size delivered by the callback capture
	// strategy's periodic device callback.
	CallbackBlockSamples = 4096
)

// Frame is one transport-ready unit of audio flowing through the pipeline.
// Frames are transient: produced by the capture engine, consumed once by the
// session's outbound path, never retained.
type Frame struct {
	// Data is PCM audio in the fixed transport format (see package constants).
	Data []byte

	// SampleRate in Hz. Always TargetSampleRate after capture-side resampling;
	// carried explicitly so malformed frames can be rejected at the boundary.
	SampleRate int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration

	// SessionID is the identifier of the session that owns this frame.
	SessionID string
}

// Samples returns the number of PCM16 samples in the frame.
func (f Frame) Samples() int { return len(f.Data) / BytesPerSample }

// Duration returns the play time of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Clone returns a detached copy of the frame. Capture strategies hand out
// clones so their internal buffers can be reused without racing the consumer.
func (f Frame) Clone() Frame {
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	f.Data = data
	return f
}
