// Package pcm converts between normalized float samples and the signed 16-bit
// little-endian PCM used on the wire, and frames raw bytes for the
// text-capable transport.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedFrame is returned when a byte payload cannot be interpreted as
// PCM16 audio (odd byte length). Malformed frames are dropped by callers; the
// stream continues.
var ErrMalformedFrame = errors.New("pcm: malformed frame")

// FloatToPCM16 encodes normalized samples as little-endian int16 bytes.
// Samples are clamped to [-1, 1]; negative values scale by 32768 and
// non-negative values by 32767 so both extremes map onto the int16 range
// without overflow. There is no error path — out-of-range input is clamped,
// not rejected.
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1.0 {
			s = 1.0
		} else if s < -1.0 {
			s = -1.0
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// PCM16ToFloat decodes little-endian int16 bytes into normalized samples,
// scaling by 1/32768. An odd byte length is a framing error and returns
// [ErrMalformedFrame].
func PCM16ToFloat(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("%w: odd byte length %d", ErrMalformedFrame, len(data))
	}
	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		out[i] = float32(v) / 32768
	}
	return out, nil
}

// EncodeTransport frames raw bytes as text for the message transport.
// DecodeTransport is its exact inverse for every byte sequence.
func EncodeTransport(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeTransport reverses [EncodeTransport]. Invalid text is a framing error
// and returns [ErrMalformedFrame].
func DecodeTransport(text string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return data, nil
}
