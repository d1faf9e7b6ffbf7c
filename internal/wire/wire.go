// Package wire defines the JSON messages exchanged with the voice gateway.
//
// Every message is a flat JSON object carrying a "type" discriminator and is
// written as exactly one WebSocket text frame. Audio payloads travel as
// base64-encoded little-endian PCM16 at the fixed transport rate.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client-to-gateway message types.
const (
	TypeSessionConnect    = "session.connect"
	TypeSessionDisconnect = "session.disconnect"
	TypeAudioChunk        = "audio.chunk"
	TypeHeartbeat         = "heartbeat"
)

// Gateway-to-client message types.
const (
	TypeSessionReady    = "session.ready"
	TypeMessage         = "message"
	TypeAudioDelta      = "audio.delta"
	TypeTranscriptDelta = "transcript.delta"
	TypeSessionEnded    = "session.ended"
	TypeError           = "error"
)

// ErrUnknownType is returned by Decode for messages with an unrecognised
// discriminator and by Encode for values that are not wire messages.
var ErrUnknownType = errors.New("wire: unknown message type")

// Preferences carries the client's per-session preferences.
type Preferences struct {
	Voice string `json:"voice,omitempty"`
}

// SessionConnect opens a session. The session identifier is client-generated.
type SessionConnect struct {
	Type          string      `json:"type"`
	SessionID     string      `json:"session_id"`
	ParticipantID string      `json:"participant_id"`
	Preferences   Preferences `json:"preferences"`
}

// SessionDisconnect announces an orderly local teardown.
type SessionDisconnect struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// AudioChunk carries one outbound block of captured audio. Timestamp is
// milliseconds since capture start.
type AudioChunk struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// Heartbeat keeps the session alive during silence.
type Heartbeat struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// SessionReady acknowledges a SessionConnect.
type SessionReady struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
}

// Message carries informational text from the gateway outside the transcript
// stream: status notices, moderation hints, text-only replies.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// AudioDelta carries one inbound block of synthesised audio.
type AudioDelta struct {
	Type    string `json:"type"`
	Payload string `json:"payload"`
}

// TranscriptDelta carries one transcript event. Interim deltas resend the
// full text so far; IsFinal marks the utterance complete. ResponseID may be
// empty on backends that do not correlate utterances.
type TranscriptDelta struct {
	Type       string `json:"type"`
	ResponseID string `json:"response_id,omitempty"`
	Text       string `json:"text"`
	IsFinal    bool   `json:"is_final"`
	Role       string `json:"role"`
}

// SessionEnded announces a gateway-initiated teardown.
type SessionEnded struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Error reports a protocol-level error. The session may survive it; the
// transport dropping is signalled separately.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Encode marshals msg as one wire frame, filling in the type discriminator.
func Encode(msg any) ([]byte, error) {
	switch m := msg.(type) {
	case SessionConnect:
		m.Type = TypeSessionConnect
		return marshal(m)
	case SessionDisconnect:
		m.Type = TypeSessionDisconnect
		return marshal(m)
	case AudioChunk:
		m.Type = TypeAudioChunk
		return marshal(m)
	case Heartbeat:
		m.Type = TypeHeartbeat
		return marshal(m)
	case SessionReady:
		m.Type = TypeSessionReady
		return marshal(m)
	case Message:
		m.Type = TypeMessage
		return marshal(m)
	case AudioDelta:
		m.Type = TypeAudioDelta
		return marshal(m)
	case TranscriptDelta:
		m.Type = TypeTranscriptDelta
		return marshal(m)
	case SessionEnded:
		m.Type = TypeSessionEnded
		return marshal(m)
	case Error:
		m.Type = TypeError
		return marshal(m)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, msg)
	}
}

func marshal(m any) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal: %w", err)
	}
	return data, nil
}

// Decode parses one wire frame and returns the concrete message value.
func Decode(data []byte) (any, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("wire: decode envelope: %w", err)
	}

	switch env.Type {
	case TypeSessionConnect:
		return decodeAs[SessionConnect](data)
	case TypeSessionDisconnect:
		return decodeAs[SessionDisconnect](data)
	case TypeAudioChunk:
		return decodeAs[AudioChunk](data)
	case TypeHeartbeat:
		return decodeAs[Heartbeat](data)
	case TypeSessionReady:
		return decodeAs[SessionReady](data)
	case TypeMessage:
		return decodeAs[Message](data)
	case TypeAudioDelta:
		return decodeAs[AudioDelta](data)
	case TypeTranscriptDelta:
		return decodeAs[TranscriptDelta](data)
	case TypeSessionEnded:
		return decodeAs[SessionEnded](data)
	case TypeError:
		return decodeAs[Error](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

func decodeAs[T any](data []byte) (T, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("wire: decode %T: %w", m, err)
	}
	return m, nil
}
