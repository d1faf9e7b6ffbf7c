// Package bridge defines the boundary to the remote voice backend.
//
// A Bridge dials the backend and returns a Conn: a bidirectional, stateful
// session that accepts captured audio and emits backend events on a single
// channel. The conversation core treats every Conn as unreliable — the event
// channel closing without a prior [EventEnded] means the transport dropped.
//
// All implementations must be safe for concurrent use.
package bridge

import (
	"context"

	"github.com/talkwire/talkwire/pkg/audio"
)

// EventKind discriminates backend events.
type EventKind string

const (
	// EventReady acknowledges the session: the backend accepted the connect
	// request and will start processing audio.
	EventReady EventKind = "ready"

	// EventMessage carries informational backend text outside the transcript
	// stream (notices, text-only replies) in Event.Text.
	EventMessage EventKind = "message"

	// EventAudio carries one block of synthesised audio (raw PCM16LE at the
	// transport rate) in Event.Audio.
	EventAudio EventKind = "audio"

	// EventTranscript carries one transcript update. Interim updates resend
	// the full text so far; Final marks the utterance complete.
	EventTranscript EventKind = "transcript"

	// EventSpeechStarted and EventSpeechStopped report backend voice
	// activity detection on the user's audio.
	EventSpeechStarted EventKind = "speech_started"
	EventSpeechStopped EventKind = "speech_stopped"

	// EventError reports a backend-level error in Event.Err. The session
	// survives it; transport loss is signalled by closing the channel.
	EventError EventKind = "error"

	// EventEnded announces an orderly backend-initiated teardown. The event
	// channel closes right after.
	EventEnded EventKind = "ended"
)

// Event is one message from the backend.
type Event struct {
	Kind EventKind

	// SessionID is set on EventReady.
	SessionID string

	// Audio is set on EventAudio: raw PCM16LE at the transport rate.
	Audio []byte

	// Transcript fields, set on EventTranscript. ResponseID may be empty on
	// backends that do not correlate utterances. Text is also set on
	// EventMessage.
	ResponseID string
	Text       string
	Final      bool
	Role       string

	// Err is set on EventError.
	Err error

	// Reason is set on EventEnded when the backend gave one.
	Reason string
}

// Params configures a new backend session.
type Params struct {
	// SessionID is the client-generated session identifier.
	SessionID string

	// ParticipantID identifies the authenticated participant.
	ParticipantID string

	// Voice is the preferred synthesis voice. Empty means backend default.
	Voice string
}

// Conn is an open backend session.
//
// Events returns the channel carrying everything the backend sends. The
// channel is closed when the session ends or the transport drops; a close
// without a preceding EventEnded is a transport failure. Consumers must
// drain the channel promptly.
type Conn interface {
	// SendAudio delivers one captured frame to the backend.
	SendAudio(frame audio.Frame) error

	// SendHeartbeat tells the backend the session is alive during silence.
	SendHeartbeat() error

	// Events returns the backend event stream.
	Events() <-chan Event

	// Connected reports whether the transport is currently usable.
	Connected() bool

	// Close announces the local teardown to the backend and releases the
	// transport. Idempotent.
	Close() error
}

// Bridge dials the voice backend.
type Bridge interface {
	// Connect establishes a new session. The caller owns the Conn and must
	// call Close. Cancelling ctx aborts an in-flight dial; it does not end
	// an established session.
	Connect(ctx context.Context, params Params) (Conn, error)
}
