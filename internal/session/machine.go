package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/talkwire/talkwire/internal/transcript"
	"github.com/talkwire/talkwire/pkg/audio"
	"github.com/talkwire/talkwire/pkg/bridge"
)

// ── Run loop events ───────────────────────────────────────────────────────────

type eventKind int

const (
	evConnected eventKind = iota
	evConnectFailed
	evBridge
	evBridgeClosed
	evFrame
	evTick
	evStop
)

// event is one unit of work for the run loop. Exactly one of the payload
// fields is set, matching kind.
type event struct {
	kind  eventKind
	conn  bridge.Conn
	err   error
	bev   bridge.Event
	frame audio.Frame
}

// ── Machine ───────────────────────────────────────────────────────────────────

// machine holds the run loop's private view of the session. Only the run
// loop goroutine touches it, so no locking is needed beyond the state
// mirror written through transition.
type machine struct {
	s          *Session
	cancelDial context.CancelFunc

	st      State
	conn    bridge.Conn
	bevents <-chan bridge.Event

	capturing bool
	rendering bool

	connectPending bool
	stopping       bool
	terminal       bool
}

// run is the session run loop: it serializes every state transition and
// every outbound protocol write. It exits once the session is terminal and
// no connect attempt is in flight.
func (s *Session) run(cancelDial context.CancelFunc) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	m := &machine{
		s:              s,
		cancelDial:     cancelDial,
		st:             StateConnecting,
		connectPending: true,
	}

	stopCh := s.stopRequested
	for {
		if m.terminal && !m.connectPending {
			return
		}

		select {
		case ev := <-s.inbox:
			m.step(ev)
		case <-stopCh:
			stopCh = nil
			m.step(event{kind: evStop})
		case frame := <-s.outbound:
			m.step(event{kind: evFrame, frame: frame})
		case <-ticker.C:
			m.step(event{kind: evTick})
		case bev, ok := <-m.bevents:
			if !ok {
				m.bevents = nil
				m.step(event{kind: evBridgeClosed})
				break
			}
			m.step(event{kind: evBridge, bev: bev})
		}
	}
}

// step applies one event to the state machine.
func (m *machine) step(ev event) {
	switch ev.kind {
	case evConnected:
		m.connectPending = false
		if m.terminal || m.stopping {
			ev.conn.Close()
			if m.stopping && !m.terminal {
				m.finish(StateClosed, nil)
			}
			return
		}
		m.conn = ev.conn
		m.bevents = ev.conn.Events()
		m.transition(StateAwaitingAck)

	case evConnectFailed:
		m.connectPending = false
		if m.terminal || m.stopping {
			if m.stopping && !m.terminal {
				m.finish(StateClosed, nil)
			}
			return
		}
		m.fail(fmt.Errorf("session %s: connect: %w", m.s.id, ev.err))

	case evStop:
		m.stopping = true
		if m.terminal {
			return
		}
		m.transition(StateClosing)
		m.cancelDial()
		m.stopStreaming()
		if m.conn != nil {
			// Close announces session.disconnect before the transport goes.
			m.conn.Close()
			m.conn = nil
			m.bevents = nil
		}
		if !m.connectPending {
			m.finish(StateClosed, nil)
		}

	case evBridge:
		if m.terminal || m.stopping {
			return
		}
		m.handleBridgeEvent(ev.bev)

	case evBridgeClosed:
		if m.terminal || m.stopping {
			return
		}
		// The backend stream stopped without an orderly ended event.
		m.stopStreaming()
		if m.conn != nil {
			m.conn.Close()
			m.conn = nil
		}
		m.fail(fmt.Errorf("session %s: %w", m.s.id, ErrTransportUnavailable))

	case evFrame:
		if m.st != StateStreaming || m.conn == nil || !m.conn.Connected() {
			m.s.metrics.RecordFrameDrop(context.Background(), "outbound")
			return
		}
		if err := m.conn.SendAudio(ev.frame); err != nil {
			// A failed send surfaces as a dropped frame; the transport
			// dropping is detected by the event stream closing.
			slog.Warn("session audio send failed", "session_id", m.s.id, "err", err)
			m.s.metrics.RecordFrameDrop(context.Background(), "outbound")
			return
		}
		m.s.metrics.RecordFrameCaptured(context.Background(), string(m.s.capt.Strategy()))

	case evTick:
		m.heartbeat()
	}
}

func (m *machine) handleBridgeEvent(bev bridge.Event) {
	s := m.s
	switch bev.Kind {
	case bridge.EventReady:
		if m.st != StateAwaitingAck {
			return
		}
		slog.Info("session acknowledged", "session_id", s.id)
		m.transition(StateStreaming)
		m.startStreaming()

	case bridge.EventMessage:
		slog.Info("backend message", "session_id", s.id, "text", bev.Text)
		if s.onMessage != nil {
			s.onMessage(bev.Text)
		}

	case bridge.EventAudio:
		if !m.rendering {
			s.metrics.RecordFrameDrop(context.Background(), "playback")
			return
		}
		s.rend.Enqueue(audio.Frame{
			Data:       bev.Audio,
			SampleRate: audio.TargetSampleRate,
			SessionID:  s.id,
		})

	case bridge.EventTranscript:
		evt := transcript.Event{
			ResponseID: bev.ResponseID,
			Text:       bev.Text,
			Final:      bev.Final,
			Role:       transcript.Role(bev.Role),
		}
		outcome := "interim"
		if evt.Final {
			outcome = "final"
		}
		if _, err := s.rec.Apply(evt); err != nil {
			outcome = "duplicate"
		} else if evt.ResponseID == "" && !evt.Final {
			outcome = "discarded"
		}
		s.metrics.RecordTranscriptEvent(context.Background(), outcome)

	case bridge.EventSpeechStarted:
		slog.Debug("backend detected speech start", "session_id", s.id)

	case bridge.EventSpeechStopped:
		slog.Debug("backend detected speech stop", "session_id", s.id)

	case bridge.EventError:
		// Backend-level errors are surfaced without a forced transition.
		slog.Warn("backend error", "session_id", s.id, "err", bev.Err)
		s.metrics.RecordBridgeError(context.Background())
		if s.onError != nil {
			s.onError(bev.Err)
		}

	case bridge.EventEnded:
		slog.Info("session ended by backend", "session_id", s.id, "reason", bev.Reason)
		m.transition(StateClosing)
		m.stopStreaming()
		if m.conn != nil {
			m.conn.Close()
			m.conn = nil
			m.bevents = nil
		}
		m.finish(StateClosed, nil)
	}
}

// heartbeat sends one keep-alive when the session is streaming and the
// transport is up; the tick is silently skipped otherwise.
func (m *machine) heartbeat() {
	s := m.s
	if m.st != StateStreaming || m.conn == nil || !m.conn.Connected() {
		s.metrics.RecordHeartbeat(context.Background(), "skipped")
		return
	}
	if err := m.conn.SendHeartbeat(); err != nil {
		slog.Warn("heartbeat failed", "session_id", s.id, "err", err)
		s.metrics.RecordHeartbeat(context.Background(), "failed")
		return
	}
	s.mu.Lock()
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()
	s.metrics.RecordHeartbeat(context.Background(), "sent")
}

// startStreaming brings up the audio endpoints. Device failures are
// non-fatal: the session keeps streaming whatever side is available.
func (m *machine) startStreaming() {
	s := m.s
	if err := s.rend.Start(); err != nil {
		slog.Warn("playback unavailable, session continues without output",
			"session_id", s.id, "err", err)
	} else {
		m.rendering = true
	}
	if err := s.capt.Start(s.enqueueOutbound); err != nil {
		slog.Warn("capture unavailable, session continues without input",
			"session_id", s.id, "err", err)
	} else {
		m.capturing = true
	}
}

// stopStreaming tears down the audio endpoints. Idempotent.
func (m *machine) stopStreaming() {
	s := m.s
	if m.capturing {
		if err := s.capt.Stop(); err != nil {
			slog.Warn("capture stop failed", "session_id", s.id, "err", err)
		}
		m.capturing = false
	}
	if m.rendering {
		if err := s.rend.Close(); err != nil {
			slog.Warn("playback close failed", "session_id", s.id, "err", err)
		}
		m.rendering = false
	}
}

// transition moves the session to a new state and records it.
func (m *machine) transition(to State) {
	s := m.s
	s.mu.Lock()
	from := s.state
	s.state = to
	s.mu.Unlock()

	m.st = to
	slog.Debug("session transition", "session_id", s.id, "from", from, "to", to)
	s.metrics.RecordTransition(context.Background(), string(from), string(to))
}

// finish moves the session to a terminal state.
func (m *machine) finish(to State, err error) {
	s := m.s
	s.mu.Lock()
	s.termErr = err
	s.mu.Unlock()
	m.transition(to)
	m.terminal = true
}

// fail tears everything down and lands in Failed.
func (m *machine) fail(err error) {
	slog.Error("session failed", "session_id", m.s.id, "err", err)
	m.stopStreaming()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
		m.bevents = nil
	}
	m.finish(StateFailed, err)
}
