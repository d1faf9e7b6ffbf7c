// Package session implements the conversation session protocol.
//
// A Session owns exactly one backend connection and drives it through an
// explicit state machine: Idle → Connecting → AwaitingAck → Streaming →
// Closing → Closed, with Failed as the terminal state for transport loss.
// Every transition happens inside a single run loop consuming one event at a
// time — a local API call, an inbound backend event, a captured audio frame,
// or a heartbeat tick. There are no ad-hoc handlers mutating state from
// other goroutines.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/talkwire/talkwire/internal/observe"
	"github.com/talkwire/talkwire/internal/transcript"
	"github.com/talkwire/talkwire/pkg/audio"
	"github.com/talkwire/talkwire/pkg/audio/capture"
	"github.com/talkwire/talkwire/pkg/bridge"
)

// ErrTransportUnavailable is the terminal error of a session whose backend
// transport dropped without an orderly teardown.
var ErrTransportUnavailable = errors.New("session: transport unavailable")

// Default protocol parameters.
const (
	defaultHeartbeatInterval = 20 * time.Second
	defaultOutboundQueue     = 32
)

// State is a session lifecycle state.
type State string

const (
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateAwaitingAck State = "awaiting_ack"
	StateStreaming   State = "streaming"
	StateClosing     State = "closing"
	StateClosed      State = "closed"
	StateFailed      State = "failed"
)

// terminal reports whether s is a terminal state.
func (s State) terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Capturer starts and stops microphone capture. Implemented by
// [capture.Engine]; tests supply fakes.
type Capturer interface {
	Start(onFrame capture.OnFrame) error
	Strategy() capture.StrategyKind
	Stop() error
}

// Renderer schedules inbound audio for playback. Implemented by
// [playback.Player]; tests supply fakes.
type Renderer interface {
	Start() error
	Enqueue(frame audio.Frame)
	Close() error
}

// Config holds session parameters.
type Config struct {
	// ParticipantID identifies the authenticated participant.
	ParticipantID string

	// Voice is the preferred synthesis voice. Empty means backend default.
	Voice string

	// HeartbeatInterval is the keep-alive period. Defaults to 20s.
	HeartbeatInterval time.Duration

	// OutboundQueue bounds the captured-frame queue. When the backend falls
	// behind, the oldest frame is dropped first. Defaults to 32.
	OutboundQueue int
}

// Option is a functional option for [New].
type Option func(*Session)

// WithMetrics sets the metrics instance. Defaults to nil (no recording).
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// WithID overrides the generated session identifier. Used in tests.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithErrorHandler sets the callback invoked for backend-level error events.
// These errors do not force a state transition; the session keeps streaming.
// The callback runs on the session's run loop and must return promptly.
func WithErrorHandler(fn func(error)) Option {
	return func(s *Session) { s.onError = fn }
}

// WithMessageHandler sets the callback invoked for informational backend text
// that arrives outside the transcript stream. The callback runs on the
// session's run loop and must return promptly.
func WithMessageHandler(fn func(text string)) Option {
	return func(s *Session) { s.onMessage = fn }
}

// Session is one voice conversation.
type Session struct {
	id      string
	cfg     Config
	bridge  bridge.Bridge
	capt    Capturer
	rend    Renderer
	rec     *transcript.Reconciler
	metrics *observe.Metrics

	onError   func(error)
	onMessage func(text string)

	// inbox carries control events (connect results) into the run loop;
	// outbound carries captured frames with drop-oldest backpressure.
	inbox    chan event
	outbound chan audio.Frame

	createdAt time.Time

	mu            sync.Mutex
	state         State
	termErr       error
	lastHeartbeat time.Time

	done          chan struct{}
	stopRequested chan struct{}
	stopOnce      sync.Once
}

// NewID generates a session identifier of the form sess-<unix>-<suffix>.
func NewID() string {
	return fmt.Sprintf("sess-%d-%s", time.Now().Unix(), uuid.NewString()[:8])
}

// New creates a session over the given backend bridge and audio endpoints.
// The backend is not contacted until [Session.Start].
func New(b bridge.Bridge, capt Capturer, rend Renderer, cfg Config, opts ...Option) *Session {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.OutboundQueue <= 0 {
		cfg.OutboundQueue = defaultOutboundQueue
	}
	s := &Session{
		id:            NewID(),
		cfg:           cfg,
		bridge:        b,
		capt:          capt,
		rend:          rend,
		rec:           transcript.NewReconciler(),
		inbox:         make(chan event, 8),
		outbound:      make(chan audio.Frame, cfg.OutboundQueue),
		createdAt:     time.Now(),
		state:         StateIdle,
		done:          make(chan struct{}),
		stopRequested: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ID returns the client-generated session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LastHeartbeat returns the time of the last heartbeat actually sent, zero
// when none has been.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat
}

// Err returns the terminal error for a Failed session, nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.termErr
}

// Done returns a channel closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// History returns the reconciled transcript in arrival order.
func (s *Session) History() []transcript.Utterance { return s.rec.History() }

// Start moves the session from Idle to Connecting and dials the backend in
// the background. It returns immediately; watch [Session.Done] and
// [Session.State] for the outcome. Starting twice is an error.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("session %s: start from state %s", s.id, st)
	}
	s.state = StateConnecting
	s.mu.Unlock()
	s.metrics.RecordTransition(context.Background(), string(StateIdle), string(StateConnecting))

	connectCtx, cancel := context.WithCancel(context.Background())
	go s.run(cancel)
	go s.dial(connectCtx)
	return nil
}

// Stop requests an orderly teardown from any state: an in-flight connect is
// cancelled, streaming announces the disconnect to the backend before the
// transport closes, and terminal states are left untouched. Stop blocks
// until the session is terminal or ctx expires. Idempotent.
func (s *Session) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		neverStarted := s.state == StateIdle
		if neverStarted {
			s.state = StateClosed
		}
		s.mu.Unlock()
		if neverStarted {
			s.metrics.RecordTransition(context.Background(), string(StateIdle), string(StateClosed))
			close(s.done)
		}
		close(s.stopRequested)
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("session %s: stop: %w", s.id, ctx.Err())
	}
}

// dial connects to the backend and reports the result to the run loop.
func (s *Session) dial(ctx context.Context) {
	start := time.Now()
	conn, err := s.bridge.Connect(ctx, bridge.Params{
		SessionID:     s.id,
		ParticipantID: s.cfg.ParticipantID,
		Voice:         s.cfg.Voice,
	})
	if err != nil {
		s.inbox <- event{kind: evConnectFailed, err: err}
		return
	}
	if s.metrics != nil {
		s.metrics.BridgeConnectDuration.Record(ctx, time.Since(start).Seconds())
	}
	s.inbox <- event{kind: evConnected, conn: conn}
}

// enqueueOutbound hands a captured frame to the run loop. Never blocks: when
// the queue is full the oldest frame is evicted first.
func (s *Session) enqueueOutbound(frame audio.Frame) {
	for {
		select {
		case s.outbound <- frame:
			return
		default:
		}
		select {
		case <-s.outbound:
			s.metrics.RecordFrameDrop(context.Background(), "outbound")
		default:
		}
	}
}
