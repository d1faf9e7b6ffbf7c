package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talkwire/talkwire/internal/config"
	"github.com/talkwire/talkwire/internal/observe"
	"github.com/talkwire/talkwire/internal/session"
	"github.com/talkwire/talkwire/pkg/bridge"
)

// startPollInterval is how often Manager.Start re-checks a starting session's
// state while waiting for the connect attempt to resolve.
const startPollInterval = 10 * time.Millisecond

// SessionInfo holds metadata about the active session.
type SessionInfo struct {
	// SessionID is the client-generated identifier for this session.
	SessionID string

	// StartedAt is when the session was started.
	StartedAt time.Time

	// State is the session's lifecycle state at the time of the call.
	State session.State
}

// Manager owns the lifecycle of voice sessions. Only one session can be
// active at a time. All exported methods are safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	current *session.Session
	voice   string

	// Dependencies injected at construction.
	bridge        bridge.Bridge
	newCapturer   func(sessionID string) session.Capturer
	newRenderer   func(sessionID string) session.Renderer
	participantID string
	heartbeat     time.Duration
	queue         int
	metrics       *observe.Metrics
}

// ManagerConfig holds all dependencies for a [Manager].
type ManagerConfig struct {
	Bridge        bridge.Bridge
	NewCapturer   func(sessionID string) session.Capturer
	NewRenderer   func(sessionID string) session.Renderer
	ParticipantID string
	Voice         string
	Heartbeat     time.Duration
	Queue         int
	Metrics       *observe.Metrics
}

// NewManager creates a Manager with the given dependencies.
func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		bridge:        cfg.Bridge,
		newCapturer:   cfg.NewCapturer,
		newRenderer:   cfg.NewRenderer,
		participantID: cfg.ParticipantID,
		voice:         cfg.Voice,
		heartbeat:     cfg.Heartbeat,
		queue:         cfg.Queue,
		metrics:       cfg.Metrics,
	}
}

// Start begins a new voice session and blocks until the connect attempt
// resolves: the returned session has left the Connecting state, or ctx
// expired. A session that fails to connect is returned as an error.
//
// Returns an error if a session is already active.
func (m *Manager) Start(ctx context.Context) (*session.Session, error) {
	m.mu.Lock()
	if m.current != nil && !terminalState(m.current.State()) {
		id := m.current.ID()
		m.mu.Unlock()
		return nil, fmt.Errorf("app: a session is already active (id=%s)", id)
	}

	id := session.NewID()
	s := session.New(m.bridge, m.newCapturer(id), m.newRenderer(id), session.Config{
		ParticipantID:     m.participantID,
		Voice:             m.voice,
		HeartbeatInterval: m.heartbeat,
		OutboundQueue:     m.queue,
	}, session.WithID(id), session.WithMetrics(m.metrics))
	m.current = s
	m.mu.Unlock()

	if err := s.Start(); err != nil {
		return nil, err
	}
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	go m.retire(s)

	if err := m.awaitConnected(ctx, s); err != nil {
		return nil, err
	}

	slog.Info("session started", "session_id", s.ID(), "state", s.State())
	return s, nil
}

// Stop gracefully ends the active session. Stopping when no session is
// active is a no-op.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()

	if s == nil {
		return nil
	}
	return s.Stop(ctx)
}

// Current returns the most recently started session, nil before the first
// Start.
func (m *Manager) Current() *session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Info returns metadata about the active session. Returns the zero value
// before the first Start.
func (m *Manager) Info() SessionInfo {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()

	if s == nil {
		return SessionInfo{}
	}
	return SessionInfo{
		SessionID: s.ID(),
		StartedAt: s.CreatedAt(),
		State:     s.State(),
	}
}

// SetVoice changes the synthesis voice used for sessions started after this
// call. The active session keeps its voice.
func (m *Manager) SetVoice(voice string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.voice = voice
}

// SetHeartbeat changes the heartbeat interval used for sessions started
// after this call.
func (m *Manager) SetHeartbeat(d config.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeat = d.Std()
}

// Check probes the active session for the readiness endpoint.
func (m *Manager) Check(_ context.Context) error {
	m.mu.Lock()
	s := m.current
	m.mu.Unlock()

	if s == nil {
		return fmt.Errorf("no session started")
	}
	if st := s.State(); st == session.StateFailed {
		return fmt.Errorf("session %s failed: %v", s.ID(), s.Err())
	}
	return nil
}

// retire decrements the active-session gauge once s terminates.
func (m *Manager) retire(s *session.Session) {
	<-s.Done()
	if m.metrics != nil {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
}

// awaitConnected waits until the session's connect attempt has resolved one
// way or the other. The session has no state-change notification channel, so
// this polls; the interval is far below human-perceptible latency.
func (m *Manager) awaitConnected(ctx context.Context, s *session.Session) error {
	ticker := time.NewTicker(startPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.Done():
			if st := s.State(); st == session.StateFailed {
				return fmt.Errorf("app: session %s: %w", s.ID(), s.Err())
			}
			return nil
		case <-ctx.Done():
			return fmt.Errorf("app: waiting for session %s to connect: %w", s.ID(), ctx.Err())
		case <-ticker.C:
			if st := s.State(); st != session.StateConnecting {
				return nil
			}
		}
	}
}

func terminalState(st session.State) bool {
	return st == session.StateClosed || st == session.StateFailed
}
