// Package app wires the talkwire subsystems into a running client.
//
// The App owns the full lifecycle: New wires the session manager over a
// backend bridge and the local audio devices, Run supervises the active
// session and reconnects after transport failures, and Shutdown tears the
// session down in order.
//
// For testing, inject fakes via functional options (WithCapturerFactory,
// WithRendererFactory). When an option is not provided, New creates real
// device-backed implementations from the config.
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
	"github.com/talkwire/talkwire/pkg/audio/capture"
	"github.com/talkwire/talkwire/pkg/audio/playback"
	"github.com/talkwire/talkwire/pkg/bridge"
)

// shutdownGrace bounds the orderly teardown triggered by ctx cancellation.
const shutdownGrace = 5 * time.Second

// App owns the session manager and reconnection policy for one client run.
type App struct {
	cfg     *config.Config
	manager *Manager
	reconn  *Reconnector

	newCapturer func(sessionID string) session.Capturer
	newRenderer func(sessionID string) session.Renderer
	metrics     *observe.Metrics
	reconnCfg   ReconnectorConfig

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithCapturerFactory injects a capturer factory instead of the default
// microphone-backed engine.
func WithCapturerFactory(fn func(sessionID string) session.Capturer) Option {
	return func(a *App) { a.newCapturer = fn }
}

// WithRendererFactory injects a renderer factory instead of the default
// speaker-backed player.
func WithRendererFactory(fn func(sessionID string) session.Renderer) Option {
	return func(a *App) { a.newRenderer = fn }
}

// WithMetrics sets the metrics instance. Defaults to nil (no recording).
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithReconnectorConfig overrides the reconnection policy.
func WithReconnectorConfig(rc ReconnectorConfig) Option {
	return func(a *App) { a.reconnCfg = rc }
}

// New creates an App over the given backend bridge. The participant ID comes
// from the credential exchange performed by the caller.
func New(cfg *config.Config, b bridge.Bridge, participantID string, opts ...Option) *App {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	if a.newCapturer == nil {
		a.newCapturer = func(sessionID string) session.Capturer {
			dev := capture.NewMalgoDevice(capture.MalgoConfig{
				SampleRate: cfg.Audio.DeviceRate,
			})
			return capture.New(dev, capture.Config{
				SessionID: sessionID,
				Strategy:  cfg.Audio.Strategy,
			})
		}
	}
	if a.newRenderer == nil {
		a.newRenderer = func(string) session.Renderer {
			return playback.New(playback.NewOtoOutput())
		}
	}

	a.manager = NewManager(ManagerConfig{
		Bridge:        b,
		NewCapturer:   a.newCapturer,
		NewRenderer:   a.newRenderer,
		ParticipantID: participantID,
		Voice:         cfg.Backend.Voice,
		Heartbeat:     cfg.Session.HeartbeatInterval.Std(),
		Queue:         cfg.Session.OutboundQueue,
		Metrics:       a.metrics,
	})
	a.reconn = NewReconnector(a.reconnCfg, a.manager.Start)
	return a
}

// Manager returns the session manager, for diagnostics endpoints.
func (a *App) Manager() *Manager { return a.manager }

// Run starts a session and supervises it until ctx is cancelled or the
// conversation ends. A session that fails from transport loss is replaced
// through the reconnector; an orderly close ends Run with a nil error.
func (a *App) Run(ctx context.Context) error {
	cur, err := a.manager.Start(ctx)
	if err != nil {
		return fmt.Errorf("app: start session: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return a.stop(ctx.Err())

		case <-cur.Done():
			if cur.State() != session.StateFailed {
				slog.Info("conversation ended", "session_id", cur.ID())
				return nil
			}
			slog.Warn("session lost, attempting reconnect",
				"session_id", cur.ID(), "err", cur.Err())

			next, err := a.reconn.Reconnect(ctx)
			if err != nil {
				return err
			}
			cur = next
		}
	}
}

// ApplyConfig applies a hot-reloadable config change to future sessions.
// Changes that need a restart are logged and skipped.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.VoiceChanged {
		slog.Info("voice updated, takes effect on next session", "voice", d.NewVoice)
		a.manager.SetVoice(d.NewVoice)
	}
	if d.HeartbeatChanged {
		slog.Info("heartbeat interval updated, takes effect on next session",
			"interval", d.NewHeartbeat.Std())
		a.manager.SetHeartbeat(d.NewHeartbeat)
	}
	if d.RestartRequired {
		slog.Warn("config change requires a restart to take effect")
	}
}

// Check probes the active session for the readiness endpoint.
func (a *App) Check(ctx context.Context) error {
	return a.manager.Check(ctx)
}

// Shutdown stops the active session, respecting the context deadline.
// Idempotent.
func (a *App) Shutdown(ctx context.Context) error {
	var err error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		err = a.manager.Stop(ctx)
		if err != nil {
			slog.Warn("session stop error", "err", err)
			return
		}
		slog.Info("shutdown complete")
	})
	return err
}

// stop tears the session down after ctx cancellation and reports cause.
func (a *App) stop(cause error) error {
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := a.Shutdown(sctx); err != nil {
		return err
	}
	return cause
}
