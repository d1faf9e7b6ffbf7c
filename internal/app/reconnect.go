package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/talkwire/talkwire/internal/session"
)

// ReconnectorConfig holds retry parameters for session reconnection.
type ReconnectorConfig struct {
	// MaxRetries is the number of reconnect attempts before giving up.
	// Defaults to 10.
	MaxRetries int

	// Backoff is the initial delay before the first retry. Each subsequent
	// retry doubles the delay. Defaults to 1 second.
	Backoff time.Duration

	// MaxBackoff caps the exponential delay. Defaults to 30 seconds.
	MaxBackoff time.Duration

	// OnReconnect, when set, is called with each replacement session.
	OnReconnect func(s *session.Session)
}

// Reconnector re-establishes a voice session after a transport failure,
// with exponential backoff between attempts.
type Reconnector struct {
	cfg  ReconnectorConfig
	dial func(ctx context.Context) (*session.Session, error)
}

// NewReconnector creates a Reconnector that builds replacement sessions via
// dial, typically [Manager.Start].
func NewReconnector(cfg ReconnectorConfig, dial func(ctx context.Context) (*session.Session, error)) *Reconnector {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Reconnector{cfg: cfg, dial: dial}
}

// Reconnect dials replacement sessions until one connects, the retry budget
// is exhausted, or ctx is cancelled. The delay before each attempt doubles
// up to MaxBackoff.
func (r *Reconnector) Reconnect(ctx context.Context) (*session.Session, error) {
	backoff := r.cfg.Backoff

	for attempt := 1; attempt <= r.cfg.MaxRetries; attempt++ {
		slog.Info("reconnecting session",
			"attempt", attempt,
			"max_retries", r.cfg.MaxRetries,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("app: reconnect: %w", ctx.Err())
		case <-time.After(backoff):
		}

		s, err := r.dial(ctx)
		if err == nil {
			slog.Info("session reconnected", "session_id", s.ID(), "attempt", attempt)
			if r.cfg.OnReconnect != nil {
				r.cfg.OnReconnect(s)
			}
			return s, nil
		}

		slog.Warn("reconnect attempt failed", "attempt", attempt, "err", err)

		backoff *= 2
		if backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}
	}

	slog.Error("session reconnection exhausted", "attempts", r.cfg.MaxRetries)
	return nil, fmt.Errorf("app: reconnect: gave up after %d attempts", r.cfg.MaxRetries)
}
