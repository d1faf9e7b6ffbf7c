package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidBackendNames lists the backend dialects shipped with talkwire.
// Used by [Validate] to warn about unrecognised backend names.
var ValidBackendNames = []string{"gateway", "openai-realtime"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil {
		if tls.CertFile == "" || tls.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Backend
	if cfg.Backend.Name == "" {
		errs = append(errs, errors.New("backend.name is required"))
	} else if !slices.Contains(ValidBackendNames, cfg.Backend.Name) {
		slog.Warn("unknown backend name — may be a typo or an externally registered dialect",
			"name", cfg.Backend.Name,
			"known", ValidBackendNames,
		)
	}
	if cfg.Backend.Name == "gateway" && cfg.Backend.BaseURL == "" {
		errs = append(errs, errors.New("backend.base_url is required for the gateway backend"))
	}

	// Credentials: either the account service or a direct backend key.
	if cfg.Auth.TokenURL == "" && cfg.Backend.APIKey == "" {
		errs = append(errs, errors.New("no credentials configured; set auth.token_url or backend.api_key"))
	}
	if cfg.Auth.TokenURL != "" && cfg.Auth.APIKey == "" {
		errs = append(errs, errors.New("auth.api_key is required when auth.token_url is set"))
	}

	// Audio
	if cfg.Audio.DeviceRate < 0 {
		errs = append(errs, fmt.Errorf("audio.device_rate %d is negative", cfg.Audio.DeviceRate))
	}
	if cfg.Audio.Strategy != "" && !cfg.Audio.Strategy.IsValid() {
		errs = append(errs, fmt.Errorf("audio.strategy %q is invalid; valid values: auto, stream, callback", cfg.Audio.Strategy))
	}

	// Session
	if cfg.Session.HeartbeatInterval < 0 {
		errs = append(errs, fmt.Errorf("session.heartbeat_interval %s is negative", cfg.Session.HeartbeatInterval.Std()))
	}
	if hb := cfg.Session.HeartbeatInterval.Std(); hb > 0 && hb < time.Second {
		slog.Warn("session.heartbeat_interval is very aggressive; most backends expect tens of seconds",
			"interval", hb,
		)
	}
	if cfg.Session.OutboundQueue < 0 {
		errs = append(errs, fmt.Errorf("session.outbound_queue %d is negative", cfg.Session.OutboundQueue))
	}

	return errors.Join(errs...)
}
