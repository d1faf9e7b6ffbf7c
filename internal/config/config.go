// Package config provides the configuration schema, loader, and backend
// registry for the talkwire voice client.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/talkwire/talkwire/pkg/audio/capture"
)

// LogLevel controls log verbosity for the talkwire client.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Duration wraps [time.Duration] so YAML configs can use values like "20s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns d as a [time.Duration].
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration structure for talkwire.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Backend BackendConfig `yaml:"backend"`
	Audio   AudioConfig   `yaml:"audio"`
	Session SessionConfig `yaml:"session"`
}

// ServerConfig holds settings for the local diagnostics server and logging.
type ServerConfig struct {
	// ListenAddr is the TCP address the diagnostics server listens on
	// (e.g., ":9090"). Empty disables the diagnostics server.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the diagnostics server. When nil, the server
	// runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AuthConfig configures the account-service token exchange. When TokenURL is
// empty, Backend.APIKey is used as the bearer credential directly.
type AuthConfig struct {
	// TokenURL is the account service's token endpoint.
	TokenURL string `yaml:"token_url"`

	// APIKey is the long-lived key exchanged for short-lived session tokens.
	APIKey string `yaml:"api_key"`
}

// BackendConfig selects and configures the voice backend dialect. The Name
// field is used to look up the constructor in the [Registry].
type BackendConfig struct {
	// Name selects the registered backend dialect
	// (e.g., "gateway", "openai-realtime").
	Name string `yaml:"name"`

	// APIKey authenticates directly against the backend when no account
	// service is configured.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint. Required for the
	// gateway dialect, which has no default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend where applicable
	// (e.g., "gpt-4o-realtime-preview").
	Model string `yaml:"model"`

	// Voice is the preferred synthesis voice. Empty means backend default.
	Voice string `yaml:"voice"`
}

// AudioConfig holds capture-side device settings.
type AudioConfig struct {
	// DeviceRate requests a specific device sample rate in Hz. Zero lets
	// the device pick its native rate.
	DeviceRate int `yaml:"device_rate"`

	// Strategy selects how samples are moved off the device.
	Strategy capture.StrategyKind `yaml:"strategy"`
}

// SessionConfig holds conversation protocol parameters.
type SessionConfig struct {
	// HeartbeatInterval is the keep-alive period (e.g., "20s").
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// OutboundQueue bounds the captured-frame queue.
	OutboundQueue int `yaml:"outbound_queue"`
}
