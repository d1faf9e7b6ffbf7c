package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked: the log level
// takes effect immediately, voice and heartbeat on the next session.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	VoiceChanged bool
	NewVoice     string

	HeartbeatChanged bool
	NewHeartbeat     Duration

	// RestartRequired is set when a field that cannot be hot-reloaded
	// differs (backend selection, endpoints, credentials, audio device).
	RestartRequired bool
}

// Empty reports whether the diff carries no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.VoiceChanged && !d.HeartbeatChanged && !d.RestartRequired
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Backend.Voice != new.Backend.Voice {
		d.VoiceChanged = true
		d.NewVoice = new.Backend.Voice
	}

	if old.Session.HeartbeatInterval != new.Session.HeartbeatInterval {
		d.HeartbeatChanged = true
		d.NewHeartbeat = new.Session.HeartbeatInterval
	}

	if old.Backend.Name != new.Backend.Name ||
		old.Backend.BaseURL != new.Backend.BaseURL ||
		old.Backend.Model != new.Backend.Model ||
		old.Backend.APIKey != new.Backend.APIKey ||
		old.Auth != new.Auth ||
		old.Audio != new.Audio ||
		old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = true
	}

	return d
}
