package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/talkwire/talkwire/internal/config"
)

const watcherYAML = `
server:
  log_level: info
backend:
  name: gateway
  base_url: wss://voice.example.com
  api_key: key-1
`

const watcherYAMLUpdated = `
server:
  log_level: debug
backend:
  name: gateway
  base_url: wss://voice.example.com
  api_key: key-1
`

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "talkwire.yaml")
	writeConfigFile(t, path, watcherYAML)

	w, err := config.NewWatcher(path, nil, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("log_level = %q; want info", got)
	}
}

func TestWatcher_InitialLoadFailsOnInvalidFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "talkwire.yaml")
	writeConfigFile(t, path, "backend: {name: gateway}") // no base_url, no credentials

	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("watcher accepted invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "talkwire.yaml")
	writeConfigFile(t, path, watcherYAML)

	changed := make(chan config.ConfigDiff, 1)
	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		changed <- config.Diff(old, new)
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Backdate the mtime comparison by writing after a pause; some
	// filesystems have coarse mtime resolution.
	time.Sleep(20 * time.Millisecond)
	writeConfigFile(t, path, watcherYAMLUpdated)

	select {
	case d := <-changed:
		if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
			t.Errorf("diff = %+v; want log level change to debug", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("change never detected")
	}

	if got := w.Current().Server.LogLevel; got != config.LogDebug {
		t.Errorf("Current().Server.LogLevel = %q; want debug", got)
	}
}

func TestWatcher_KeepsPreviousOnInvalidUpdate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "talkwire.yaml")
	writeConfigFile(t, path, watcherYAML)

	w, err := config.NewWatcher(path, func(old, new *config.Config) {
		t.Error("onChange called for invalid config")
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	writeConfigFile(t, path, "server: {log_level: loud}")

	// Give the poller a few cycles to observe the broken file.
	time.Sleep(100 * time.Millisecond)

	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current().Server.LogLevel = %q; want previous value info", got)
	}
}
