// Command talkwire is the realtime voice conversation client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/talkwire/talkwire/internal/app"
	"github.com/talkwire/talkwire/internal/auth"
	"github.com/talkwire/talkwire/internal/config"
	"github.com/talkwire/talkwire/internal/health"
	"github.com/talkwire/talkwire/internal/observe"
	"github.com/talkwire/talkwire/pkg/bridge"
	"github.com/talkwire/talkwire/pkg/bridge/gateway"
	"github.com/talkwire/talkwire/pkg/bridge/realtime"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "talkwire.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "talkwire: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "talkwire: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger, logLevel := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("talkwire starting",
		"config", *configPath,
		"backend", cfg.Backend.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "talkwire",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Credentials ───────────────────────────────────────────────────────────
	token := cfg.Backend.APIKey
	participantID := "local"
	var account *auth.Client
	if cfg.Auth.TokenURL != "" {
		account = auth.NewClient(cfg.Auth.TokenURL, cfg.Auth.APIKey)
		cred, err := account.Credential(ctx)
		if err != nil {
			slog.Error("credential exchange failed", "err", err)
			return 1
		}
		token = cred.Token
		participantID = cred.ParticipantID
		slog.Info("credential obtained", "participant_id", participantID)
	}

	// ── Backend bridge ────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	b, err := reg.CreateBridge(cfg.Backend, token)
	if err != nil {
		slog.Error("failed to create backend bridge", "backend", cfg.Backend.Name, "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application := app.New(cfg, b, participantID, app.WithMetrics(metrics))

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		application.ApplyConfig(d)
	})
	if err != nil {
		slog.Warn("config hot reload unavailable", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("client ready — press Ctrl+C to hang up")

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.ListenAddr != "" {
		srv := diagnosticsServer(cfg, application, account, metrics)
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(sctx)
		})
		g.Go(func() error {
			var err error
			if tls := cfg.Server.TLS; tls != nil {
				err = srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = srv.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		slog.Info("diagnostics server listening", "addr", cfg.Server.ListenAddr)
	}

	g.Go(func() error {
		// When the conversation ends, release the signal context so the
		// diagnostics server shuts down too.
		defer stop()
		return application.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// version is stamped via -ldflags at release time.
var version = "dev"

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the bridge dialects that ship with talkwire
// into reg. Each factory receives a config.BackendConfig and the bearer token
// obtained at startup.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterBackend("gateway", func(entry config.BackendConfig, token string) (bridge.Bridge, error) {
		return gateway.New(entry.BaseURL, token), nil
	})

	reg.RegisterBackend("openai-realtime", func(entry config.BackendConfig, token string) (bridge.Bridge, error) {
		var opts []realtime.Option
		if entry.Model != "" {
			opts = append(opts, realtime.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, realtime.WithBaseURL(entry.BaseURL))
		}
		return realtime.New(token, opts...), nil
	})

	for _, name := range config.ValidBackendNames {
		slog.Debug("registered backend", "name", name)
	}
}

// diagnosticsServer builds the local HTTP server exposing health probes and
// Prometheus metrics.
func diagnosticsServer(cfg *config.Config, application *app.App, account *auth.Client, metrics *observe.Metrics) *http.Server {
	mux := http.NewServeMux()

	checkers := []health.Checker{
		health.Check("session", application.Check),
	}
	if account != nil {
		checkers = append(checkers, health.Check("account", func(ctx context.Context) error {
			_, err := account.Credential(ctx)
			return err
		}))
	}
	health.New(checkers...).Register(mux)

	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        talkwire — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printField("Backend", withModel(cfg.Backend.Name, cfg.Backend.Model))
	printField("Voice", cfg.Backend.Voice)
	printField("Strategy", string(cfg.Audio.Strategy))
	if cfg.Auth.TokenURL != "" {
		printField("Auth", "account service")
	} else {
		printField("Auth", "direct api key")
	}
	if cfg.Server.ListenAddr != "" {
		printField("Diagnostics", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func withModel(name, model string) string {
	if name != "" && model != "" {
		return name + " / " + model
	}
	return name
}

func printField(kind, value string) {
	if value == "" {
		value = "(default)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger builds the default logger with a hot-swappable level.
func newLogger(level config.LogLevel) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(slogLevel(level))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), lvl
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
