// Command formvox serves voice dictation of Form 100 casualty cards over
// HTTP and WebSocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MrWong99/formvox/internal/app"
	"github.com/MrWong99/formvox/internal/config"
	"github.com/MrWong99/formvox/internal/health"
	"github.com/MrWong99/formvox/internal/httpapi"
	"github.com/MrWong99/formvox/internal/observe"
	"github.com/MrWong99/formvox/internal/resilience"
	"github.com/MrWong99/formvox/pkg/provider/stt"
	"github.com/MrWong99/formvox/pkg/provider/stt/deepgram"
	sttopenai "github.com/MrWong99/formvox/pkg/provider/stt/openai"
	"github.com/MrWong99/formvox/pkg/provider/stt/whisper"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "apply log level, doctor name and session limit edits without a restart")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "formvox: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "formvox: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(slogLevel(cfg.Server.LogLevel))
	logger, closeLog := newLogger(level, cfg.Server.LogFile)
	defer closeLog()
	slog.SetDefault(logger)

	slog.Info("formvox starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Telemetry.Environment,
		SampleRatio:    cfg.Telemetry.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *watch {
		w, err := config.NewWatcher(*configPath, func(_, _ *config.Config, d config.Diff) {
			if d.LogLevelChanged {
				level.Set(slogLevel(d.NewLogLevel))
				slog.Info("log level changed", "level", d.NewLogLevel)
			}
			application.ApplyConfig(d)
		})
		if err != nil {
			slog.Warn("config watcher disabled", "err", err)
		} else {
			defer w.Stop()
			go reloadOnHangup(ctx, w)
		}
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	var metricsHandler http.Handler
	if !cfg.Telemetry.DisableMetrics {
		metricsHandler = telemetry.Handler()
	}
	api := httpapi.New(httpapi.Config{
		Sessions:       application.Sessions(),
		Records:        application.Store(),
		Health:         health.New(application.Checkers()...),
		MetricsHandler: metricsHandler,
		OriginPatterns: cfg.Server.AllowedOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
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
	g.Go(func() error {
		<-gctx.Done()

		// ── Graceful shutdown ─────────────────────────────────────────────
		slog.Info("shutdown signal received, stopping…")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(srv.Shutdown(shutdownCtx), application.Shutdown(shutdownCtx))
	})

	slog.Info("server ready, press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr, "tls", cfg.Server.TLS != nil)

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// tracedClient is the HTTP client handed to HTTP-based STT backends.
func tracedClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// registerBuiltinProviders wires the bundled STT backends into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry, rc config.RecognitionConfig) (stt.Provider, error) {
		opts := []deepgram.Option{
			deepgram.WithLanguage(rc.Language),
			deepgram.WithSampleRate(rc.SampleRate),
		}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if ms := config.OptInt(entry.Options, "endpointing_ms"); ms > 0 {
			opts = append(opts, deepgram.WithEndpointing(ms))
		}
		if ms := config.OptInt(entry.Options, "keep_alive_ms"); ms != 0 {
			opts = append(opts, deepgram.WithKeepAlive(time.Duration(ms)*time.Millisecond))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry, rc config.RecognitionConfig) (stt.Provider, error) {
		opts := []whisper.Option{
			whisper.WithLanguage(rc.Language),
			whisper.WithSampleRate(rc.SampleRate),
			whisper.WithHTTPClient(tracedClient()),
		}
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if ms := config.OptInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		if ms := config.OptInt(entry.Options, "max_buffer_ms"); ms > 0 {
			opts = append(opts, whisper.WithMaxBufferDurationMs(ms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry, rc config.RecognitionConfig) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = config.OptString(entry.Options, "model_path")
		}
		opts := []whisper.NativeOption{
			whisper.WithNativeLanguage(rc.Language),
			whisper.WithNativeSampleRate(rc.SampleRate),
		}
		if ms := config.OptInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisper.WithNativeSilenceThresholdMs(ms))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry, rc config.RecognitionConfig) (stt.Provider, error) {
		opts := []sttopenai.Option{
			sttopenai.WithLanguage(rc.Language),
			sttopenai.WithHTTPClient(tracedClient()),
		}
		if entry.Model != "" {
			opts = append(opts, sttopenai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(entry.BaseURL))
		}
		if ms := config.OptInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, sttopenai.WithSilenceThresholdMs(ms))
		}
		return sttopenai.New(entry.APIKey, opts...)
	})

	slog.Debug("registered stt providers", "names", reg.STTNames())
}

// buildProviders creates the primary STT backend and its fallbacks. Without
// a primary, sessions accept typed utterances only.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	rc := cfg.Recognition
	if rc.Primary.Name == "" {
		slog.Info("no stt provider configured, speech input disabled")
		return &app.Providers{}, nil
	}

	metrics := observe.DefaultMetrics()
	breakerCfg := resilience.CircuitBreakerConfig{
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("stt circuit breaker", "provider", name, "from", from, "to", to)
			metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}

	primary, err := reg.CreateSTT(rc.Primary, rc)
	if err != nil {
		return nil, fmt.Errorf("create stt provider %q: %w", rc.Primary.Name, err)
	}
	slog.Info("provider created", "kind", "stt", "name", rc.Primary.Name)
	if len(rc.Fallbacks) == 0 {
		return &app.Providers{STT: primary}, nil
	}

	fb := resilience.NewSTTFallback(rc.Primary.Name, primary, breakerCfg)
	for i, entry := range rc.Fallbacks {
		p, err := reg.CreateSTT(entry, rc)
		if err != nil {
			return nil, fmt.Errorf("create stt fallback %d %q: %w", i, entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "fallback", i)
	}
	return &app.Providers{STT: fb}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         formvox: startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("STT", providerLabel(cfg.Recognition.Primary))
	for _, fb := range cfg.Recognition.Fallbacks {
		printRow("STT fallback", providerLabel(fb))
	}
	printRow("Language", cfg.Recognition.Language)
	printRow("Storage", string(cfg.Storage.Driver))
	printRow("Max sessions", fmt.Sprint(cfg.Dictation.MaxSessions))
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	switch {
	case e.Name == "":
		return "(typed input only)"
	case e.Model != "":
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(key, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", key, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// newLogger logs text to stderr, or JSON lines to a rotating file when
// file is set. The returned func closes the file.
func newLogger(level slog.Leveler, file string) (*slog.Logger, func()) {
	opts := &slog.HandlerOptions{Level: level}
	if file == "" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), func() {}
	}
	w := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    64, // MB
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
	}
	return slog.New(slog.NewJSONHandler(w, opts)), func() { _ = w.Close() }
}

// reloadOnHangup forces a config reload on every SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, w *config.Watcher) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := w.Reload(); err != nil {
				slog.Warn("config reload on SIGHUP failed", "err", err)
			}
		}
	}
}
