// Command ghostbot is the main entrypoint for the chat bot.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the configured state backend (file, Postgres, MongoDB or Redis) and
//     restores identities and cones from the last snapshot.
//   - Starts the save writer, the Twitch chat adapter when credentials are set,
//     and the HTTP API with /healthz, /readyz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM; pending state is flushed before exit.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/onnwee/ghostbot/chat"
	"github.com/onnwee/ghostbot/cone"
	"github.com/onnwee/ghostbot/config"
	"github.com/onnwee/ghostbot/identity"
	"github.com/onnwee/ghostbot/persist"
	"github.com/onnwee/ghostbot/pipeline"
	"github.com/onnwee/ghostbot/server"
	"github.com/onnwee/ghostbot/statestore"
	"github.com/onnwee/ghostbot/summary"
	"github.com/onnwee/ghostbot/telemetry"
	"github.com/onnwee/ghostbot/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	traceOpts, err := telemetry.TracingOptionsFromEnv()
	if err != nil {
		slog.Error("tracing configuration invalid", slog.Any("err", err))
		os.Exit(1)
	}
	shutdown, err := telemetry.InitTracing("ghostbot", "1.0.0", traceOpts)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("ghostbot exited with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config) error {
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	backend, err := statestore.Open(openCtx, statestore.FromConfig(cfg))
	cancel()
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Error("failed to close state backend", slog.Any("err", err))
		}
	}()
	slog.Info("state backend ready", slog.String("backend", backend.Backend))

	summarizer, err := newSummarizer(ctx, cfg)
	if err != nil {
		return err
	}

	store := identity.NewStore(identity.WithRecentCap(cfg.RecentMessagesCap))
	cones := cone.NewRegistry(cfg.ConePermissions, cone.WithTransformer(cone.Basic{}))
	writer := persist.NewWriter(backend, persist.Combine(store, cones))
	policy := identity.SummaryPolicy{
		MessageThreshold: cfg.SummaryMessageThreshold,
		MaxAge:           cfg.SummaryMaxAge,
		KeepMessages:     cfg.SummaryKeepMessages,
	}
	var idSummarizer identity.Summarizer
	if summarizer != nil {
		idSummarizer = summarizer
	}
	coord := identity.NewCoordinator(store, idSummarizer, writer, policy)

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = persist.Load(loadCtx, backend, persist.Combine(store, cones))
	cancel()
	if err != nil {
		return err
	}
	slog.Info("state restored", slog.Int("identities", store.Len()), slog.Int("active_cones", cones.ActiveCount()))

	pipe := pipeline.New(coord, cones, writer, cfg.BotName)

	deps := server.Deps{Pipeline: pipe, Saver: writer, Access: cfg.Access, Redis: backend.Redis}
	if backend.Ping != nil {
		deps.Checks = append(deps.Checks, server.Check{Name: "state_store", Fn: backend.Ping})
	}
	deps.Checks = append(deps.Checks, server.Check{Name: "last_save", Fn: func(context.Context) error { return writer.LastErr() }})
	if cfg.HelixReady() {
		hc, err := twitchapi.NewHelixClient(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, twitchapi.Options{})
		if err != nil {
			slog.Warn("helix client unavailable, cone targets must be given by user id", slog.Any("err", err))
		} else {
			deps.Helix = hc
		}
	}

	startPprof()

	// The writer outlives the other workers so their last changes are flushed.
	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	writerDone := make(chan error, 1)
	go func() { writerDone <- writer.Run(writerCtx) }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx, deps, cfg.HTTPAddr) })
	if err := cfg.ValidateChatReady(); err == nil {
		adapter := &chat.Adapter{
			Channel:  cfg.TwitchChannel,
			Username: cfg.TwitchBotUsername,
			Token:    cfg.TwitchOAuthToken,
			Handler:  chat.NewHandler(pipe),
		}
		if cfg.TwitchRefreshToken != "" && cfg.HelixReady() {
			ts, err := twitchapi.BotTokenSource(ctx, cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRefreshToken, "")
			if err != nil {
				slog.Warn("bot token refresh unavailable, using static token", slog.Any("err", err))
			} else {
				adapter.Tokens = ts
			}
		}
		g.Go(func() error { return adapter.Run(gctx) })
	} else {
		slog.Info("chat adapter disabled", slog.String("reason", err.Error()))
	}

	runErr := g.Wait()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	if err := writer.Flush(flushCtx); err != nil {
		slog.Error("final state flush failed", slog.Any("err", err))
	}
	cancel()
	stopWriter()
	<-writerDone
	return runErr
}

// newSummarizer returns nil when no provider is configured.
func newSummarizer(ctx context.Context, cfg *config.Config) (*summary.Summarizer, error) {
	switch cfg.SummaryProvider {
	case config.ProviderOpenRouter:
		if cfg.OpenRouterKey == "" {
			slog.Warn("OPENROUTER_SUMMARY_KEY not set, summaries disabled")
			return nil, nil
		}
		return summary.New(&summary.OpenRouterCompleter{
			APIKey:     cfg.OpenRouterKey,
			URL:        cfg.OpenRouterURL,
			Model:      cfg.SummaryModel,
			HTTPClient: &http.Client{Timeout: 60 * time.Second},
		}, cfg.BotName), nil
	case config.ProviderGemini:
		gc, err := summary.NewGeminiCompleter(ctx, cfg.GeminiAPIKey, cfg.SummaryModel)
		if err != nil {
			return nil, err
		}
		return summary.New(gc, cfg.BotName), nil
	}
	slog.Info("summary provider disabled")
	return nil, nil
}

// startPprof enables profiling endpoints in debug mode (ENABLE_PPROF=1).
func startPprof() {
	if os.Getenv("ENABLE_PPROF") != "1" {
		return
	}
	pprofAddr := os.Getenv("PPROF_ADDR")
	if pprofAddr == "" {
		pprofAddr = "localhost:6060"
	}
	go func() {
		slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
		srv := &http.Server{
			Addr:              pprofAddr,
			Handler:           nil, // default mux exposes /debug/pprof
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if err := srv.ListenAndServe(); err != nil {
			slog.Error("pprof server error", slog.Any("err", err))
		}
	}()
}
