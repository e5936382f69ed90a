package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"listing_bot/internal/access"
	"listing_bot/internal/bot"
	"listing_bot/internal/config"
	"listing_bot/internal/dedup"
	"listing_bot/internal/metrics"
	"listing_bot/internal/render"
	"listing_bot/internal/scanner"
	"listing_bot/internal/scheduler"
	"listing_bot/internal/source"
	"listing_bot/internal/source/feed"
	"listing_bot/internal/source/myhome"
	"listing_bot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	ctrl := access.New(store, access.Policy{
		Term:          cfg.SubscriptionTerm,
		TrialDuration: cfg.TrialDuration,
		InactivityTTL: cfg.InactivityTTL,
	}, log.With("component", "access"))

	b, err := bot.New(cfg.TelegramBotToken, ctrl, cfg, log.With("component", "bot"))
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	sources := source.NewRouter(feed.New(log.With("source", "feed")))
	sel := myhome.LoadSelectors(cfg.SelectorsConfigPath, log)
	sources.Handle(myhome.Host, myhome.New(sel, log.With("source", "myhome")))

	sc := scanner.New(sources, scanner.Options{
		MaxPages:    cfg.MaxPages,
		PageTimeout: cfg.PageTimeout,
		Retries:     cfg.PageRetries,
		RetryBase:   scanner.DefaultOptions.RetryBase,
	}, log.With("component", "scanner"))

	gate := dedup.New(sources, b, store, cfg.PageTimeout, log.With("component", "dedup"))

	sched := scheduler.New(ctrl, sc, gate, b, driverFactory(cfg, log.With("component", "render")),
		log.With("component", "scheduler"))
	sched.SetInterval(cfg.ScanInterval)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("starting bot", "renderer", cfg.Renderer, "interval", cfg.ScanInterval)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.Run(ctx)
		return nil
	})
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.NewRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info("metrics server listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}

	log.Info("bot stopped")
}

// driverFactory renders the listing site with the configured renderer and
// fetches everything else, feeds included, over plain HTTP.
func driverFactory(cfg *config.Config, log *slog.Logger) scheduler.DriverFactory {
	return func() (render.Driver, error) {
		fallback := render.NewHTTPDriver(cfg.PageTimeout, log)
		mux := render.NewMux(fallback)
		if cfg.Renderer == config.RendererHTTP {
			return mux, nil
		}

		opts := render.DefaultChromeOptions
		opts.PageTimeout = cfg.PageTimeout
		chrome, err := render.NewDriver(render.KindChrome, opts, log)
		if err != nil {
			return nil, err
		}
		mux.Route(myhome.Host, chrome)
		return mux, nil
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
