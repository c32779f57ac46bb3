package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/use-agent/tabhost/api"
	"github.com/use-agent/tabhost/cache"
	"github.com/use-agent/tabhost/cleaner"
	"github.com/use-agent/tabhost/config"
	"github.com/use-agent/tabhost/download"
	"github.com/use-agent/tabhost/engine"
	"github.com/use-agent/tabhost/pool"
	"github.com/use-agent/tabhost/store"
	"github.com/use-agent/tabhost/tabs"
	"github.com/use-agent/tabhost/webhook"
)

func main() {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg := config.Load()

	// ── 2. Initialise structured logging ────────────────────────────
	initLogger(cfg.Log)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("tabhost starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"capacity", cfg.Pool.Capacity,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Launch the browser behind the engines ────────────────────
	baseline := engine.Baseline(cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight)
	factory, err := engine.NewRodFactory(engine.RodOptions{
		Headless:   cfg.Browser.Headless,
		NoSandbox:  cfg.Browser.NoSandbox,
		BrowserBin: cfg.Browser.BrowserBin,
		Proxy:      cfg.Browser.Proxy,
		Stealth:    cfg.Browser.Stealth,
		BlockAds:   cfg.Browser.BlockAds,
		Baseline:   baseline,
	})
	if err != nil {
		slog.Error("failed to launch browser", "error", err)
		os.Exit(1)
	}
	defer factory.Close()

	// ── 4. Engine pool ──────────────────────────────────────────────
	p := pool.New(factory, pool.Config{
		Capacity:            cfg.Pool.Capacity,
		TrimInterval:        cfg.Pool.TrimInterval,
		TrimThreshold:       int64(cfg.Pool.TrimThresholdMB) << 20,
		PostLoadTrimDelay:   cfg.Pool.PostLoadTrimDelay,
		WakeImageDelay:      cfg.Pool.WakeImageDelay,
		MaintenanceInterval: cfg.Pool.MaintenanceInterval,
		MemThreshold:        cfg.Pool.MemThreshold,
		TransientPrefixes:   cfg.Pool.TransientPrefixes,
		Baseline:            baseline,
	})
	// Runs before factory.Close so pages are destroyed before Chrome exits.
	defer p.Close()

	// ── 5. Tab store, cache, downloads, webhooks ────────────────────
	st, err := store.NewSQLiteStore(cfg.Tabs.DBPath)
	if err != nil {
		slog.Error("failed to open tab store", "path", cfg.Tabs.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	cc := cache.New(cfg.Cache.MaxEntries)
	defer cc.Close()

	fetcher := download.New(download.Options{
		MaxBytes: int64(cfg.Download.MaxMB) << 20,
		Timeout:  cfg.Download.Timeout,
		Proxy:    cfg.Browser.Proxy,
	})
	defer fetcher.Close()

	notifier := webhook.NewNotifier(cfg.Webhook.URL, cfg.Webhook.Secret, nil)
	if notifier.Enabled() {
		slog.Info("webhook delivery enabled", "url", cfg.Webhook.URL)
	}

	// ── 6. Tab service ──────────────────────────────────────────────
	svc := tabs.NewService(tabs.Deps{
		Pool:     p,
		Store:    st,
		Cleaner:  cleaner.NewCleaner(),
		Cache:    cc,
		Fetcher:  fetcher,
		Notifier: notifier,
	}, tabs.Config{
		HibernateAfter: cfg.Tabs.HibernateAfter,
		SweepInterval:  cfg.Tabs.SweepInterval,
		NavTimeout:     cfg.Tabs.NavTimeout,
	})

	if cfg.Tabs.RestoreTabs {
		n, err := svc.Restore(ctx)
		if err != nil {
			slog.Error("tab restore stopped early", "restored", n, "error", err)
		}
	}
	go svc.Run(ctx)

	// ── 7. Setup router ─────────────────────────────────────────────
	startTime := time.Now()
	router := api.NewRouter(ctx, svc, cfg, startTime)

	// ── 8. Start HTTP server ────────────────────────────────────────
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	// ── 9. Graceful shutdown ────────────────────────────────────────
	<-ctx.Done()
	slog.Info("shutdown signal received")

	// Give in-flight requests 5 seconds to complete.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	notifier.Wait()
	// Deferred closes destroy every engine (tab records stay in the
	// store for the next start) and kill Chrome.
	slog.Info("tabhost stopped")
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}
