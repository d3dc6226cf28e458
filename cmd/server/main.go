package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/texsync/internal/api"
	"github.com/dgallion1/texsync/internal/compiler"
	"github.com/dgallion1/texsync/internal/config"
	"github.com/dgallion1/texsync/internal/indexcache"
	"github.com/dgallion1/texsync/internal/pipeline"
	"github.com/dgallion1/texsync/internal/transport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cache, err := indexcache.Open(cfg.CacheDir)
	if err != nil {
		log.Error("open index cache", "error", err)
		os.Exit(1)
	}

	stats := pipeline.NewLatencyStats(cfg.StatsWindow)
	adapter := transport.New(transport.Options{
		MaxSyncTeXBytes: cfg.MaxSyncTeXBytes,
		RetainOnError:   cfg.RetainIndexOnDecodeError,
		Cache:           cache,
		Stats:           stats,
	}, log.With("component", "transport"))

	// Leave the interface nil when no compile service is configured.
	var comp pipeline.Compiler
	var compClient *compiler.Client
	if cfg.CompilerURL != "" {
		compClient = compiler.NewClient(cfg.CompilerURL, cfg.CompilerAPIKey, cfg.CompilerTimeout)
		comp = compClient
	}

	// Initialize pipeline.
	orch := pipeline.NewOrchestrator(cfg, comp, adapter, log.With("component", "pipeline"))
	// Workers outlive the signal so Stop can drain queued jobs.
	orch.Start(context.WithoutCancel(ctx))

	// Initialize HTTP server.
	srv := api.NewServer(orch, adapter, stats, log, cfg)

	httpServer := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     srv,
		ReadTimeout: 60 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting texsync",
			"port", cfg.Port,
			"inline_decode", cfg.InlineDecode,
			"compiler", cfg.CompilerURL != "",
			"cache", cfg.CacheDir != "",
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		err := httpServer.Shutdown(shutdownCtx)

		orch.Stop()
		if compClient != nil {
			compClient.Close()
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}
