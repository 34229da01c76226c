package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/thejerf/suture/v4"
	"golang.org/x/sync/errgroup"

	"github.com/mieweb/pulse-desktop/cmd/config"
	"github.com/mieweb/pulse-desktop/cmd/pulsed/api"
	"github.com/mieweb/pulse-desktop/lib/capture"
	"github.com/mieweb/pulse-desktop/lib/events"
	"github.com/mieweb/pulse-desktop/lib/hotkey"
	"github.com/mieweb/pulse-desktop/lib/logger"
	"github.com/mieweb/pulse-desktop/lib/media"
	"github.com/mieweb/pulse-desktop/lib/project"
	"github.com/mieweb/pulse-desktop/lib/recording"
	"github.com/mieweb/pulse-desktop/lib/timeline"
	"github.com/mieweb/pulse-desktop/lib/watcher"
)

func main() {
	slogger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		slogger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}
	slogger.Info("daemon configuration", "config", cfg)

	// context cancellation on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logger.AddToContext(ctx, slogger)

	// ensure ffmpeg is available
	mustFFmpeg(cfg.PathToFFmpeg)

	if err := os.MkdirAll(cfg.OutputRoot, 0o755); err != nil {
		slogger.Error("failed to create output root", "err", err)
		os.Exit(1)
	}

	projects := project.NewManager(cfg.OutputRoot, "")
	if cfg.DefaultProject != "" {
		if err := projects.Create(cfg.DefaultProject); err != nil {
			slogger.Error("failed to create default project", "err", err)
			os.Exit(1)
		}
		if err := projects.SetCurrent(cfg.DefaultProject); err != nil {
			slogger.Error("failed to select default project", "err", err)
			os.Exit(1)
		}
	}

	baseCfg := media.RecordingConfig{
		Width:         cfg.Width,
		Height:        cfg.Height,
		FPS:           cfg.FrameRate,
		Quality:       cfg.Quality,
		CaptureCursor: cfg.CaptureCursor,
		CaptureMic:    cfg.CaptureMic,
		MicDeviceID:   cfg.MicDeviceID,
		DisplayID:     &cfg.DisplayNum,
	}
	if err := baseCfg.Validate(); err != nil {
		slogger.Error("invalid default recording parameters", "err", err)
		os.Exit(1)
	}

	bus := events.NewBus()
	store := timeline.NewStore()
	watch := watcher.New(cfg.OutputRoot, bus)

	sessionFactory := func(ctx context.Context, c media.RecordingConfig) (*capture.Session, error) {
		return capture.NewPlatformSession(ctx, c, cfg.PathToFFmpeg)
	}
	preinit := capture.NewManager(sessionFactory, bus, baseCfg, cfg.PreInitIdleTimeout)
	coordinator := recording.New(ctx, bus, preinit, sessionFactory, store, watch, projects)
	hk := hotkey.NewGlobal(coordinator.OnPressed, coordinator.OnReleased)

	// long-lived loops run under one supervision tree
	sup := suture.NewSimple("pulsed")
	sup.Add(watch)
	sup.Add(preinit)
	sup.Add(hk)
	supErr := sup.ServeBackground(ctx)

	// warm the capture pipeline so the first press is fast
	go func() {
		if err := preinit.Initialize(ctx); err != nil {
			slogger.Warn("initial pre-initialization failed", "err", err)
		}
	}()

	apiService, err := api.New(bus, preinit, coordinator, store, projects, baseCfg)
	if err != nil {
		slogger.Error("failed to create api service", "err", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(
		chiMiddleware.Logger,
		chiMiddleware.Recoverer,
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxWithLogger := logger.AddToContext(r.Context(), slogger)
				next.ServeHTTP(w, r.WithContext(ctxWithLogger))
			})
		},
	)
	apiService.Routes(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler: r,
	}

	go func() {
		slogger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slogger.Error("http server failed", "err", err)
			stop()
		}
	}()

	// graceful shutdown
	<-ctx.Done()
	slogger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(logger.AddToContext(context.Background(), slogger), 10*time.Second)
	defer shutdownCancel()
	g, _ := errgroup.WithContext(shutdownCtx)

	g.Go(func() error {
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		// finalize any in-flight recording before exit
		return apiService.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		select {
		case err := <-supErr:
			return err
		case <-shutdownCtx.Done():
			return shutdownCtx.Err()
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		slogger.Error("daemon failed to shutdown cleanly", "err", err)
	}
}

func mustFFmpeg(path string) {
	cmd := exec.Command(path, "-version")
	if err := cmd.Run(); err != nil {
		panic(fmt.Errorf("ffmpeg not found or not executable: %w", err))
	}
}
