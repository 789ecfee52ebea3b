package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/reelsmith/reelsmith-agent/internal/api"
	"github.com/reelsmith/reelsmith-agent/internal/config"
	"github.com/reelsmith/reelsmith-agent/internal/db"
	"github.com/reelsmith/reelsmith-agent/internal/generation"
	"github.com/reelsmith/reelsmith-agent/internal/logging"
	"github.com/reelsmith/reelsmith-agent/internal/media"
	"github.com/reelsmith/reelsmith-agent/internal/pipelines"
	"github.com/reelsmith/reelsmith-agent/internal/playback"
	"github.com/reelsmith/reelsmith-agent/internal/project"
	"github.com/reelsmith/reelsmith-agent/internal/ui"
)

var Version = api.Version

var errQuit = errors.New("quit requested")

func main() {
	if err := run(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting reelsmith agent", "version", Version, "data_dir", cfg.DataDir())

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := project.NewRepository(database.Conn())

	deviceID, err := ensureDeviceID(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure device ID: %w", err)
	}

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                  REELSMITH AGENT v%-23s ║\n", Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://127.0.0.1:%-27d ║\n", cfg.Port())
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Device ID:  %-45s ║\n", deviceID[:16]+"...")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	projects := project.NewService(repo, logger)
	writer := project.NewWriter(repo, logger)

	client := generation.NewClient(cfg.GenerationURL(), cfg.GenerationToken(), logger)
	backends := make(map[string]generation.VideoBackend)
	for _, name := range []string{config.BackendInterpolation, config.BackendScene} {
		b, err := generation.NewBackend(name, client)
		if err != nil {
			return fmt.Errorf("failed to create video backend: %w", err)
		}
		backends[name] = b
	}

	probe := generation.NewCachedProbe(client, cfg.ProbeTimeout(), logger)
	if caps, err := probe.Refresh(context.Background()); err != nil {
		logger.Warn("generation service unreachable at startup", "url", logging.SanitizeURL(cfg.GenerationURL()), "error", err)
	} else {
		logger.Info("generation service capabilities detected",
			"version", caps.Version,
			"healthy", caps.Healthy,
			"video_backend", caps.PreferredBackend(cfg.VideoBackend()),
		)
	}

	profile := cfg.Profile()
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port())
	hub := api.NewHub()

	var tray *ui.Tray
	notifiers := pipelines.Notifiers{hub, api.LogNotifier{Logger: logger}}
	quitCh := make(chan struct{})
	if !cfg.Headless() {
		tray = ui.NewTray(ui.TrayConfig{
			Logger: logger,
			Addr:   addr,
			OnQuit: func() { close(quitCh) },
		})
		notifiers = append(notifiers, tray)
	}

	poll := func(maxAttempts int) pipelines.PollSettings {
		return pipelines.PollSettings{
			Interval:      cfg.PollInterval(),
			ErrorInterval: cfg.PollErrorInterval(),
			MaxAttempts:   maxAttempts,
		}
	}

	registry := api.NewRegistry(api.RegistryConfig{
		Images:         client,
		Combiner:       client,
		Backends:       backends,
		DefaultBackend: cfg.VideoBackend(),
		Probe:          probe,
		Profile:        profile,
		UnitCost:       cfg.VideoUnitCost(),
		Prober:         newProber(profile.Video.ClipSeconds, cfg.ProbeTimeout(), logger),
		BaseURL:        cfg.PublicBaseURL(),
		ImagePoll:      poll(cfg.ImagePollMaxAttempts()),
		VideoPoll:      poll(cfg.VideoPollMaxAttempts()),
		Intro:          project.NewIntroClip("http://"+addr+"/media/intro", cfg.IntroDuration()),
		Projects:       projects,
		Snapshots:      writer,
		Notifier:       notifiers,
		Logger:         logger,
	})

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		Registry:       registry,
		Projects:       projects,
		Repository:     repo,
		Probe:          probe,
		PlaybackServer: playback.NewServer(cfg.IntroPath(), cfg.ExportDir(), logger),
		Hub:            hub,
		ExportDir:      cfg.ExportDir(),
		Logger:         logger,
		StartTime:      startTime,
		DeviceID:       deviceID,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		writer.Start(gctx)
		return nil
	})

	g.Go(apiServer.Start)

	g.Go(func() error {
		select {
		case <-gctx.Done():
			logger.Info("received shutdown signal")
			return nil
		case <-quitCh:
			return errQuit
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP server", "error", err)
		}
		registry.Close()
		return nil
	})

	if tray == nil {
		logger.Info("running in headless mode (no system tray)")
	} else {
		go tray.Run()
	}

	err = g.Wait()
	writer.Flush(context.Background())
	if tray != nil {
		tray.Quit()
	}
	if err != nil && !errors.Is(err, errQuit) {
		return err
	}

	logger.Info("shutdown complete")
	return nil
}

// newProber prefers ffprobe and falls back to the profile's clip length.
func newProber(clipSeconds float64, timeout time.Duration, logger *slog.Logger) media.Prober {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		logger.Warn("ffprobe not found, clip durations fall back to the profile", "clip_seconds", clipSeconds)
		return media.NewStaticProber(clipSeconds, logger)
	}
	return media.NewFFProbe(timeout, logger)
}

func ensureDeviceID(repo project.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, "device_id")
	if err == nil && existing != "" {
		return existing, nil
	}

	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", err
	}
	deviceID := hex.EncodeToString(idBytes)

	if err := repo.SetConfig(ctx, "device_id", deviceID); err != nil {
		return "", err
	}

	return deviceID, nil
}

func ensureAuthToken(repo project.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}
