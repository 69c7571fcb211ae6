package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/vidcaption/captiond/internal/captioner"
	"github.com/vidcaption/captiond/internal/config"
	"github.com/vidcaption/captiond/internal/database"
	"github.com/vidcaption/captiond/internal/events"
	"github.com/vidcaption/captiond/internal/logger"
	"github.com/vidcaption/captiond/internal/media"
	"github.com/vidcaption/captiond/internal/processing"
	"github.com/vidcaption/captiond/internal/processing/broadcast"
	"github.com/vidcaption/captiond/internal/prompts"
	"github.com/vidcaption/captiond/internal/server"
	"github.com/vidcaption/captiond/internal/settings"
	"github.com/vidcaption/captiond/internal/sysinfo"
)

func main() {
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "captiond: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	if err := config.Load(configPath); err != nil {
		return err
	}
	cfg := config.Get()

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	log := logger.Named("main")
	log.Info("starting captiond", "port", cfg.Server.Port, "db", cfg.Database.Type)

	if err := database.Initialize(&cfg.Database); err != nil {
		return err
	}
	db := database.GetDB()

	bus := events.NewBus(cfg.Processing.EventBufferSize, 500, logger.Named("events"))
	if err := bus.Start(); err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Library.WorkingDir, 0o755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}
	library, err := media.NewLibrary(cfg.Library.WorkingDir, cfg.Library.VideoExtensions,
		cfg.Library.CaptionExtension, cfg.Library.TraverseSubfolders, logger.Named("media"))
	if err != nil {
		return err
	}
	defer library.Close()

	settingsStore := settings.NewStore(db, logger.Named("settings"))
	promptStore := prompts.NewStore(db, logger.Named("prompts"))
	collector := sysinfo.NewCollector(logger.Named("sysinfo"))

	history := processing.NewGormHistory(db, logger.Named("history"))
	if err := history.MarkInterrupted(); err != nil {
		log.Warn("could not mark interrupted jobs", "error", err)
	}

	thumbnailer, err := media.NewThumbnailer(cfg.Processing.FFmpegPath,
		cfg.ThumbnailCacheDir(), cfg.Thumbnails.Quality, logger.Named("thumbs"))
	if err != nil {
		return err
	}

	extractor := captioner.NewFFmpegExtractor(cfg.Processing.FFmpegPath,
		cfg.Processing.FFprobePath, cfg.Processing.FrameWorkDirName, logger.Named("ffmpeg"))

	hub := broadcast.NewHub(cfg.Processing.PushMinInterval.Std(), logger.Named("broadcast"))

	manager := processing.NewManager(processing.ManagerConfig{
		Source:    library,
		Settings:  &jobSettingsSource{store: settingsStore, collector: collector},
		Extractor: extractor,
		NewBackend: func(device string, s processing.JobSettings) captioner.Backend {
			return captioner.NewHTTPBackend(captioner.BackendConfig{
				Device:   device,
				Endpoint: endpointForDevice(cfg.Inference.Endpoints, device),
				ModelID:  s.ModelID,
				Dtype:    s.Dtype,
				Timeout:  cfg.Inference.RequestTimeout.Std(),
			}, logger.Named("backend"))
		},
		NewWriter: func(s processing.JobSettings) captioner.Writer {
			return captioner.NewFileWriter(cfg.Library.CaptionExtension, s.IncludeMetadata,
				logger.Named("writer"))
		},
		Sink:    hub,
		Bus:     bus,
		History: history,
		Log:     logger.Named("processing"),
	})

	srv := server.New(server.Deps{
		Config:      cfg,
		Log:         logger.Named("server"),
		Manager:     manager,
		Hub:         hub,
		Library:     library,
		Settings:    settingsStore,
		Prompts:     promptStore,
		Thumbnailer: thumbnailer,
		Prober:      extractor,
		Collector:   collector,
		Bus:         bus,
		History:     history,
	})

	bus.Publish(events.NewEvent(events.EventSystemStarted, "Service started", ""))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	// Stop any in-flight job before tearing the server down so its
	// final accounting lands in the history table.
	if _, err := manager.Stop(); err != nil && err != processing.ErrNoRunningJob {
		log.Warn("stop on shutdown failed", "error", err)
	}

	bus.Publish(events.NewEvent(events.EventSystemStopped, "Service stopping", ""))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	if err := bus.Stop(ctx); err != nil {
		log.Warn("event bus shutdown incomplete", "error", err)
	}

	log.Info("captiond stopped")
	return nil
}

// jobSettingsSource snapshots the stored settings into the immutable
// per-job form, resolving "auto" against the host's accelerators.
type jobSettingsSource struct {
	store     *settings.Store
	collector *sysinfo.Collector
}

func (j *jobSettingsSource) JobSettings() processing.JobSettings {
	current, err := j.store.Get()
	if err != nil {
		logger.Warn("using default settings for job", "error", err)
		current = settings.Defaults()
	}

	devices := current.Devices()
	if devices == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		devices = j.collector.DefaultDevices(ctx)
		cancel()
	}

	return processing.JobSettings{
		ModelID:         current.ModelID,
		Devices:         devices,
		Dtype:           current.Dtype,
		Prompt:          current.Prompt,
		MaxFrames:       current.MaxFrames,
		FrameSize:       current.FrameSize,
		MaxTokens:       current.MaxTokens,
		Temperature:     current.Temperature,
		IncludeMetadata: current.IncludeMetadata,
	}
}

// endpointForDevice maps a device to its inference endpoint. Endpoints
// are index-aligned with cuda ordinals; everything else gets the first.
func endpointForDevice(endpoints []string, device string) string {
	if len(endpoints) == 0 {
		return "http://127.0.0.1:8091"
	}
	if ordinal, ok := strings.CutPrefix(device, "cuda:"); ok {
		if idx, err := strconv.Atoi(ordinal); err == nil && idx < len(endpoints) {
			return endpoints[idx]
		}
	}
	return endpoints[0]
}
