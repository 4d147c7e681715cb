package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/kvizyx/speakerlog/internal/app"
	"github.com/kvizyx/speakerlog/internal/storage/s3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recorder bot and the HTTP API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	// Recording must not start without a place to write to.
	if err = app.PrepareRecordingDir(cfg.Recorder); err != nil {
		return err
	}

	parentCtx, cancel := signal.NotifyContext(
		cmd.Context(),
		syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	store, err := app.OpenMetadata(parentCtx, cfg.Metadata, logger)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}

	var s3Storage *s3.Storage
	if cfg.S3.Enabled() {
		minioClient, err := s3.NewClient(parentCtx, cfg.S3, cfg.Env == "production")
		if err != nil {
			_ = store.Close()
			return err
		}

		s3Storage = s3.NewStorage(minioClient, cfg.S3)
	}

	a := app.New(app.Params{
		Logger:    logger,
		Config:    cfg,
		Metadata:  store,
		S3Storage: s3Storage,
	})

	eg, lifeCtx := errgroup.WithContext(parentCtx)

	eg.Go(func() error {
		if err := a.Start(lifeCtx); err != nil {
			return fmt.Errorf("start service: %w", err)
		}

		return nil
	})

	eg.Go(func() error {
		<-lifeCtx.Done()

		logger.Info("stopping service...")

		// Leave room for every session to run its cleanup.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.Recorder.ShutdownTimeout*2)
		defer stopCancel()

		if err := a.Stop(stopCtx); err != nil {
			return fmt.Errorf("stop service: %w", err)
		}

		return nil
	})

	if err = eg.Wait(); err != nil {
		logger.Error("failed to shutdown gracefully", slog.Any("error", err))
		return err
	}

	return nil
}
