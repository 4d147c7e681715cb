package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kvizyx/speakerlog/internal/bot"
	"github.com/kvizyx/speakerlog/internal/config"
	httpserver "github.com/kvizyx/speakerlog/internal/http-server"
	"github.com/kvizyx/speakerlog/internal/storage/metadata"
	"github.com/kvizyx/speakerlog/internal/storage/s3"
	"github.com/kvizyx/speakerlog/pkg/logger"
	"golang.org/x/sync/errgroup"
)

type App struct {
	Params

	discordBot *bot.Bot
	httpServer *httpserver.Server
}

type Params struct {
	Logger   logger.Logger
	Config   config.Config
	Metadata metadata.Store
	// S3Storage is nil when archiving is disabled.
	S3Storage *s3.Storage
}

func New(params Params) App {
	return App{Params: params}
}

func (a *App) Start(ctx context.Context) error {
	botParams := bot.Params{
		Config:   a.Config,
		Logger:   a.Logger,
		Metadata: a.Metadata,
	}

	httpParams := httpserver.Params{
		Config:     a.Config,
		Logger:     a.Logger,
		Recordings: a.Metadata,
	}

	// Keep the interfaces nil, not typed nil, when S3 is off.
	if a.S3Storage != nil {
		botParams.Archiver = a.S3Storage
		httpParams.Downloader = a.S3Storage
	}

	a.discordBot = bot.NewDiscordBot(botParams)

	httpParams.Sessions = a.discordBot
	a.httpServer = httpserver.NewServer(httpParams)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.discordBot.Start(groupCtx); err != nil {
			return fmt.Errorf("start discord bot: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		if err := a.httpServer.Start(groupCtx); err != nil {
			return fmt.Errorf("start http server: %w", err)
		}

		return nil
	})

	return group.Wait()
}

func (a *App) Stop(ctx context.Context) error {
	var errs []error

	if a.discordBot != nil {
		if err := a.discordBot.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop discord bot: %w", err))
		}
	}

	if a.httpServer != nil {
		if err := a.httpServer.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop http server: %w", err))
		}
	}

	// Sessions are finalized by now, so metadata can be closed.
	if err := a.Metadata.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close metadata store: %w", err))
	}

	return errors.Join(errs...)
}

// PrepareRecordingDir creates the base recording directory. Failing here is fatal.
func PrepareRecordingDir(cfg config.Recorder) error {
	if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
		return fmt.Errorf("failed to create recording directory %q: %w", cfg.BaseDir, err)
	}

	return nil
}

// OpenMetadata opens the configured metadata backend.
func OpenMetadata(ctx context.Context, cfg config.Metadata, log logger.Logger) (metadata.Store, error) {
	switch cfg.Backend {
	case config.MetadataBackendBadger:
		store, err := metadata.NewBadgerStore(metadata.BadgerOptions{
			Dir:    cfg.BadgerDir,
			Logger: log,
		})
		if err != nil {
			return nil, err
		}

		log.Info("metadata store opened", slog.String("backend", cfg.Backend), slog.String("dir", cfg.BadgerDir))
		return store, nil

	case config.MetadataBackendRedis:
		store, err := metadata.NewRedisStore(ctx, metadata.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}

		log.Info("metadata store opened", slog.String("backend", cfg.Backend), slog.String("addr", cfg.RedisAddr))
		return store, nil

	default:
		return nil, fmt.Errorf("unknown metadata backend %q", cfg.Backend)
	}
}
