package bot

import (
	"context"
	"fmt"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	eventhandler "github.com/kvizyx/speakerlog/internal/bot/handler"
	recordsessions "github.com/kvizyx/speakerlog/internal/bot/record-sessions"
	"github.com/kvizyx/speakerlog/internal/config"
	"github.com/kvizyx/speakerlog/internal/storage/metadata"
	"github.com/kvizyx/speakerlog/internal/transcoder"
	"github.com/kvizyx/speakerlog/pkg/logger"
)

const (
	// Intents are the gateway intents the recorder needs: guild and channel
	// cache, voice states, and members to tell bots apart.
	Intents = gateway.IntentGuilds | gateway.IntentGuildVoiceStates | gateway.IntentGuildMembers

	// Permissions are requested by the invite link.
	Permissions = discord.PermissionViewChannel | discord.PermissionConnect
)

type Bot struct {
	config          config.Config
	logger          logger.Logger
	sessionsManager *recordsessions.SessionsManager

	metadata  metadata.Recorder
	archiver  recordsessions.Archiver
	botClient bot.Client
}

type Params struct {
	Config   config.Config
	Logger   logger.Logger
	Metadata metadata.Recorder
	// Archiver is optional.
	Archiver recordsessions.Archiver
}

func NewDiscordBot(params Params) *Bot {
	return &Bot{
		config:   params.Config,
		logger:   params.Logger,
		metadata: params.Metadata,
		archiver: params.Archiver,
	}
}

func (b *Bot) Start(ctx context.Context) error {
	botClient, err := disgo.New(
		b.config.BotToken,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(Intents),
			gateway.WithAutoReconnect(true),
		),
		bot.WithCacheConfigOpts(
			// voice states, members, channels and guilds back the channel decisions
			cache.WithCaches(cache.FlagVoiceStates|cache.FlagMembers|cache.FlagChannels|cache.FlagGuilds),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	b.botClient = botClient

	b.sessionsManager = recordsessions.NewManager(recordsessions.Params{
		Logger:    b.logger,
		Directory: newCacheDirectory(botClient.Caches(), botClient.ID),
		Connector: NewVoiceConnector(VoiceConnectorParams{
			Manager:      botClient.VoiceManager(),
			Logger:       b.logger,
			Decoder:      b.config.Recorder.Decoder,
			Channels:     b.config.Recorder.Channels,
			TickInterval: b.config.Recorder.TickInterval,
		}),
		Sinks:    SinkFactory(b.config.Recorder),
		Metadata: b.metadata,
		Archiver: b.archiver,
		Options:  SessionOptions(b.config.Recorder),
	})

	handlerOpts := eventhandler.HandlerOptions{
		Logger:          b.logger,
		SessionsManager: b.sessionsManager,
	}

	botClient.EventManager().AddEventListeners(&events.ListenerAdapter{
		OnGuildReady:      eventhandler.GuildReady(handlerOpts),
		OnGuildVoiceJoin:  eventhandler.VoiceJoin(handlerOpts),
		OnGuildVoiceMove:  eventhandler.VoiceMove(handlerOpts),
		OnGuildVoiceLeave: eventhandler.VoiceLeave(handlerOpts),
	})

	if err = b.botClient.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to connect to discord gateway: %w", err)
	}

	b.logger.Info("discord bot started")

	return nil
}

// Sessions lists the guilds currently being recorded.
func (b *Bot) Sessions() []recordsessions.SessionInfo {
	if b.sessionsManager == nil {
		return nil
	}

	return b.sessionsManager.Sessions()
}

func (b *Bot) Stop(ctx context.Context) error {
	if b.sessionsManager != nil {
		b.sessionsManager.StopAll(ctx)
	}

	if b.botClient != nil {
		b.botClient.Close(ctx)
	}

	b.logger.Info("discord bot stopped")

	return nil
}

// SessionOptions maps the recorder config onto session options.
func SessionOptions(cfg config.Recorder) recordsessions.Options {
	opts := recordsessions.DefaultOptions()

	opts.BaseDir = cfg.BaseDir
	opts.FileExtension = cfg.FileExtension
	opts.QueueDepth = cfg.QueueDepth
	opts.WriteLogEvery = cfg.WriteLogEvery
	opts.SinkFinalizeTimeout = cfg.SinkFinalizeTimeout
	opts.ShutdownTimeout = cfg.ShutdownTimeout

	return opts
}

// SinkFactory spawns one transcoder process per speaker.
func SinkFactory(cfg config.Recorder) recordsessions.SinkFactory {
	params := transcoder.DefaultParams()
	params.Binary = cfg.FFmpegPath
	params.SampleRate = cfg.SampleRate
	params.Channels = cfg.Channels
	params.Codec = cfg.Codec
	params.DiagnosticsCap = cfg.DiagnosticsCap

	return func(ctx context.Context, outputPath string) (recordsessions.Sink, error) {
		sink, err := transcoder.Spawn(ctx, outputPath, params)
		if err != nil {
			return nil, err
		}

		return sink, nil
	}
}
