package recordsessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/kvizyx/speakerlog/pkg/logger"
)

// Supervisor owns one guild's voice connection and the session recording it.
type Supervisor struct {
	guildID   snowflake.ID
	channelID snowflake.ID

	logger          logger.Logger
	session         *Session
	conn            Connection
	shutdownTimeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// startSupervisor starts the session listener and joins the channel. On a join
// failure the session is shut down before the error is returned.
func startSupervisor(ctx context.Context, p Params, guildID, channelID snowflake.ID) (*Supervisor, error) {
	log := p.Logger.With(
		slog.Any("guild_id", guildID),
		slog.Any("channel_id", channelID),
	)

	session := NewSession(SessionParams{
		GuildID:   guildID,
		ChannelID: channelID,
		Logger:    log,
		Directory: p.Directory,
		Sinks:     p.Sinks,
		Metadata:  p.Metadata,
		Archiver:  p.Archiver,
		Options:   p.Options,
		Now:       p.Now,
		Archives:  p.archives,
	})

	runCtx, cancel := context.WithCancel(context.Background())

	sv := &Supervisor{
		guildID:         guildID,
		channelID:       channelID,
		logger:          log,
		session:         session,
		shutdownTimeout: p.Options.ShutdownTimeout,
		cancel:          cancel,
		done:            make(chan struct{}),
	}

	go func() {
		defer close(sv.done)

		if err := session.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("recording session stopped", slog.Any("error", err))
		}
	}()

	conn, err := p.Connector.Join(ctx, guildID, channelID, session)
	if err != nil {
		if stopErr := sv.Stop(ctx); stopErr != nil {
			log.Error("failed to release session after join failure", slog.Any("error", stopErr))
		}
		return nil, fmt.Errorf("failed to join voice channel: %w", err)
	}

	sv.conn = conn

	log.Info("voice recording session started")

	return sv, nil
}

// ChannelID is the channel the session records.
func (sv *Supervisor) ChannelID() snowflake.ID {
	return sv.channelID
}

func (sv *Supervisor) Speakers() int {
	return sv.session.registry.ActiveCount()
}

// Stop runs the cleanup handshake and only then closes the connection. The
// connection is closed even when the handshake times out.
func (sv *Supervisor) Stop(ctx context.Context) error {
	var errs []error

	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sv.shutdownTimeout)
	defer cancel()

	report, err := sv.session.Handshake().Request(reqCtx)
	if err != nil {
		sv.logger.Error("session cleanup did not finish in time", slog.Any("error", err))
		errs = append(errs, err)
	} else {
		sv.logger.Info(
			"session cleanup finished",
			slog.Int("finalized", report.Finalized),
			slog.Int("killed", report.Killed),
			slog.Int("failed", report.Failed),
		)
	}

	if sv.conn != nil {
		if err = sv.conn.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to close voice connection: %w", err))
		}
	}

	sv.cancel()

	if len(errs) == 0 {
		<-sv.done
		sv.logger.Info("voice recording session stopped")
	}

	return errors.Join(errs...)
}
