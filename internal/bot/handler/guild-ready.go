package eventhandler

import (
	"log/slog"

	"github.com/disgoorg/disgo/events"
	recordsessions "github.com/kvizyx/speakerlog/internal/bot/record-sessions"
)

type GuildReadyHandler func(event *events.GuildReady)

func GuildReady(o HandlerOptions) GuildReadyHandler {
	return func(event *events.GuildReady) {
		o.Logger.Debug("guild ready", slog.Any("guild_id", event.GuildID))

		o.SessionsManager.SendEvent(recordsessions.EventGuildAvailable{GuildID: event.GuildID})
	}
}
