package eventhandler

import (
	"log/slog"

	"github.com/disgoorg/disgo/events"
	recordsessions "github.com/kvizyx/speakerlog/internal/bot/record-sessions"
)

type VoiceLeaveHandler func(event *events.GuildVoiceLeave)

func VoiceLeave(o HandlerOptions) VoiceLeaveHandler {
	return func(event *events.GuildVoiceLeave) {
		guildID := event.VoiceState.GuildID

		if event.VoiceState.UserID == event.Client().ID() {
			o.Logger.Debug("bot left voice", slog.Any("guild_id", guildID))
			o.SessionsManager.SendEvent(recordsessions.EventSelfRemoved{
				GuildID:   guildID,
				ChannelID: event.OldVoiceState.ChannelID,
			})
			return
		}

		o.SessionsManager.SendEvent(recordsessions.EventVoiceStateChanged{
			GuildID:    guildID,
			UserID:     event.VoiceState.UserID,
			OldChannel: event.OldVoiceState.ChannelID,
			IsBot:      event.Member.User.Bot,
		})
	}
}
