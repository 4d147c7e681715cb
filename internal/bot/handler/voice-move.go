package eventhandler

import (
	"github.com/disgoorg/disgo/events"
	recordsessions "github.com/kvizyx/speakerlog/internal/bot/record-sessions"
)

type VoiceMoveHandler func(event *events.GuildVoiceMove)

func VoiceMove(o HandlerOptions) VoiceMoveHandler {
	return func(event *events.GuildVoiceMove) {
		o.SessionsManager.SendEvent(recordsessions.EventVoiceStateChanged{
			GuildID:    event.VoiceState.GuildID,
			UserID:     event.VoiceState.UserID,
			OldChannel: event.OldVoiceState.ChannelID,
			NewChannel: event.VoiceState.ChannelID,
			IsBot:      event.Member.User.Bot,
			IsSelf:     event.VoiceState.UserID == event.Client().ID(),
		})
	}
}
