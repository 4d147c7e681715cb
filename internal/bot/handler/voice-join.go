package eventhandler

import (
	"github.com/disgoorg/disgo/events"
	recordsessions "github.com/kvizyx/speakerlog/internal/bot/record-sessions"
)

type VoiceJoinHandler func(event *events.GuildVoiceJoin)

func VoiceJoin(o HandlerOptions) VoiceJoinHandler {
	return func(event *events.GuildVoiceJoin) {
		o.SessionsManager.SendEvent(recordsessions.EventVoiceStateChanged{
			GuildID:    event.VoiceState.GuildID,
			UserID:     event.VoiceState.UserID,
			NewChannel: event.VoiceState.ChannelID,
			IsBot:      event.Member.User.Bot,
			IsSelf:     event.VoiceState.UserID == event.Client().ID(),
		})
	}
}
