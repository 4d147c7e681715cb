package bot

import (
	"slices"

	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/snowflake/v2"
	recordsessions "github.com/kvizyx/speakerlog/internal/bot/record-sessions"
)

// cacheDirectory answers membership questions from the gateway cache.
type cacheDirectory struct {
	caches cache.Caches
	selfID func() snowflake.ID
}

func newCacheDirectory(caches cache.Caches, selfID func() snowflake.ID) *cacheDirectory {
	return &cacheDirectory{caches: caches, selfID: selfID}
}

func (d *cacheDirectory) Member(guildID, userID snowflake.ID) (recordsessions.Member, bool) {
	member, found := d.caches.Member(guildID, userID)
	if !found {
		return recordsessions.Member{UserID: userID}, false
	}

	return toMember(member), true
}

func (d *cacheDirectory) ChannelMembers(guildID, channelID snowflake.ID) []recordsessions.Member {
	var members []recordsessions.Member

	d.caches.VoiceStatesForEach(guildID, func(state discord.VoiceState) {
		if state.ChannelID == nil || *state.ChannelID != channelID {
			return
		}

		member, _ := d.Member(guildID, state.UserID)
		members = append(members, member)
	})

	return members
}

func (d *cacheDirectory) VoiceChannels(guildID snowflake.ID) []snowflake.ID {
	var channels []snowflake.ID

	d.caches.ChannelsForEach(func(channel discord.GuildChannel) {
		if channel.GuildID() != guildID {
			return
		}

		switch channel.Type() {
		case discord.ChannelTypeGuildVoice, discord.ChannelTypeGuildStageVoice:
			channels = append(channels, channel.ID())
		}
	})

	slices.Sort(channels)

	return channels
}

func (d *cacheDirectory) AFKChannel(guildID snowflake.ID) (snowflake.ID, bool) {
	guild, found := d.caches.Guild(guildID)
	if !found || guild.AfkChannelID == nil {
		return 0, false
	}

	return *guild.AfkChannelID, true
}

func (d *cacheDirectory) SelfChannel(guildID snowflake.ID) (snowflake.ID, bool) {
	var (
		selfID    = d.selfID()
		channelID *snowflake.ID
	)

	d.caches.VoiceStatesForEach(guildID, func(state discord.VoiceState) {
		if state.UserID == selfID {
			channelID = state.ChannelID
		}
	})

	if channelID == nil {
		return 0, false
	}

	return *channelID, true
}

func toMember(member discord.Member) recordsessions.Member {
	name := member.User.Username
	if member.Nick != nil {
		name = *member.Nick
	}

	return recordsessions.Member{
		UserID:   member.User.ID,
		Username: name,
		Bot:      member.User.Bot,
	}
}
