package recordsessions

import (
	"github.com/disgoorg/snowflake/v2"
	"github.com/samber/lo"
)

type ChannelCount struct {
	ChannelID snowflake.ID
	NonBot    int
}

// SelectChannel picks the voice channel the bot should be in. The channel with
// strictly the most non-bot members wins; on a tie the incumbent stays if it is
// among the leaders, otherwise the lowest id wins. The AFK channel never counts.
// It reports false when no channel has a non-bot member.
func SelectChannel(counts []ChannelCount, afk, incumbent *snowflake.ID) (snowflake.ID, bool) {
	candidates := lo.Filter(counts, func(c ChannelCount, _ int) bool {
		return c.NonBot > 0 && (afk == nil || c.ChannelID != *afk)
	})
	if len(candidates) == 0 {
		return 0, false
	}

	best := lo.Max(lo.Map(candidates, func(c ChannelCount, _ int) int {
		return c.NonBot
	}))

	leaders := lo.Filter(candidates, func(c ChannelCount, _ int) bool {
		return c.NonBot == best
	})

	if incumbent != nil && lo.ContainsBy(leaders, func(c ChannelCount) bool {
		return c.ChannelID == *incumbent
	}) {
		return *incumbent, true
	}

	return lo.MinBy(leaders, func(a, b ChannelCount) bool {
		return a.ChannelID < b.ChannelID
	}).ChannelID, true
}

// channelCounts counts non-bot members of every voice channel in the guild.
func channelCounts(directory Directory, guildID snowflake.ID) []ChannelCount {
	return lo.Map(directory.VoiceChannels(guildID), func(channelID snowflake.ID, _ int) ChannelCount {
		members := directory.ChannelMembers(guildID, channelID)

		return ChannelCount{
			ChannelID: channelID,
			NonBot: lo.CountBy(members, func(m Member) bool {
				return !m.Bot
			}),
		}
	})
}
