package recordsessions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/disgoorg/snowflake/v2"
)

// HandleEvent applies one membership event to its guild synchronously.
func (sm *SessionsManager) HandleEvent(ctx context.Context, event Event) error {
	switch e := event.(type) {
	case EventVoiceStateChanged:
		return sm.handleVoiceState(ctx, e)

	case EventSelfRemoved:
		return sm.selfRemoved(ctx, e)

	case EventGuildAvailable:
		return sm.reconcile(ctx, e.GuildID)

	default:
		return nil
	}
}

func (sm *SessionsManager) handleVoiceState(ctx context.Context, e EventVoiceStateChanged) error {
	if sameChannel(e.OldChannel, e.NewChannel) {
		return nil
	}

	if e.IsSelf {
		return sm.selfMoved(ctx, e)
	}

	if e.IsBot {
		return nil
	}

	return sm.reconcile(ctx, e.GuildID)
}

// reconcile moves the guild to the channel chosen by SelectChannel.
func (sm *SessionsManager) reconcile(ctx context.Context, guildID snowflake.ID) error {
	guild, err := sm.guild(guildID, false)
	if err != nil {
		return err
	}

	guild.mu.Lock()
	defer guild.mu.Unlock()

	var incumbent *snowflake.ID
	if guild.supervisor != nil {
		channelID := guild.supervisor.ChannelID()
		incumbent = &channelID
	}

	var afk *snowflake.ID
	if channelID, found := sm.Directory.AFKChannel(guildID); found {
		afk = &channelID
	}

	target, ok := SelectChannel(channelCounts(sm.Directory, guildID), afk, incumbent)

	switch {
	case !ok:
		return sm.stopLocked(ctx, guild)

	case incumbent == nil:
		return sm.startLocked(ctx, guild, guildID, target)

	case *incumbent != target:
		sm.Logger.Info(
			"switching voice channel",
			slog.Any("guild_id", guildID),
			slog.Any("from_channel_id", *incumbent),
			slog.Any("to_channel_id", target),
		)

		if err = sm.stopLocked(ctx, guild); err != nil {
			sm.Logger.Error("old session did not stop cleanly", slog.Any("error", err))
		}
		return sm.startLocked(ctx, guild, guildID, target)
	}

	return nil
}

// selfRemoved stops the session only when the removal names the session's
// channel and the cache no longer shows the bot there. Closing the old
// connection on a switch reports a removal that arrives after the switch.
func (sm *SessionsManager) selfRemoved(ctx context.Context, e EventSelfRemoved) error {
	guild, err := sm.guild(e.GuildID, false)
	if err != nil {
		return err
	}

	guild.mu.Lock()
	defer guild.mu.Unlock()

	if guild.supervisor == nil {
		return nil
	}

	channelID := guild.supervisor.ChannelID()

	if e.ChannelID != nil && *e.ChannelID != channelID {
		sm.Logger.Debug(
			"stale removal ignored",
			slog.Any("guild_id", e.GuildID),
			slog.Any("removed_from", *e.ChannelID),
			slog.Any("channel_id", channelID),
		)
		return nil
	}

	if current, inVoice := sm.Directory.SelfChannel(e.GuildID); inVoice && current == channelID {
		sm.Logger.Debug("removal ignored, bot is still connected", slog.Any("guild_id", e.GuildID))
		return nil
	}

	sm.Logger.Info("bot removed from voice", slog.Any("guild_id", e.GuildID))

	return sm.stopLocked(ctx, guild)
}

// selfMoved restarts the session in the channel the bot was moved to. A move
// into a channel without humans ends the session.
func (sm *SessionsManager) selfMoved(ctx context.Context, e EventVoiceStateChanged) error {
	guild, err := sm.guild(e.GuildID, false)
	if err != nil {
		return err
	}

	guild.mu.Lock()
	defer guild.mu.Unlock()

	if guild.supervisor == nil {
		return nil
	}

	if e.NewChannel == nil {
		return sm.stopLocked(ctx, guild)
	}

	if current, inVoice := sm.Directory.SelfChannel(e.GuildID); !inVoice || current != *e.NewChannel {
		sm.Logger.Debug("stale bot move ignored", slog.Any("guild_id", e.GuildID))
		return nil
	}

	if sm.nonBotMembers(e.GuildID, *e.NewChannel) == 0 {
		sm.Logger.Info("bot moved to an empty channel, leaving", slog.Any("guild_id", e.GuildID))
		return sm.stopLocked(ctx, guild)
	}

	from := guild.supervisor.ChannelID()
	if from == *e.NewChannel {
		return nil
	}

	sm.Logger.Info(
		"bot moved to another channel, restarting session",
		slog.Any("guild_id", e.GuildID),
		slog.Any("from_channel_id", from),
		slog.Any("to_channel_id", *e.NewChannel),
	)

	if err = sm.stopLocked(ctx, guild); err != nil {
		sm.Logger.Error("old session did not stop cleanly", slog.Any("error", err))
	}

	return sm.startLocked(ctx, guild, e.GuildID, *e.NewChannel)
}

func (sm *SessionsManager) startLocked(ctx context.Context, guild *guildState, guildID, channelID snowflake.ID) error {
	supervisor, err := startSupervisor(ctx, sm.Params, guildID, channelID)
	if err != nil {
		return fmt.Errorf("failed to start recording session: %w", err)
	}

	guild.supervisor = supervisor
	guild.current.Store(supervisor)

	return nil
}

func (sm *SessionsManager) stopLocked(ctx context.Context, guild *guildState) error {
	if guild.supervisor == nil {
		return nil
	}

	supervisor := guild.supervisor
	guild.supervisor = nil
	guild.current.Store(nil)

	return supervisor.Stop(ctx)
}

func (sm *SessionsManager) nonBotMembers(guildID, channelID snowflake.ID) int {
	count := 0

	for _, member := range sm.Directory.ChannelMembers(guildID, channelID) {
		if !member.Bot {
			count++
		}
	}

	return count
}

func sameChannel(a, b *snowflake.ID) bool {
	if a == nil || b == nil {
		return a == b
	}

	return *a == *b
}
