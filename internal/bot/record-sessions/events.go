package recordsessions

import (
	"github.com/disgoorg/snowflake/v2"
)

type EventType int

const (
	EventTypeVoiceStateChanged EventType = iota
	EventTypeSelfRemoved
	EventTypeSpeakingState
	EventTypeAudioTick
	EventTypeClientDisconnected
	EventTypeConnectionNotice
	EventTypeGuildAvailable
)

func (t EventType) String() string {
	switch t {
	case EventTypeVoiceStateChanged:
		return "voice_state_changed"
	case EventTypeSelfRemoved:
		return "self_removed"
	case EventTypeSpeakingState:
		return "speaking_state"
	case EventTypeAudioTick:
		return "audio_tick"
	case EventTypeClientDisconnected:
		return "client_disconnected"
	case EventTypeConnectionNotice:
		return "connection_notice"
	case EventTypeGuildAvailable:
		return "guild_available"
	default:
		return "unknown"
	}
}

type Event interface {
	Type() EventType
}

// EventVoiceStateChanged is a membership change of one user in a guild.
// A nil channel means "not in voice".
type EventVoiceStateChanged struct {
	GuildID    snowflake.ID
	UserID     snowflake.ID
	OldChannel *snowflake.ID
	NewChannel *snowflake.ID
	IsBot      bool
	// IsSelf is set when the subject is this bot.
	IsSelf bool
}

func (e EventVoiceStateChanged) Type() EventType {
	return EventTypeVoiceStateChanged
}

// EventSelfRemoved is emitted when the bot lost its own voice membership.
// ChannelID is the channel it was removed from, when known.
type EventSelfRemoved struct {
	GuildID   snowflake.ID
	ChannelID *snowflake.ID
}

func (e EventSelfRemoved) Type() EventType {
	return EventTypeSelfRemoved
}

type EventSpeakingState struct {
	UserID   snowflake.ID
	SSRC     uint32
	Speaking bool
}

func (e EventSpeakingState) Type() EventType {
	return EventTypeSpeakingState
}

// TickEntry carries one SSRC's decoded audio for a tick. Nil Samples means the
// stream was present but nothing was decoded.
type TickEntry struct {
	SSRC    uint32
	Samples []int16
}

type EventAudioTick struct {
	Entries []TickEntry
}

func (e EventAudioTick) Type() EventType {
	return EventTypeAudioTick
}

type EventClientDisconnected struct {
	UserID snowflake.ID
}

func (e EventClientDisconnected) Type() EventType {
	return EventTypeClientDisconnected
}

type NoticeKind int

const (
	NoticeConnected NoticeKind = iota
	NoticeReconnecting
	NoticeDisconnected
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeConnected:
		return "connected"
	case NoticeReconnecting:
		return "reconnecting"
	case NoticeDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type EventConnectionNotice struct {
	Kind NoticeKind
	Err  error
}

func (e EventConnectionNotice) Type() EventType {
	return EventTypeConnectionNotice
}

// EventGuildAvailable asks for a channel decision once a guild's cache is filled,
// so members already in voice at start-up are picked up.
type EventGuildAvailable struct {
	GuildID snowflake.ID
}

func (e EventGuildAvailable) Type() EventType {
	return EventTypeGuildAvailable
}
