package recordsessions

import (
	"context"

	"github.com/disgoorg/snowflake/v2"
	"github.com/kvizyx/speakerlog/internal/transcoder"
)

type Member struct {
	UserID   snowflake.ID
	Username string
	Bot      bool
}

// Directory answers membership questions from the gateway cache.
type Directory interface {
	Member(guildID, userID snowflake.ID) (Member, bool)
	// ChannelMembers lists everyone currently connected to the voice channel.
	ChannelMembers(guildID, channelID snowflake.ID) []Member
	VoiceChannels(guildID snowflake.ID) []snowflake.ID
	AFKChannel(guildID snowflake.ID) (snowflake.ID, bool)
	// SelfChannel is the voice channel the bot itself is in right now.
	SelfChannel(guildID snowflake.ID) (snowflake.ID, bool)
}

// AudioHandler receives the audio side events of one voice connection.
type AudioHandler interface {
	HandleAudio(ctx context.Context, event Event)
}

type Connector interface {
	Join(ctx context.Context, guildID, channelID snowflake.ID, handler AudioHandler) (Connection, error)
}

type Connection interface {
	Close(ctx context.Context) error
}

type Sink interface {
	Write(samples []int16) error
	Finalize(ctx context.Context) (transcoder.ExitReport, error)
}

type SinkFactory func(ctx context.Context, outputPath string) (Sink, error)

// Archiver copies a finalized recording somewhere durable.
type Archiver interface {
	UploadRecording(ctx context.Context, objectKey, filePath string) error
}
