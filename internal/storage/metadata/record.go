// Package metadata stores one record per speaker recording, keyed by file name.
package metadata

import (
	"context"
	"errors"
	"path"
	"strconv"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

var (
	ErrNotFound         = errors.New("metadata: record not found")
	ErrAlreadyExists    = errors.New("metadata: record already exists")
	ErrAlreadyFinalized = errors.New("metadata: record already finalized")
)

// EnterState tells whether the speaker found anyone else in the channel.
type EnterState uint8

const (
	EnterJoinedFirst    EnterState = 1
	EnterJoinedNonEmpty EnterState = 2
)

func (s EnterState) String() string {
	switch s {
	case EnterJoinedFirst:
		return "joined-first"
	case EnterJoinedNonEmpty:
		return "joined-nonempty"
	default:
		return "unknown"
	}
}

// LeaveState tells whether the speaker left others behind.
type LeaveState uint8

const (
	LeaveUnset         LeaveState = 0
	LeaveStillOccupied LeaveState = 2
	LeaveLastToLeave   LeaveState = 3
)

func (s LeaveState) String() string {
	switch s {
	case LeaveStillOccupied:
		return "still-occupied"
	case LeaveLastToLeave:
		return "last-to-leave"
	default:
		return "unset"
	}
}

type Record struct {
	FileName   string       `json:"file_name" msgpack:"file_name"`
	GuildID    snowflake.ID `json:"guild_id" msgpack:"guild_id"`
	ChannelID  snowflake.ID `json:"channel_id" msgpack:"channel_id"`
	UserID     snowflake.ID `json:"user_id" msgpack:"user_id"`
	Year       int          `json:"year" msgpack:"year"`
	Month      int          `json:"month" msgpack:"month"`
	StartTS    int64        `json:"start_ts" msgpack:"start_ts"`
	EndTS      *int64       `json:"end_ts" msgpack:"end_ts"`
	EnterState EnterState   `json:"state_enter" msgpack:"state_enter"`
	LeaveState LeaveState   `json:"state_leave" msgpack:"state_leave"`
}

// NewRecord fills the time derived columns from start.
func NewRecord(fileName string, guildID, channelID, userID snowflake.ID, start time.Time, enter EnterState) Record {
	start = start.UTC()

	return Record{
		FileName:   fileName,
		GuildID:    guildID,
		ChannelID:  channelID,
		UserID:     userID,
		Year:       start.Year(),
		Month:      int(start.Month()),
		StartTS:    start.UnixMilli(),
		EnterState: enter,
	}
}

func (r Record) Finalized() bool {
	return r.EndTS != nil
}

// RelativePath is the slash separated location of the artifact below the
// recordings base directory: <guild>/<channel>/<year>/<Month>/<file>.<ext>.
func (r Record) RelativePath(ext string) string {
	return path.Join(
		r.GuildID.String(),
		r.ChannelID.String(),
		strconv.Itoa(r.Year),
		time.Month(r.Month).String(),
		r.FileName+"."+ext,
	)
}

// Recorder is the write side used while recording.
type Recorder interface {
	Insert(ctx context.Context, record Record) error
	Finalize(ctx context.Context, fileName string, end time.Time, leave LeaveState) error
}

// Store adds the read side used by the HTTP API.
type Store interface {
	Recorder
	Get(ctx context.Context, fileName string) (Record, error)
	// ListByGuild returns the newest records first, at most limit of them.
	ListByGuild(ctx context.Context, guildID snowflake.ID, limit int) ([]Record, error)
	Close() error
}
