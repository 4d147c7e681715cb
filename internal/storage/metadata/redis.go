package metadata

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "speakerlog"

// RedisStore keeps each record in a hash and a per-guild sorted set by start time.
type RedisStore struct {
	client *redis.Client
}

type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreFromClient(client), nil
}

func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func redisRecordKey(fileName string) string {
	return redisKeyPrefix + ":recording:" + fileName
}

func redisGuildKey(guildID snowflake.ID) string {
	return fmt.Sprintf("%s:guild:%d:recordings", redisKeyPrefix, guildID)
}

func (s *RedisStore) Insert(ctx context.Context, record Record) error {
	key := redisRecordKey(record.FileName)

	created, err := s.client.HSetNX(ctx, key, "file_name", record.FileName).Result()
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	if !created {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, record.FileName)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, recordFields(record))
		pipe.ZAdd(ctx, redisGuildKey(record.GuildID), redis.Z{
			Score:  float64(record.StartTS),
			Member: record.FileName,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}

	return nil
}

func (s *RedisStore) Finalize(ctx context.Context, fileName string, end time.Time, leave LeaveState) error {
	key := redisRecordKey(fileName)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to finalize record: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, fileName)
	}

	// end_ts doubles as the "finalized once" guard.
	set, err := s.client.HSetNX(ctx, key, "end_ts", end.UnixMilli()).Result()
	if err != nil {
		return fmt.Errorf("failed to finalize record: %w", err)
	}
	if !set {
		return fmt.Errorf("%w: %s", ErrAlreadyFinalized, fileName)
	}

	if err = s.client.HSet(ctx, key, "state_leave", int(leave)).Err(); err != nil {
		return fmt.Errorf("failed to finalize record: %w", err)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, fileName string) (Record, error) {
	fields, err := s.client.HGetAll(ctx, redisRecordKey(fileName)).Result()
	if err != nil {
		return Record{}, fmt.Errorf("failed to get record: %w", err)
	}
	if len(fields) == 0 {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, fileName)
	}

	return parseRecordFields(fields)
}

func (s *RedisStore) ListByGuild(ctx context.Context, guildID snowflake.ID, limit int) ([]Record, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	names, err := s.client.ZRevRange(ctx, redisGuildKey(guildID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(names))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, name := range names {
			cmds[i] = pipe.HGetAll(ctx, redisRecordKey(name))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	records := make([]Record, 0, len(names))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}

		record, err := parseRecordFields(fields)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func recordFields(r Record) map[string]any {
	return map[string]any{
		"file_name":   r.FileName,
		"guild_id":    r.GuildID.String(),
		"channel_id":  r.ChannelID.String(),
		"user_id":     r.UserID.String(),
		"year":        r.Year,
		"month":       r.Month,
		"start_ts":    r.StartTS,
		"state_enter": int(r.EnterState),
		"state_leave": int(r.LeaveState),
	}
}

func parseRecordFields(fields map[string]string) (Record, error) {
	var (
		record = Record{FileName: fields["file_name"]}
		errs   []error
	)

	parseID := func(name string) snowflake.ID {
		id, err := snowflake.Parse(fields[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return id
	}

	parseInt := func(name string) int64 {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		return v
	}

	record.GuildID = parseID("guild_id")
	record.ChannelID = parseID("channel_id")
	record.UserID = parseID("user_id")
	record.Year = int(parseInt("year"))
	record.Month = int(parseInt("month"))
	record.StartTS = parseInt("start_ts")
	record.EnterState = EnterState(parseInt("state_enter"))
	record.LeaveState = LeaveState(parseInt("state_leave"))

	if _, ok := fields["end_ts"]; ok {
		endTS := parseInt("end_ts")
		record.EndTS = &endTS
	}

	if err := errors.Join(errs...); err != nil {
		return Record{}, fmt.Errorf("malformed record %s: %w", record.FileName, err)
	}

	return record, nil
}
