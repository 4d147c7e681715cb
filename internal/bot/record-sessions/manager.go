package recordsessions

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/kvizyx/speakerlog/internal/storage/metadata"
	"github.com/kvizyx/speakerlog/pkg/logger"
)

var ErrManagerStopped = errors.New("sessions manager stopped")

type Params struct {
	Logger    logger.Logger
	Directory Directory
	Connector Connector
	Sinks     SinkFactory
	Metadata  metadata.Recorder
	Archiver  Archiver

	Options Options
	Now     func() time.Time

	// archives tracks uploads that outlive their session.
	archives *sync.WaitGroup
}

// SessionsManager keeps at most one supervisor per guild and feeds each guild's
// membership events to its own worker.
type SessionsManager struct {
	Params

	guilds  map[snowflake.ID]*guildState
	mu      *sync.Mutex
	stopped bool

	ctx     context.Context
	cancel  context.CancelFunc
	workers *sync.WaitGroup
}

type guildState struct {
	// mu is held across every check-then-act on supervisor.
	mu         sync.Mutex
	supervisor *Supervisor
	events     chan Event
	hasWorker  bool

	// current mirrors supervisor for readers that must not wait on mu.
	current atomic.Pointer[Supervisor]
}

type SessionInfo struct {
	GuildID   snowflake.ID `json:"guild_id"`
	ChannelID snowflake.ID `json:"channel_id"`
	Speakers  int          `json:"speakers"`
}

func NewManager(params Params) *SessionsManager {
	params.Options = params.Options.withDefaults()
	params.archives = &sync.WaitGroup{}

	ctx, cancel := context.WithCancel(context.Background())

	return &SessionsManager{
		Params: params,

		guilds:  make(map[snowflake.ID]*guildState),
		mu:      &sync.Mutex{},
		ctx:     ctx,
		cancel:  cancel,
		workers: &sync.WaitGroup{},
	}
}

// SendEvent queues a membership event for its guild without blocking.
func (sm *SessionsManager) SendEvent(event Event) {
	guildID, ok := eventGuild(event)
	if !ok {
		sm.Logger.Debug("event without guild ignored", slog.String("type", event.Type().String()))
		return
	}

	guild, err := sm.guild(guildID, true)
	if err != nil {
		return
	}

	select {
	case guild.events <- event:
	default:
		// The next event recomputes the target from the cache, so dropping is safe.
		sm.Logger.Warn(
			"guild event queue is full, dropping event",
			slog.Any("guild_id", guildID),
			slog.String("type", event.Type().String()),
		)
	}
}

func eventGuild(event Event) (snowflake.ID, bool) {
	switch e := event.(type) {
	case EventVoiceStateChanged:
		return e.GuildID, true
	case EventSelfRemoved:
		return e.GuildID, true
	case EventGuildAvailable:
		return e.GuildID, true
	default:
		return 0, false
	}
}

func (sm *SessionsManager) guild(guildID snowflake.ID, withWorker bool) (*guildState, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.stopped {
		return nil, ErrManagerStopped
	}

	guild, found := sm.guilds[guildID]
	if !found {
		guild = &guildState{
			events: make(chan Event, sm.Options.GuildQueueSize),
		}
		sm.guilds[guildID] = guild
	}

	if withWorker && !guild.hasWorker {
		guild.hasWorker = true
		sm.workers.Add(1)
		go sm.worker(guild)
	}

	return guild, nil
}

func (sm *SessionsManager) worker(guild *guildState) {
	defer sm.workers.Done()

	for {
		select {
		case event := <-guild.events:
			if err := sm.HandleEvent(sm.ctx, event); err != nil {
				sm.Logger.Error(
					"failed to handle membership event",
					slog.String("type", event.Type().String()),
					slog.Any("error", err),
				)
			}

		case <-sm.ctx.Done():
			return
		}
	}
}

// Sessions returns a snapshot of the connected guilds.
func (sm *SessionsManager) Sessions() []SessionInfo {
	sm.mu.Lock()
	guilds := make(map[snowflake.ID]*guildState, len(sm.guilds))
	for id, guild := range sm.guilds {
		guilds[id] = guild
	}
	sm.mu.Unlock()

	sessions := make([]SessionInfo, 0, len(guilds))

	for guildID, guild := range guilds {
		supervisor := guild.current.Load()
		if supervisor == nil {
			continue
		}

		sessions = append(sessions, SessionInfo{
			GuildID:   guildID,
			ChannelID: supervisor.ChannelID(),
			Speakers:  supervisor.Speakers(),
		})
	}

	return sessions
}

// StopAll stops the workers, then every voice recording session gracefully,
// then waits for pending archive uploads until ctx ends.
func (sm *SessionsManager) StopAll(ctx context.Context) {
	sm.mu.Lock()
	sm.stopped = true
	guilds := make([]*guildState, 0, len(sm.guilds))
	for _, guild := range sm.guilds {
		guilds = append(guilds, guild)
	}
	sm.mu.Unlock()

	sm.cancel()
	sm.workers.Wait()

	wg := &sync.WaitGroup{}

	for _, guild := range guilds {
		wg.Add(1)
		go func() {
			defer wg.Done()

			guild.mu.Lock()
			defer guild.mu.Unlock()

			if err := sm.stopLocked(ctx, guild); err != nil {
				sm.Logger.Error(
					"failed to stop recording session gracefully",
					slog.Any("error", err),
				)
			}
		}()
	}

	wg.Wait()

	archived := make(chan struct{})
	go func() {
		sm.archives.Wait()
		close(archived)
	}()

	select {
	case <-archived:
	case <-ctx.Done():
		sm.Logger.Warn("stopped before every recording was archived", slog.Any("error", ctx.Err()))
	}
}
