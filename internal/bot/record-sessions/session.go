package recordsessions

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/kvizyx/speakerlog/internal/storage/metadata"
	"github.com/kvizyx/speakerlog/internal/transcoder"
	"github.com/kvizyx/speakerlog/pkg/logger"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	BaseDir       string
	FileExtension string

	QueueDepth    int
	WriteLogEvery int

	SinkFinalizeTimeout time.Duration
	ShutdownTimeout     time.Duration
	ArchiveTimeout      time.Duration

	// GuildQueueSize bounds the pending membership events of one guild.
	GuildQueueSize int
}

func DefaultOptions() Options {
	return Options{
		BaseDir:             "voice_recordings",
		FileExtension:       "ogg",
		QueueDepth:          64,
		WriteLogEvery:       100,
		SinkFinalizeTimeout: 15 * time.Second,
		ShutdownTimeout:     30 * time.Second,
		ArchiveTimeout:      time.Minute,
		GuildQueueSize:      128,
	}
}

// withDefaults fills unset fields from DefaultOptions.
func (o Options) withDefaults() Options {
	def := DefaultOptions()

	if o.FileExtension == "" {
		o.FileExtension = def.FileExtension
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = def.QueueDepth
	}
	if o.WriteLogEvery <= 0 {
		o.WriteLogEvery = def.WriteLogEvery
	}
	if o.SinkFinalizeTimeout <= 0 {
		o.SinkFinalizeTimeout = def.SinkFinalizeTimeout
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = def.ShutdownTimeout
	}
	if o.ArchiveTimeout <= 0 {
		o.ArchiveTimeout = def.ArchiveTimeout
	}
	if o.GuildQueueSize <= 0 {
		o.GuildQueueSize = def.GuildQueueSize
	}

	return o
}

type SessionParams struct {
	GuildID   snowflake.ID
	ChannelID snowflake.ID

	Logger    logger.Logger
	Directory Directory
	Sinks     SinkFactory
	Metadata  metadata.Recorder
	Archiver  Archiver // optional

	Options Options
	Now     func() time.Time
	// Archives tracks uploads started after a slot is finalized. Optional.
	Archives *sync.WaitGroup
}

// Session records every speaker of one connected voice channel.
type Session struct {
	guildID   snowflake.ID
	channelID snowflake.ID

	logger    logger.Logger
	directory Directory
	sinks     SinkFactory
	metadata  metadata.Recorder
	archiver  Archiver
	options   Options
	now       func() time.Time

	registry  *Registry
	demux     *Demuxer
	handshake *Handshake

	mu       sync.Mutex
	cleaning bool
	inflight sync.WaitGroup
	archives *sync.WaitGroup
}

func NewSession(p SessionParams) *Session {
	if p.Now == nil {
		p.Now = time.Now
	}
	p.Options = p.Options.withDefaults()
	if p.Archives == nil {
		p.Archives = &sync.WaitGroup{}
	}

	registry := NewRegistry(p.Options.QueueDepth, p.Options.WriteLogEvery, p.Logger)

	return &Session{
		guildID:   p.GuildID,
		channelID: p.ChannelID,
		logger:    p.Logger,
		directory: p.Directory,
		sinks:     p.Sinks,
		metadata:  p.Metadata,
		archiver:  p.Archiver,
		options:   p.Options,
		now:       p.Now,
		registry:  registry,
		demux:     NewDemuxer(registry, p.Logger, p.Options.WriteLogEvery),
		handshake: NewHandshake(),
		archives:  p.Archives,
	}
}

func (s *Session) Registry() *Registry {
	return s.registry
}

func (s *Session) Handshake() *Handshake {
	return s.handshake
}

// Run is the session listener. It returns after serving one cleanup request,
// or after cleaning up on its own when ctx ends.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case signal := <-s.handshake.Requests():
			if signal != SignalCleanupRequested {
				continue
			}

			s.handshake.Complete(s.cleanup())
			return nil

		case <-ctx.Done():
			s.handshake.Complete(s.cleanup())
			return ctx.Err()
		}
	}
}

// HandleAudio implements AudioHandler.
func (s *Session) HandleAudio(ctx context.Context, event Event) {
	switch e := event.(type) {
	case EventSpeakingState:
		s.startSpeaker(ctx, e)

	case EventAudioTick:
		s.demux.Dispatch(e)

	case EventClientDisconnected:
		s.stopSpeaker(e.UserID)

	case EventConnectionNotice:
		attrs := []any{slog.String("kind", e.Kind.String())}
		if e.Err != nil {
			attrs = append(attrs, slog.Any("error", e.Err))
			s.logger.Warn("voice connection notice", attrs...)
			return
		}
		s.logger.Info("voice connection notice", attrs...)

	default:
		s.logger.Debug("unexpected audio event", slog.String("type", event.Type().String()))
	}
}

func (s *Session) startSpeaker(ctx context.Context, e EventSpeakingState) {
	if _, found := s.registry.LookupBySSRC(e.SSRC); found {
		return
	}

	member, found := s.directory.Member(s.guildID, e.UserID)
	if found && member.Bot {
		return
	}

	slot, count, err := s.registry.Register(e.UserID, e.SSRC)
	if err != nil {
		s.logger.Debug(
			"speaker not registered",
			slog.Any("user_id", e.UserID),
			slog.Any("ssrc", e.SSRC),
			slog.Any("error", err),
		)
		return
	}

	log := s.logger.With(
		slog.Any("user_id", e.UserID),
		slog.String("username", member.Username),
	)

	startedAt := s.now()
	dir := recordingDir(s.options.BaseDir, s.guildID, s.channelID, startedAt)

	slot.Username = member.Username
	slot.StartedAt = startedAt
	slot.FileName = recordingFileName(startedAt, e.UserID)
	slot.Path = filepath.Join(dir, slot.FileName+"."+s.options.FileExtension)
	slot.Enter = s.enterState(count, e.UserID)

	if err = os.MkdirAll(dir, 0o755); err != nil {
		log.Error("failed to create recording directory", slog.Any("error", err))
		s.registry.Discard(slot)
		slot.abandon()
		return
	}

	sink, err := s.sinks(ctx, slot.Path)
	if err != nil {
		log.Error("failed to spawn transcoder", slog.Any("error", err))
		s.registry.Discard(slot)
		slot.abandon()
		return
	}

	record := metadata.NewRecord(slot.FileName, s.guildID, s.channelID, e.UserID, startedAt, slot.Enter)
	if err = s.metadata.Insert(ctx, record); err != nil {
		log.Error("failed to insert recording metadata", slog.Any("error", err))
	} else {
		slot.recorded = true
	}

	if !slot.activate(sink) {
		// The slot was given up while the sink was starting, so its record is
		// finished here.
		finCtx, cancel := context.WithTimeout(context.Background(), s.options.SinkFinalizeTimeout)
		defer cancel()

		if _, err = sink.Finalize(finCtx); err != nil {
			log.Warn("failed to finalize orphaned sink", slog.Any("error", err))
		}

		if slot.recorded {
			s.finalizeRecord(slot, s.now(), s.leaveState(s.registry.ActiveCount(), e.UserID), log)
		}
		return
	}

	log.Info(
		"speaker recording started",
		slog.String("file_name", slot.FileName),
		slog.String("state_enter", slot.Enter.String()),
	)
}

func (s *Session) stopSpeaker(userID snowflake.ID) {
	s.mu.Lock()
	if s.cleaning {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	slot, remaining, found := s.registry.RemoveByUser(userID)
	if !found {
		s.inflight.Done()
		s.logger.Debug("disconnect of unknown speaker", slog.Any("user_id", userID))
		return
	}

	leave := s.leaveState(remaining, userID)

	// Finalizing can take a while; the connection's event loop must not wait for it.
	go func() {
		defer s.inflight.Done()
		s.finishSlot(slot, leave)
	}()
}

// cleanup drains the registry and finalizes every slot in parallel.
func (s *Session) cleanup() CleanupReport {
	s.mu.Lock()
	s.cleaning = true
	s.mu.Unlock()

	slots := s.registry.Close()

	var (
		report CleanupReport
		mu     sync.Mutex
		group  errgroup.Group
	)

	for _, slot := range slots {
		leave := s.leaveState(len(slots)-1, slot.UserID)

		group.Go(func() error {
			outcome := s.finishSlot(slot, leave)

			mu.Lock()
			defer mu.Unlock()

			switch outcome {
			case outcomeFinalized:
				report.Finalized++
			case outcomeKilled:
				report.Killed++
			case outcomeFailed:
				report.Failed++
			}

			return nil
		})
	}

	_ = group.Wait()
	s.inflight.Wait()

	return report
}

type slotOutcome int

const (
	outcomeFinalized slotOutcome = iota
	outcomeKilled
	outcomeFailed
	outcomeSkipped
)

func (s *Session) finishSlot(slot *Slot, leave metadata.LeaveState) slotOutcome {
	ctx, cancel := context.WithTimeout(context.Background(), s.options.SinkFinalizeTimeout)
	defer cancel()

	report, err := slot.Close(ctx)

	switch {
	case errors.Is(err, ErrSlotAbandoned), errors.Is(err, ErrSlotClosed):
		return outcomeSkipped
	case errors.Is(err, ErrSlotUnsettled):
		s.logger.Warn("speaker slot closed before its sink started", slog.Any("user_id", slot.UserID))
		return outcomeFailed
	}

	log := s.logger.With(
		slog.Any("user_id", slot.UserID),
		slog.String("file_name", slot.FileName),
	)

	outcome := outcomeFinalized

	switch {
	case errors.Is(err, transcoder.ErrFinalizeTimeout):
		log.Warn("transcoder killed after finalize timeout", slog.String("stderr", report.Stderr))
		outcome = outcomeKilled
	case err != nil:
		log.Warn(
			"transcoder finished with error",
			slog.Int("exit_code", report.ExitCode),
			slog.String("stderr", report.Stderr),
			slog.Any("error", err),
		)
		outcome = outcomeFailed
	}

	end := s.now()

	if slot.recorded {
		s.finalizeRecord(slot, end, leave, log)
	}

	log.Info(
		"speaker recording finished",
		slog.Duration("duration", end.Sub(slot.StartedAt)),
		slog.Int64("bytes_written", report.Written),
		slog.String("state_leave", leave.String()),
	)

	if s.archiver != nil && outcome == outcomeFinalized {
		s.archives.Add(1)
		go func() {
			defer s.archives.Done()
			s.archive(slot, log)
		}()
	}

	return outcome
}

func (s *Session) finalizeRecord(slot *Slot, end time.Time, leave metadata.LeaveState, log logger.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), s.options.SinkFinalizeTimeout)
	defer cancel()

	if err := s.metadata.Finalize(ctx, slot.FileName, end, leave); err != nil {
		log.Error("failed to finalize recording metadata", slog.Any("error", err))
	}
}

func (s *Session) archive(slot *Slot, log logger.Logger) {
	key, err := objectKey(s.options.BaseDir, slot.Path)
	if err != nil {
		log.Error("failed to archive recording", slog.Any("error", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.options.ArchiveTimeout)
	defer cancel()

	if err = s.archiver.UploadRecording(ctx, key, slot.Path); err != nil {
		log.Error("failed to archive recording", slog.Any("error", err))
		return
	}

	log.Debug("recording archived", slog.String("object_key", key))
}

// otherHumans counts non-bot members of the channel other than userID.
func (s *Session) otherHumans(userID snowflake.ID) int {
	count := 0

	for _, member := range s.directory.ChannelMembers(s.guildID, s.channelID) {
		if member.Bot || member.UserID == userID {
			continue
		}
		count++
	}

	return count
}

func (s *Session) enterState(countAfter int, userID snowflake.ID) metadata.EnterState {
	if countAfter <= 1 && s.otherHumans(userID) == 0 {
		return metadata.EnterJoinedFirst
	}

	return metadata.EnterJoinedNonEmpty
}

func (s *Session) leaveState(remaining int, userID snowflake.ID) metadata.LeaveState {
	if remaining == 0 && s.otherHumans(userID) == 0 {
		return metadata.LeaveLastToLeave
	}

	return metadata.LeaveStillOccupied
}
