package recordsessions

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/kvizyx/speakerlog/internal/storage/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testGuild   snowflake.ID = 1
	testChannel snowflake.ID = 10
)

type sessionFixture struct {
	session   *Session
	directory *fakeDirectory
	sinks     *fakeSinks
	store     *metadata.BadgerStore
	options   Options
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	f := &sessionFixture{
		directory: newFakeDirectory(testChannel),
		sinks:     &fakeSinks{journal: &journal{}},
		store:     newMetadataStore(t),
		options:   testOptions(t),
	}

	f.session = NewSession(SessionParams{
		GuildID:   testGuild,
		ChannelID: testChannel,
		Logger:    nopLogger(),
		Directory: f.directory,
		Sinks:     f.sinks.factory,
		Metadata:  f.store,
		Options:   f.options,
		Now:       fixedClock(time.Date(2024, time.July, 4, 12, 0, 0, 0, time.UTC)),
	})

	return f
}

func (f *sessionFixture) onlyRecord(t *testing.T) metadata.Record {
	t.Helper()

	records, err := f.store.ListByGuild(context.Background(), testGuild, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)

	return records[0]
}

func (f *sessionFixture) allFinalized() bool {
	records, err := f.store.ListByGuild(context.Background(), testGuild, 0)
	if err != nil || len(records) == 0 {
		return false
	}

	for _, record := range records {
		if !record.Finalized() {
			return false
		}
	}

	return true
}

func TestSessionSpeakerInNonEmptyChannel(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)

	f.directory.connect(testChannel, Member{UserID: 2, Username: "a"})
	f.directory.connect(testChannel, Member{UserID: 3, Username: "b"})
	f.directory.connect(testChannel, Member{UserID: 5, Username: "u"})

	f.session.HandleAudio(ctx, EventSpeakingState{UserID: 5, SSRC: 42, Speaking: true})

	sinks := f.sinks.all()
	require.Len(t, sinks, 1)

	record := f.onlyRecord(t)
	assert.Equal(t, metadata.EnterJoinedNonEmpty, record.EnterState)
	assert.Equal(t, 2024, record.Year)
	assert.Equal(t, 7, record.Month)
	assert.True(t, strings.HasPrefix(record.FileName, "1720094401000-5-"))

	wantDir := filepath.Join(f.options.BaseDir, "1", "10", "2024", "July")
	assert.Equal(t, filepath.Join(wantDir, record.FileName+".ogg"), sinks[0].path)
	assert.DirExists(t, wantDir)

	for i := range 3 {
		stats := f.session.demux.Dispatch(EventAudioTick{Entries: []TickEntry{
			{SSRC: 42, Samples: []int16{int16(i)}},
		}})
		assert.Equal(t, 1, stats.Written)
	}

	f.directory.disconnect(5)
	f.session.HandleAudio(ctx, EventClientDisconnected{UserID: 5})

	_, found := f.session.Registry().LookupByUser(5)
	assert.False(t, found, "slot leaves the registry before finalize")

	require.Eventually(t, f.allFinalized, 2*time.Second, 10*time.Millisecond)

	record = f.onlyRecord(t)
	assert.Equal(t, metadata.LeaveStillOccupied, record.LeaveState)
	assert.Greater(t, *record.EndTS, record.StartTS)

	assert.Equal(t, [][]int16{{0}, {1}, {2}}, sinks[0].writes())
	assert.Equal(t, 1, sinks[0].finalizeCalls())
}

func TestSessionLoneSpeaker(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)

	f.directory.connect(testChannel, Member{UserID: 5, Username: "u"})

	f.session.HandleAudio(ctx, EventSpeakingState{UserID: 5, SSRC: 42})
	assert.Equal(t, metadata.EnterJoinedFirst, f.onlyRecord(t).EnterState)

	f.directory.disconnect(5)
	f.session.HandleAudio(ctx, EventClientDisconnected{UserID: 5})

	require.Eventually(t, f.allFinalized, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, metadata.LeaveLastToLeave, f.onlyRecord(t).LeaveState)
}

func TestSessionSecondSpeakerJoinsNonEmpty(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)

	f.directory.connect(testChannel, Member{UserID: 5})
	f.session.HandleAudio(ctx, EventSpeakingState{UserID: 5, SSRC: 42})

	f.directory.connect(testChannel, Member{UserID: 6})
	f.session.HandleAudio(ctx, EventSpeakingState{UserID: 6, SSRC: 43})

	records, err := f.store.ListByGuild(ctx, testGuild, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first.
	assert.Equal(t, metadata.EnterJoinedNonEmpty, records[0].EnterState)
	assert.Equal(t, metadata.EnterJoinedFirst, records[1].EnterState)
}

func TestSessionIgnoresBotsAndDuplicates(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)

	f.directory.connect(testChannel, Member{UserID: 7, Bot: true})
	f.directory.connect(testChannel, Member{UserID: 5})

	f.session.HandleAudio(ctx, EventSpeakingState{UserID: 7, SSRC: 40})
	f.session.HandleAudio(ctx, EventSpeakingState{UserID: 5, SSRC: 42})
	f.session.HandleAudio(ctx, EventSpeakingState{UserID: 5, SSRC: 42})

	assert.Len(t, f.sinks.all(), 1)
	assert.Equal(t, 1, f.session.Registry().ActiveCount())

	// Unknown disconnects are no-ops.
	f.session.HandleAudio(ctx, EventClientDisconnected{UserID: 999})
	assert.Equal(t, 1, f.session.Registry().ActiveCount())
}

func TestSessionSpawnFailureDropsSpeakerOnly(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	f.directory.connect(testChannel, Member{UserID: 5})

	f.sinks.fail = true
	f.session.HandleAudio(ctx, EventSpeakingState{UserID: 5, SSRC: 42})
	assert.Zero(t, f.session.Registry().ActiveCount())

	stats := f.session.demux.Dispatch(EventAudioTick{Entries: []TickEntry{{SSRC: 42, Samples: []int16{1}}}})
	assert.Equal(t, 1, stats.Unknown)

	f.sinks.fail = false
	f.session.HandleAudio(ctx, EventSpeakingState{UserID: 5, SSRC: 42})
	assert.Equal(t, 1, f.session.Registry().ActiveCount())
}

func TestSessionCleanupFinalizesEverySlot(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)

	const speakers = 4
	for i := range speakers {
		userID := snowflake.ID(100 + i)
		f.directory.connect(testChannel, Member{UserID: userID})
		f.session.HandleAudio(ctx, EventSpeakingState{UserID: userID, SSRC: uint32(i + 1)})
	}

	done := make(chan error, 1)
	go func() { done <- f.session.Run(context.Background()) }()

	report, err := f.session.Handshake().Request(ctx)
	require.NoError(t, err)
	assert.Equal(t, speakers, report.Finalized)
	require.NoError(t, <-done)

	for _, sink := range f.sinks.all() {
		assert.Equal(t, 1, sink.finalizeCalls())
	}

	records, err := f.store.ListByGuild(ctx, testGuild, 0)
	require.NoError(t, err)
	require.Len(t, records, speakers)
	for _, record := range records {
		assert.True(t, record.Finalized())
		assert.Equal(t, metadata.LeaveStillOccupied, record.LeaveState)
	}

	// No new speakers after cleanup.
	f.session.HandleAudio(ctx, EventSpeakingState{UserID: 999, SSRC: 99})
	assert.Len(t, f.sinks.all(), speakers)
}

func TestSessionCleanupKillsStuckSink(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	f.session.options.SinkFinalizeTimeout = 50 * time.Millisecond

	f.sinks.block = true
	f.directory.connect(testChannel, Member{UserID: 5})
	f.session.HandleAudio(ctx, EventSpeakingState{UserID: 5, SSRC: 42})

	go func() { _ = f.session.Run(context.Background()) }()

	report, err := f.session.Handshake().Request(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Killed)
	assert.Zero(t, report.Finalized)
}

// gatedRecorder holds Insert until release is closed.
type gatedRecorder struct {
	metadata.Recorder

	entered chan struct{}
	release chan struct{}
}

func (r *gatedRecorder) Insert(ctx context.Context, record metadata.Record) error {
	close(r.entered)
	<-r.release

	return r.Recorder.Insert(ctx, record)
}

func TestSessionCleanupDuringSlowInsertFinalizesRecord(t *testing.T) {
	ctx := context.Background()
	f := newSessionFixture(t)
	f.session.options.SinkFinalizeTimeout = 50 * time.Millisecond

	gate := &gatedRecorder{
		Recorder: f.store,
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	f.session.metadata = gate

	f.directory.connect(testChannel, Member{UserID: 5})

	started := make(chan struct{})
	go func() {
		defer close(started)
		f.session.HandleAudio(ctx, EventSpeakingState{UserID: 5, SSRC: 42})
	}()
	<-gate.entered

	go func() { _ = f.session.Run(context.Background()) }()

	// Cleanup gives up on the slot while its sink is still starting.
	report, err := f.session.Handshake().Request(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	close(gate.release)
	<-started

	record := f.onlyRecord(t)
	require.True(t, record.Finalized())
	assert.Equal(t, metadata.LeaveLastToLeave, record.LeaveState)

	sinks := f.sinks.all()
	require.Len(t, sinks, 1)
	assert.Equal(t, 1, sinks[0].finalizeCalls())
}
