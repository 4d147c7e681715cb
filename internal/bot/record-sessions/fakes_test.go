package recordsessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/kvizyx/speakerlog/internal/storage/metadata"
	"github.com/kvizyx/speakerlog/internal/transcoder"
	"github.com/kvizyx/speakerlog/pkg/logger"
	"github.com/stretchr/testify/require"
)

// journal records cross-component calls in the order they happen.
type journal struct {
	mu      sync.Mutex
	entries []string
}

func (j *journal) add(format string, args ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = append(j.entries, fmt.Sprintf(format, args...))
}

func (j *journal) snapshot() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	return append([]string(nil), j.entries...)
}

type fakeDirectory struct {
	mu       sync.Mutex
	members  map[snowflake.ID]Member
	channels map[snowflake.ID][]snowflake.ID // channel -> connected users
	order    []snowflake.ID
	afk      *snowflake.ID
	// self is the bot's own voice channel as the gateway cache would show it.
	self *snowflake.ID
}

func newFakeDirectory(channels ...snowflake.ID) *fakeDirectory {
	d := &fakeDirectory{
		members:  make(map[snowflake.ID]Member),
		channels: make(map[snowflake.ID][]snowflake.ID),
	}
	for _, channelID := range channels {
		d.channels[channelID] = nil
		d.order = append(d.order, channelID)
	}

	return d
}

func (d *fakeDirectory) connect(channelID snowflake.ID, m Member) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.members[m.UserID] = m
	d.removeLocked(m.UserID)
	d.channels[channelID] = append(d.channels[channelID], m.UserID)
}

func (d *fakeDirectory) disconnect(userID snowflake.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.removeLocked(userID)
}

func (d *fakeDirectory) removeLocked(userID snowflake.ID) {
	for channelID, users := range d.channels {
		kept := users[:0]
		for _, id := range users {
			if id != userID {
				kept = append(kept, id)
			}
		}
		d.channels[channelID] = kept
	}
}

func (d *fakeDirectory) moveSelf(channelID *snowflake.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.self = channelID
}

// leaveSelf clears the bot's channel only if it is still channelID.
func (d *fakeDirectory) leaveSelf(channelID snowflake.ID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.self != nil && *d.self == channelID {
		d.self = nil
	}
}

func (d *fakeDirectory) SelfChannel(snowflake.ID) (snowflake.ID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.self == nil {
		return 0, false
	}
	return *d.self, true
}

func (d *fakeDirectory) Member(_, userID snowflake.ID) (Member, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	m, found := d.members[userID]
	return m, found
}

func (d *fakeDirectory) ChannelMembers(_, channelID snowflake.ID) []Member {
	d.mu.Lock()
	defer d.mu.Unlock()

	members := make([]Member, 0, len(d.channels[channelID]))
	for _, id := range d.channels[channelID] {
		members = append(members, d.members[id])
	}

	return members
}

func (d *fakeDirectory) VoiceChannels(snowflake.ID) []snowflake.ID {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]snowflake.ID(nil), d.order...)
}

func (d *fakeDirectory) AFKChannel(snowflake.ID) (snowflake.ID, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.afk == nil {
		return 0, false
	}
	return *d.afk, true
}

type fakeSink struct {
	path    string
	journal *journal

	mu        sync.Mutex
	samples   [][]int16
	finalized int
	// block, when set, keeps Finalize waiting until ctx ends.
	block bool
}

func (s *fakeSink) Write(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized > 0 {
		return transcoder.ErrSinkFinalized
	}
	s.samples = append(s.samples, samples)

	return nil
}

func (s *fakeSink) Finalize(ctx context.Context) (transcoder.ExitReport, error) {
	s.mu.Lock()
	s.finalized++
	first := s.finalized == 1
	block := s.block
	s.mu.Unlock()

	if !first {
		return transcoder.ExitReport{}, transcoder.ErrSinkFinalized
	}

	if block {
		<-ctx.Done()
		s.journal.add("finalize:%s", s.path)
		return transcoder.ExitReport{Killed: true}, transcoder.ErrFinalizeTimeout
	}

	s.journal.add("finalize:%s", s.path)

	return transcoder.ExitReport{}, nil
}

func (s *fakeSink) writes() [][]int16 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([][]int16(nil), s.samples...)
}

func (s *fakeSink) finalizeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.finalized
}

type fakeSinks struct {
	journal *journal

	mu    sync.Mutex
	sinks []*fakeSink
	fail  bool
	block bool
}

func (f *fakeSinks) factory(_ context.Context, path string) (Sink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail {
		return nil, errors.New("spawn failed")
	}

	sink := &fakeSink{path: path, journal: f.journal, block: f.block}
	f.sinks = append(f.sinks, sink)
	f.journal.add("spawn:%s", path)

	return sink, nil
}

func (f *fakeSinks) all() []*fakeSink {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]*fakeSink(nil), f.sinks...)
}

type fakeConn struct {
	channelID snowflake.ID
	journal   *journal
	directory *fakeDirectory
}

func (c *fakeConn) Close(context.Context) error {
	c.journal.add("close:%d", c.channelID)
	if c.directory != nil {
		c.directory.leaveSelf(c.channelID)
	}
	return nil
}

type fakeConnector struct {
	journal *journal
	// directory, when set, follows the bot's own joins and leaves.
	directory *fakeDirectory

	mu       sync.Mutex
	handlers map[snowflake.ID]AudioHandler
	conns    []*fakeConn
	fail     error
}

func (c *fakeConnector) Join(_ context.Context, _, channelID snowflake.ID, handler AudioHandler) (Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.fail != nil {
		return nil, c.fail
	}

	if c.handlers == nil {
		c.handlers = make(map[snowflake.ID]AudioHandler)
	}
	c.handlers[channelID] = handler

	conn := &fakeConn{channelID: channelID, journal: c.journal, directory: c.directory}
	c.conns = append(c.conns, conn)
	c.journal.add("join:%d", channelID)

	if c.directory != nil {
		c.directory.moveSelf(&channelID)
	}

	return conn, nil
}

func (c *fakeConnector) handler(channelID snowflake.ID) AudioHandler {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.handlers[channelID]
}

func newMetadataStore(t *testing.T) *metadata.BadgerStore {
	t.Helper()

	store, err := metadata.NewBadgerStore(metadata.BadgerOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func testOptions(t *testing.T) Options {
	t.Helper()

	opts := DefaultOptions()
	opts.BaseDir = t.TempDir()
	opts.SinkFinalizeTimeout = time.Second
	opts.ShutdownTimeout = 5 * time.Second

	return opts
}

func nopLogger() logger.Logger {
	return logger.NewNop()
}

func fixedClock(at time.Time) func() time.Time {
	var (
		mu  sync.Mutex
		now = at
	)

	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()

		now = now.Add(time.Second)
		return now
	}
}
