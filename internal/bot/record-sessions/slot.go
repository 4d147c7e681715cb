package recordsessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/kvizyx/speakerlog/internal/storage/metadata"
	"github.com/kvizyx/speakerlog/internal/transcoder"
	"github.com/kvizyx/speakerlog/pkg/logger"
)

var (
	ErrSlotClosed    = errors.New("slot already closed")
	ErrSlotAbandoned = errors.New("slot was abandoned before its sink started")
	ErrSlotUnsettled = errors.New("slot sink was still starting")
)

type slotState int

const (
	slotPending slotState = iota
	slotActive
	slotAbandoned
	slotClosed
)

// Slot is the exclusive recording of one speaker inside a session.
//
// The descriptive fields are filled by the session before the slot settles and
// must only be read after that (Close waits for it).
type Slot struct {
	UserID    snowflake.ID
	SSRC      uint32
	Username  string
	StartedAt time.Time
	FileName  string
	Path      string
	Enter     metadata.EnterState

	recorded bool // metadata row exists

	mu      sync.Mutex
	state   slotState
	closing bool
	sink    Sink
	queue   chan []int16

	ready      chan struct{}
	writerDone chan struct{}

	logger   logger.Logger
	failures *logCap
	dropped  *logCap
}

func newSlot(userID snowflake.ID, ssrc uint32, queueDepth, logEvery int, log logger.Logger) *Slot {
	return &Slot{
		UserID:     userID,
		SSRC:       ssrc,
		queue:      make(chan []int16, queueDepth),
		ready:      make(chan struct{}),
		writerDone: make(chan struct{}),
		logger:     log,
		failures:   newLogCap(logEvery),
		dropped:    newLogCap(logEvery),
	}
}

// Enqueue hands samples to the slot writer without blocking. Samples queued while
// the sink is still starting are written once it is up.
func (s *Slot) Enqueue(samples []int16) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closing || (s.state != slotPending && s.state != slotActive) {
		return false
	}

	select {
	case s.queue <- samples:
		return true
	default:
		if n, ok := s.dropped.Allow(); ok {
			s.logger.Warn(
				"speaker queue is full, dropping audio",
				slog.Any("user_id", s.UserID),
				slog.Int64("dropped_total", n),
			)
		}
		return false
	}
}

// activate attaches the sink and starts the writer. It reports false when the
// slot was closed while the sink was starting; the caller then owns the sink.
func (s *Slot) activate(sink Sink) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != slotPending {
		return false
	}

	s.sink = sink
	s.state = slotActive
	go s.writer()
	close(s.ready)

	return true
}

// abandon marks a slot whose sink could not be started.
func (s *Slot) abandon() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != slotPending {
		return
	}

	s.state = slotAbandoned
	close(s.ready)
}

func (s *Slot) writer() {
	defer close(s.writerDone)

	for samples := range s.queue {
		if err := s.sink.Write(samples); err != nil {
			if n, ok := s.failures.Allow(); ok {
				s.logger.Warn(
					"failed to write speaker audio",
					slog.Any("user_id", s.UserID),
					slog.Int64("failures_total", n),
					slog.Any("error", err),
				)
			}
		}
	}
}

// Close stops the writer and finalizes the sink, both bounded by ctx.
// Only the first call does anything.
func (s *Slot) Close(ctx context.Context) (transcoder.ExitReport, error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return transcoder.ExitReport{}, ErrSlotClosed
	}
	s.closing = true
	s.mu.Unlock()

	select {
	case <-s.ready:
	case <-ctx.Done():
		s.mu.Lock()
		settled := s.state != slotPending
		if !settled {
			s.state = slotClosed
		}
		s.mu.Unlock()

		if !settled {
			return transcoder.ExitReport{}, fmt.Errorf("%w: %w", ErrSlotUnsettled, ctx.Err())
		}
	}

	s.mu.Lock()
	state := s.state
	if state == slotActive {
		close(s.queue)
	}
	s.state = slotClosed
	s.mu.Unlock()

	if state == slotAbandoned {
		return transcoder.ExitReport{}, ErrSlotAbandoned
	}

	select {
	case <-s.writerDone:
	case <-ctx.Done():
		// Finalize below kills the process, which unblocks the writer.
	}

	report, err := s.sink.Finalize(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to finalize sink: %w", err)
	}

	return report, nil
}

// logCap lets the first few occurrences through, then every nth.
type logCap struct {
	every int64
	n     atomic.Int64
}

const logCapFirst = 3

func newLogCap(every int) *logCap {
	if every <= 0 {
		every = 100
	}

	return &logCap{every: int64(every)}
}

func (c *logCap) Allow() (int64, bool) {
	n := c.n.Add(1)
	return n, n <= logCapFirst || n%c.every == 0
}

func (c *logCap) Count() int64 {
	return c.n.Load()
}
