package recordsessions

import (
	"errors"
	"sync"

	"github.com/disgoorg/snowflake/v2"
	"github.com/kvizyx/speakerlog/pkg/logger"
)

var (
	ErrAlreadyRegistered = errors.New("speaker already registered")
	ErrRegistryClosed    = errors.New("registry closed")
)

// Registry indexes the live slots of a session by SSRC and by user.
// Both indexes change together under one lock.
type Registry struct {
	mu     sync.Mutex
	bySSRC map[uint32]*Slot
	byUser map[snowflake.ID]uint32
	closed bool

	queueDepth int
	logEvery   int
	logger     logger.Logger
}

func NewRegistry(queueDepth, logEvery int, log logger.Logger) *Registry {
	if queueDepth <= 0 {
		queueDepth = 64
	}

	return &Registry{
		bySSRC:     make(map[uint32]*Slot),
		byUser:     make(map[snowflake.ID]uint32),
		queueDepth: queueDepth,
		logEvery:   logEvery,
		logger:     log,
	}
}

// Register creates a pending slot for the speaker and returns it with the
// number of slots after insertion. A live mapping is never overwritten.
func (r *Registry) Register(userID snowflake.ID, ssrc uint32) (*Slot, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, 0, ErrRegistryClosed
	}

	if _, found := r.bySSRC[ssrc]; found {
		return nil, len(r.bySSRC), ErrAlreadyRegistered
	}

	if _, found := r.byUser[userID]; found {
		return nil, len(r.bySSRC), ErrAlreadyRegistered
	}

	slot := newSlot(userID, ssrc, r.queueDepth, r.logEvery, r.logger)

	r.bySSRC[ssrc] = slot
	r.byUser[userID] = ssrc

	return slot, len(r.bySSRC), nil
}

func (r *Registry) LookupBySSRC(ssrc uint32) (*Slot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	slot, found := r.bySSRC[ssrc]
	return slot, found
}

func (r *Registry) LookupByUser(userID snowflake.ID) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ssrc, found := r.byUser[userID]
	return ssrc, found
}

// RemoveByUser unmaps the user's slot and returns it with the remaining count.
func (r *Registry) RemoveByUser(userID snowflake.ID) (*Slot, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ssrc, found := r.byUser[userID]
	if !found {
		return nil, len(r.bySSRC), false
	}

	slot := r.bySSRC[ssrc]

	delete(r.byUser, userID)
	delete(r.bySSRC, ssrc)

	return slot, len(r.bySSRC), true
}

// Discard removes exactly this slot if it is still mapped.
func (r *Registry) Discard(slot *Slot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, found := r.bySSRC[slot.SSRC]; !found || current != slot {
		return false
	}

	delete(r.bySSRC, slot.SSRC)
	delete(r.byUser, slot.UserID)

	return true
}

func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.bySSRC)
}

// Close stops admitting speakers and hands every remaining slot to the caller.
func (r *Registry) Close() []*Slot {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	slots := make([]*Slot, 0, len(r.bySSRC))
	for _, slot := range r.bySSRC {
		slots = append(slots, slot)
	}

	clear(r.bySSRC)
	clear(r.byUser)

	return slots
}
