package bot

import (
	"sync"

	recordsessions "github.com/kvizyx/speakerlog/internal/bot/record-sessions"
	"github.com/pion/rtp"
)

// sequencer drops duplicated and late RTP packets per SSRC.
type sequencer struct {
	last map[uint32]uint16
}

func newSequencer() *sequencer {
	return &sequencer{last: make(map[uint32]uint16)}
}

func (s *sequencer) Accept(packet *rtp.Packet) bool {
	ssrc := packet.SSRC
	seq := packet.SequenceNumber

	last, seen := s.last[ssrc]
	// Signed distance handles the uint16 wrap around.
	if seen && int16(seq-last) <= 0 {
		return false
	}

	s.last[ssrc] = seq

	return true
}

func (s *sequencer) Forget(ssrc uint32) {
	delete(s.last, ssrc)
}

// tickBuffer collects decoded audio per SSRC between two ticks, in arrival order.
type tickBuffer struct {
	mu      sync.Mutex
	order   []uint32
	samples map[uint32][]int16
}

func newTickBuffer() *tickBuffer {
	return &tickBuffer{samples: make(map[uint32][]int16)}
}

// Add appends pcm for ssrc. Nil pcm marks the SSRC present without audio.
func (b *tickBuffer) Add(ssrc uint32, pcm []int16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, found := b.samples[ssrc]
	if !found {
		b.order = append(b.order, ssrc)
	}

	if pcm == nil {
		b.samples[ssrc] = current
		return
	}

	b.samples[ssrc] = append(current, pcm...)
}

func (b *tickBuffer) Flush() []recordsessions.TickEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.order) == 0 {
		return nil
	}

	entries := make([]recordsessions.TickEntry, 0, len(b.order))
	for _, ssrc := range b.order {
		entries = append(entries, recordsessions.TickEntry{
			SSRC:    ssrc,
			Samples: b.samples[ssrc],
		})
	}

	b.order = b.order[:0]
	clear(b.samples)

	return entries
}
