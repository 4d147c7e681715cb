package bot

import (
	"testing"

	"github.com/disgoorg/disgo/voice"
	recordsessions "github.com/kvizyx/speakerlog/internal/bot/record-sessions"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
)

func rtpPacket(ssrc uint32, seq uint16) *rtp.Packet {
	return &rtp.Packet{Header: rtp.Header{SSRC: ssrc, SequenceNumber: seq}}
}

func TestSequencerDropsDuplicatesAndLate(t *testing.T) {
	s := newSequencer()

	assert.True(t, s.Accept(rtpPacket(1, 10)))
	assert.False(t, s.Accept(rtpPacket(1, 10)))
	assert.False(t, s.Accept(rtpPacket(1, 9)))
	assert.True(t, s.Accept(rtpPacket(1, 12)))

	// Independent per SSRC.
	assert.True(t, s.Accept(rtpPacket(2, 3)))

	// Wrap around.
	assert.True(t, s.Accept(rtpPacket(3, 65535)))
	assert.True(t, s.Accept(rtpPacket(3, 0)))

	s.Forget(1)
	assert.True(t, s.Accept(rtpPacket(1, 1)))
}

func TestTickBufferFlush(t *testing.T) {
	b := newTickBuffer()

	assert.Nil(t, b.Flush())

	b.Add(7, []int16{1, 2})
	b.Add(3, nil)
	b.Add(7, []int16{3})

	assert.Equal(t, []recordsessions.TickEntry{
		{SSRC: 7, Samples: []int16{1, 2, 3}},
		{SSRC: 3, Samples: nil},
	}, b.Flush())

	assert.Nil(t, b.Flush())
}

func TestMakeRTPPacket(t *testing.T) {
	p := makeRTPPacket(&voice.Packet{SSRC: 42, Sequence: 7, Timestamp: 960, Opus: []byte{0xf8}})
	assert.EqualValues(t, 2, p.Version)
	assert.EqualValues(t, 42, p.SSRC)
	assert.EqualValues(t, 7, p.SequenceNumber)
	assert.Equal(t, []byte{0xf8}, p.Payload)
}

func TestNewFrameDecoderUnknownBackend(t *testing.T) {
	_, err := newFrameDecoder("mp3", 2)
	assert.Error(t, err)
}
