package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"
	recordsessions "github.com/kvizyx/speakerlog/internal/bot/record-sessions"
	"github.com/kvizyx/speakerlog/pkg/logger"
	"github.com/pion/rtp"
)

// VoiceConnector opens receive-only voice connections through the disgo voice manager.
type VoiceConnector struct {
	manager      voice.Manager
	logger       logger.Logger
	decoder      string
	channels     int
	tickInterval time.Duration
}

type VoiceConnectorParams struct {
	Manager      voice.Manager
	Logger       logger.Logger
	Decoder      string
	Channels     int
	TickInterval time.Duration
}

func NewVoiceConnector(p VoiceConnectorParams) *VoiceConnector {
	return &VoiceConnector{
		manager:      p.Manager,
		logger:       p.Logger,
		decoder:      p.Decoder,
		channels:     p.Channels,
		tickInterval: p.TickInterval,
	}
}

func (c *VoiceConnector) Join(
	ctx context.Context,
	guildID, channelID snowflake.ID,
	handler recordsessions.AudioHandler,
) (recordsessions.Connection, error) {
	// Fail on a bad decoder setting before touching the gateway.
	if _, err := newFrameDecoder(c.decoder, c.channels); err != nil {
		return nil, err
	}

	connCtx, cancel := context.WithCancel(context.Background())

	rc := &receiverConn{
		manager:   c.manager,
		guildID:   guildID,
		handler:   handler,
		logger:    c.logger.With(slog.Any("guild_id", guildID), slog.Any("channel_id", channelID)),
		ctx:       connCtx,
		cancel:    cancel,
		decoder:   c.decoder,
		channels:  c.channels,
		decoders:  make(map[uint32]frameDecoder),
		userSSRC:  make(map[snowflake.ID]uint32),
		sequencer: newSequencer(),
		ticks:     newTickBuffer(),
	}
	rc.control = newControlQueue(handler, controlQueueSize)

	rc.conn = c.manager.CreateConn(guildID)
	rc.conn.SetEventHandlerFunc(rc.handleGatewayEvent)

	// Muted and not deafened: the bot only listens.
	if err := rc.conn.Open(ctx, channelID, true, false); err != nil {
		cancel()
		rc.conn.Close(context.WithoutCancel(ctx))
		c.manager.RemoveConn(guildID)

		return nil, fmt.Errorf("failed to connect to voice channel: %w", err)
	}

	rc.loops.Add(3)
	go rc.readLoop()
	go rc.tickLoop(c.tickInterval)
	go func() {
		defer rc.loops.Done()
		rc.control.Run(rc.ctx)
	}()

	return rc, nil
}

// receiverConn is one guild's voice connection feeding a recording session.
type receiverConn struct {
	manager voice.Manager
	conn    voice.Conn
	guildID snowflake.ID
	handler recordsessions.AudioHandler
	logger  logger.Logger

	ctx    context.Context
	cancel context.CancelFunc
	loops  sync.WaitGroup

	decoder  string
	channels int

	mu        sync.Mutex
	decoders  map[uint32]frameDecoder
	userSSRC  map[snowflake.ID]uint32
	sequencer *sequencer

	ticks   *tickBuffer
	control *controlQueue
}

func (rc *receiverConn) Close(ctx context.Context) error {
	rc.cancel()

	rc.conn.Close(ctx)
	rc.manager.RemoveConn(rc.guildID)

	rc.loops.Wait()

	return nil
}

func (rc *receiverConn) handleGatewayEvent(opcode voice.Opcode, data voice.GatewayMessageData) {
	switch opcode {
	case voice.OpcodeSpeaking:
		speaking, ok := data.(voice.GatewayMessageDataSpeaking)
		if !ok {
			return
		}

		rc.mu.Lock()
		rc.userSSRC[speaking.UserID] = speaking.SSRC
		rc.mu.Unlock()

		rc.control.Push(rc.ctx, recordsessions.EventSpeakingState{
			UserID:   speaking.UserID,
			SSRC:     speaking.SSRC,
			Speaking: speaking.Speaking != 0,
		})

	case voice.OpcodeClientDisconnect:
		disconnect, ok := data.(voice.GatewayMessageDataClientDisconnect)
		if !ok {
			return
		}

		rc.mu.Lock()
		if ssrc, found := rc.userSSRC[disconnect.UserID]; found {
			delete(rc.userSSRC, disconnect.UserID)
			delete(rc.decoders, ssrc)
			rc.sequencer.Forget(ssrc)
		}
		rc.mu.Unlock()

		rc.control.Push(rc.ctx, recordsessions.EventClientDisconnected{
			UserID: disconnect.UserID,
		})

	case voice.OpcodeReady:
		rc.control.Push(rc.ctx, recordsessions.EventConnectionNotice{
			Kind: recordsessions.NoticeConnected,
		})

	case voice.OpcodeResumed:
		rc.control.Push(rc.ctx, recordsessions.EventConnectionNotice{
			Kind: recordsessions.NoticeReconnecting,
		})
	}
}

func (rc *receiverConn) readLoop() {
	defer rc.loops.Done()

	for {
		if rc.ctx.Err() != nil {
			return
		}

		packet, err := rc.conn.UDP().ReadPacket()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				if rc.ctx.Err() == nil {
					rc.handler.HandleAudio(rc.ctx, recordsessions.EventConnectionNotice{
						Kind: recordsessions.NoticeDisconnected,
						Err:  err,
					})
				}
				return
			}

			rc.logger.Debug("failed to read udp packet", slog.Any("error", err))
			continue
		}

		rc.receive(makeRTPPacket(packet))
	}
}

func (rc *receiverConn) receive(packet *rtp.Packet) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if !rc.sequencer.Accept(packet) {
		return
	}

	decoder, found := rc.decoders[packet.SSRC]
	if !found {
		var err error
		if decoder, err = newFrameDecoder(rc.decoder, rc.channels); err != nil {
			rc.logger.Error("failed to create decoder", slog.Any("error", err))
			return
		}
		rc.decoders[packet.SSRC] = decoder
	}

	pcm, err := decoder.Decode(packet.Payload)
	if err != nil {
		rc.logger.Debug("failed to decode voice packet", slog.Any("ssrc", packet.SSRC), slog.Any("error", err))
		pcm = nil
	}

	rc.ticks.Add(packet.SSRC, pcm)
}

func (rc *receiverConn) tickLoop(interval time.Duration) {
	defer rc.loops.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if entries := rc.ticks.Flush(); len(entries) > 0 {
				rc.handler.HandleAudio(rc.ctx, recordsessions.EventAudioTick{Entries: entries})
			}

		case <-rc.ctx.Done():
			return
		}
	}
}

func makeRTPPacket(packet *voice.Packet) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			// these values were taken from Discord API documentation
			Version:     2,
			PayloadType: 0x78,

			SequenceNumber: packet.Sequence,
			Timestamp:      packet.Timestamp,
			SSRC:           packet.SSRC,
		},
		Payload: packet.Opus,
	}
}
