package bot

import (
	"encoding/binary"
	"fmt"

	"github.com/kvizyx/speakerlog/internal/config"
	pionopus "github.com/pion/opus"
	"gopkg.in/hraban/opus.v2"
)

const (
	discordSampleRate = 48000
	// 20ms at 48kHz, the frame size Discord sends.
	frameSamples = 960
	// Largest Opus frame (120ms) per channel.
	maxFrameSamples = 5760
)

// frameDecoder turns one Opus frame into interleaved PCM with the configured
// channel count.
type frameDecoder interface {
	Decode(frame []byte) ([]int16, error)
}

func newFrameDecoder(backend string, channels int) (frameDecoder, error) {
	switch backend {
	case config.DecoderLibopus:
		dec, err := opus.NewDecoder(discordSampleRate, channels)
		if err != nil {
			return nil, fmt.Errorf("failed to create opus decoder: %w", err)
		}

		return &libopusDecoder{
			decoder:  dec,
			channels: channels,
			pcm:      make([]int16, maxFrameSamples*channels),
		}, nil

	case config.DecoderPion:
		return &pionDecoder{
			decoder:  pionopus.NewDecoder(),
			channels: channels,
			out:      make([]byte, frameSamples*2),
		}, nil

	default:
		return nil, fmt.Errorf("unknown decoder %q", backend)
	}
}

type libopusDecoder struct {
	decoder  *opus.Decoder
	channels int
	pcm      []int16
}

func (d *libopusDecoder) Decode(frame []byte) ([]int16, error) {
	n, err := d.decoder.Decode(frame, d.pcm)
	if err != nil {
		return nil, fmt.Errorf("failed to decode opus frame: %w", err)
	}

	return append([]int16(nil), d.pcm[:n*d.channels]...), nil
}

// pionDecoder is pure Go and handles SILK frames only; it always yields 20ms of
// 48kHz mono, widened to stereo when needed.
type pionDecoder struct {
	decoder  pionopus.Decoder
	channels int
	out      []byte
}

func (d *pionDecoder) Decode(frame []byte) ([]int16, error) {
	if _, _, err := d.decoder.Decode(frame, d.out); err != nil {
		return nil, fmt.Errorf("failed to decode opus frame: %w", err)
	}

	mono := len(d.out) / 2
	pcm := make([]int16, 0, mono*d.channels)

	for i := range mono {
		sample := int16(binary.LittleEndian.Uint16(d.out[i*2:]))
		for range d.channels {
			pcm = append(pcm, sample)
		}
	}

	return pcm, nil
}
