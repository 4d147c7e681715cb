package recordsessions

import (
	"log/slog"

	"github.com/kvizyx/speakerlog/pkg/logger"
)

type DemuxStats struct {
	Written int
	Unknown int
	Silent  int
	Failed  int
}

// Demuxer routes each SSRC's samples of a tick to the owning slot. It never
// creates slots.
type Demuxer struct {
	registry *Registry
	logger   logger.Logger
	unknown  *logCap
}

func NewDemuxer(registry *Registry, log logger.Logger, logEvery int) *Demuxer {
	return &Demuxer{
		registry: registry,
		logger:   log,
		unknown:  newLogCap(logEvery),
	}
}

func (d *Demuxer) Dispatch(tick EventAudioTick) DemuxStats {
	var stats DemuxStats

	for _, entry := range tick.Entries {
		slot, found := d.registry.LookupBySSRC(entry.SSRC)
		if !found {
			stats.Unknown++

			if n, ok := d.unknown.Allow(); ok {
				d.logger.Debug(
					"audio for unknown ssrc",
					slog.Any("ssrc", entry.SSRC),
					slog.Int64("unknown_total", n),
				)
			}
			continue
		}

		if entry.Samples == nil {
			stats.Silent++
			continue
		}

		if !slot.Enqueue(entry.Samples) {
			stats.Failed++
			continue
		}

		stats.Written++
	}

	return stats
}
