// Package meetings implements the grouping task: media records are folded into
// deduplicated streams, and at the end of the run the surviving streams are grouped
// into meetings.
package meetings

import (
	"fmt"

	"ZoomSpectra/internal/config"
	core "ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/engine/dedup"
	"ZoomSpectra/internal/engine/meeting"
	"ZoomSpectra/internal/engine/protocol"
	"ZoomSpectra/internal/factory"
	"ZoomSpectra/internal/model"

	log "github.com/sirupsen/logrus"
)

func init() {
	factory.RegisterTask("meetings", func(cfg *config.Config, out model.Writer) (model.Task, error) {
		nets, err := core.NewServerNets(cfg.Zoom.ServerNets)
		if err != nil {
			return nil, fmt.Errorf("failed to load server networks: %w", err)
		}
		timeout, err := cfg.ExpirationSeconds()
		if err != nil {
			return nil, err
		}
		return New(cfg.Meetings, nets, timeout, out), nil
	})
}

// Task implements the model.Task interface.
type Task struct {
	dedup      *dedup.Deduplicator
	nets       meeting.NetMatcher
	timeout    uint32
	minPackets uint64
	out        model.Writer

	total    uint64
	media    uint64
	meetings []meeting.Meeting
}

// New creates a meetings task. Zero settings select the package defaults.
func New(cfg config.MeetingsConfig, nets meeting.NetMatcher, timeout uint32, out model.Writer) *Task {
	minPackets := cfg.MinStreamPackets
	if minPackets == 0 {
		minPackets = dedup.DefaultMinPackets
	}
	return &Task{
		dedup:      dedup.New(cfg.DedupBuffer, cfg.PayloadTypes),
		nets:       nets,
		timeout:    timeout,
		minPackets: minPackets,
		out:        out,
	}
}

// Name returns the name of the task.
func (t *Task) Name() string {
	return "meetings"
}

// ProcessRecord adds media records to their streams and ignores everything else.
func (t *Task) ProcessRecord(rec *protocol.Record) error {
	t.total++
	if t.dedup.Add(rec) != nil {
		t.media++
	}
	return nil
}

// Finish prunes short streams, writes the unique streams and groups them into meetings.
func (t *Task) Finish() error {
	// 1. Drop streams too short to matter.
	pruned := t.dedup.Prune(t.minPackets)

	// 2. Unique streams in key order.
	streams := t.dedup.Streams()
	for _, s := range streams {
		if err := t.out.Write(uniqueStream(s)); err != nil {
			return fmt.Errorf("failed to write unique stream: %w", err)
		}
	}

	// 3. Group in start order.
	meetings, err := meeting.GroupStreams(t.nets, t.timeout, t.dedup.Sorted())
	if err != nil {
		return fmt.Errorf("failed to group streams: %w", err)
	}
	for _, m := range meetings {
		for _, s := range m.Streams {
			row := model.MeetingStream{MeetingID: m.ID, UniqueStream: uniqueStream(s)}
			if err := t.out.Write(row); err != nil {
				return fmt.Errorf("failed to write meeting stream: %w", err)
			}
		}
	}
	t.meetings = meetings

	log.WithFields(log.Fields{
		"total_pkts":     t.total,
		"media_pkts":     t.media,
		"pruned_streams": pruned,
		"streams":        len(streams),
		"meetings":       len(meetings),
	}).Info("Meetings task finished")
	return nil
}

// Meetings returns the meetings found by Finish.
func (t *Task) Meetings() []meeting.Meeting { return t.meetings }

func uniqueStream(s *dedup.Stream) model.UniqueStream {
	return model.UniqueStream{
		StreamID: s.ID,
		P2P:      s.Key.P2P,
		StartSec: s.StartSec,
		EndSec:   s.EndSec,
		Tuple:    s.Key.Tuple,
		ZoomType: s.Key.MediaTag,
		SSRC:     s.Key.SSRC,
		StartRTP: s.StartRTP,
		EndRTP:   s.LastRTP,
		Packets:  s.Packets,
		Bytes:    s.Bytes,
		Audio112: s.Audio112,
		Audio99:  s.Audio99,
		Audio113: s.Audio113,
	}
}
