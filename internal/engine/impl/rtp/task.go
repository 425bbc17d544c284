// Package rtp implements the reassembly task: every RTP record of an accepted payload
// type is fed to its stream's reorder window, and frames, per-second statistics and
// stream summaries are emitted as report rows.
package rtp

import (
	"errors"
	"fmt"

	"ZoomSpectra/internal/config"
	"ZoomSpectra/internal/engine/protocol"
	"ZoomSpectra/internal/engine/rtpstream"
	"ZoomSpectra/internal/engine/statistic"
	"ZoomSpectra/internal/factory"
	"ZoomSpectra/internal/model"

	log "github.com/sirupsen/logrus"
)

// --- Factory Registration ---

func init() {
	factory.RegisterTask("rtp", func(cfg *config.Config, out model.Writer) (model.Task, error) {
		return New(cfg.RTP, out)
	})
}

// --- Task Implementation ---

// DefaultPayloadTypes are the RTP payload types carrying Zoom media and FEC.
var DefaultPayloadTypes = []uint8{98, 99, 110, 112, 113}

type streamState struct {
	stream *rtpstream.Stream
	failed bool
}

// Task owns one reassembly stream per stream key. It implements the model.Task interface.
type Task struct {
	opts         rtpstream.Options
	payloadTypes map[uint8]bool
	out          model.Writer

	streams map[rtpstream.StreamKey]*streamState
	order   []*streamState
	tracker *streamTracker

	processed uint64
	failed    int
	writeErr  error
}

// New creates a reassembly task writing its rows to out.
func New(cfg config.RTPConfig, out model.Writer) (*Task, error) {
	pts := cfg.PayloadTypes
	if len(pts) == 0 {
		pts = DefaultPayloadTypes
	}
	t := &Task{
		opts: rtpstream.Options{
			WindowSize:        cfg.WindowSize,
			FrameRateCapacity: cfg.FrameRateCapacity,
		},
		payloadTypes: make(map[uint8]bool, len(pts)),
		out:          out,
		streams:      make(map[rtpstream.StreamKey]*streamState),
		tracker:      newStreamTracker(),
	}
	for _, pt := range pts {
		t.payloadTypes[pt] = true
	}
	if _, err := rtpstream.New(rtpstream.StreamKey{}, t.opts, nil, nil); err != nil {
		return nil, fmt.Errorf("failed to configure rtp task: %w", err)
	}
	log.Printf("Creating RTP task with window %d and payload types %v", cfg.WindowSize, pts)
	return t, nil
}

// Name returns the name of the task.
func (t *Task) Name() string {
	return "rtp"
}

// Accepts reports whether rec is an RTP record of an accepted payload type.
func (t *Task) Accepts(rec *protocol.Record) bool {
	return rec.IsRTP() && t.payloadTypes[rec.RTP.PayloadType]
}

// ProcessRecord feeds one record to its stream. Records that are not accepted are
// ignored. A stream whose frame rate overflows is marked failed and skipped from then on.
func (t *Task) ProcessRecord(rec *protocol.Record) error {
	if !t.Accepts(rec) {
		return nil
	}
	t.processed++
	t.tracker.track(rec)

	state, err := t.state(rtpstream.KeyFromRecord(rec))
	if err != nil {
		return err
	}
	if err := t.write(model.PacketLog{Record: *rec, Dropped: state.failed}); err != nil {
		return err
	}
	if state.failed {
		return nil
	}

	meta := rtpstream.PacketMeta{
		MediaType:   rec.MediaType,
		PayloadType: rec.RTP.PayloadType,
		PktsInFrame: rec.PktsInFrame,
		Ext1:        rec.Ext1,
	}
	err = state.stream.Add(rec.RTP.Sequence, rec.RTP.Timestamp, rec.TS, uint32(rec.UDPPayloadLen), meta)
	if err := t.check(state, err); err != nil {
		return err
	}
	return t.writeErr
}

func (t *Task) state(key rtpstream.StreamKey) (*streamState, error) {
	if s, ok := t.streams[key]; ok {
		return s, nil
	}
	stream, err := rtpstream.New(key, t.opts, t.onFrame, t.onStats)
	if err != nil {
		return nil, fmt.Errorf("failed to create stream %s: %w", key, err)
	}
	s := &streamState{stream: stream}
	t.streams[key] = s
	t.order = append(t.order, s)
	return s, nil
}

// check turns a frame-rate overflow into a failed stream and passes other errors on.
func (t *Task) check(s *streamState, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, statistic.ErrTooManyFramesPerWindow):
		s.failed = true
		t.failed++
		log.WithFields(log.Fields{
			"stream": s.stream.Key().String(),
			"error":  err,
		}).Warn("Dropping stream")
		return nil
	}
	return fmt.Errorf("stream %s: %w", s.stream.Key(), err)
}

func (t *Task) write(row interface{}) error {
	if t.writeErr != nil {
		return t.writeErr
	}
	if err := t.out.Write(row); err != nil {
		t.writeErr = fmt.Errorf("failed to write report row: %w", err)
	}
	return t.writeErr
}

func (t *Task) onFrame(s *rtpstream.Stream, f *rtpstream.Frame) {
	key := s.Key()
	meta := f.Meta()
	t.write(model.FrameLog{
		Tuple:        key.Tuple,
		SSRC:         key.SSRC,
		MediaType:    meta.MediaType,
		Ext1:         meta.Ext1,
		MinArrival:   f.MinArrival,
		MaxArrival:   f.MaxArrival,
		RTPTimestamp: f.RTPTimestamp,
		PacketsSeen:  len(f.Packets),
		PacketsHint:  meta.PktsInFrame,
		Size:         f.Size,
		FrameRate:    f.FrameRate,
		Jitter:       f.Jitter,
	})
}

func (t *Task) onStats(s *rtpstream.Stream, reportCount, second uint32, st rtpstream.Stats) {
	key := s.Key()
	t.write(model.StreamStats{
		Second:        second,
		ReportCount:   reportCount,
		Tuple:         key.Tuple,
		MediaType:     s.MediaTag(),
		Kind:          key.Kind.String(),
		SSRC:          key.SSRC,
		Packets:       st.Packets,
		Bytes:         st.Bytes,
		Lost:          st.Lost,
		Duplicates:    st.Duplicates,
		OutOfOrder:    st.OutOfOrder,
		Frames:        st.Frames,
		MeanFrameSize: st.MeanFrameSize(),
		MeanJitter:    st.MeanJitter(),
	})
}

// Finish flushes every stream and writes the sub-flow and quality summaries.
func (t *Task) Finish() error {
	// 1. Drain the reorder windows.
	for _, s := range t.order {
		if s.failed {
			continue
		}
		if err := t.check(s, s.stream.Flush()); err != nil {
			return err
		}
	}
	if t.writeErr != nil {
		return t.writeErr
	}

	// 2. Sub-flows of every tracked stream.
	for _, row := range t.tracker.rows() {
		if err := t.write(row); err != nil {
			return err
		}
	}

	// 3. One quality row per stream, in creation order.
	for _, s := range t.order {
		if err := t.write(quality(s)); err != nil {
			return err
		}
	}

	log.Printf("RTP task processed %d records in %d streams (%d failed)", t.processed, len(t.order), t.failed)
	return nil
}

func quality(s *streamState) model.StreamQuality {
	key := s.stream.Key()
	st := s.stream.Stats()
	return model.StreamQuality{
		Tuple:         key.Tuple,
		SSRC:          key.SSRC,
		Media:         key.Media.String(),
		Kind:          key.Kind.String(),
		Packets:       st.Packets,
		Bytes:         st.Bytes,
		Lost:          st.Lost,
		Duplicates:    st.Duplicates,
		OutOfOrder:    st.OutOfOrder,
		Frames:        st.Frames,
		MeanFrameSize: st.MeanFrameSize(),
		MeanJitter:    st.MeanJitter(),
		JitterP50:     s.stream.JitterQuantile(0.50),
		JitterP95:     s.stream.JitterQuantile(0.95),
		JitterP99:     s.stream.JitterQuantile(0.99),
		Failed:        s.failed,
	}
}

// Streams returns the number of streams seen.
func (t *Task) Streams() int { return len(t.order) }

// Failed returns the number of streams dropped after a frame-rate overflow.
func (t *Task) Failed() int { return t.failed }
