// Package rtpstream reassembles RTP packets of one stream into frames over a fixed-size
// reordering window, and keeps loss, reordering, duplicate and frame statistics.
package rtpstream

import (
	"errors"
	"fmt"

	"ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/engine/statistic"
)

const (
	DefaultWindowSize        = 32
	DefaultFrameRateCapacity = 512
	minWindowSize            = 8
)

// ErrInvariantViolation reports internal state that cannot occur with correct bookkeeping.
var ErrInvariantViolation = errors.New("invariant violation")

// PacketMeta is carried through the window with every packet.
type PacketMeta struct {
	MediaType   uint8
	PayloadType uint8
	PktsInFrame uint16
	Ext1        [3]byte
}

// Packet is one slot of a reassembled frame.
type Packet struct {
	Sequence     uint16
	RTPTimestamp uint32
	Arrival      model.Timeval
	Length       uint32
	Meta         PacketMeta
}

// Frame is the set of packets sharing one RTP timestamp. It is only valid during the
// FrameHandler call.
type Frame struct {
	RTPTimestamp uint32
	Packets      []Packet
	MinArrival   model.Timeval
	MaxArrival   model.Timeval
	Size         uint64
	FrameRate    int
	Jitter       float64
}

// Meta returns the metadata of the first packet of the frame.
func (f *Frame) Meta() PacketMeta {
	if len(f.Packets) == 0 {
		return PacketMeta{}
	}
	return f.Packets[0].Meta
}

// FrameHandler receives every completed frame.
type FrameHandler func(s *Stream, f *Frame)

// StatsHandler receives the counters of a finished one-second interval.
type StatsHandler func(s *Stream, reportCount uint32, second uint32, st Stats)

// Options configures a Stream.
type Options struct {
	// WindowSize is the number of slots, a power of two >= 8.
	WindowSize        int
	ClockRate         uint32
	FrameRateCapacity int
}

type slot struct {
	used bool
	seen bool
	pkt  Packet
}

// Stream is the reassembly state of one RTP stream. It is not safe for concurrent use.
type Stream struct {
	key      StreamKey
	mediaTag uint8
	slots    []slot
	mask     int
	head     int
	headSeq  uint16
	started  bool

	total         Stats
	current       Stats
	currentSecond uint32
	reportCount   uint32

	fps    *statistic.FrameRate
	jitter *statistic.Jitter
	digest *statistic.JitterDigest

	onFrame FrameHandler
	onStats StatsHandler
}

// New creates the reassembly state for the stream identified by key.
func New(key StreamKey, opts Options, onFrame FrameHandler, onStats StatsHandler) (*Stream, error) {
	n := opts.WindowSize
	if n == 0 {
		n = DefaultWindowSize
	}
	if n < minWindowSize || n&(n-1) != 0 {
		return nil, fmt.Errorf("window size must be a power of two >= %d, got %d", minWindowSize, n)
	}
	if opts.FrameRateCapacity == 0 {
		opts.FrameRateCapacity = DefaultFrameRateCapacity
	}
	if opts.ClockRate == 0 {
		opts.ClockRate = statistic.VideoClockRate
		if key.Media == MediaAudio {
			opts.ClockRate = statistic.AudioClockRate
		}
	}
	return &Stream{
		key:     key,
		slots:   make([]slot, n),
		mask:    n - 1,
		fps:     statistic.NewFrameRate(opts.FrameRateCapacity),
		jitter:  statistic.NewJitter(opts.ClockRate),
		digest:  statistic.NewJitterDigest(),
		onFrame: onFrame,
		onStats: onStats,
	}, nil
}

// Key returns the stream key.
func (s *Stream) Key() StreamKey { return s.key }

// MediaTag returns the media tag of the first packet added since New or Reset.
func (s *Stream) MediaTag() uint8 { return s.mediaTag }

// Stats returns the cumulative counters.
func (s *Stream) Stats() Stats { return s.total }

// JitterQuantile returns the q-quantile of the per-frame jitter, or -1 without frames.
func (s *Stream) JitterQuantile(q float64) float64 { return s.digest.Quantile(q) }

func (s *Stream) index(i int) int { return i & s.mask }

// Add feeds one packet into the window.
func (s *Stream) Add(seq uint16, rtpTS uint32, arrival model.Timeval, length uint32, meta PacketMeta) error {
	pkt := Packet{Sequence: seq, RTPTimestamp: rtpTS, Arrival: arrival, Length: length, Meta: meta}

	if !s.started {
		s.mediaTag = meta.MediaType
		s.slots[0] = slot{used: true, seen: true, pkt: pkt}
		s.head = 0
		s.headSeq = seq
		s.currentSecond = arrival.Sec
		s.started = true
	} else {
		if err := s.place(pkt); err != nil {
			return err
		}
		if arrival.Sec > s.currentSecond {
			if s.onStats != nil {
				s.onStats(s, s.reportCount, s.currentSecond, s.current)
			}
			s.reportCount++
			s.current = Stats{}
			s.currentSecond = arrival.Sec
		}
	}

	s.total.Packets++
	s.total.Bytes += uint64(length)
	s.current.Packets++
	s.current.Bytes += uint64(length)
	return nil
}

func (s *Stream) place(pkt Packet) error {
	n := len(s.slots)

	// 1. Ahead of the head: fill the gap with placeholders.
	if pkt.Sequence > s.headSeq {
		gap := int(pkt.Sequence - s.headSeq)
		for i := 1; i < gap; i++ {
			placeholder := Packet{Sequence: s.headSeq + uint16(i)}
			if err := s.set(s.index(s.head+i), placeholder, false); err != nil {
				return err
			}
		}
		idx := s.index(s.head + gap)
		if err := s.set(idx, pkt, true); err != nil {
			return err
		}
		s.head = idx
		s.headSeq = pkt.Sequence
		return nil
	}

	// 2. Behind the head but inside the window.
	d := int(s.headSeq - pkt.Sequence)
	if d < n {
		if d > 0 {
			s.total.OutOfOrder++
			s.current.OutOfOrder++
		}
		return s.set(s.index(s.head-d), pkt, true)
	}

	// 3. Too far behind: the window is exhausted, restart after the head.
	idx := s.index(s.head + 1)
	if err := s.set(idx, pkt, true); err != nil {
		return err
	}
	s.head = idx
	s.headSeq = pkt.Sequence
	return nil
}

func (s *Stream) set(idx int, pkt Packet, seen bool) error {
	if idx < 0 || idx >= len(s.slots) {
		return fmt.Errorf("%w: slot %d outside window of %d", ErrInvariantViolation, idx, len(s.slots))
	}
	cur := &s.slots[idx]
	switch {
	case cur.used && cur.seen && cur.pkt.Sequence == pkt.Sequence:
		s.total.Duplicates++
		s.current.Duplicates++
	case cur.used && cur.seen:
		if _, err := s.evict(idx); err != nil {
			return err
		}
	}
	s.slots[idx] = slot{used: true, seen: seen, pkt: pkt}
	return nil
}

// evict completes the frame starting at slot start. The frame spans the following slots
// that share its RTP timestamp or are placeholders, up to the window size. It returns the
// number of slots cleared.
func (s *Stream) evict(start int) (int, error) {
	n := len(s.slots)
	frame := Frame{RTPTimestamp: s.slots[start].pkt.RTPTimestamp}

	j := 0
	for i := start; j < n; i, j = s.index(i+1), j+1 {
		sl := &s.slots[i]
		if !sl.used || (sl.seen && sl.pkt.RTPTimestamp != frame.RTPTimestamp) {
			break
		}
		if sl.seen {
			frame.add(sl.pkt)
		} else {
			s.total.Lost++
			s.current.Lost++
		}
		*sl = slot{}
	}

	if len(frame.Packets) == 0 {
		return j, nil
	}
	return j, s.complete(&frame)
}

func (f *Frame) add(p Packet) {
	if len(f.Packets) == 0 || p.Arrival.Before(f.MinArrival) {
		f.MinArrival = p.Arrival
	}
	if len(f.Packets) == 0 || p.Arrival.After(f.MaxArrival) {
		f.MaxArrival = p.Arrival
	}
	f.Size += uint64(p.Length)
	f.Packets = append(f.Packets, p)
}

func (s *Stream) complete(f *Frame) error {
	fps, err := s.fps.Add(f.MaxArrival)
	if err != nil {
		return fmt.Errorf("ssrc 0x%08x: %w", s.key.SSRC, err)
	}
	f.FrameRate = fps
	f.Jitter = s.jitter.Add(f.MaxArrival, f.RTPTimestamp)
	s.digest.Add(f.Jitter)

	for _, st := range []*Stats{&s.total, &s.current} {
		st.Frames++
		st.FrameSizeSum += f.Size
		st.JitterSum += f.Jitter
	}

	if s.onFrame != nil {
		s.onFrame(s, f)
	}
	return nil
}

// Flush completes every frame still held in the window, oldest first. Flushing an
// already drained window does nothing.
func (s *Stream) Flush() error {
	n := len(s.slots)
	for i := 0; i < n; {
		idx := s.index(s.head + 1 + i)
		if !s.slots[idx].used {
			i++
			continue
		}
		j, err := s.evict(idx)
		if err != nil {
			return err
		}
		i += j
	}
	return nil
}

// Reset clears the window and all counters. The frame-rate, jitter and quantile
// calculators keep their state; see ResetCalculators.
func (s *Stream) Reset() {
	clear(s.slots)
	s.head = 0
	s.headSeq = 0
	s.started = false
	s.total = Stats{}
	s.current = Stats{}
	s.currentSecond = 0
	s.reportCount = 0
}

// ResetCalculators returns the frame-rate, jitter and quantile calculators to their
// initial state.
func (s *Stream) ResetCalculators() {
	s.fps.Reset()
	s.jitter.Reset()
	s.digest.Reset()
}
