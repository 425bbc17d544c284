package rtpstream

import "fmt"

// Stats are the counters of a stream, either cumulative or for one second.
type Stats struct {
	Packets      uint64
	Bytes        uint64
	OutOfOrder   uint64
	Duplicates   uint64
	Lost         uint64
	Frames       uint64
	FrameSizeSum uint64
	JitterSum    float64
}

// MeanFrameSize returns the average frame size in bytes, or -1 without frames.
func (s Stats) MeanFrameSize() float64 {
	if s.Frames == 0 {
		return -1
	}
	return float64(s.FrameSizeSum) / float64(s.Frames)
}

// MeanJitter returns the average per-frame jitter in milliseconds, or -1 without frames.
func (s Stats) MeanJitter() float64 {
	if s.Frames == 0 {
		return -1
	}
	return s.JitterSum / float64(s.Frames)
}

// Sub returns s-o. Every counter of o must not exceed the one of s.
func (s Stats) Sub(o Stats) (Stats, error) {
	if s.Packets < o.Packets || s.Bytes < o.Bytes || s.OutOfOrder < o.OutOfOrder ||
		s.Duplicates < o.Duplicates || s.Lost < o.Lost || s.Frames < o.Frames ||
		s.FrameSizeSum < o.FrameSizeSum || s.JitterSum < o.JitterSum {
		return Stats{}, fmt.Errorf("%w: subtracting larger stats", ErrInvariantViolation)
	}
	return Stats{
		Packets:      s.Packets - o.Packets,
		Bytes:        s.Bytes - o.Bytes,
		OutOfOrder:   s.OutOfOrder - o.OutOfOrder,
		Duplicates:   s.Duplicates - o.Duplicates,
		Lost:         s.Lost - o.Lost,
		Frames:       s.Frames - o.Frames,
		FrameSizeSum: s.FrameSizeSum - o.FrameSizeSum,
		JitterSum:    s.JitterSum - o.JitterSum,
	}, nil
}
