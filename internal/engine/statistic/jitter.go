package statistic

import (
	"math"

	"ZoomSpectra/internal/core/model"
)

// RTP clock rates.
const (
	AudioClockRate uint32 = 8000
	VideoClockRate uint32 = 90000
)

// Jitter is the RFC 3550 interarrival jitter estimator, in milliseconds.
type Jitter struct {
	clockRate uint32
	started   bool
	r, s      uint64
	j         float64
}

// NewJitter returns an estimator for a stream with the given RTP clock rate.
func NewJitter(clockRate uint32) *Jitter {
	if clockRate == 0 {
		clockRate = VideoClockRate
	}
	return &Jitter{clockRate: clockRate}
}

// TimevalMillis converts an arrival time into milliseconds.
func TimevalMillis(tv model.Timeval) uint64 {
	return uint64(float64(tv.Sec)*1000 + float64(tv.Usec)/1000)
}

// RTPMillis converts an RTP timestamp into milliseconds at the given clock rate.
func RTPMillis(ts uint32, clockRate uint32) uint64 {
	return uint64(float64(ts) / float64(clockRate) * 1000)
}

// Add feeds one (arrival, rtp timestamp) observation and returns the updated jitter.
// The first observation only seeds the estimator and returns 0.
func (j *Jitter) Add(arrival model.Timeval, rtpTS uint32) float64 {
	r := TimevalMillis(arrival)
	s := RTPMillis(rtpTS, j.clockRate)
	if !j.started {
		j.started = true
		j.r, j.s = r, s
		return 0
	}
	d := int64(r-j.r) - int64(s-j.s)
	j.r, j.s = r, s
	j.j += (math.Abs(float64(d)) - j.j) / 16
	return j.j
}

// Value returns the current jitter.
func (j *Jitter) Value() float64 { return j.j }

// Reset returns the estimator to its initial state.
func (j *Jitter) Reset() {
	j.started = false
	j.r, j.s, j.j = 0, 0, 0
}
