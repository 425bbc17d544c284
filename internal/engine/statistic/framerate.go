package statistic

import (
	"errors"
	"fmt"
	"time"

	"github.com/gammazero/deque"

	"ZoomSpectra/internal/core/model"
)

const defaultFrameRateCapacity = 64

// ErrTooManyFramesPerWindow is returned when more frames than the calculator can hold
// arrive within one second.
var ErrTooManyFramesPerWindow = errors.New("too many frames per window")

// FrameRate counts the frames completed during the last second.
type FrameRate struct {
	capacity int
	frames   deque.Deque[model.Timeval]
}

// NewFrameRate returns a calculator holding at most capacity arrival times.
func NewFrameRate(capacity int) *FrameRate {
	if capacity <= 0 {
		capacity = defaultFrameRateCapacity
	}
	return &FrameRate{capacity: capacity}
}

// Add records a frame completed at ts and returns the number of frames in the one
// second window ending at ts.
func (f *FrameRate) Add(ts model.Timeval) (int, error) {
	if f.frames.Len() >= f.capacity {
		return 0, fmt.Errorf("%w: %d frames buffered", ErrTooManyFramesPerWindow, f.capacity)
	}
	f.frames.PushBack(ts)
	for f.frames.Len() > 0 && ts.Sub(f.frames.Front()) >= time.Second {
		f.frames.PopFront()
	}
	return f.frames.Len(), nil
}

// Reset forgets every buffered frame.
func (f *FrameRate) Reset() { f.frames.Clear() }
