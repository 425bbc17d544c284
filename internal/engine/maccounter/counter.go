// Package maccounter recovers a monotonic packet count from the 32-bit counter that the
// capture appliance embeds in the source MAC address of every frame.
package maccounter

import "encoding/binary"

// DefaultTolerance is the largest forward jump accepted as a regular increment.
const DefaultTolerance uint32 = 0xffff

// Counter accumulates the embedded counter across wrap-arounds. It is not safe for
// concurrent use.
type Counter struct {
	tolerance uint64
	curr      uint64
	total     uint64
	wraps     uint64
	discarded uint64
}

// New returns a Counter. A zero tolerance selects DefaultTolerance.
func New(tolerance uint32) *Counter {
	if tolerance == 0 {
		tolerance = DefaultTolerance
	}
	return &Counter{tolerance: uint64(tolerance)}
}

// AddMAC feeds the counter embedded in bytes 2..5 of a source MAC address.
func (c *Counter) AddMAC(mac []byte) {
	if len(mac) < 6 {
		c.discarded++
		return
	}
	c.Add(binary.BigEndian.Uint32(mac[2:6]))
}

// Add feeds one counter value. Values slightly behind the current one are reordering
// and are discarded; a large backwards jump is a wrap-around.
func (c *Counter) Add(val uint32) {
	v := uint64(val)
	switch {
	case v > c.curr && (v < c.curr+c.tolerance || c.curr == 0):
		c.curr = v
	case v+c.tolerance < c.curr:
		c.total += 0xffffffff
		c.curr = v
		c.wraps++
	default:
		c.discarded++
	}
}

// Count returns the reconstructed packet count.
func (c *Counter) Count() uint64 { return c.total + c.curr }

// Wraps returns the number of wrap-arounds seen.
func (c *Counter) Wraps() uint64 { return c.wraps }

// Discarded returns the number of values that were neither increments nor wraps.
func (c *Counter) Discarded() uint64 { return c.discarded }
