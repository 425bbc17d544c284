// Package dedup merges the observations of one media stream seen on several connections
// (e.g. both legs through a server, or a p2p/server switch) under a single stream id.
package dedup

import (
	"sort"

	"ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/engine/protocol"
)

const (
	DefaultBuffer     uint32 = 3000
	DefaultMinPackets uint64 = 10
)

// NoID marks a stream that has not been given an id.
const NoID int64 = -1

// DefaultPayloadTypes are the RTP payload types counted as media.
var DefaultPayloadTypes = []uint8{98, 99, 112, 113}

// Audio payload types counted separately.
const (
	audioPT112 uint8 = 112
	audioPT99  uint8 = 99
	audioPT113 uint8 = 113
)

// Key identifies one observation of a stream.
type Key struct {
	SSRC     uint32
	Tuple    model.FiveTuple
	MediaTag uint8
	P2P      bool
}

func (k Key) less(o Key) bool {
	switch {
	case k.SSRC != o.SSRC:
		return k.SSRC < o.SSRC
	case k.Tuple.SrcIP != o.Tuple.SrcIP:
		return k.Tuple.SrcIP < o.Tuple.SrcIP
	case k.Tuple.SrcPort != o.Tuple.SrcPort:
		return k.Tuple.SrcPort < o.Tuple.SrcPort
	case k.Tuple.DstIP != o.Tuple.DstIP:
		return k.Tuple.DstIP < o.Tuple.DstIP
	case k.Tuple.DstPort != o.Tuple.DstPort:
		return k.Tuple.DstPort < o.Tuple.DstPort
	case k.MediaTag != o.MediaTag:
		return k.MediaTag < o.MediaTag
	}
	return !k.P2P && o.P2P
}

// Stream is the accumulated state of one observation.
type Stream struct {
	Key      Key
	ID       int64
	StartSec uint32
	EndSec   uint32
	StartRTP uint32
	LastRTP  uint32
	Packets  uint64
	Bytes    uint64
	Audio112 uint64
	Audio99  uint64
	Audio113 uint64
}

func (s *Stream) update(r *protocol.Record) {
	if s.Packets == 0 {
		s.StartSec, s.EndSec = r.TS.Sec, r.TS.Sec
		s.StartRTP, s.LastRTP = r.RTP.Timestamp, r.RTP.Timestamp
	} else {
		s.StartSec = min(s.StartSec, r.TS.Sec)
		s.EndSec = max(s.EndSec, r.TS.Sec)
		s.StartRTP = min(s.StartRTP, r.RTP.Timestamp)
		s.LastRTP = max(s.LastRTP, r.RTP.Timestamp)
	}
	s.Packets++
	s.Bytes += uint64(r.UDPPayloadLen)

	if r.MediaType == protocol.TagAudio {
		switch r.RTP.PayloadType {
		case audioPT112:
			s.Audio112++
		case audioPT99:
			s.Audio99++
		case audioPT113:
			s.Audio113++
		}
	}
}

// Deduplicator assigns stream ids. It is not safe for concurrent use.
type Deduplicator struct {
	buffer       uint32
	payloadTypes map[uint8]bool

	streams map[Key]*Stream
	bySSRC  map[uint32][]*Stream
	nextID  int64
}

// New returns a Deduplicator matching RTP timestamps within ±buffer. Zero or empty
// arguments select the defaults.
func New(buffer uint32, payloadTypes []uint8) *Deduplicator {
	if buffer == 0 {
		buffer = DefaultBuffer
	}
	if len(payloadTypes) == 0 {
		payloadTypes = DefaultPayloadTypes
	}
	pts := make(map[uint8]bool, len(payloadTypes))
	for _, pt := range payloadTypes {
		pts[pt] = true
	}
	return &Deduplicator{
		buffer:       buffer,
		payloadTypes: pts,
		streams:      make(map[Key]*Stream),
		bySSRC:       make(map[uint32][]*Stream),
	}
}

// IsMedia reports whether r is an RTP packet of one of the media payload types.
func (d *Deduplicator) IsMedia(r *protocol.Record) bool {
	return r.IsRTP() && d.payloadTypes[r.RTP.PayloadType]
}

// Add accounts one record. It returns the stream it was added to, or nil when the
// record is not media.
func (d *Deduplicator) Add(r *protocol.Record) *Stream {
	if !d.IsMedia(r) {
		return nil
	}
	key := Key{SSRC: r.RTP.SSRC, Tuple: r.Tuple, MediaTag: r.MediaType, P2P: r.IsP2P()}
	if s, ok := d.streams[key]; ok {
		s.update(r)
		return s
	}

	s := &Stream{Key: key, ID: NoID}
	s.update(r)
	if dup := d.findDuplicate(s); dup != nil {
		s.ID = dup.ID
	} else {
		s.ID = d.nextID
		d.nextID++
	}
	d.streams[key] = s
	d.bySSRC[key.SSRC] = append(d.bySSRC[key.SSRC], s)
	return s
}

// findDuplicate returns the first same-ssrc stream whose last RTP timestamp is within the
// buffer of the new stream's first one.
func (d *Deduplicator) findDuplicate(s *Stream) *Stream {
	ts := int64(s.StartRTP)
	buf := int64(d.buffer)
	for _, o := range d.bySSRC[s.Key.SSRC] {
		if o.ID == NoID {
			continue
		}
		last := int64(o.LastRTP)
		if ts >= last-buf && ts <= last+buf {
			return o
		}
	}
	return nil
}

// Prune drops streams with fewer than minPackets packets and returns how many were removed.
func (d *Deduplicator) Prune(minPackets uint64) int {
	removed := 0
	for key, s := range d.streams {
		if s.Packets < minPackets {
			delete(d.streams, key)
			removed++
		}
	}
	if removed == 0 {
		return 0
	}
	for ssrc, list := range d.bySSRC {
		kept := list[:0]
		for _, s := range list {
			if _, ok := d.streams[s.Key]; ok {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(d.bySSRC, ssrc)
		} else {
			d.bySSRC[ssrc] = kept
		}
	}
	return removed
}

// Streams returns all streams ordered by key.
func (d *Deduplicator) Streams() []*Stream {
	out := make([]*Stream, 0, len(d.streams))
	for _, s := range d.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.less(out[j].Key) })
	return out
}

// Sorted returns all streams ordered by start second, ties broken by key.
func (d *Deduplicator) Sorted() []*Stream {
	out := d.Streams()
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartSec < out[j].StartSec })
	return out
}

// Len returns the number of streams.
func (d *Deduplicator) Len() int { return len(d.streams) }
