// Package meeting groups deduplicated streams into meetings by correlating stream ids and
// client addresses over time.
package meeting

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/engine/dedup"
)

// DefaultTimeout is how long, in seconds after a stream ends, its identifiers keep
// attracting new streams into the same meeting.
const DefaultTimeout uint32 = 3600

var (
	// ErrInvariantViolation reports a stream or meeting that breaks the grouping rules.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrUnorderedInput is returned when streams are not added in ascending start order.
	ErrUnorderedInput = errors.New("streams not in ascending start order")
)

// NetMatcher tells whether an address belongs to a conferencing server.
type NetMatcher interface {
	Match(ip uint32) bool
}

type assignment struct {
	meeting    uint32
	expiration int64
}

// Meeting is a group of streams.
type Meeting struct {
	ID      uint32
	Streams []*dedup.Stream
}

// Grouper assigns streams to meetings. Streams must be added in ascending start order.
// It is not safe for concurrent use.
type Grouper struct {
	nets    NetMatcher
	timeout uint32

	byStream   map[int64]assignment
	byEndpoint map[model.Endpoint]assignment
	byIP       map[uint32]assignment
	meetings   map[uint32][]*dedup.Stream
	nextID     uint32

	lastStart uint32
	added     bool
}

// NewGrouper returns a Grouper. A zero timeout selects DefaultTimeout.
func NewGrouper(nets NetMatcher, timeout uint32) *Grouper {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Grouper{
		nets:       nets,
		timeout:    timeout,
		byStream:   make(map[int64]assignment),
		byEndpoint: make(map[model.Endpoint]assignment),
		byIP:       make(map[uint32]assignment),
		meetings:   make(map[uint32][]*dedup.Stream),
	}
}

// ClientEndpoint returns the client side of a stream: the non-server endpoint when one
// side is a server, otherwise the endpoint with the numerically smaller address.
func ClientEndpoint(nets NetMatcher, ft model.FiveTuple) model.Endpoint {
	switch {
	case nets.Match(ft.SrcIP):
		return ft.Dst()
	case nets.Match(ft.DstIP):
		return ft.Src()
	case ft.SrcIP < ft.DstIP:
		return ft.Src()
	}
	return ft.Dst()
}

// Add assigns s to a meeting and returns the meeting id.
func (g *Grouper) Add(s *dedup.Stream) (uint32, error) {
	if s.ID == dedup.NoID {
		return 0, fmt.Errorf("%w: stream %s has no id", ErrInvariantViolation, s.Key.Tuple)
	}
	if g.added && s.StartSec < g.lastStart {
		return 0, fmt.Errorf("%w: start %d after %d", ErrUnorderedInput, s.StartSec, g.lastStart)
	}
	g.added = true
	g.lastStart = s.StartSec

	client := ClientEndpoint(g.nets, s.Key.Tuple)
	matched := g.match(s, client)

	var id uint32
	switch len(matched) {
	case 0:
		id = g.nextID
		g.nextID++
	case 1:
		id = matched[0]
	default:
		// Everything collapses into the highest matched id.
		id = matched[len(matched)-1]
		for _, from := range matched[:len(matched)-1] {
			if err := g.merge(from, id); err != nil {
				return 0, err
			}
		}
	}

	a := assignment{meeting: id, expiration: int64(s.EndSec) + int64(g.timeout)}
	g.byStream[s.ID] = a
	g.byEndpoint[client] = a
	g.byIP[client.IP] = a
	g.meetings[id] = append(g.meetings[id], s)
	return id, nil
}

// match returns the distinct, ascending ids of the meetings whose unexpired entries
// share the stream id, client endpoint or client address of s.
func (g *Grouper) match(s *dedup.Stream, client model.Endpoint) []uint32 {
	candidates := make([]assignment, 0, 3)
	if a, ok := g.byStream[s.ID]; ok {
		candidates = append(candidates, a)
	}
	if a, ok := g.byEndpoint[client]; ok {
		candidates = append(candidates, a)
	}
	if a, ok := g.byIP[client.IP]; ok {
		candidates = append(candidates, a)
	}

	start := int64(s.StartSec)
	var ids []uint32
	for _, a := range candidates {
		if start > a.expiration || slices.Contains(ids, a.meeting) {
			continue
		}
		ids = append(ids, a.meeting)
	}
	slices.Sort(ids)
	return ids
}

// merge moves every stream and table entry of meeting from into meeting to.
func (g *Grouper) merge(from, to uint32) error {
	fromStreams, ok := g.meetings[from]
	if !ok {
		return fmt.Errorf("%w: merge from unknown meeting %d", ErrInvariantViolation, from)
	}
	if _, ok := g.meetings[to]; !ok {
		return fmt.Errorf("%w: merge into unknown meeting %d", ErrInvariantViolation, to)
	}

	for k, a := range g.byStream {
		if a.meeting == from {
			a.meeting = to
			g.byStream[k] = a
		}
	}
	for k, a := range g.byEndpoint {
		if a.meeting == from {
			a.meeting = to
			g.byEndpoint[k] = a
		}
	}
	for k, a := range g.byIP {
		if a.meeting == from {
			a.meeting = to
			g.byIP[k] = a
		}
	}

	g.meetings[to] = append(g.meetings[to], fromStreams...)
	delete(g.meetings, from)
	return nil
}

// Meetings returns the meetings ordered by id.
func (g *Grouper) Meetings() []Meeting {
	out := make([]Meeting, 0, len(g.meetings))
	for id, streams := range g.meetings {
		out = append(out, Meeting{ID: id, Streams: streams})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of meetings.
func (g *Grouper) Len() int { return len(g.meetings) }

// GroupStreams sorts streams by start second and groups them.
func GroupStreams(nets NetMatcher, timeout uint32, streams []*dedup.Stream) ([]Meeting, error) {
	sorted := append([]*dedup.Stream(nil), streams...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartSec < sorted[j].StartSec })

	g := NewGrouper(nets, timeout)
	for _, s := range sorted {
		if _, err := g.Add(s); err != nil {
			return nil, err
		}
	}
	return g.Meetings(), nil
}
