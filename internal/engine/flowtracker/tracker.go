// Package flowtracker classifies transport flows as Zoom server, STUN, p2p or TCP
// traffic and keeps per-flow counters.
package flowtracker

import (
	"sort"

	"github.com/pion/stun"

	"ZoomSpectra/internal/core/model"
)

// DefaultStunWindow is how long, in seconds, a STUN candidate endpoint may start a p2p flow.
const DefaultStunWindow uint32 = 300

// STUN server ports.
const (
	stunPort    uint16 = 3478
	stunAltPort uint16 = 3479
)

// FlowType is the classification of a tracked flow.
type FlowType uint8

const (
	Unknown FlowType = iota
	TCP
	UDPServer
	UDPStun
	UDPP2P
)

func (t FlowType) String() string {
	switch t {
	case TCP:
		return "tcp"
	case UDPServer:
		return "udp_server"
	case UDPStun:
		return "udp_stun"
	case UDPP2P:
		return "udp_p2p"
	}
	return "unknown"
}

// IsUDP reports whether the flow is one of the UDP classes.
func (t FlowType) IsUDP() bool {
	return t == UDPServer || t == UDPStun || t == UDPP2P
}

// Flow is a tracked flow. Tuple keeps the orientation of the first packet.
type Flow struct {
	ID           uint32
	Tuple        model.FiveTuple
	Type         FlowType
	Packets      uint64
	Bytes        uint64
	Start        model.Timeval
	Last         model.Timeval
	StunMessages uint64
}

// NetMatcher tells whether an address belongs to a conferencing server.
type NetMatcher interface {
	Match(ip uint32) bool
}

// Tracker is the flow table. It is not safe for concurrent use.
type Tracker struct {
	nets       NetMatcher
	stunWindow uint32

	flows  map[model.FiveTuple]*Flow
	peers  map[model.Endpoint]uint32
	nextID uint32

	totalPackets uint64
	zoomPackets  uint64
	zoomBytes    uint64
}

// New creates a Tracker using nets as the server table. A zero stunWindow selects
// DefaultStunWindow.
func New(nets NetMatcher, stunWindow uint32) *Tracker {
	if stunWindow == 0 {
		stunWindow = DefaultStunWindow
	}
	return &Tracker{
		nets:       nets,
		stunWindow: stunWindow,
		flows:      make(map[model.FiveTuple]*Flow),
		peers:      make(map[model.Endpoint]uint32),
	}
}

// Track accounts one packet of length bytes observed at ts. It returns a copy of the
// flow the packet belongs to, or false when the packet is not Zoom traffic.
func (t *Tracker) Track(ft model.FiveTuple, ts model.Timeval, length int) (Flow, bool) {
	t.totalPackets++

	key := ft.Canonical()
	if f, ok := t.flows[key]; ok {
		f.Packets++
		f.Bytes += uint64(length)
		if ts.After(f.Last) {
			f.Last = ts
		}
		t.zoomPackets++
		t.zoomBytes += uint64(length)
		return *f, true
	}

	typ := t.classify(ft, ts)
	if typ == Unknown {
		return Flow{}, false
	}

	f := &Flow{
		ID:      t.nextID,
		Tuple:   ft,
		Type:    typ,
		Packets: 1,
		Bytes:   uint64(length),
		Start:   ts,
		Last:    ts,
	}
	t.nextID++
	t.flows[key] = f
	t.zoomPackets++
	t.zoomBytes += uint64(length)
	return *f, true
}

func (t *Tracker) classify(ft model.FiveTuple, ts model.Timeval) FlowType {
	srv := t.nets.Match(ft.SrcIP) || t.nets.Match(ft.DstIP)
	if !srv {
		if ft.Protocol == model.ProtocolUDP && (t.isCandidate(ft.Src(), ts) || t.isCandidate(ft.Dst(), ts)) {
			return UDPP2P
		}
		return Unknown
	}

	switch ft.Protocol {
	case model.ProtocolTCP:
		return TCP
	case model.ProtocolUDP:
		switch {
		case isStunPort(ft.SrcPort):
			t.peers[ft.Dst()] = ts.Sec
			return UDPStun
		case isStunPort(ft.DstPort):
			t.peers[ft.Src()] = ts.Sec
			return UDPStun
		}
		return UDPServer
	}
	return Unknown
}

func (t *Tracker) isCandidate(ep model.Endpoint, ts model.Timeval) bool {
	rec, ok := t.peers[ep]
	return ok && uint64(ts.Sec) <= uint64(rec)+uint64(t.stunWindow)
}

func isStunPort(p uint16) bool { return p == stunPort || p == stunAltPort }

// ObserveStun counts payload as a STUN message of the flow ft belongs to when it parses
// as one.
func (t *Tracker) ObserveStun(ft model.FiveTuple, payload []byte) bool {
	f, ok := t.flows[ft.Canonical()]
	if !ok || f.Type != UDPStun || !stun.IsMessage(payload) {
		return false
	}
	f.StunMessages++
	return true
}

// Flow returns a copy of the flow ft belongs to.
func (t *Tracker) Flow(ft model.FiveTuple) (Flow, bool) {
	f, ok := t.flows[ft.Canonical()]
	if !ok {
		return Flow{}, false
	}
	return *f, true
}

// Flows returns copies of all flows ordered by id.
func (t *Tracker) Flows() []Flow {
	out := make([]Flow, 0, len(t.flows))
	for _, f := range t.flows {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TotalPackets is the number of packets offered to Track.
func (t *Tracker) TotalPackets() uint64 { return t.totalPackets }

// ZoomPackets is the number of packets that belonged to a tracked flow.
func (t *Tracker) ZoomPackets() uint64 { return t.zoomPackets }

// ZoomBytes is the number of bytes that belonged to a tracked flow.
func (t *Tracker) ZoomBytes() uint64 { return t.zoomBytes }

// FlowCount is the number of flows created so far.
func (t *Tracker) FlowCount() int { return len(t.flows) }
