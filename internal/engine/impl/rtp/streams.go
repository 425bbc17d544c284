package rtp

import (
	"cmp"
	"slices"

	"ZoomSpectra/internal/engine/flowtracker"
	"ZoomSpectra/internal/engine/protocol"
	"ZoomSpectra/internal/model"
)

type streamKey struct {
	ssrc  uint32
	pt    uint8
	ipSrc uint32
	ipDst uint32
}

func (k streamKey) compare(o streamKey) int {
	if c := cmp.Compare(k.ssrc, o.ssrc); c != 0 {
		return c
	}
	if c := cmp.Compare(k.pt, o.pt); c != 0 {
		return c
	}
	if c := cmp.Compare(k.ipSrc, o.ipSrc); c != 0 {
		return c
	}
	return cmp.Compare(k.ipDst, o.ipDst)
}

// streamTracker follows RTP streams keyed by (ssrc, payload type, ip src, ip dst) and
// opens a new sub-flow whenever the ports or protocol of a stream change.
type streamTracker struct {
	streams map[streamKey][]*model.RTPFlow
}

func newStreamTracker() *streamTracker {
	return &streamTracker{streams: make(map[streamKey][]*model.RTPFlow)}
}

func flowTypeOf(rec *protocol.Record) flowtracker.FlowType {
	switch {
	case rec.IsP2P():
		return flowtracker.UDPP2P
	case rec.Flags&protocol.FlagSrv != 0:
		return flowtracker.UDPServer
	}
	return flowtracker.Unknown
}

func (t *streamTracker) track(rec *protocol.Record) {
	key := streamKey{ssrc: rec.RTP.SSRC, pt: rec.RTP.PayloadType, ipSrc: rec.Tuple.SrcIP, ipDst: rec.Tuple.DstIP}
	flows := t.streams[key]

	if n := len(flows); n > 0 && flows[n-1].Tuple == rec.Tuple {
		last := flows[n-1]
		last.Packets++
		last.Bytes += uint64(rec.UDPPayloadLen)
		last.End = rec.TS
		last.LastRTP = rec.RTP.Timestamp
		return
	}

	zoomType := rec.MediaType
	if len(flows) > 0 {
		zoomType = flows[0].ZoomType
	}
	t.streams[key] = append(flows, &model.RTPFlow{
		SSRC:        rec.RTP.SSRC,
		PayloadType: rec.RTP.PayloadType,
		Tuple:       rec.Tuple,
		FlowType:    flowTypeOf(rec).String(),
		ZoomType:    zoomType,
		Start:       rec.TS,
		End:         rec.TS,
		StartRTP:    rec.RTP.Timestamp,
		LastRTP:     rec.RTP.Timestamp,
		Packets:     1,
		Bytes:       uint64(rec.UDPPayloadLen),
	})
}

// rows returns every sub-flow, streams ordered by key and sub-flows in creation order.
func (t *streamTracker) rows() []model.RTPFlow {
	keys := make([]streamKey, 0, len(t.streams))
	for k := range t.streams {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, streamKey.compare)

	var out []model.RTPFlow
	for _, k := range keys {
		for _, f := range t.streams[k] {
			out = append(out, *f)
		}
	}
	return out
}
