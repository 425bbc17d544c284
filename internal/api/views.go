package api

import (
	core "ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/model"
	"ZoomSpectra/internal/snapshot"
)

type streamView struct {
	StreamID int64  `json:"stream_id"`
	ConnType string `json:"conn_type"`
	StartSec uint32 `json:"start_ts_s"`
	EndSec   uint32 `json:"end_ts_s"`
	SrcIP    string `json:"ip_src"`
	SrcPort  uint16 `json:"tp_src"`
	DstIP    string `json:"ip_dst"`
	DstPort  uint16 `json:"tp_dst"`
	ZoomType uint8  `json:"zoom_type"`
	SSRC     uint32 `json:"ssrc"`
	StartRTP uint32 `json:"start_rtp_ts"`
	EndRTP   uint32 `json:"end_rtp_ts"`
	Packets  uint64 `json:"pkts"`
	Bytes    uint64 `json:"bytes"`
}

func newStreamView(s model.UniqueStream) streamView {
	return streamView{
		StreamID: s.StreamID,
		ConnType: s.ConnType(),
		StartSec: s.StartSec,
		EndSec:   s.EndSec,
		SrcIP:    core.IPv4ToString(s.Tuple.SrcIP),
		SrcPort:  s.Tuple.SrcPort,
		DstIP:    core.IPv4ToString(s.Tuple.DstIP),
		DstPort:  s.Tuple.DstPort,
		ZoomType: s.ZoomType,
		SSRC:     s.SSRC,
		StartRTP: s.StartRTP,
		EndRTP:   s.EndRTP,
		Packets:  s.Packets,
		Bytes:    s.Bytes,
	}
}

// meetingView is the list form of a meeting; Streams is only set for a single meeting.
type meetingView struct {
	ID         uint32       `json:"meeting_id"`
	StartSec   uint32       `json:"start_ts_s"`
	EndSec     uint32       `json:"end_ts_s"`
	StreamsN   int          `json:"streams"`
	P2PStreams int          `json:"p2p_streams"`
	Packets    uint64       `json:"pkts"`
	Bytes      uint64       `json:"bytes"`
	Streams    []streamView `json:"members,omitempty"`
}

func newMeetingView(m snapshot.Meeting, members bool) meetingView {
	v := meetingView{ID: m.ID, StreamsN: len(m.Streams)}
	for i, s := range m.Streams {
		if i == 0 || s.StartSec < v.StartSec {
			v.StartSec = s.StartSec
		}
		v.EndSec = max(v.EndSec, s.EndSec)
		if s.P2P {
			v.P2PStreams++
		}
		v.Packets += s.Packets
		v.Bytes += s.Bytes
		if members {
			v.Streams = append(v.Streams, newStreamView(s))
		}
	}
	return v
}

type qualityView struct {
	SrcIP         string  `json:"ip_src"`
	SrcPort       uint16  `json:"tp_src"`
	DstIP         string  `json:"ip_dst"`
	DstPort       uint16  `json:"tp_dst"`
	SSRC          uint32  `json:"ssrc"`
	Media         string  `json:"media"`
	Kind          string  `json:"stream_type"`
	Packets       uint64  `json:"pkts"`
	Bytes         uint64  `json:"bytes"`
	Lost          uint64  `json:"lost"`
	Duplicates    uint64  `json:"duplicate"`
	OutOfOrder    uint64  `json:"out_of_order"`
	Frames        uint64  `json:"frames"`
	MeanFrameSize float64 `json:"mean_frame_len"`
	MeanJitter    float64 `json:"mean_jitter"`
	JitterP50     float64 `json:"jitter_p50"`
	JitterP95     float64 `json:"jitter_p95"`
	JitterP99     float64 `json:"jitter_p99"`
	Failed        bool    `json:"failed"`
}

func newQualityView(q model.StreamQuality) qualityView {
	return qualityView{
		SrcIP:         core.IPv4ToString(q.Tuple.SrcIP),
		SrcPort:       q.Tuple.SrcPort,
		DstIP:         core.IPv4ToString(q.Tuple.DstIP),
		DstPort:       q.Tuple.DstPort,
		SSRC:          q.SSRC,
		Media:         q.Media,
		Kind:          q.Kind,
		Packets:       q.Packets,
		Bytes:         q.Bytes,
		Lost:          q.Lost,
		Duplicates:    q.Duplicates,
		OutOfOrder:    q.OutOfOrder,
		Frames:        q.Frames,
		MeanFrameSize: q.MeanFrameSize,
		MeanJitter:    q.MeanJitter,
		JitterP50:     q.JitterP50,
		JitterP95:     q.JitterP95,
		JitterP99:     q.JitterP99,
		Failed:        q.Failed,
	}
}
