package model

import (
	core "ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/engine/protocol"
)

// NA marks an absent outer or inner type in a TypeVolume row.
const NA = -1

// FlowSummary is one row of the flows report.
type FlowSummary struct {
	ID      uint32
	Tuple   core.FiveTuple
	Type    string
	Packets uint64
	Bytes   uint64
	Start   core.Timeval
	End     core.Timeval
}

// TypeVolume is the traffic volume of one (mode, outer, inner) combination.
type TypeVolume struct {
	Mode    string // p2p or srv
	Outer   int
	Inner   int
	Packets uint64
	Bytes   uint64
}

// RateSample holds the per-second packet deltas of the flows pass.
type RateSample struct {
	Second       uint32
	TotalPackets uint64
	ZoomPackets  uint64
	ZoomBytes    uint64
}

// PacketLog is one accepted RTP record of the rtp pass. Dropped is set when the
// record's stream has been failed.
type PacketLog struct {
	Record  protocol.Record
	Dropped bool
}

// FrameLog is one reassembled frame.
type FrameLog struct {
	Tuple        core.FiveTuple
	SSRC         uint32
	MediaType    uint8
	Ext1         [3]byte
	MinArrival   core.Timeval
	MaxArrival   core.Timeval
	RTPTimestamp uint32
	PacketsSeen  int
	PacketsHint  uint16
	Size         uint64
	FrameRate    int
	Jitter       float64
}

// StreamStats is the one-second interval report of a stream.
type StreamStats struct {
	Second        uint32
	ReportCount   uint32
	Tuple         core.FiveTuple
	MediaType     uint8
	Kind          string
	SSRC          uint32
	Packets       uint64
	Bytes         uint64
	Lost          uint64
	Duplicates    uint64
	OutOfOrder    uint64
	Frames        uint64
	MeanFrameSize float64
	MeanJitter    float64
}

// RTPFlow is one sub-flow of an RTP stream; a stream moving to a new 5-tuple starts
// a new sub-flow.
type RTPFlow struct {
	SSRC        uint32
	PayloadType uint8
	Tuple       core.FiveTuple
	FlowType    string
	ZoomType    uint8
	Start       core.Timeval
	End         core.Timeval
	StartRTP    uint32
	LastRTP     uint32
	Packets     uint64
	Bytes       uint64
}

// StreamQuality is the end-of-run summary of one reassembled stream.
type StreamQuality struct {
	Tuple         core.FiveTuple
	SSRC          uint32
	Media         string
	Kind          string
	Packets       uint64
	Bytes         uint64
	Lost          uint64
	Duplicates    uint64
	OutOfOrder    uint64
	Frames        uint64
	MeanFrameSize float64
	MeanJitter    float64
	JitterP50     float64
	JitterP95     float64
	JitterP99     float64
	Failed        bool
}

// UniqueStream is a deduplicated media stream.
type UniqueStream struct {
	StreamID int64
	P2P      bool
	StartSec uint32
	EndSec   uint32
	Tuple    core.FiveTuple
	ZoomType uint8
	SSRC     uint32
	StartRTP uint32
	EndRTP   uint32
	Packets  uint64
	Bytes    uint64
	Audio112 uint64
	Audio99  uint64
	Audio113 uint64
}

// ConnType is the flow class of the stream, udp_p2p or udp_srv.
func (u UniqueStream) ConnType() string {
	if u.P2P {
		return "udp_p2p"
	}
	return "udp_srv"
}

// MeetingStream is a member stream of a meeting.
type MeetingStream struct {
	MeetingID uint32
	UniqueStream
}
