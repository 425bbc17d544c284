package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/engine/protocol"
)

var (
	legUp   = model.FiveTuple{SrcIP: 0xc0a8010a, DstIP: 0xd109d722, SrcPort: 50000, DstPort: 8801, Protocol: model.ProtocolUDP}
	legDown = model.FiveTuple{SrcIP: 0xd109d722, DstIP: 0xc0a8010b, SrcPort: 8801, DstPort: 50010, Protocol: model.ProtocolUDP}
)

func record(ft model.FiveTuple, sec, rtpTS uint32, pt uint8, tag uint8) *protocol.Record {
	return &protocol.Record{
		TS:            model.Timeval{Sec: sec},
		Tuple:         ft,
		Flags:         protocol.FlagSrv | protocol.FlagRTP,
		MediaType:     tag,
		UDPPayloadLen: 100,
		RTP:           protocol.RTPFields{SSRC: 0xabc, Timestamp: rtpTS, PayloadType: pt},
	}
}

func TestAddAccumulates(t *testing.T) {
	d := New(0, nil)
	for i := uint32(0); i < 5; i++ {
		require.NotNil(t, d.Add(record(legUp, 100+i, 1000+i*160, 112, protocol.TagAudio)))
	}
	d.Add(record(legUp, 99, 900, 99, protocol.TagAudio))

	require.Equal(t, 1, d.Len())
	s := d.Streams()[0]
	assert.Equal(t, int64(0), s.ID)
	assert.Equal(t, uint32(99), s.StartSec)
	assert.Equal(t, uint32(104), s.EndSec)
	assert.Equal(t, uint32(900), s.StartRTP)
	assert.Equal(t, uint32(1000+4*160), s.LastRTP)
	assert.Equal(t, uint64(6), s.Packets)
	assert.Equal(t, uint64(600), s.Bytes)
	assert.Equal(t, uint64(5), s.Audio112)
	assert.Equal(t, uint64(1), s.Audio99)
}

func TestAddIgnoresNonMedia(t *testing.T) {
	d := New(0, nil)
	assert.Nil(t, d.Add(record(legUp, 1, 1, 110, protocol.TagVideo)))

	rtcp := record(legUp, 1, 1, 98, protocol.TagRTCPSenderReport)
	rtcp.Flags = protocol.FlagSrv | protocol.FlagRTCP
	assert.Nil(t, d.Add(rtcp))
	assert.Zero(t, d.Len())
}

func TestDuplicateWithinBuffer(t *testing.T) {
	tests := []struct {
		name   string
		second uint32
		same   bool
	}{
		{"same timestamp", 10000, true},
		{"buffer edge above", 10000 + DefaultBuffer, true},
		{"buffer edge below", 10000 - DefaultBuffer, true},
		{"outside buffer", 10000 + DefaultBuffer + 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := New(0, nil)
			up := d.Add(record(legUp, 1, 10000, 98, protocol.TagVideo))
			down := d.Add(record(legDown, 1, tt.second, 98, protocol.TagVideo))
			require.NotNil(t, up)
			require.NotNil(t, down)
			assert.Equal(t, tt.same, up.ID == down.ID)
		})
	}
}

func TestDuplicateNearZero(t *testing.T) {
	d := New(0, nil)
	up := d.Add(record(legUp, 1, 100, 98, protocol.TagVideo))
	down := d.Add(record(legDown, 1, 2000, 98, protocol.TagVideo))
	assert.Equal(t, up.ID, down.ID)
}

func TestDifferentSSRCGetsNewID(t *testing.T) {
	d := New(0, nil)
	a := d.Add(record(legUp, 1, 100, 98, protocol.TagVideo))
	r := record(legDown, 1, 100, 98, protocol.TagVideo)
	r.RTP.SSRC = 0xdef
	b := d.Add(r)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestPruneAndSorted(t *testing.T) {
	d := New(0, nil)
	for i := uint32(0); i < 10; i++ {
		d.Add(record(legDown, 50+i, 100000+i, 98, protocol.TagVideo))
	}
	for i := uint32(0); i < 12; i++ {
		d.Add(record(legUp, 20+i, 500+i, 112, protocol.TagAudio))
	}
	short := record(legUp, 5, 1, 98, protocol.TagVideo)
	short.RTP.SSRC = 0x999
	d.Add(short)
	require.Equal(t, 3, d.Len())

	assert.Equal(t, 1, d.Prune(DefaultMinPackets))
	sorted := d.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, uint32(20), sorted[0].StartSec)
	assert.Equal(t, uint32(50), sorted[1].StartSec)

	// Pruned streams are no longer duplicate candidates.
	again := record(legDown, 60, 1, 98, protocol.TagVideo)
	again.RTP.SSRC = 0x999
	again.Tuple.DstPort = 1
	s := d.Add(again)
	assert.Equal(t, int64(3), s.ID)
}
