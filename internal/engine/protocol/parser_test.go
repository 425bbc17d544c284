package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ZoomSpectra/internal/core/model"
	"ZoomSpectra/pkg/zoomgen"
)

// Ethernet + IPv4 + UDP headers.
const payloadOffset = 14 + 20 + 8

var clientToServer = zoomgen.Endpoints{SrcIP: "192.168.1.10", DstIP: "209.9.215.34", SrcPort: 50000, DstPort: 8801}

func rtpPacket(t *testing.T, seq uint16, ext []byte) []byte {
	t.Helper()
	pkt, err := zoomgen.RTP(seq, 1600, 0x01020304, 112, ext)
	require.NoError(t, err)
	return pkt
}

func udpFrame(t *testing.T, ep zoomgen.Endpoints, payload []byte) []byte {
	t.Helper()
	frame, err := zoomgen.UDPFrame(ep, payload)
	require.NoError(t, err)
	return frame
}

func TestDissectServerAudio(t *testing.T) {
	payload := zoomgen.Server(zoomgen.ToServer, zoomgen.Audio(rtpPacket(t, 100, []byte{0xaa, 0xbb, 0xcc})))
	frame := udpFrame(t, clientToServer, payload)

	v, err := Dissect(frame, true, false)
	require.NoError(t, err)

	assert.Equal(t, 14, v.IP)
	assert.Equal(t, 14+20, v.UDP)
	assert.Equal(t, payloadOffset, v.Payload)
	assert.Equal(t, payloadOffset, v.Outer)
	assert.Equal(t, payloadOffset+8, v.Inner)
	assert.Equal(t, payloadOffset+8+19, v.RTP)
	assert.Equal(t, Unset, v.RTCP)

	assert.Equal(t, uint16(50000), v.Tuple.SrcPort)
	assert.Equal(t, uint16(8801), v.Tuple.DstPort)
	assert.Equal(t, model.ProtocolUDP, v.Tuple.Protocol)
	assert.Equal(t, uint16(8+len(payload)), v.UDPLength)

	assert.Equal(t, RTPFields{SSRC: 0x01020304, Timestamp: 1600, Sequence: 100, PayloadType: 112}, v.RTPHeader)
	assert.True(t, v.HasExt1)
	assert.Equal(t, [3]byte{0xaa, 0xbb, 0xcc}, v.Ext1)

	tag, ok := v.InnerTag()
	require.True(t, ok)
	assert.Equal(t, TagAudio, tag)
	tag, ok = v.OuterTag()
	require.True(t, ok)
	assert.Equal(t, TagServerMedia, tag)
}

func TestDissectOffsets(t *testing.T) {
	sr, err := zoomgen.SenderReport(0x0a0b0c0d, 90000, 0x1122334455667788)
	require.NoError(t, err)

	plainVideo := append(make([]byte, 20), rtpPacket(t, 7, nil)...)
	plainVideo[0] = TagVideo

	tests := []struct {
		name    string
		payload []byte
		p2p     bool
		outer   int
		rtp     int
		rtcp    int
	}{
		{"server audio", zoomgen.Server(zoomgen.FromServer, zoomgen.Audio(rtpPacket(t, 1, nil))), false, payloadOffset, payloadOffset + 8 + 19, Unset},
		{"p2p audio", zoomgen.Audio(rtpPacket(t, 1, nil)), true, Unset, payloadOffset + 19, Unset},
		{"outer tag on p2p flow", zoomgen.Server(zoomgen.ToServer, zoomgen.Audio(rtpPacket(t, 1, nil))), true, payloadOffset, payloadOffset + 8 + 19, Unset},
		{"video with hint", zoomgen.Video(rtpPacket(t, 1, nil), 3), true, Unset, payloadOffset + 24, Unset},
		{"server video with hint", zoomgen.Server(zoomgen.ToServer, zoomgen.Video(rtpPacket(t, 1, nil), 3)), false, payloadOffset, payloadOffset + 8 + 24, Unset},
		{"video without hint", plainVideo, true, Unset, payloadOffset + 20, Unset},
		{"p2p screen share", zoomgen.P2PScreenShare(rtpPacket(t, 1, nil)), true, Unset, payloadOffset + 20, Unset},
		{"p2p screen share on server flow", zoomgen.P2PScreenShare(rtpPacket(t, 1, nil)), false, Unset, Unset, Unset},
		{"server screen share", zoomgen.ServerScreenShare(zoomgen.FromServer, rtpPacket(t, 1, nil)), false, payloadOffset, payloadOffset + 35, Unset},
		{"server screen share on p2p flow", zoomgen.ServerScreenShare(zoomgen.FromServer, rtpPacket(t, 1, nil)), true, payloadOffset, Unset, Unset},
		{"server rtcp", zoomgen.Server(zoomgen.FromServer, zoomgen.RTCP(sr)), false, payloadOffset, Unset, payloadOffset + 8 + 16},
		{"unknown tag", []byte{0x42, 1, 2, 3, 4, 5, 6, 7, 8, 9}, false, Unset, Unset, Unset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Dissect(udpFrame(t, clientToServer, tt.payload), true, tt.p2p)
			require.NoError(t, err)
			assert.Equal(t, tt.outer, v.Outer, "outer")
			assert.Equal(t, tt.rtp, v.RTP, "rtp")
			assert.Equal(t, tt.rtcp, v.RTCP, "rtcp")
		})
	}
}

func TestDissectRTCPSenderReport(t *testing.T) {
	sr, err := zoomgen.SenderReport(0x0a0b0c0d, 90000, 0x1122334455667788)
	require.NoError(t, err)
	frame := udpFrame(t, clientToServer.Reverse(), zoomgen.Server(zoomgen.FromServer, zoomgen.RTCP(sr)))

	v, err := Dissect(frame, true, false)
	require.NoError(t, err)
	assert.Equal(t, RTCPFields{
		SSRC:         0x0a0b0c0d,
		PacketType:   200,
		RTPTimestamp: 90000,
		NTPMSW:       0x11223344,
		NTPLSW:       0x55667788,
	}, v.RTCPHeader)

	rec := NewRecord(v, model.Timeval{Sec: 5}, false)
	assert.True(t, rec.IsRTCP())
	assert.False(t, rec.IsRTP())
	assert.NotZero(t, rec.Flags&FlagFromSrv)
	assert.Equal(t, v.RTCPHeader, rec.RTCP)
}

func TestDissectNonUDP(t *testing.T) {
	frame, err := zoomgen.TCPFrame(zoomgen.Endpoints{SrcIP: "10.0.0.1", DstIP: "170.114.0.1", SrcPort: 40000, DstPort: 443}, []byte("hello"))
	require.NoError(t, err)

	v, err := Dissect(frame, true, false)
	require.NoError(t, err)
	assert.Equal(t, 14, v.IP)
	assert.False(t, v.IsUDP())
	assert.False(t, v.IsRTP())
	assert.Nil(t, v.PayloadBytes())

	ft, err := DecodeTuple(frame, true)
	require.NoError(t, err)
	assert.Equal(t, uint16(40000), ft.SrcPort)
	assert.Equal(t, uint16(443), ft.DstPort)
	assert.Equal(t, model.ProtocolTCP, ft.Protocol)
}

func TestDissectMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"outer header without inner tag", []byte{TagServerMedia, 0, 0, 0, 0, 0, 0, 0}},
		{"truncated audio", zoomgen.Server(zoomgen.ToServer, zoomgen.Audio([]byte{0x80}))},
		{"truncated video header", []byte{TagVideo, 0, 0}},
		{"truncated screen share header", zoomgen.Server(zoomgen.ToServer, []byte{TagServerScreenShare, 0})},
		{"truncated rtcp", zoomgen.RTCP([]byte{0x80, 200, 0, 6})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Dissect(udpFrame(t, clientToServer, tt.payload), true, false)
			assert.ErrorIs(t, err, ErrMalformedPacket)
		})
	}
}

func TestDissectTruncatedFrame(t *testing.T) {
	frame := udpFrame(t, clientToServer, zoomgen.Server(zoomgen.ToServer, zoomgen.Audio(rtpPacket(t, 1, nil))))

	_, err := Dissect(frame[:10], true, false)
	assert.ErrorIs(t, err, ErrMalformedPacket)

	_, err = Dissect(frame[:14+12], true, false)
	assert.ErrorIs(t, err, ErrMalformedPacket)

	// Snap-length cut inside the RTP header.
	_, err = Dissect(frame[:payloadOffset+8+19+4], true, false)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}

func TestDissectNotIPv4(t *testing.T) {
	frame := make([]byte, 60)
	copy(frame[6:12], zoomgen.DefaultSrcMAC)
	binary.BigEndian.PutUint16(frame[12:14], 0x0806)

	_, err := Dissect(frame, true, false)
	assert.ErrorIs(t, err, ErrNotIPv4)
	assert.True(t, IsSkippable(err))

	_, err = DecodeTuple(frame, true)
	assert.ErrorIs(t, err, ErrNotIPv4)
}

func TestDissectWithoutEthernet(t *testing.T) {
	frame := udpFrame(t, clientToServer, zoomgen.Audio(rtpPacket(t, 9, nil)))

	v, err := Dissect(frame[14:], false, true)
	require.NoError(t, err)
	assert.Equal(t, 0, v.IP)
	assert.Equal(t, 20+8+19, v.RTP)
	assert.Equal(t, uint16(9), v.RTPHeader.Sequence)
}

func TestDissectExtensionScannedWithOneByteLayout(t *testing.T) {
	// Two-byte profile (0x1000) with two 32-bit words of extension body.
	pkt := []byte{
		0x90, 112, 0x00, 0x01, // V=2 X=1, pt, seq
		0x00, 0x00, 0x06, 0x40, // rtp ts
		0x01, 0x02, 0x03, 0x04, // ssrc
		0x10, 0x00, 0x00, 0x02, // profile, length in words
		0x12, 0x03, 0xaa, 0xbb, 0xcc, 0x00, 0x00, 0x00,
	}
	pkt = append(pkt, make([]byte, 32)...)
	frame := udpFrame(t, clientToServer, zoomgen.Server(zoomgen.ToServer, zoomgen.Audio(pkt)))

	v, err := Dissect(frame, true, false)
	require.NoError(t, err)
	require.True(t, v.HasExt1)
	// 0x12 reads as id 1 with three bytes of data.
	assert.Equal(t, [3]byte{0x03, 0xaa, 0xbb}, v.Ext1)
	assert.Equal(t, uint32(1600), v.RTPHeader.Timestamp)
}
