// Package zoomgen builds synthetic Zoom frames: Ethernet/IPv4/UDP carrying the
// server or p2p encapsulation around RTP and RTCP packets.
package zoomgen

import (
	"fmt"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/stun"
)

// Direction is byte 7 of the server encapsulation header.
type Direction byte

const (
	ToServer   Direction = 0x00
	FromServer Direction = 0x04
)

// Encapsulation tags.
const (
	tagServerMedia      = 0x05
	tagAudio            = 0x0f
	tagVideo            = 0x10
	tagServerScreen     = 0x0d
	tagP2PScreen        = 0x1e
	tagRTCPSenderReport = 0x21
)

var (
	DefaultSrcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	DefaultDstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Endpoints addresses a synthetic frame. SrcMAC defaults to DefaultSrcMAC.
type Endpoints struct {
	SrcIP   string
	DstIP   string
	SrcPort uint16
	DstPort uint16
	SrcMAC  net.HardwareAddr
}

// Reverse swaps the two endpoints.
func (e Endpoints) Reverse() Endpoints {
	return Endpoints{SrcIP: e.DstIP, DstIP: e.SrcIP, SrcPort: e.DstPort, DstPort: e.SrcPort, SrcMAC: e.SrcMAC}
}

func (e Endpoints) layers(proto layers.IPProtocol) (*layers.Ethernet, *layers.IPv4, error) {
	src := net.ParseIP(e.SrcIP).To4()
	dst := net.ParseIP(e.DstIP).To4()
	if src == nil || dst == nil {
		return nil, nil, fmt.Errorf("invalid IPv4 endpoints %q -> %q", e.SrcIP, e.DstIP)
	}
	mac := e.SrcMAC
	if mac == nil {
		mac = DefaultSrcMAC
	}
	eth := &layers.Ethernet{SrcMAC: mac, DstMAC: DefaultDstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Protocol: proto, SrcIP: src, DstIP: dst}
	return eth, ip, nil
}

// UDPFrame serializes an Ethernet/IPv4/UDP frame around payload.
func UDPFrame(ep Endpoints, payload []byte) ([]byte, error) {
	eth, ip, err := ep.layers(layers.IPProtocolUDP)
	if err != nil {
		return nil, err
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(ep.SrcPort), DstPort: layers.UDPPort(ep.DstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	return serialize(eth, ip, udp, gopacket.Payload(payload))
}

// TCPFrame serializes an Ethernet/IPv4/TCP frame around payload.
func TCPFrame(ep Endpoints, payload []byte) ([]byte, error) {
	eth, ip, err := ep.layers(layers.IPProtocolTCP)
	if err != nil {
		return nil, err
	}
	tcp := &layers.TCP{SrcPort: layers.TCPPort(ep.SrcPort), DstPort: layers.TCPPort(ep.DstPort), ACK: true, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	return serialize(eth, ip, tcp, gopacket.Payload(payload))
}

func serialize(ls ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return nil, fmt.Errorf("failed to serialize frame: %w", err)
	}
	return buf.Bytes(), nil
}

// RTP builds an RTP packet with a small dummy body. A non-nil ext is carried as
// one-byte header extension element 1.
func RTP(seq uint16, ts, ssrc uint32, pt uint8, ext []byte) ([]byte, error) {
	h := rtp.Header{Version: 2, PayloadType: pt, SequenceNumber: seq, Timestamp: ts, SSRC: ssrc}
	if ext != nil {
		h.Extension = true
		h.ExtensionProfile = rtp.ExtensionProfileOneByte
		if err := h.SetExtension(1, ext); err != nil {
			return nil, fmt.Errorf("failed to set rtp extension: %w", err)
		}
	}
	hdr, err := h.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rtp header: %w", err)
	}
	return append(hdr, make([]byte, 32)...), nil
}

// SenderReport builds an RTCP sender report.
func SenderReport(ssrc, rtpTS uint32, ntp uint64) ([]byte, error) {
	sr := rtcp.SenderReport{SSRC: ssrc, NTPTime: ntp, RTPTime: rtpTS, PacketCount: 1, OctetCount: 100}
	return sr.Marshal()
}

// StunBindingRequest builds a STUN binding request.
func StunBindingRequest() ([]byte, error) {
	msg, err := stun.Build(stun.TransactionID, stun.BindingRequest)
	if err != nil {
		return nil, err
	}
	return msg.Raw, nil
}

// Server wraps inner in the 8-byte server media header.
func Server(dir Direction, inner []byte) []byte {
	outer := make([]byte, 8, 8+len(inner))
	outer[0] = tagServerMedia
	outer[7] = byte(dir)
	return append(outer, inner...)
}

func tagged(tag byte, size int, body []byte) []byte {
	b := make([]byte, size, size+len(body))
	b[0] = tag
	return append(b, body...)
}

// Audio places an RTP packet behind the 19-byte audio header.
func Audio(pkt []byte) []byte { return tagged(tagAudio, 19, pkt) }

// Video places an RTP packet behind the 24-byte video header carrying the
// packets-in-frame hint.
func Video(pkt []byte, pktsInFrame uint8) []byte {
	b := tagged(tagVideo, 24, pkt)
	b[20] = 0x02
	b[23] = pktsInFrame
	return b
}

// P2PScreenShare places an RTP packet behind the 20-byte p2p screen-share header.
func P2PScreenShare(pkt []byte) []byte { return tagged(tagP2PScreen, 20, pkt) }

// ServerScreenShare returns a full server payload with the RTP packet at offset 35.
func ServerScreenShare(dir Direction, pkt []byte) []byte {
	inner := tagged(tagServerScreen, 27, pkt)
	inner[7] = tagP2PScreen
	return Server(dir, inner)
}

// RTCP places an RTCP packet behind the 16-byte RTCP header.
func RTCP(pkt []byte) []byte { return tagged(tagRTCPSenderReport, 16, pkt) }
