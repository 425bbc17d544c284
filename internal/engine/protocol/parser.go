package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"ZoomSpectra/internal/core/model"
)

// RTPFields holds the RTP header fields the analysis needs.
type RTPFields struct {
	SSRC        uint32
	Timestamp   uint32
	Sequence    uint16
	PayloadType uint8
}

// RTCPFields holds the RTCP header fields the analysis needs. The sender report
// fields are only set for packet type 200.
type RTCPFields struct {
	SSRC         uint32
	PacketType   uint8
	RTPTimestamp uint32
	NTPMSW       uint32
	NTPLSW       uint32
}

// HeaderView locates the protocol headers of one frame. Offsets index into the frame and
// are Unset when the header is absent. The view references the frame and must not be
// used after the frame buffer is reused.
type HeaderView struct {
	frame []byte

	IP      int
	UDP     int
	Payload int
	Outer   int
	Inner   int
	RTP     int
	RTCP    int

	Tuple     model.FiveTuple
	UDPLength uint16

	RTPHeader  RTPFields
	RTCPHeader RTCPFields

	// Ext1 holds the 3 bytes of RTP header extension element 1 when HasExt1 is set.
	Ext1    [3]byte
	HasExt1 bool
}

func newHeaderView(frame []byte) *HeaderView {
	return &HeaderView{
		frame:   frame,
		IP:      Unset,
		UDP:     Unset,
		Payload: Unset,
		Outer:   Unset,
		Inner:   Unset,
		RTP:     Unset,
		RTCP:    Unset,
	}
}

// IsUDP reports whether the frame carries UDP.
func (v *HeaderView) IsUDP() bool { return v.UDP != Unset }

// IsRTP reports whether an RTP header was located.
func (v *HeaderView) IsRTP() bool { return v.RTP != Unset }

// IsRTCP reports whether an RTCP header was located.
func (v *HeaderView) IsRTCP() bool { return v.RTCP != Unset }

// PayloadBytes returns the UDP payload, or nil for non-UDP frames.
func (v *HeaderView) PayloadBytes() []byte {
	if v.Payload == Unset {
		return nil
	}
	end := v.Payload + int(v.UDPLength) - 8
	if v.UDPLength < 8 || end > len(v.frame) {
		end = len(v.frame)
	}
	return v.frame[v.Payload:end]
}

// OuterTag returns the server encapsulation tag.
func (v *HeaderView) OuterTag() (uint8, bool) {
	if v.Outer == Unset {
		return 0, false
	}
	return v.frame[v.Outer], true
}

// InnerTag returns the media encapsulation tag.
func (v *HeaderView) InnerTag() (uint8, bool) {
	if v.Inner == Unset {
		return 0, false
	}
	return v.frame[v.Inner], true
}

// decodeIPv4 decodes the optional Ethernet header and the IPv4 header of frame.
func decodeIPv4(frame []byte, hasEthernet bool) (*layers.IPv4, int, error) {
	off := 0
	if hasEthernet {
		var eth layers.Ethernet
		if err := eth.DecodeFromBytes(frame, gopacket.NilDecodeFeedback); err != nil {
			return nil, 0, fmt.Errorf("%w: ethernet: %v", ErrMalformedPacket, err)
		}
		if eth.EthernetType != layers.EthernetTypeIPv4 {
			return nil, 0, fmt.Errorf("%w: ethertype %s", ErrNotIPv4, eth.EthernetType)
		}
		off = len(eth.Contents)
	}
	if off >= len(frame) {
		return nil, 0, fmt.Errorf("%w: missing IPv4 header", ErrMalformedPacket)
	}
	if frame[off]>>4 != 4 {
		return nil, 0, fmt.Errorf("%w: ip version %d", ErrNotIPv4, frame[off]>>4)
	}
	ip := &layers.IPv4{}
	if err := ip.DecodeFromBytes(frame[off:], gopacket.NilDecodeFeedback); err != nil {
		return nil, 0, fmt.Errorf("%w: ipv4: %v", ErrMalformedPacket, err)
	}
	return ip, off, nil
}

// DecodeTuple extracts the 5-tuple of a TCP or UDP frame. Other IPv4 protocols yield a
// tuple with zero ports.
func DecodeTuple(frame []byte, hasEthernet bool) (model.FiveTuple, error) {
	ip, _, err := decodeIPv4(frame, hasEthernet)
	if err != nil {
		return model.FiveTuple{}, err
	}
	ft := model.FiveTuple{
		SrcIP:    model.IPv4FromBytes(ip.SrcIP),
		DstIP:    model.IPv4FromBytes(ip.DstIP),
		Protocol: uint8(ip.Protocol),
	}
	switch ip.Protocol {
	case layers.IPProtocolTCP, layers.IPProtocolUDP:
		// Both headers start with the two ports.
		if len(ip.Payload) < 4 {
			return model.FiveTuple{}, fmt.Errorf("%w: truncated transport header", ErrMalformedPacket)
		}
		ft.SrcPort = binary.BigEndian.Uint16(ip.Payload[0:2])
		ft.DstPort = binary.BigEndian.Uint16(ip.Payload[2:4])
	}
	return ft, nil
}

// Dissect locates the Zoom encapsulation and the RTP or RTCP header inside frame.
// The p2p flag selects between the p2p and server screen-share layouts; the outer
// header is recognised by its tag alone.
func Dissect(frame []byte, hasEthernet, p2p bool) (*HeaderView, error) {
	v := newHeaderView(frame)

	// 1. IPv4
	ip, off, err := decodeIPv4(frame, hasEthernet)
	if err != nil {
		return nil, err
	}
	v.IP = off
	v.Tuple = model.FiveTuple{
		SrcIP:    model.IPv4FromBytes(ip.SrcIP),
		DstIP:    model.IPv4FromBytes(ip.DstIP),
		Protocol: uint8(ip.Protocol),
	}
	if ip.Protocol != layers.IPProtocolUDP {
		return v, nil
	}

	// 2. UDP
	var udp layers.UDP
	if err := udp.DecodeFromBytes(ip.Payload, gopacket.NilDecodeFeedback); err != nil {
		return nil, fmt.Errorf("%w: udp: %v", ErrMalformedPacket, err)
	}
	v.UDP = off + len(ip.Contents)
	v.Payload = v.UDP + 8
	v.UDPLength = udp.Length
	v.Tuple.SrcPort = uint16(udp.SrcPort)
	v.Tuple.DstPort = uint16(udp.DstPort)

	pl := udp.Payload
	if len(pl) == 0 {
		return v, nil
	}

	// 3. Outer and inner encapsulation
	base := 0
	if pl[0] == TagServerMedia {
		v.Outer = v.Payload
		base = outerHeaderLen
	}
	tag, err := byteAt(pl, base, "inner tag")
	if err != nil {
		return nil, err
	}
	v.Inner = v.Payload + base

	rtpAt, rtcpAt := Unset, Unset
	switch {
	case tag == TagAudio:
		rtpAt = base + audioRTPOffset
	case tag == TagVideo:
		marker, err := byteAt(pl, base+videoRTPOffset, "video header")
		if err != nil {
			return nil, err
		}
		rtpAt = base + videoRTPOffset
		if marker == videoAltMarker {
			rtpAt = base + videoAltRTPOffset
		}
	case tag == TagP2PScreenShare && p2p:
		rtpAt = p2pScreenRTPOffset
	case tag == TagServerScreenShare && !p2p:
		sub, err := byteAt(pl, base+srvScreenTagByte, "screen share header")
		if err != nil {
			return nil, err
		}
		if sub == TagP2PScreenShare {
			rtpAt = srvScreenRTPOffset
		}
	case tag == TagRTCPSenderReport || tag == TagRTCPSenderReportDesc:
		rtcpAt = base + rtcpOffset
	}

	// 4. RTP / RTCP
	if rtpAt != Unset {
		if err := v.decodeRTP(pl, rtpAt); err != nil {
			return nil, err
		}
	}
	if rtcpAt != Unset {
		if err := v.decodeRTCP(pl, rtcpAt); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (v *HeaderView) decodeRTP(pl []byte, at int) error {
	if at+rtpFixedHeaderLen > len(pl) {
		return fmt.Errorf("%w: rtp header at %d beyond payload of %d bytes", ErrMalformedPacket, at, len(pl))
	}
	var h rtp.Header
	if _, err := h.Unmarshal(pl[at:]); err != nil {
		return fmt.Errorf("%w: rtp: %v", ErrMalformedPacket, err)
	}
	v.RTP = v.Payload + at
	v.RTPHeader = RTPFields{
		SSRC:        h.SSRC,
		Timestamp:   h.Timestamp,
		Sequence:    h.SequenceNumber,
		PayloadType: h.PayloadType,
	}
	if h.Extension {
		v.Ext1, v.HasExt1 = extensionElement1(&h, pl[at:])
	}
	return nil
}

// extensionElement1 returns extension element 1 when it is exactly 3 bytes long. Blocks
// of any profile other than one-byte are scanned with the one-byte id/length layout.
func extensionElement1(h *rtp.Header, pkt []byte) ([3]byte, bool) {
	var out [3]byte
	if h.ExtensionProfile == rtp.ExtensionProfileOneByte {
		if e := h.GetExtension(1); len(e) == 3 {
			copy(out[:], e)
			return out, true
		}
		return out, false
	}

	block := extensionBlock(h, pkt)
	for i := 0; i < len(block); {
		if block[i] == 0 {
			i++
			continue
		}
		id := block[i] >> 4
		n := int(block[i]&0x0f) + 1
		i++
		if i+n > len(block) {
			break
		}
		if id == 1 && n == 3 {
			copy(out[:], block[i:i+n])
			return out, true
		}
		i += n
	}
	return out, false
}

// extensionBlock returns the raw header extension body of pkt.
func extensionBlock(h *rtp.Header, pkt []byte) []byte {
	off := rtpFixedHeaderLen + 4*len(h.CSRC)
	if off+4 > len(pkt) {
		return nil
	}
	end := off + 4 + 4*int(binary.BigEndian.Uint16(pkt[off+2:]))
	if end > len(pkt) {
		return nil
	}
	return pkt[off+4 : end]
}

func (v *HeaderView) decodeRTCP(pl []byte, at int) error {
	if at+8 > len(pl) {
		return fmt.Errorf("%w: rtcp header at %d beyond payload of %d bytes", ErrMalformedPacket, at, len(pl))
	}
	var h rtcp.Header
	if err := h.Unmarshal(pl[at:]); err != nil {
		return fmt.Errorf("%w: rtcp: %v", ErrMalformedPacket, err)
	}
	v.RTCP = v.Payload + at
	v.RTCPHeader = RTCPFields{
		SSRC:       binary.BigEndian.Uint32(pl[at+4:]),
		PacketType: uint8(h.Type),
	}
	if h.Type == rtcp.TypeSenderReport {
		if at+20 > len(pl) {
			return fmt.Errorf("%w: truncated sender report", ErrMalformedPacket)
		}
		v.RTCPHeader.NTPMSW = binary.BigEndian.Uint32(pl[at+8:])
		v.RTCPHeader.NTPLSW = binary.BigEndian.Uint32(pl[at+12:])
		v.RTCPHeader.RTPTimestamp = binary.BigEndian.Uint32(pl[at+16:])
	}
	return nil
}

func byteAt(b []byte, i int, what string) (uint8, error) {
	if i >= len(b) {
		return 0, fmt.Errorf("%w: %s at %d beyond payload of %d bytes", ErrMalformedPacket, what, i, len(b))
	}
	return b[i], nil
}

// IsSkippable reports whether err only means the frame is outside the analysed traffic.
func IsSkippable(err error) bool {
	return errors.Is(err, ErrNotIPv4)
}
