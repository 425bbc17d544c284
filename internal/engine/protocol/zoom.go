package protocol

import "errors"

// Encapsulation tags found at the start of the outer and inner Zoom headers.
const (
	TagServerMedia          uint8 = 0x05
	TagAudio                uint8 = 0x0f
	TagVideo                uint8 = 0x10
	TagServerScreenShare    uint8 = 0x0d
	TagP2PScreenShare       uint8 = 0x1e
	TagRTCPSenderReport     uint8 = 0x21
	TagRTCPSenderReportDesc uint8 = 0x22
)

// Server direction byte (outer header byte 7).
const (
	DirToServer   uint8 = 0x00
	DirFromServer uint8 = 0x04
)

// Header offsets relative to the UDP payload.
const (
	outerHeaderLen       = 8
	audioRTPOffset       = 19
	videoRTPOffset       = 20
	videoAltRTPOffset    = 24
	videoAltMarker       = 0x02
	videoPktsInFrameByte = 23
	p2pScreenRTPOffset   = 20
	srvScreenTagByte     = 7
	srvScreenRTPOffset   = 35
	rtcpOffset           = 16
	rtpFixedHeaderLen    = 12
)

// Unset marks an offset that is not present in a HeaderView.
const Unset = -1

var (
	// ErrMalformedPacket is returned when a header would be read past the end of the frame
	// or a required header is invalid.
	ErrMalformedPacket = errors.New("malformed packet")
	// ErrNotIPv4 is returned for frames that do not carry IPv4.
	ErrNotIPv4 = errors.New("not an IPv4 packet")
)
