package model

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"time"
)

// IP protocol numbers used by the classifier.
const (
	ProtocolTCP uint8 = 6
	ProtocolUDP uint8 = 17
)

// Endpoint is one side of a transport connection. The IP is in host byte order.
type Endpoint struct {
	IP   uint32
	Port uint16
}

// Less orders endpoints by IP, then port.
func (e Endpoint) Less(o Endpoint) bool {
	if e.IP != o.IP {
		return e.IP < o.IP
	}
	return e.Port < o.Port
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", IPv4ToString(e.IP), e.Port)
}

// FiveTuple represents the 5-tuple of an IPv4 packet. Addresses are in host byte order.
type FiveTuple struct {
	SrcIP    uint32
	DstIP    uint32
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Src returns the source endpoint.
func (ft FiveTuple) Src() Endpoint { return Endpoint{IP: ft.SrcIP, Port: ft.SrcPort} }

// Dst returns the destination endpoint.
func (ft FiveTuple) Dst() Endpoint { return Endpoint{IP: ft.DstIP, Port: ft.DstPort} }

// Reverse swaps source and destination.
func (ft FiveTuple) Reverse() FiveTuple {
	return FiveTuple{
		SrcIP:    ft.DstIP,
		DstIP:    ft.SrcIP,
		SrcPort:  ft.DstPort,
		DstPort:  ft.SrcPort,
		Protocol: ft.Protocol,
	}
}

// Canonical returns the direction-insensitive form of the tuple: the lower endpoint first.
// Both directions of a connection map to the same canonical tuple.
func (ft FiveTuple) Canonical() FiveTuple {
	if ft.Dst().Less(ft.Src()) {
		return ft.Reverse()
	}
	return ft
}

// String renders the tuple as "proto,ip_src,tp_src,ip_dst,tp_dst", the column order of the CSV reports.
func (ft FiveTuple) String() string {
	return fmt.Sprintf("%d,%s,%d,%s,%d", ft.Protocol, IPv4ToString(ft.SrcIP), ft.SrcPort, IPv4ToString(ft.DstIP), ft.DstPort)
}

// IPv4FromBytes reads a big-endian IPv4 address into host order.
func IPv4FromBytes(b []byte) uint32 {
	return binary.BigEndian.Uint32(b[:4])
}

// IPv4ToString formats a host-order IPv4 address in dotted notation.
func IPv4ToString(ip uint32) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], ip)
	return netip.AddrFrom4(b).String()
}

// ParseIPv4 parses a dotted IPv4 address into host order.
func ParseIPv4(s string) (uint32, error) {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0, fmt.Errorf("invalid IPv4 address %q: %w", s, err)
	}
	if !addr.Is4() {
		return 0, fmt.Errorf("invalid IPv4 address %q: not IPv4", s)
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:]), nil
}

// Timeval is a capture timestamp with microsecond resolution.
type Timeval struct {
	Sec  uint32
	Usec uint32
}

// TimevalFromTime converts a wall-clock time into a Timeval.
func TimevalFromTime(t time.Time) Timeval {
	return Timeval{Sec: uint32(t.Unix()), Usec: uint32(t.Nanosecond() / 1000)}
}

// Time converts the Timeval back into a time.Time.
func (tv Timeval) Time() time.Time {
	return time.Unix(int64(tv.Sec), int64(tv.Usec)*1000)
}

// Compare returns -1, 0 or +1 depending on whether tv is before, equal to or after o.
func (tv Timeval) Compare(o Timeval) int {
	switch {
	case tv.Sec < o.Sec:
		return -1
	case tv.Sec > o.Sec:
		return 1
	case tv.Usec < o.Usec:
		return -1
	case tv.Usec > o.Usec:
		return 1
	}
	return 0
}

// Before reports whether tv is strictly earlier than o.
func (tv Timeval) Before(o Timeval) bool { return tv.Compare(o) < 0 }

// After reports whether tv is strictly later than o.
func (tv Timeval) After(o Timeval) bool { return tv.Compare(o) > 0 }

// IsZero reports whether the timestamp is unset.
func (tv Timeval) IsZero() bool { return tv.Sec == 0 && tv.Usec == 0 }

// Sub returns the duration tv-o.
func (tv Timeval) Sub(o Timeval) time.Duration {
	sec := int64(tv.Sec) - int64(o.Sec)
	usec := int64(tv.Usec) - int64(o.Usec)
	return time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond
}
