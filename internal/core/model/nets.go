package model

import (
	"encoding/binary"
	"fmt"
	"net/netip"
)

type ipv4Net struct {
	addr uint32
	mask uint32
}

// ServerNets is the static table of conferencing-provider server networks.
type ServerNets struct {
	nets []ipv4Net
}

// NewServerNets parses a list of IPv4 CIDR blocks.
func NewServerNets(cidrs []string) (*ServerNets, error) {
	s := &ServerNets{nets: make([]ipv4Net, 0, len(cidrs))}
	for _, c := range cidrs {
		prefix, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("invalid server network %q: %w", c, err)
		}
		if !prefix.Addr().Is4() {
			return nil, fmt.Errorf("invalid server network %q: not IPv4", c)
		}
		b := prefix.Masked().Addr().As4()
		var mask uint32
		if bits := prefix.Bits(); bits > 0 {
			mask = ^uint32(0) << (32 - bits)
		}
		s.nets = append(s.nets, ipv4Net{addr: binary.BigEndian.Uint32(b[:]), mask: mask})
	}
	return s, nil
}

// Match reports whether ip (host order) belongs to one of the server networks.
func (s *ServerNets) Match(ip uint32) bool {
	if s == nil {
		return false
	}
	for _, n := range s.nets {
		if ip&n.mask == n.addr {
			return true
		}
	}
	return false
}

// Len returns the number of networks in the table.
func (s *ServerNets) Len() int {
	if s == nil {
		return 0
	}
	return len(s.nets)
}
