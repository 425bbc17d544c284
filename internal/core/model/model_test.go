package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustIP(t *testing.T, s string) uint32 {
	t.Helper()
	ip, err := ParseIPv4(s)
	require.NoError(t, err)
	return ip
}

func TestFiveTupleCanonical(t *testing.T) {
	a := FiveTuple{SrcIP: mustIP(t, "10.0.0.2"), DstIP: mustIP(t, "10.0.0.1"), SrcPort: 5000, DstPort: 8801, Protocol: ProtocolUDP}
	b := a.Reverse()

	assert.Equal(t, a.Canonical(), b.Canonical())
	assert.Equal(t, b, a.Canonical())
	assert.Equal(t, "17,10.0.0.2,5000,10.0.0.1,8801", a.String())
}

func TestFiveTupleCanonicalSameIP(t *testing.T) {
	ip := mustIP(t, "192.168.1.1")
	ft := FiveTuple{SrcIP: ip, DstIP: ip, SrcPort: 9000, DstPort: 80, Protocol: ProtocolTCP}
	assert.Equal(t, uint16(80), ft.Canonical().SrcPort)
}

func TestParseIPv4(t *testing.T) {
	ip, err := ParseIPv4("1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x01020304), ip)
	assert.Equal(t, "1.2.3.4", IPv4ToString(ip))

	_, err = ParseIPv4("::1")
	assert.Error(t, err)
	_, err = ParseIPv4("not-an-ip")
	assert.Error(t, err)
}

func TestTimeval(t *testing.T) {
	a := Timeval{Sec: 10, Usec: 900000}
	b := Timeval{Sec: 11, Usec: 100000}

	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.Equal(t, 200*time.Millisecond, b.Sub(a))
	assert.Equal(t, -200*time.Millisecond, a.Sub(b))
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, a, TimevalFromTime(a.Time()))
}

func TestServerNets(t *testing.T) {
	nets, err := NewServerNets([]string{"13.52.6.128/25", "209.9.215.0/24"})
	require.NoError(t, err)
	assert.Equal(t, 2, nets.Len())

	tests := []struct {
		ip   string
		want bool
	}{
		{"13.52.6.140", true},
		{"13.52.6.127", false},
		{"209.9.215.34", true},
		{"209.9.216.1", false},
		{"192.168.1.10", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, nets.Match(mustIP(t, tt.ip)), tt.ip)
	}

	_, err = NewServerNets([]string{"2001:db8::/32"})
	assert.Error(t, err)
	_, err = NewServerNets([]string{"bogus"})
	assert.Error(t, err)

	var empty *ServerNets
	assert.False(t, empty.Match(1))
}
