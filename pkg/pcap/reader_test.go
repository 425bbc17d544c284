package pcap

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"ZoomSpectra/pkg/zoomgen"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCapture(t *testing.T, path string, link layers.LinkType, stamps ...int64) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, link))

	ep := zoomgen.Endpoints{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 5000, DstPort: 6000}
	for _, sec := range stamps {
		frame, err := zoomgen.UDPFrame(ep, []byte{1, 2, 3, 4})
		require.NoError(t, err)
		ci := gopacket.CaptureInfo{Timestamp: time.Unix(sec, 0), CaptureLength: len(frame), Length: len(frame)}
		require.NoError(t, w.WritePacket(ci, frame))
	}
}

func readAll(t *testing.T, r *Reader) []*Packet {
	t.Helper()
	var pkts []*Packet
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			return pkts
		}
		require.NoError(t, err)
		pkts = append(pkts, p)
	}
}

func TestReaderSingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.pcap")
	writeCapture(t, path, layers.LinkTypeEthernet, 100, 101)

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	pkts := readAll(t, r)
	require.Len(t, pkts, 2)
	assert.Equal(t, uint32(100), pkts[0].Timeval().Sec)
	assert.Equal(t, uint32(101), pkts[1].Timeval().Sec)
	assert.Equal(t, uint64(2), r.Count())
}

func TestReaderDirectoryOrder(t *testing.T) {
	dir := t.TempDir()
	writeCapture(t, filepath.Join(dir, "trace.pcap10"), layers.LinkTypeEthernet, 10)
	writeCapture(t, filepath.Join(dir, "trace.pcap2"), layers.LinkTypeEthernet, 2)
	writeCapture(t, filepath.Join(dir, "trace.pcap0"), layers.LinkTypeEthernet, 0)
	writeCapture(t, filepath.Join(dir, "trace.pcap1"), layers.LinkTypeEthernet, 1)

	files, err := Files(dir)
	require.NoError(t, err)
	var names []string
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	assert.Equal(t, []string{"trace.pcap0", "trace.pcap1", "trace.pcap2", "trace.pcap10"}, names)

	r, err := NewReader(dir)
	require.NoError(t, err)
	defer r.Close()

	var secs []uint32
	for _, p := range readAll(t, r) {
		secs = append(secs, p.Timeval().Sec)
	}
	assert.Equal(t, []uint32{0, 1, 2, 10}, secs)
}

func TestCompareNamesFallsBackToName(t *testing.T) {
	assert.Negative(t, compareNames("a.pcap", "b.pcap"))
	assert.Negative(t, compareNames("a.pcap9", "b.pcap1"))
	assert.Positive(t, compareNames("x.pcap11", "x.pcap3"))
}

func TestReaderRejectsNonEthernet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.pcap")
	writeCapture(t, path, layers.LinkTypeRaw, 1)

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	assert.ErrorIs(t, err, ErrUnsupportedLinkType)
}

func TestReaderEmptyDirectory(t *testing.T) {
	_, err := NewReader(t.TempDir())
	assert.Error(t, err)
}

func TestReadPackets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.pcap")
	writeCapture(t, path, layers.LinkTypeEthernet, 1, 2, 3)

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	out := make(chan *Packet, 8)
	require.NoError(t, r.ReadPackets(out))
	assert.Len(t, out, 3)
}
