package persistent

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/engine/protocol"
	"ZoomSpectra/pkg/pcap"
	"ZoomSpectra/pkg/zoomgen"

	"github.com/google/gopacket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func container(t *testing.T, seq uint16) *Container {
	t.Helper()
	frame, err := zoomgen.UDPFrame(zoomgen.Endpoints{SrcIP: "10.0.0.1", DstIP: "10.0.0.2", SrcPort: 1, DstPort: 2}, []byte{0x05})
	require.NoError(t, err)
	ts := time.Unix(1600000000+int64(seq), 0)
	return &Container{
		Packet: &pcap.Packet{Data: frame, Info: gopacket.CaptureInfo{Timestamp: ts, CaptureLength: len(frame), Length: len(frame)}},
		Record: protocol.Record{
			TS:    model.TimevalFromTime(ts),
			Flags: protocol.FlagSrv | protocol.FlagRTP,
			RTP:   protocol.RTPFields{SSRC: 7, Sequence: seq},
		},
	}
}

func TestZpktWorkerPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "trace.zpkt")
	w, err := NewWorker(Options{Path: path, Encoding: EncodingZpkt, BufferSize: 2})
	require.NoError(t, err)

	for seq := uint16(0); seq < 100; seq++ {
		w.Enqueue(container(t, seq))
	}
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
	assert.Equal(t, uint64(100), w.Written())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rr := protocol.NewRecordReader(f)
	var rec protocol.Record
	for seq := uint16(0); seq < 100; seq++ {
		require.NoError(t, rr.Next(&rec))
		assert.Equal(t, seq, rec.RTP.Sequence)
	}
	assert.True(t, errors.Is(rr.Next(&rec), io.EOF))
}

func TestPcapWorker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filtered.pcap")
	w, err := NewWorker(Options{Path: path, Encoding: EncodingPcap})
	require.NoError(t, err)
	w.Enqueue(container(t, 1))
	w.Enqueue(container(t, 2))
	require.NoError(t, w.Stop())

	r, err := pcap.NewReader(path)
	require.NoError(t, err)
	defer r.Close()
	var secs []uint32
	for {
		p, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		secs = append(secs, p.Timeval().Sec)
	}
	assert.Equal(t, []uint32{1600000001, 1600000002}, secs)
}

func TestTextWorker(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.log")
	w, err := NewWorker(Options{Path: path, Encoding: EncodingText})
	require.NoError(t, err)
	w.Enqueue(container(t, 3))
	require.NoError(t, w.Stop())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "1600000003.000000 "))
	assert.Contains(t, string(data), "seq=3")
}

func TestUnknownEncoding(t *testing.T) {
	_, err := NewWorker(Options{Path: filepath.Join(t.TempDir(), "x"), Encoding: "gob"})
	assert.Error(t, err)
}
