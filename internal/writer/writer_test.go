package writer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	core "ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/engine/protocol"
	"ZoomSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTuple(t *testing.T) core.FiveTuple {
	t.Helper()
	src, err := core.ParseIPv4("192.168.1.10")
	require.NoError(t, err)
	dst, err := core.ParseIPv4("3.7.35.10")
	require.NoError(t, err)
	return core.FiveTuple{SrcIP: src, DstIP: dst, SrcPort: 50000, DstPort: 8801, Protocol: core.ProtocolUDP}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func TestCSVWriter(t *testing.T) {
	dir := t.TempDir()
	paths := map[string]string{
		KindFlows:    filepath.Join(dir, "flows.csv"),
		KindTypes:    filepath.Join(dir, "types.csv"),
		KindPackets:  filepath.Join(dir, "nested", "packets.csv"),
		KindMeetings: filepath.Join(dir, "meetings.csv"),
		KindRate:     "",
	}
	w, err := NewCSVWriter(paths)
	require.NoError(t, err)

	ft := testTuple(t)
	rows := []interface{}{
		model.FlowSummary{ID: 3, Tuple: ft, Type: "udp_server", Packets: 10, Bytes: 1200,
			Start: core.Timeval{Sec: 100, Usec: 5}, End: core.Timeval{Sec: 101}},
		model.TypeVolume{Mode: "p2p", Outer: model.NA, Inner: 16, Packets: 2, Bytes: 300},
		model.TypeVolume{Mode: "srv", Outer: 5, Inner: 15, Packets: 4, Bytes: 500},
		model.PacketLog{Record: protocol.Record{
			TS: core.Timeval{Sec: 100, Usec: 7}, Tuple: ft,
			Flags:     protocol.FlagSrv | protocol.FlagRTP,
			MediaType: protocol.TagAudio, UDPPayloadLen: 60,
			RTP:  protocol.RTPFields{SSRC: 42, PayloadType: 112, Sequence: 9, Timestamp: 960},
			Ext1: [3]byte{0x01, 0x02, 0x03},
		}, Dropped: true},
		model.MeetingStream{MeetingID: 1, UniqueStream: model.UniqueStream{
			StreamID: 7, StartSec: 100, EndSec: 160, Tuple: ft, ZoomType: 15, SSRC: 42,
			StartRTP: 960, EndRTP: 96000, Packets: 3000, Bytes: 180000, Audio112: 3000,
		}},
		// No rate file is configured.
		model.RateSample{Second: 100, TotalPackets: 1},
		"unrelated",
	}
	for _, row := range rows {
		require.NoError(t, w.Write(row))
	}
	require.NoError(t, w.Close())

	assert.Equal(t, []string{
		"flow_id,ip_proto,ip_src,tp_src,ip_dst,tp_dst,type,pkts,bytes,start_ts_tvs,start_ts_tvus,end_ts_tvs,end_ts_tvus",
		"3,17,192.168.1.10,50000,3.7.35.10,8801,udp_server,10,1200,100,5,101,0",
	}, readLines(t, paths[KindFlows]))

	assert.Equal(t, []string{
		"mode,outer_type,inner_type,pkts,bytes",
		"p2p,NA,16,2,300",
		"srv,5,15,4,500",
	}, readLines(t, paths[KindTypes]))

	packets := readLines(t, paths[KindPackets])
	require.Len(t, packets, 2)
	assert.Equal(t, "100,7,u,s,17,192.168.1.10,50000,3.7.35.10,8801,a,NA,42,112,9,960,60,0x010203,1", packets[1])

	meetings := readLines(t, paths[KindMeetings])
	require.Len(t, meetings, 2)
	assert.True(t, strings.HasPrefix(meetings[0], "meeting_id,stream_id,conn_type"))
	assert.Equal(t, "1,7,udp_srv,100,160,192.168.1.10,50000,3.7.35.10,8801,15,42,960,96000,3000,180000,3000,0,0", meetings[1])

	_, err = os.Stat(filepath.Join(dir, "rate.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestCSVWriterUnknownKind(t *testing.T) {
	_, err := NewCSVWriter(map[string]string{"bogus": filepath.Join(t.TempDir(), "x.csv")})
	assert.Error(t, err)
}

func TestClickHouseColumns(t *testing.T) {
	w := newClickHouseWriter(nil, 0)
	assert.Equal(t, 10000, w.batchSize)

	ft := testTuple(t)
	table, values := w.columns(model.FlowSummary{ID: 1, Tuple: ft, Type: "udp_p2p"})
	assert.Equal(t, tableFlows, table)
	require.Len(t, values, 13)
	assert.Equal(t, w.RunID(), values[0])
	assert.Equal(t, "192.168.1.10", values[4])
	assert.Equal(t, "3.7.35.10", values[6])
	assert.Equal(t, "udp_p2p", values[8])

	table, values = w.columns(model.StreamQuality{Tuple: ft, SSRC: 5, Media: "video", Failed: true})
	assert.Equal(t, tableQuality, table)
	require.Len(t, values, 22)
	assert.Equal(t, true, values[21])

	table, values = w.columns(model.MeetingStream{MeetingID: 2, UniqueStream: model.UniqueStream{P2P: true, Tuple: ft}})
	assert.Equal(t, tableMeetings, table)
	require.Len(t, values, 20)
	assert.Equal(t, "udp_p2p", values[4])

	table, _ = w.columns(model.RateSample{})
	assert.Empty(t, table)
}

func TestClickHouseBuffersBelowBatchSize(t *testing.T) {
	w := newClickHouseWriter(nil, 100)
	ft := testTuple(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, w.Write(model.FlowSummary{ID: uint32(i), Tuple: ft}))
	}
	require.NoError(t, w.Write(model.FrameLog{}))
	assert.Len(t, w.pending[tableFlows], 10)
	assert.Zero(t, w.written[tableFlows])
}
