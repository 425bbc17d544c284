package probe

import (
	"errors"
	"testing"

	"ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/engine/protocol"
	reportmodel "ZoomSpectra/internal/model"
	"ZoomSpectra/internal/probe/persistent"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	msgs    []*nats.Msg
	fail    error
	flushed bool
	drained bool
}

func (c *fakeConn) PublishMsg(m *nats.Msg) error {
	if c.fail != nil {
		return c.fail
	}
	c.msgs = append(c.msgs, m)
	return nil
}

func (c *fakeConn) Flush() error { c.flushed = true; return nil }
func (c *fakeConn) Drain() error { c.drained = true; return nil }

func record(seq uint16) protocol.Record {
	return protocol.Record{
		TS:    model.Timeval{Sec: 1600000000, Usec: uint32(seq)},
		Tuple: model.FiveTuple{SrcIP: 1, DstIP: 2, SrcPort: 3, DstPort: 8801, Protocol: model.ProtocolUDP},
		Flags: protocol.FlagSrv | protocol.FlagRTP,
		RTP:   protocol.RTPFields{SSRC: 7, Sequence: seq, PayloadType: 112},
	}
}

func TestPublisherBatchesAndEndsStream(t *testing.T) {
	nc := &fakeConn{}
	p := newPublisher(nc, "zoom.records", 4)

	for i := uint16(0); i < 10; i++ {
		rec := record(i)
		require.NoError(t, p.Publish(&rec))
	}
	assert.Len(t, nc.msgs, 2)
	require.NoError(t, p.Close())
	assert.True(t, nc.flushed)
	assert.True(t, nc.drained)
	assert.Equal(t, uint64(10), p.Published())

	// two full batches, the remainder, then the marker
	require.Len(t, nc.msgs, 4)
	var got []protocol.Record
	for _, m := range nc.msgs[:3] {
		assert.Equal(t, "zoom.records", m.Subject)
		assert.Equal(t, p.RunID(), m.Header.Get(HeaderRunID))
		assert.Empty(t, m.Header.Get(HeaderEOS))
		recs, err := DecodeBatch(m.Data)
		require.NoError(t, err)
		got = append(got, recs...)
	}
	require.Len(t, got, 10)
	for i, rec := range got {
		assert.Equal(t, record(uint16(i)), rec)
	}
	eos := nc.msgs[3]
	assert.Equal(t, "1", eos.Header.Get(HeaderEOS))
	assert.Empty(t, eos.Data)
}

func TestPublisherEnqueueKeepsFirstError(t *testing.T) {
	nc := &fakeConn{fail: errors.New("no responders")}
	p := newPublisher(nc, "zoom.records", 1)

	c := &persistent.Container{Record: record(1)}
	p.Enqueue(c)
	p.Enqueue(c)
	err := p.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no responders")
	assert.Zero(t, p.Published())
}

func TestDecodeBatchRejectsPartialRecord(t *testing.T) {
	_, err := DecodeBatch(make([]byte, protocol.RecordSize+3))
	assert.ErrorIs(t, err, protocol.ErrMalformedPacket)

	recs, err := DecodeBatch(nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSummaryWriterEvents(t *testing.T) {
	nc := &fakeConn{}
	w := newSummaryWriter(nc, "zoom.summary")

	rows := []interface{}{
		reportmodel.MeetingStream{MeetingID: 9, UniqueStream: reportmodel.UniqueStream{SSRC: 1, StartSec: 100, EndSec: 160, Packets: 10, Bytes: 1000}},
		reportmodel.StreamQuality{SSRC: 1},
		reportmodel.MeetingStream{MeetingID: 9, UniqueStream: reportmodel.UniqueStream{SSRC: 2, P2P: true, StartSec: 90, EndSec: 150, Packets: 5, Bytes: 500}},
		reportmodel.MeetingStream{MeetingID: 3, UniqueStream: reportmodel.UniqueStream{SSRC: 4, StartSec: 200, EndSec: 210, Packets: 1, Bytes: 80}},
	}
	for _, r := range rows {
		require.NoError(t, w.Write(r))
	}

	events, err := w.Events()
	require.NoError(t, err)
	require.Len(t, events, 2)

	first := events[0].AsMap()
	assert.Equal(t, float64(9), first["meeting_id"])
	assert.Equal(t, float64(2), first["streams"])
	assert.Equal(t, float64(1), first["p2p_streams"])
	assert.Equal(t, float64(15), first["packets"])
	assert.Equal(t, float64(1500), first["bytes"])
	assert.Equal(t, float64(70), first["duration_s"])
	assert.Equal(t, "1970-01-01T00:01:30Z", first["start"])
	assert.Equal(t, "1970-01-01T00:02:40Z", first["end"])
	assert.Equal(t, []interface{}{float64(1), float64(2)}, first["ssrcs"])
	assert.Equal(t, float64(3), events[1].AsMap()["meeting_id"])

	require.NoError(t, w.Close())
	require.Len(t, nc.msgs, 2)
	ev, err := DecodeSummary(nc.msgs[1].Data)
	require.NoError(t, err)
	assert.Equal(t, float64(3), ev.AsMap()["meeting_id"])
	assert.True(t, nc.drained)
}

func TestSummaryWriterDrainsOnPublishError(t *testing.T) {
	nc := &fakeConn{fail: errors.New("connection closed")}
	w := newSummaryWriter(nc, "zoom.summary")
	require.NoError(t, w.Write(reportmodel.MeetingStream{MeetingID: 1, UniqueStream: reportmodel.UniqueStream{SSRC: 1}}))

	err := w.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish summary")
	assert.True(t, nc.drained)
	assert.False(t, nc.flushed)
}
