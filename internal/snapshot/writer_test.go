package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	core "ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stream(id int64, ssrc uint32, pkts uint64) model.UniqueStream {
	return model.UniqueStream{
		StreamID: id,
		SSRC:     ssrc,
		Tuple:    core.FiveTuple{SrcIP: 0x0a000001, DstIP: 0xcbcb8701, SrcPort: 5000, DstPort: 8801, Protocol: core.ProtocolUDP},
		Packets:  pkts,
		Bytes:    pkts * 100,
	}
}

func TestWriterRoundTrip(t *testing.T) {
	root := t.TempDir()
	w := NewWriter(root)

	require.NoError(t, w.Write(model.MeetingStream{MeetingID: 2, UniqueStream: stream(0, 11, 20)}))
	require.NoError(t, w.Write(model.MeetingStream{MeetingID: 1, UniqueStream: stream(1, 12, 30)}))
	require.NoError(t, w.Write(model.MeetingStream{MeetingID: 2, UniqueStream: stream(2, 13, 40)}))
	require.NoError(t, w.Write(model.StreamQuality{SSRC: 11, Media: "video", Failed: true}))
	require.NoError(t, w.Write(model.RateSample{Second: 1}))
	require.NoError(t, w.Close())

	dir, err := Latest(root)
	require.NoError(t, err)
	assert.Equal(t, w.Dir(), dir)

	snap, err := Load(dir)
	require.NoError(t, err)

	require.Len(t, snap.Meetings, 2)
	assert.Equal(t, uint32(2), snap.Meetings[0].ID)
	require.Len(t, snap.Meetings[0].Streams, 2)
	assert.Equal(t, uint32(13), snap.Meetings[0].Streams[1].SSRC)
	assert.Equal(t, uint32(1), snap.Meetings[1].ID)

	require.Len(t, snap.Streams, 1)
	assert.True(t, snap.Streams[0].Failed)

	assert.Equal(t, 2, snap.Summary.Meetings)
	assert.Equal(t, 3, snap.Summary.MeetingStreams)
	assert.Equal(t, 1, snap.Summary.FailedStreams)
	assert.Equal(t, uint64(90), snap.Summary.TotalPackets)
	assert.Equal(t, uint64(9000), snap.Summary.TotalBytes)
}

func TestWriterSkipsEmptyRun(t *testing.T) {
	root := filepath.Join(t.TempDir(), "snapshots")
	w := NewWriter(root)
	require.NoError(t, w.Write(model.RateSample{}))
	require.NoError(t, w.Close())

	assert.Empty(t, w.Dir())
	_, err := os.Stat(root)
	assert.True(t, os.IsNotExist(err))

	_, err = Latest(root)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestLatestIgnoresIncompleteDirectories(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "9999-01-01_00-00-00_partial"), 0755))

	_, err := Latest(root)
	assert.ErrorIs(t, err, ErrNoSnapshot)
}
