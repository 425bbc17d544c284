package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ZoomSpectra/internal/config"
	core "ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/model"
	"ZoomSpectra/internal/query"
	"ZoomSpectra/internal/snapshot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	w := snapshot.NewWriter(root)
	tuple := core.FiveTuple{SrcIP: 0xc0a8010a, DstIP: 0xd109d722, SrcPort: 50000, DstPort: 8801, Protocol: core.ProtocolUDP}
	rows := []interface{}{
		model.MeetingStream{MeetingID: 5, UniqueStream: model.UniqueStream{StreamID: 0, Tuple: tuple, SSRC: 11, StartSec: 100, EndSec: 200, Packets: 40, Bytes: 4000}},
		model.MeetingStream{MeetingID: 5, UniqueStream: model.UniqueStream{StreamID: 1, P2P: true, SSRC: 12, StartSec: 90, EndSec: 150, Packets: 10, Bytes: 900}},
		model.StreamQuality{Tuple: tuple, SSRC: 11, Media: "audio", Kind: "media", MeanJitter: -1, JitterP50: -1, JitterP95: -1, JitterP99: -1},
		model.StreamQuality{Tuple: tuple, SSRC: 12, Media: "video", Kind: "media", Failed: true},
	}
	for _, r := range rows {
		require.NoError(t, w.Write(r))
	}
	require.NoError(t, w.Close())
	return root
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestReportRoutes(t *testing.T) {
	r := NewRouter(query.NewSnapshotQuerier(fixture(t)))

	rec := get(t, r, "/api/v1/summary")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary snapshot.SummaryData
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.Meetings)
	assert.Equal(t, 2, summary.MeetingStreams)
	assert.Equal(t, 1, summary.FailedStreams)

	rec = get(t, r, "/api/v1/meetings")
	require.Equal(t, http.StatusOK, rec.Code)
	var meetings []meetingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meetings))
	require.Len(t, meetings, 1)
	assert.Equal(t, uint32(90), meetings[0].StartSec)
	assert.Equal(t, uint32(200), meetings[0].EndSec)
	assert.Equal(t, 1, meetings[0].P2PStreams)
	assert.Equal(t, uint64(50), meetings[0].Packets)
	assert.Empty(t, meetings[0].Streams)

	rec = get(t, r, "/api/v1/meetings/5")
	require.Equal(t, http.StatusOK, rec.Code)
	var meeting meetingView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meeting))
	require.Len(t, meeting.Streams, 2)
	assert.Equal(t, "192.168.1.10", meeting.Streams[0].SrcIP)
	assert.Equal(t, "udp_srv", meeting.Streams[0].ConnType)
	assert.Equal(t, "udp_p2p", meeting.Streams[1].ConnType)

	assert.Equal(t, http.StatusNotFound, get(t, r, "/api/v1/meetings/6").Code)
	assert.Equal(t, http.StatusNotFound, get(t, r, "/api/v1/meetings/abc").Code)
}

func TestStreamsRoute(t *testing.T) {
	r := NewRouter(query.NewSnapshotQuerier(fixture(t)))

	tests := []struct {
		path  string
		code  int
		ssrcs []uint32
	}{
		{"/api/v1/streams", http.StatusOK, []uint32{11, 12}},
		{"/api/v1/streams?media=audio", http.StatusOK, []uint32{11}},
		{"/api/v1/streams?failed=true", http.StatusOK, []uint32{12}},
		{"/api/v1/streams?ssrc=0xc", http.StatusOK, []uint32{12}},
		{"/api/v1/streams?ssrc=x", http.StatusBadRequest, nil},
		{"/api/v1/streams?failed=maybe", http.StatusBadRequest, nil},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := get(t, r, tt.path)
			require.Equal(t, tt.code, rec.Code)
			if tt.code != http.StatusOK {
				return
			}
			var streams []qualityView
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &streams))
			var ssrcs []uint32
			for _, s := range streams {
				ssrcs = append(ssrcs, s.SSRC)
			}
			assert.Equal(t, tt.ssrcs, ssrcs)
		})
	}
}

func TestRoutesWithoutSnapshot(t *testing.T) {
	r := NewRouter(query.NewSnapshotQuerier(t.TempDir()))
	assert.Equal(t, http.StatusNotFound, get(t, r, "/api/v1/summary").Code)
	assert.Equal(t, http.StatusOK, get(t, r, "/healthz").Code)
}

type failingQuerier struct{ query.Querier }

func (failingQuerier) Summary(context.Context) (*snapshot.SummaryData, error) {
	return nil, errors.New("connection refused")
}

func TestSummaryBackendError(t *testing.T) {
	r := NewRouter(failingQuerier{})
	rec := get(t, r, "/api/v1/summary")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

func TestMetrics(t *testing.T) {
	r := NewRouter(query.NewSnapshotQuerier(fixture(t)))
	get(t, r, "/api/v1/summary")
	get(t, r, "/api/v1/meetings/9")

	rec := get(t, r, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "zoomspectra_meetings 1")
	assert.Contains(t, body, "zoomspectra_failed_streams 1")
	assert.Contains(t, body, `zoomspectra_api_requests_total{code="200",route="/api/v1/summary"} 1`)
	assert.Contains(t, body, `zoomspectra_api_requests_total{code="404",route="/api/v1/meetings/{id:[0-9]+}"} 1`)
}

func TestNewQuerier(t *testing.T) {
	q, err := NewQuerier(config.APIConfig{Source: "snapshot", SnapshotPath: t.TempDir()})
	require.NoError(t, err)
	assert.NotNil(t, q)

	_, err = NewQuerier(config.APIConfig{Source: "influx"})
	assert.Error(t, err)
}
