package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"ZoomSpectra/internal/config"
	core "ZoomSpectra/internal/core/model"
	"ZoomSpectra/internal/model"
	"ZoomSpectra/internal/snapshot"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
)

// clickhouseQuerier implements the Querier interface over the tables of the ClickHouse
// writer, always answering from the most recent run of each table.
type clickhouseQuerier struct {
	conn clickhouse.Conn
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn}, nil
}

func connect(cfg config.ClickHouseConfig) (clickhouse.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

func (q *clickhouseQuerier) latestRun(ctx context.Context, table string) (uuid.UUID, time.Time, error) {
	var runID uuid.UUID
	var runTime time.Time
	row := q.conn.QueryRow(ctx, "SELECT RunID, RunTime FROM "+table+" ORDER BY RunTime DESC LIMIT 1")
	if err := row.Scan(&runID, &runTime); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, time.Time{}, snapshot.ErrNoSnapshot
		}
		return uuid.Nil, time.Time{}, fmt.Errorf("failed to find latest run in %s: %w", table, err)
	}
	return runID, runTime, nil
}

func ipFromNet(ip net.IP) uint32 {
	if v4 := ip.To4(); v4 != nil {
		return core.IPv4FromBytes(v4)
	}
	return 0
}

func (q *clickhouseQuerier) meetings(ctx context.Context, where string, args ...interface{}) ([]snapshot.Meeting, error) {
	runID, _, err := q.latestRun(ctx, "zoom_meeting_streams")
	if err != nil {
		return nil, err
	}

	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT
			MeetingID, StreamID, ConnType, StartTime, EndTime, SrcIP, SrcPort, DstIP, DstPort,
			ZoomType, SSRC, StartRTP, EndRTP, PacketCount, ByteCount, Audio112, Audio99, Audio113
		FROM zoom_meeting_streams
		WHERE RunID = ?`)
	if where != "" {
		queryBuilder.WriteString(" AND " + where)
	}
	queryBuilder.WriteString(" ORDER BY MeetingID, StartTime, StreamID")

	rows, err := q.conn.Query(ctx, queryBuilder.String(), append([]interface{}{runID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	var out []snapshot.Meeting
	for rows.Next() {
		var (
			meetingID    uint32
			s            model.UniqueStream
			connType     string
			start, end   time.Time
			srcIP, dstIP net.IP
		)
		if err := rows.Scan(&meetingID, &s.StreamID, &connType, &start, &end, &srcIP, &s.Tuple.SrcPort,
			&dstIP, &s.Tuple.DstPort, &s.ZoomType, &s.SSRC, &s.StartRTP, &s.EndRTP, &s.Packets, &s.Bytes,
			&s.Audio112, &s.Audio99, &s.Audio113); err != nil {
			return nil, fmt.Errorf("failed to scan meeting stream: %w", err)
		}
		s.P2P = connType == "udp_p2p"
		s.StartSec, s.EndSec = uint32(start.Unix()), uint32(end.Unix())
		s.Tuple.SrcIP, s.Tuple.DstIP = ipFromNet(srcIP), ipFromNet(dstIP)
		s.Tuple.Protocol = core.ProtocolUDP

		if n := len(out); n == 0 || out[n-1].ID != meetingID {
			out = append(out, snapshot.Meeting{ID: meetingID})
		}
		out[len(out)-1].Streams = append(out[len(out)-1].Streams, s)
	}
	return out, rows.Err()
}

func (q *clickhouseQuerier) Meetings(ctx context.Context) ([]snapshot.Meeting, error) {
	return q.meetings(ctx, "")
}

func (q *clickhouseQuerier) Meeting(ctx context.Context, id uint32) (*snapshot.Meeting, error) {
	meetings, err := q.meetings(ctx, "MeetingID = ?", id)
	if err != nil {
		return nil, err
	}
	if len(meetings) == 0 {
		return nil, ErrNotFound
	}
	return &meetings[0], nil
}

func (q *clickhouseQuerier) Streams(ctx context.Context, filter StreamFilter) ([]model.StreamQuality, error) {
	runID, _, err := q.latestRun(ctx, "zoom_stream_quality")
	if err != nil {
		return nil, err
	}

	rows, err := q.conn.Query(ctx, `
		SELECT
			Protocol, SrcIP, SrcPort, DstIP, DstPort, SSRC, Media, Kind, PacketCount, ByteCount,
			Lost, Duplicates, OutOfOrder, Frames, MeanFrameSize, MeanJitter,
			JitterP50, JitterP95, JitterP99, Failed
		FROM zoom_stream_quality
		WHERE RunID = ?
		ORDER BY SrcIP, SrcPort, DstIP, DstPort, SSRC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	out := []model.StreamQuality{}
	for rows.Next() {
		var s model.StreamQuality
		var srcIP, dstIP net.IP
		if err := rows.Scan(&s.Tuple.Protocol, &srcIP, &s.Tuple.SrcPort, &dstIP, &s.Tuple.DstPort, &s.SSRC,
			&s.Media, &s.Kind, &s.Packets, &s.Bytes, &s.Lost, &s.Duplicates, &s.OutOfOrder, &s.Frames,
			&s.MeanFrameSize, &s.MeanJitter, &s.JitterP50, &s.JitterP95, &s.JitterP99, &s.Failed); err != nil {
			return nil, fmt.Errorf("failed to scan stream quality: %w", err)
		}
		s.Tuple.SrcIP, s.Tuple.DstIP = ipFromNet(srcIP), ipFromNet(dstIP)
		if filter.match(s) {
			out = append(out, s)
		}
	}
	return out, rows.Err()
}

// Summary aggregates the latest meeting and quality runs.
func (q *clickhouseQuerier) Summary(ctx context.Context) (*snapshot.SummaryData, error) {
	meetings, err := q.Meetings(ctx)
	if err != nil && !errors.Is(err, snapshot.ErrNoSnapshot) {
		return nil, err
	}
	streams, err := q.Streams(ctx, StreamFilter{})
	if err != nil && !errors.Is(err, snapshot.ErrNoSnapshot) {
		return nil, err
	}

	summary := &snapshot.SummaryData{Meetings: len(meetings), Streams: len(streams)}
	if runID, runTime, err := q.latestRun(ctx, "zoom_meeting_streams"); err == nil {
		summary.RunID = runID.String()
		summary.Timestamp = runTime.UTC().Format(time.RFC3339)
	}
	for _, m := range meetings {
		summary.MeetingStreams += len(m.Streams)
		for _, s := range m.Streams {
			summary.TotalPackets += s.Packets
			summary.TotalBytes += s.Bytes
		}
	}
	for _, s := range streams {
		if s.Failed {
			summary.FailedStreams++
		}
	}
	return summary, nil
}
